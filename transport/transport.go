// Package transport implements the Agnos framed, sequenced, optionally
// zlib-compressed request/response wire layer: a reliable byte stream
// presented as two transactional scopes, read and write, each carrying
// exactly one packet. The transport does not interpret payloads; that is
// package packer's and package heteromap's job.
package transport

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/agnos-rpc/agnos-go/agnoserr"
)

// headerSize is the fixed 12-byte packet header: seq, payload_length,
// uncompressed_len, each a big-endian int32.
const headerSize = 12

// Transport presents Agnos's framed packet protocol over any net.Conn. The
// read side and write side are independently, exclusively owned for the
// duration of one transaction.
type Transport struct {
	conn net.Conn
	opts Options
	log  logrus.FieldLogger

	readMu    sync.Mutex
	readOwner atomic.Uint64
	readSeq   int32
	// readSrc yields the current packet's decoded payload bytes (identical
	// to the raw wire bytes when uncompressed, or a zlib decoder over them
	// otherwise). readRemaining is how many of those bytes are still
	// unconsumed by the caller.
	readSrc       io.Reader
	readRaw       *io.LimitedReader
	readRemaining int64

	writeMu    sync.Mutex
	writeOwner atomic.Uint64
	writeSeq   int32
	writeBuf   bytes.Buffer
}

// New wraps conn in a Transport.
func New(conn net.Conn, opts ...Option) *Transport {
	o := defaultOptions
	for _, fn := range opts {
		fn(&o)
	}
	return &Transport{conn: conn, opts: o, log: o.Logger}
}

// BeginRead blocks until a full packet header has been consumed, locks the
// read side exclusively, and returns the sequence number.
func (t *Transport) BeginRead() (seq int32, err error) {
	gid := goroutineID()
	if gid != 0 && t.readOwner.Load() == gid {
		return 0, errors.Wrap(agnoserr.ErrReentrant, "begin_read")
	}
	t.readMu.Lock()
	t.readOwner.Store(gid)

	var hdr [headerSize]byte
	if _, err := io.ReadFull(t.conn, hdr[:]); err != nil {
		t.readOwner.Store(0)
		t.readMu.Unlock()
		return 0, t.classifyReadErr(err, true)
	}

	seq = int32(binary.BigEndian.Uint32(hdr[0:4]))
	payloadLen := int32(binary.BigEndian.Uint32(hdr[4:8]))
	uncompressedLen := int32(binary.BigEndian.Uint32(hdr[8:12]))
	if payloadLen < 0 || uncompressedLen < 0 {
		t.readOwner.Store(0)
		t.readMu.Unlock()
		return 0, errors.Wrap(agnoserr.ErrTransport, "negative length in packet header")
	}

	raw := &io.LimitedReader{R: t.conn, N: int64(payloadLen)}
	t.readRaw = raw
	if uncompressedLen == 0 {
		t.readSrc = raw
		t.readRemaining = int64(payloadLen)
	} else {
		zr, zerr := zlib.NewReader(raw)
		if zerr != nil {
			t.readOwner.Store(0)
			t.readMu.Unlock()
			return 0, errors.Wrap(agnoserr.ErrTransport, "zlib: "+zerr.Error())
		}
		t.readSrc = zr
		t.readRemaining = int64(uncompressedLen)
	}

	t.readSeq = seq
	return seq, nil
}

// Read returns up to len(p) bytes of the current packet's payload, never
// crossing the packet boundary. Because every caller in this codebase
// (package packer) always asks for an exact byte count, Read fills p
// completely or fails; a caller asking for more bytes than remain in the
// packet observes *transport-eof*.
func (t *Transport) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if int64(len(p)) > t.readRemaining {
		return 0, agnoserr.ErrTransportEOF
	}
	n, err := io.ReadFull(t.readSrc, p)
	t.readRemaining -= int64(n)
	if t.opts.Metrics != nil && n > 0 {
		t.opts.Metrics.bytesRead.Add(float64(n))
	}
	if err != nil {
		return n, errors.Wrap(agnoserr.ErrTransport, "read: "+err.Error())
	}
	return n, nil
}

// EndRead discards any unread payload bytes (and the compressed tail, if
// this packet was compressed) and releases the read lock.
func (t *Transport) EndRead() error {
	var drainErr error
	if t.readSrc != nil {
		if _, err := io.Copy(io.Discard, t.readSrc); err != nil && err != io.EOF {
			drainErr = errors.Wrap(agnoserr.ErrTransport, "end_read drain: "+err.Error())
		}
	}
	if t.readRaw != nil {
		io.Copy(io.Discard, t.readRaw) //nolint:errcheck // best-effort boundary skip
	}
	t.readSrc = nil
	t.readRaw = nil
	t.readRemaining = 0
	t.readOwner.Store(0)
	t.readMu.Unlock()
	return drainErr
}

// classifyReadErr maps an io error observed while establishing or advancing
// a read transaction to the error taxonomy below. atBoundary indicates the
// error was seen while trying to read a fresh header (where a clean io.EOF
// is the expected termination signal, not a failure).
func (t *Transport) classifyReadErr(err error, atBoundary bool) error {
	if err == io.EOF && atBoundary {
		return agnoserr.ErrTransportEOF
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return errors.Wrap(agnoserr.ErrTransport, "truncated stream")
	}
	return errors.Wrap(agnoserr.ErrTransport, err.Error())
}

// BeginWrite locks the write side exclusively, remembers seq, and clears the
// write buffer.
func (t *Transport) BeginWrite(seq int32) error {
	gid := goroutineID()
	if gid != 0 && t.writeOwner.Load() == gid {
		return errors.Wrap(agnoserr.ErrReentrant, "begin_write")
	}
	t.writeMu.Lock()
	t.writeOwner.Store(gid)
	t.writeSeq = seq
	t.writeBuf.Reset()
	return nil
}

// Write appends p to the write buffer.
func (t *Transport) Write(p []byte) (int, error) {
	return t.writeBuf.Write(p)
}

// RestartWrite clears the write buffer but keeps the write lock and
// sequence number; used by the server processor's error policy to discard
// a partial reply before emitting an error reply.
func (t *Transport) RestartWrite() {
	t.writeBuf.Reset()
}

// EndWrite emits the packet header and payload (compressing first if the
// buffer exceeds the configured threshold), flushes, and releases the write
// lock. An empty buffer emits nothing at all, matching QUIT's fire-and-
// forget reply.
func (t *Transport) EndWrite() error {
	defer func() {
		t.writeOwner.Store(0)
		t.writeMu.Unlock()
	}()

	if t.writeBuf.Len() == 0 {
		return nil
	}

	payload := t.writeBuf.Bytes()
	plainLen := len(payload)
	uncompressedLen := int32(0)

	threshold := t.opts.CompressionThreshold
	if threshold >= 0 && len(payload) > threshold {
		var cbuf bytes.Buffer
		zw := zlib.NewWriter(&cbuf)
		if _, err := zw.Write(payload); err != nil {
			return errors.Wrap(agnoserr.ErrTransport, "zlib write: "+err.Error())
		}
		if err := zw.Close(); err != nil {
			return errors.Wrap(agnoserr.ErrTransport, "zlib close: "+err.Error())
		}
		uncompressedLen = int32(len(payload))
		payload = cbuf.Bytes()
		if t.opts.Metrics != nil {
			t.opts.Metrics.packetsCompressed.Inc()
		}
	} else if t.opts.Metrics != nil {
		t.opts.Metrics.packetsPlain.Inc()
	}

	var frame bytes.Buffer
	frame.Grow(headerSize + len(payload))
	var hdr [headerSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(t.writeSeq))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(payload)))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(uncompressedLen))
	frame.Write(hdr[:])
	frame.Write(payload)

	n, err := t.conn.Write(frame.Bytes())
	if err != nil {
		return errors.Wrap(agnoserr.ErrTransport, "write: "+err.Error())
	}
	if n != frame.Len() {
		return errors.Wrap(agnoserr.ErrTransport, "short write")
	}
	if t.opts.Metrics != nil {
		t.opts.Metrics.bytesWritten.Add(float64(plainLen))
	}
	return nil
}

// CancelWrite drops the buffer and releases the lock without emitting
// anything.
func (t *Transport) CancelWrite() {
	t.writeBuf.Reset()
	t.writeOwner.Store(0)
	t.writeMu.Unlock()
}

// Close closes the underlying connection. Any blocked BeginRead/Read
// unblocks with *transport-eof* or *transport-error*, the universal abort
// path for a stuck connection.
func (t *Transport) Close() error {
	return t.conn.Close()
}

// RemoteAddr returns the underlying connection's remote address, for
// logging.
func (t *Transport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}
