package transport

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agnos-rpc/agnos-go/agnoserr"
)

func pipePair() (net.Conn, net.Conn) {
	return net.Pipe()
}

func TestWriteReadRoundTrip(t *testing.T) {
	writerConn, readerConn := pipePair()
	defer writerConn.Close()
	defer readerConn.Close()

	tw := New(writerConn)
	tr := New(readerConn)

	done := make(chan error, 1)
	go func() {
		if err := tw.BeginWrite(42); err != nil {
			done <- err
			return
		}
		if _, err := tw.Write([]byte("hello")); err != nil {
			done <- err
			return
		}
		done <- tw.EndWrite()
	}()

	seq, err := tr.BeginRead()
	require.NoError(t, err)
	assert.Equal(t, int32(42), seq)

	buf := make([]byte, 5)
	_, err = tr.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
	require.NoError(t, tr.EndRead())

	require.NoError(t, <-done)
}

func TestReadMoreThanRemainingReturnsTransportEOF(t *testing.T) {
	writerConn, readerConn := pipePair()
	defer writerConn.Close()
	defer readerConn.Close()

	tw := New(writerConn)
	tr := New(readerConn)

	go func() {
		tw.BeginWrite(1)
		tw.Write([]byte("ab"))
		tw.EndWrite()
	}()

	_, err := tr.BeginRead()
	require.NoError(t, err)

	buf := make([]byte, 3)
	_, err = tr.Read(buf)
	assert.ErrorIs(t, err, agnoserr.ErrTransportEOF)
}

func TestEndWriteEmitsNothingForEmptyBuffer(t *testing.T) {
	writerConn, readerConn := pipePair()
	defer writerConn.Close()
	defer readerConn.Close()

	tw := New(writerConn)

	go func() {
		tw.BeginWrite(5)
		tw.EndWrite()
	}()

	readerConn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var b [1]byte
	_, err := readerConn.Read(b[:])
	netErr, ok := err.(net.Error)
	require.True(t, ok)
	assert.True(t, netErr.Timeout())
}

func TestCompressionAboveThreshold(t *testing.T) {
	writerConn, readerConn := pipePair()
	defer writerConn.Close()
	defer readerConn.Close()

	tw := New(writerConn, WithCompressionThreshold(100))
	payload := bytes.Repeat([]byte{'A'}, 4096)

	go func() {
		tw.BeginWrite(1)
		tw.Write(payload)
		tw.EndWrite()
	}()

	var hdr [12]byte
	_, err := io.ReadFull(readerConn, hdr[:])
	require.NoError(t, err)

	payloadLen := binary.BigEndian.Uint32(hdr[4:8])
	uncompressedLen := binary.BigEndian.Uint32(hdr[8:12])

	assert.NotZero(t, uncompressedLen)
	assert.Equal(t, uint32(len(payload)), uncompressedLen)
	assert.Less(t, payloadLen, uint32(len(payload)))
}

func TestCompressionBelowThresholdStaysPlain(t *testing.T) {
	writerConn, readerConn := pipePair()
	defer writerConn.Close()
	defer readerConn.Close()

	tw := New(writerConn, WithCompressionThreshold(4096))
	payload := bytes.Repeat([]byte{'A'}, 100)

	go func() {
		tw.BeginWrite(1)
		tw.Write(payload)
		tw.EndWrite()
	}()

	var hdr [12]byte
	_, err := io.ReadFull(readerConn, hdr[:])
	require.NoError(t, err)
	uncompressedLen := binary.BigEndian.Uint32(hdr[8:12])
	assert.Zero(t, uncompressedLen)
}

// TestReentrantBeginWriteIsError exercises BeginWrite's reentrancy guard
// directly: BeginWrite never blocks on peer I/O, so a second call from the
// same goroutine that already holds the write side observes ErrReentrant
// rather than deadlocking.
func TestReentrantBeginWriteIsError(t *testing.T) {
	writerConn, readerConn := pipePair()
	defer writerConn.Close()
	defer readerConn.Close()

	tr := New(readerConn)

	require.NoError(t, tr.BeginWrite(1))
	err := tr.BeginWrite(1)
	assert.ErrorIs(t, err, agnoserr.ErrReentrant)
	tr.CancelWrite()
}
