// Package packer implements the Agnos wire protocol's typed value codecs:
// fixed big-endian primitives, length-prefixed containers parameterized by
// element packers, and the registry that resolves a numeric packer id to a
// concrete codec.
//
// A Packer is a value type plus a pair of encode/decode operations,
// identified by a numeric id. Every primitive and container packer in this
// package is stateless and safe for concurrent use.
package packer

import (
	"encoding/binary"
	"io"
	"math"
	"time"

	"github.com/agnos-rpc/agnos-go/agnoserr"
)

// ID is a packer's numeric wire tag.
type ID int32

// Well-known packer ids.
const (
	IDInt8     ID = 1
	IDBool     ID = 2
	IDInt16    ID = 3
	IDInt32    ID = 4
	IDInt64    ID = 5
	IDFloat64  ID = 6
	IDBuffer   ID = 7
	IDDatetime ID = 8
	IDString   ID = 9
	IDNull     ID = 10

	idListBase ID = 800
	idSetBase  ID = 820
	idMapBase  ID = 850

	IDListOfInt8     = idListBase + 0
	IDListOfBool     = idListBase + 1
	IDListOfInt16    = idListBase + 2
	IDListOfInt32    = idListBase + 3
	IDListOfInt64    = idListBase + 4
	IDListOfFloat64  = idListBase + 5
	IDListOfBuffer   = idListBase + 6
	IDListOfDatetime = idListBase + 7
	IDListOfString   = idListBase + 8

	IDSetOfInt8     = idSetBase + 0
	IDSetOfBool     = idSetBase + 1
	IDSetOfInt16    = idSetBase + 2
	IDSetOfInt32    = idSetBase + 3
	IDSetOfInt64    = idSetBase + 4
	IDSetOfFloat64  = idSetBase + 5
	IDSetOfBuffer   = idSetBase + 6
	IDSetOfDatetime = idSetBase + 7
	IDSetOfString   = idSetBase + 8

	IDMapInt32Int32   = idMapBase + 0
	IDMapInt32String  = idMapBase + 1
	IDMapStringInt32  = idMapBase + 2
	IDMapStringString = idMapBase + 3

	IDHeteroMap ID = 998
)

// Null is the singleton value returned when unpacking the null packer.
type nullType struct{}

// Null is the decoded value of the null packer (id 10).
var Null = nullType{}

// Writer is the minimal sink a packer encodes onto: an io.Writer plus
// nothing else. Packers never need more than Write.
type Writer = io.Writer

// Reader is the minimal source a packer decodes from.
type Reader = io.Reader

// Packer is the interface every primitive, container, and generated
// (record/enum/proxy) codec implements.
type Packer interface {
	// ID returns this packer's numeric wire tag.
	ID() ID
	// Pack encodes v onto w. v's dynamic type must match what this packer
	// produces from Unpack.
	Pack(w Writer, v interface{}) error
	// Unpack decodes one value of this packer's type from r.
	Unpack(r Reader) (interface{}, error)
}

func readFull(r Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return agnoserr.NewPackerError("short read", err)
		}
		return agnoserr.NewPackerError("read", err)
	}
	return nil
}

func writeFull(w Writer, buf []byte) error {
	_, err := w.Write(buf)
	if err != nil {
		return agnoserr.NewPackerError("write", err)
	}
	return nil
}

// --- int8 ---

type int8Packer struct{}

// Int8 is the packer for id 1: a single two's-complement byte.
var Int8 Packer = int8Packer{}

func (int8Packer) ID() ID { return IDInt8 }

func (int8Packer) Pack(w Writer, v interface{}) error {
	return writeFull(w, []byte{byte(v.(int8))})
}

func (int8Packer) Unpack(r Reader) (interface{}, error) {
	var buf [1]byte
	if err := readFull(r, buf[:]); err != nil {
		return nil, err
	}
	return int8(buf[0]), nil
}

// --- bool ---

type boolPacker struct{}

// Bool is the packer for id 2: one byte, 0 or 1.
var Bool Packer = boolPacker{}

func (boolPacker) ID() ID { return IDBool }

func (boolPacker) Pack(w Writer, v interface{}) error {
	b := byte(0)
	if v.(bool) {
		b = 1
	}
	return writeFull(w, []byte{b})
}

func (boolPacker) Unpack(r Reader) (interface{}, error) {
	var buf [1]byte
	if err := readFull(r, buf[:]); err != nil {
		return nil, err
	}
	return buf[0] != 0, nil
}

// --- int16 ---

type int16Packer struct{}

// Int16 is the packer for id 3: 2 bytes, big-endian.
var Int16 Packer = int16Packer{}

func (int16Packer) ID() ID { return IDInt16 }

func (int16Packer) Pack(w Writer, v interface{}) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], uint16(v.(int16)))
	return writeFull(w, buf[:])
}

func (int16Packer) Unpack(r Reader) (interface{}, error) {
	var buf [2]byte
	if err := readFull(r, buf[:]); err != nil {
		return nil, err
	}
	return int16(binary.BigEndian.Uint16(buf[:])), nil
}

// --- int32 ---

type int32Packer struct{}

// Int32 is the packer for id 4: 4 bytes, big-endian.
var Int32 Packer = int32Packer{}

func (int32Packer) ID() ID { return IDInt32 }

func (int32Packer) Pack(w Writer, v interface{}) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v.(int32)))
	return writeFull(w, buf[:])
}

func (int32Packer) Unpack(r Reader) (interface{}, error) {
	var buf [4]byte
	if err := readFull(r, buf[:]); err != nil {
		return nil, err
	}
	return int32(binary.BigEndian.Uint32(buf[:])), nil
}

// --- int64 ---

type int64Packer struct{}

// Int64 is the packer for id 5: 8 bytes, big-endian.
var Int64 Packer = int64Packer{}

func (int64Packer) ID() ID { return IDInt64 }

func (int64Packer) Pack(w Writer, v interface{}) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v.(int64)))
	return writeFull(w, buf[:])
}

func (int64Packer) Unpack(r Reader) (interface{}, error) {
	var buf [8]byte
	if err := readFull(r, buf[:]); err != nil {
		return nil, err
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

// --- float64 ---

type float64Packer struct{}

// Float64 is the packer for id 6: IEEE-754 double, bitwise as int64
// big-endian.
var Float64 Packer = float64Packer{}

func (float64Packer) ID() ID { return IDFloat64 }

func (float64Packer) Pack(w Writer, v interface{}) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(v.(float64)))
	return writeFull(w, buf[:])
}

func (float64Packer) Unpack(r Reader) (interface{}, error) {
	var buf [8]byte
	if err := readFull(r, buf[:]); err != nil {
		return nil, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(buf[:])), nil
}

// --- buffer ---

type bufferPacker struct{}

// Buffer is the packer for id 7: int32 length then that many raw bytes.
var Buffer Packer = bufferPacker{}

func (bufferPacker) ID() ID { return IDBuffer }

func (bufferPacker) Pack(w Writer, v interface{}) error {
	b := v.([]byte)
	if err := writeLen(w, len(b)); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	return writeFull(w, b)
}

func (bufferPacker) Unpack(r Reader) (interface{}, error) {
	n, err := readLen(r)
	if err != nil {
		return nil, err
	}
	return readBytes(r, n)
}

// --- string ---

type stringPacker struct{}

// String is the packer for id 9: int32 byte length then UTF-8 bytes.
var String Packer = stringPacker{}

func (stringPacker) ID() ID { return IDString }

func (stringPacker) Pack(w Writer, v interface{}) error {
	s := v.(string)
	if err := writeLen(w, len(s)); err != nil {
		return err
	}
	if len(s) == 0 {
		return nil
	}
	return writeFull(w, []byte(s))
}

func (stringPacker) Unpack(r Reader) (interface{}, error) {
	n, err := readLen(r)
	if err != nil {
		return nil, err
	}
	b, err := readBytes(r, n)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// --- null ---

type nullPacker struct{}

// NullPacker is the packer for id 10: zero bytes; Unpack returns Null.
var NullPacker Packer = nullPacker{}

func (nullPacker) ID() ID { return IDNull }

func (nullPacker) Pack(Writer, interface{}) error { return nil }

func (nullPacker) Unpack(Reader) (interface{}, error) { return Null, nil }

// --- datetime ---

// agnosEpoch is the Agnos wire epoch, 1400-01-01T00:00:00 UTC, chosen so
// every representable moment on the wire is a non-negative microsecond
// count. The offset below is the reference codec's documented constant and
// must be preserved bit-for-bit.
var agnosEpoch = time.Date(1400, time.January, 1, 0, 0, 0, 0, time.UTC)

const agnosEpochOffsetMicros int64 = 44148153600000000

// agnosEpochToUnixMicros is agnosEpoch expressed as Unix microseconds. Every
// wire value is derived from UnixMicro() plus this constant rather than from
// time.Time.Sub/Add: Duration is an int64 count of nanoseconds, so it
// overflows (and Sub/Add silently clamp) for any offset beyond about 292
// years, which agnosEpoch is for essentially every representable date.
var agnosEpochToUnixMicros = agnosEpoch.UnixMicro()

type datetimePacker struct{}

// Datetime is the packer for id 8: int64 microseconds since 0001-01-01 in
// the Agnos wire convention.
var Datetime Packer = datetimePacker{}

func (datetimePacker) ID() ID { return IDDatetime }

func (datetimePacker) Pack(w Writer, v interface{}) error {
	t := v.(time.Time).UTC()
	micros := t.UnixMicro() - agnosEpochToUnixMicros + agnosEpochOffsetMicros
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(micros))
	return writeFull(w, buf[:])
}

func (datetimePacker) Unpack(r Reader) (interface{}, error) {
	var buf [8]byte
	if err := readFull(r, buf[:]); err != nil {
		return nil, err
	}
	micros := int64(binary.BigEndian.Uint64(buf[:])) - agnosEpochOffsetMicros + agnosEpochToUnixMicros
	return time.UnixMicro(micros).UTC(), nil
}

func writeLen(w Writer, n int) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(n))
	return writeFull(w, buf[:])
}

func readLen(r Reader) (int, error) {
	var buf [4]byte
	if err := readFull(r, buf[:]); err != nil {
		return 0, err
	}
	n := int32(binary.BigEndian.Uint32(buf[:]))
	if n < 0 {
		return 0, agnoserr.NewPackerError("length", errNegativeLength)
	}
	return int(n), nil
}

// readBytes reads exactly n bytes, growing the destination amortized rather
// than allocating n bytes up front, so a hostile declared length cannot force
// a large allocation before any bytes have actually arrived.
func readBytes(r Reader, n int) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	const chunk = 32 * 1024
	out := make([]byte, 0, min(n, chunk))
	remaining := n
	for remaining > 0 {
		step := remaining
		if step > chunk {
			step = chunk
		}
		buf := make([]byte, step)
		if err := readFull(r, buf); err != nil {
			return nil, err
		}
		out = append(out, buf...)
		remaining -= step
	}
	return out, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

var errNegativeLength = agnoserr.NewProtocolError("negative length prefix")
