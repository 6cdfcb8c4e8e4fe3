package packer

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, p Packer, v interface{}) interface{} {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, p.Pack(&buf, v))
	got, err := p.Unpack(&buf)
	require.NoError(t, err)
	return got
}

func TestPrimitiveRoundTrip(t *testing.T) {
	assert.Equal(t, int8(-7), roundTrip(t, Int8, int8(-7)))
	assert.Equal(t, true, roundTrip(t, Bool, true))
	assert.Equal(t, int16(-1000), roundTrip(t, Int16, int16(-1000)))
	assert.Equal(t, int32(123456), roundTrip(t, Int32, int32(123456)))
	assert.Equal(t, int64(-9000000000), roundTrip(t, Int64, int64(-9000000000)))
	assert.Equal(t, 3.5, roundTrip(t, Float64, 3.5))
	assert.Equal(t, []byte("hello"), roundTrip(t, Buffer, []byte("hello")))
	assert.Equal(t, "hello", roundTrip(t, String, "hello"))
	assert.Equal(t, Null, roundTrip(t, NullPacker, Null))
}

func TestStringRoundTripEmpty(t *testing.T) {
	assert.Equal(t, "", roundTrip(t, String, ""))
}

func TestBufferRoundTripEmpty(t *testing.T) {
	assert.Equal(t, []byte{}, roundTrip(t, Buffer, []byte{}))
}

// TestDatetimeWireConstant pins the epoch offset to its documented value:
// packing the wire epoch itself must produce exactly agnosEpochOffsetMicros.
func TestDatetimeWireConstant(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Datetime.Pack(&buf, agnosEpoch))
	assert.Equal(t, 8, buf.Len())

	var want bytes.Buffer
	require.NoError(t, Int64.Pack(&want, agnosEpochOffsetMicros))
	assert.Equal(t, want.Bytes(), buf.Bytes())

	got, err := Datetime.Unpack(&buf)
	require.NoError(t, err)
	assert.True(t, agnosEpoch.Equal(got.(time.Time)))
}

func TestDatetimeRoundTripArbitrary(t *testing.T) {
	want := time.Date(2026, time.July, 31, 12, 30, 0, 0, time.UTC)
	got := roundTrip(t, Datetime, want)
	assert.True(t, want.Equal(got.(time.Time)))
}

func TestReadLenRejectsNegative(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeLen(&buf, -1))
	_, err := String.Unpack(&buf)
	assert.Error(t, err)
}

func TestBufferUnpackShortRead(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeLen(&buf, 10))
	buf.WriteString("short")
	_, err := Buffer.Unpack(&buf)
	assert.Error(t, err)
}
