package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agnos-rpc/agnos-go/packer"
)

func TestDispatcherRegisterLookup(t *testing.T) {
	d := NewDispatcher("svc", "1.0", 7)
	fn := &Func{ID: 1, Name: "add", ArgPackers: []packer.Packer{packer.Int32, packer.Int32}, ReturnPacker: packer.Int32}
	d.Register(fn)

	got, ok := d.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, "add", got.Name)

	_, ok = d.Lookup(2)
	assert.False(t, ok)
}

func TestGetInfoGeneral(t *testing.T) {
	d := NewDispatcher("svc", "1.0", 7)
	m := d.GetInfo(InfoGeneral)

	v, ok := m.Get("NAME", packer.IDString)
	require.True(t, ok)
	assert.Equal(t, "svc", v)

	v, ok = m.Get("VERSION", packer.IDString)
	require.True(t, ok)
	assert.Equal(t, "1.0", v)
}

func TestGetInfoUnknownCodeReturnsMeta(t *testing.T) {
	d := NewDispatcher("svc", "1.0", 7)
	m := d.GetInfo(999)

	v, ok := m.Get("INFO_GENERAL", packer.IDString)
	require.True(t, ok)
	assert.Equal(t, InfoGeneral, v)

	v, ok = m.Get("COMPRESSION_SUPPORTED", packer.IDString)
	require.True(t, ok)
	assert.Equal(t, int32(1), v)
}

func TestGetInfoFunctionCodes(t *testing.T) {
	d := NewDispatcher("svc", "1.0", 7)
	d.Register(&Func{ID: 3, Name: "div"})
	m := d.GetInfo(InfoFuncCodes)

	v, ok := m.Get("div", packer.IDString)
	require.True(t, ok)
	assert.Equal(t, int32(3), v)
}
