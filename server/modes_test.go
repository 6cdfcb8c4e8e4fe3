package server

import (
	"bytes"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agnos-rpc/agnos-go/client"
	"github.com/agnos-rpc/agnos-go/objref"
	"github.com/agnos-rpc/agnos-go/packer"
	"github.com/agnos-rpc/agnos-go/transport"
)

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Simple")
	require.NoError(t, err)
	assert.Equal(t, ModeSimple, m)

	m, err = ParseMode("threaded")
	require.NoError(t, err)
	assert.Equal(t, ModeThreaded, m)

	m, err = ParseMode("lib")
	require.NoError(t, err)
	assert.Equal(t, ModeLib, m)

	_, err = ParseMode("bogus")
	assert.Error(t, err)
}

func TestServeSimpleAcceptsAndHandlesOneClient(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	cfg := Config{
		Mode:       ModeSimple,
		Host:       "127.0.0.1",
		Port:       port,
		Registry:   packer.NewRegistry(),
		Dispatcher: NewDispatcher("svc", "1.0", 0),
		Table:      objref.NewTable(),
	}

	go Serve(cfg)
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer conn.Close()

	c := client.New(transport.New(conn), cfg.Registry)
	echoed, err := c.Ping("ok")
	require.NoError(t, err)
	assert.Equal(t, "ok", echoed)
}

func TestServeLibWritesHandshakeAndAcceptsOneClient(t *testing.T) {
	var stdout bytes.Buffer
	cfg := Config{
		Mode:       ModeLib,
		Host:       "127.0.0.1",
		Registry:   packer.NewRegistry(),
		Dispatcher: NewDispatcher("svc", "1.0", 0),
		Table:      objref.NewTable(),
		Stdout:     &stdout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- Serve(cfg) }()
	time.Sleep(50 * time.Millisecond)

	lines := strings.Split(strings.TrimRight(stdout.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "AGNOS", lines[0])

	conn, err := net.Dial("tcp", net.JoinHostPort(lines[1], lines[2]))
	require.NoError(t, err)
	defer conn.Close()

	c := client.New(transport.New(conn), cfg.Registry)
	echoed, err := c.Ping("ok")
	require.NoError(t, err)
	assert.Equal(t, "ok", echoed)

	// Lib mode returns only once its single session ends.
	require.NoError(t, c.Quit())
	require.NoError(t, <-errCh)
}
