package client

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agnos-rpc/agnos-go/packer"
	"github.com/agnos-rpc/agnos-go/protocol"
	"github.com/agnos-rpc/agnos-go/transport"
)

// fakeServer answers every CMD_PING with a success reply echoing the
// argument and every CMD_INVOKE with the int32 sum of its two int32
// arguments, or, for function id 99, a generic exception "boom". It lets
// these tests drive Conn without a real server.Processor.
func fakeServer(t *testing.T, conn net.Conn) {
	t.Helper()
	tr := transport.New(conn)
	go func() {
		for {
			seq, err := tr.BeginRead()
			if err != nil {
				return
			}
			var cmdBuf [1]byte
			if _, err := tr.Read(cmdBuf[:]); err != nil {
				tr.EndRead()
				return
			}
			switch int8(cmdBuf[0]) {
			case protocol.CmdPing:
				s, _ := packer.String.Unpack(tr)
				tr.EndRead()
				tr.BeginWrite(seq)
				tr.Write([]byte{byte(protocol.ReplySuccess)})
				packer.String.Pack(tr, s)
				tr.EndWrite()
			case protocol.CmdInvoke:
				funcIDRaw, _ := packer.Int32.Unpack(tr)
				a, _ := packer.Int32.Unpack(tr)
				b, _ := packer.Int32.Unpack(tr)
				tr.EndRead()
				tr.BeginWrite(seq)
				if funcIDRaw.(int32) == 99 {
					tr.Write([]byte{byte(protocol.ReplyGenericException)})
					packer.String.Pack(tr, "boom")
					packer.String.Pack(tr, "trace")
				} else {
					tr.Write([]byte{byte(protocol.ReplySuccess)})
					packer.Int32.Pack(tr, a.(int32)+b.(int32))
				}
				tr.EndWrite()
			case protocol.CmdDecref, protocol.CmdIncref:
				packer.Int64.Unpack(tr)
				tr.EndRead()
			case protocol.CmdQuit:
				tr.EndRead()
				return
			default:
				tr.EndRead()
			}
		}
	}()
}

func newTestConn(t *testing.T) (*Conn, net.Conn) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	fakeServer(t, serverConn)
	registry := packer.NewRegistry()
	return New(transport.New(clientConn), registry), clientConn
}

func TestConnPing(t *testing.T) {
	c, conn := newTestConn(t)
	defer conn.Close()

	echoed, err := c.Ping("hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", echoed)
}

func TestConnInvokeSuccess(t *testing.T) {
	c, conn := newTestConn(t)
	defer conn.Close()

	v, err := c.Invoke(1, []packer.Packer{packer.Int32, packer.Int32}, []interface{}{int32(2), int32(3)}, packer.Int32)
	require.NoError(t, err)
	assert.Equal(t, int32(5), v)
}

func TestConnInvokeGenericException(t *testing.T) {
	c, conn := newTestConn(t)
	defer conn.Close()

	_, err := c.Invoke(99, []packer.Packer{packer.Int32, packer.Int32}, []interface{}{int32(1), int32(0)}, packer.Int32)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

// TestConnOutOfOrderReplies exercises two concurrent in-flight calls whose
// replies the server answers in reverse order; each caller must still
// observe its own call's result, since replies may arrive in any order.
func TestConnOutOfOrderReplies(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	tr := transport.New(serverConn)
	go func() {
		// Read both requests first, then answer the second one first.
		type pending struct {
			seq  int32
			a, b int32
		}
		var calls []pending
		for i := 0; i < 2; i++ {
			seq, err := tr.BeginRead()
			assert.NoError(t, err)
			var cmdBuf [1]byte
			_, err = tr.Read(cmdBuf[:])
			assert.NoError(t, err)
			packer.Int32.Unpack(tr) // funcID
			av, _ := packer.Int32.Unpack(tr)
			bv, _ := packer.Int32.Unpack(tr)
			assert.NoError(t, tr.EndRead())
			calls = append(calls, pending{seq: seq, a: av.(int32), b: bv.(int32)})
		}
		for i := len(calls) - 1; i >= 0; i-- {
			c := calls[i]
			tr.BeginWrite(c.seq)
			tr.Write([]byte{byte(protocol.ReplySuccess)})
			packer.Int32.Pack(tr, c.a+c.b)
			tr.EndWrite()
		}
	}()

	registry := packer.NewRegistry()
	conn := New(transport.New(clientConn), registry)

	results := make(chan int32, 2)
	errs := make(chan error, 2)
	for _, pair := range [][2]int32{{1, 1}, {10, 20}} {
		pair := pair
		go func() {
			v, err := conn.Invoke(1, []packer.Packer{packer.Int32, packer.Int32}, []interface{}{pair[0], pair[1]}, packer.Int32)
			if err != nil {
				errs <- err
				return
			}
			results <- v.(int32)
		}()
	}

	got := map[int32]bool{}
	for i := 0; i < 2; i++ {
		select {
		case v := <-results:
			got[v] = true
		case err := <-errs:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.True(t, got[2])
	assert.True(t, got[30])
}
