// Package client implements the caller side of the Agnos wire protocol: it
// allocates sequence numbers, correlates replies that may arrive out of
// order against the call that is waiting for them, and decodes the three
// reply shapes a server can send back.
package client

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/agnos-rpc/agnos-go/agnoserr"
	"github.com/agnos-rpc/agnos-go/heteromap"
	"github.com/agnos-rpc/agnos-go/objref"
	"github.com/agnos-rpc/agnos-go/packer"
	"github.com/agnos-rpc/agnos-go/protocol"
	"github.com/agnos-rpc/agnos-go/transport"
)

// result is what a pending call is waiting to receive: either a decoded
// return value or the error it failed with, the server's three reply
// conditions reduced to a single Go error each.
type result struct {
	value interface{}
	err   error
}

// replySlot is one outstanding call's correlation record. ch is buffered by
// one so the pump never blocks delivering to a slot nobody is waiting on
// anymore (a discarded call).
type replySlot struct {
	returnPacker packer.Packer
	ch           chan result
	discarded    atomic.Bool
}

// Conn is one connection's client-side state: sequence allocation, the
// table of calls awaiting a reply, and the single goroutine that owns the
// transport's read side for the connection's lifetime. Replies may arrive
// in any order; the client correlates each one by its sequence number.
type Conn struct {
	transport *transport.Transport
	registry  *packer.Registry
	log       logrus.FieldLogger

	seq atomic.Int32

	mu    sync.Mutex
	slots map[int32]*replySlot
	err   error // set once, when the pump observes a terminal transport fault

	proxies *objref.ProxyCache
}

// New wires a Conn to tr and starts its reply pump. registry resolves the
// packer ids GETINFO-shaped and HeteroMap-carried replies need; callers
// invoking a known function instead supply that function's own return
// packer directly to Invoke.
func New(tr *transport.Transport, registry *packer.Registry, opts ...Option) *Conn {
	o := defaultOptions
	for _, fn := range opts {
		fn(&o)
	}
	c := &Conn{
		transport: tr,
		registry:  registry,
		log:       o.Logger,
		slots:     make(map[int32]*replySlot),
	}
	c.proxies = objref.NewProxyCache(c)
	go c.pump()
	return c
}

// Proxies returns the connection's proxy cache, so an unpack path for a
// proxy-typed value can consult and populate it.
func (c *Conn) Proxies() *objref.ProxyCache { return c.proxies }

// nextSeq returns the next sequence number, starting at 1 on a fresh
// connection.
func (c *Conn) nextSeq() int32 { return c.seq.Add(1) }

func (c *Conn) registerSlot(seq int32, returnPacker packer.Packer) *replySlot {
	slot := &replySlot{returnPacker: returnPacker, ch: make(chan result, 1)}
	c.mu.Lock()
	deadErr := c.err
	if deadErr == nil {
		c.slots[seq] = slot
	}
	c.mu.Unlock()
	if deadErr != nil {
		slot.ch <- result{err: deadErr}
	}
	return slot
}

func (c *Conn) takeSlot(seq int32) *replySlot {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot := c.slots[seq]
	delete(c.slots, seq)
	return slot
}

func (c *Conn) removeSlot(seq int32) {
	c.mu.Lock()
	delete(c.slots, seq)
	c.mu.Unlock()
}

// failAll delivers err to every outstanding slot and marks the connection
// dead, so any call still in flight or started after this point fails
// immediately instead of blocking forever.
func (c *Conn) failAll(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	slots := c.slots
	c.slots = make(map[int32]*replySlot)
	c.mu.Unlock()

	for _, slot := range slots {
		if !slot.discarded.Load() {
			slot.ch <- result{err: err}
		}
	}
}

// pump owns the transport's read side for as long as the connection lives:
// it reads one reply packet per iteration, routes it to the call that is
// waiting on its sequence number, and keeps going until the transport
// reports a terminal error.
func (c *Conn) pump() {
	for {
		seq, err := c.transport.BeginRead()
		if err != nil {
			c.failAll(err)
			return
		}

		var codeBuf [1]byte
		if _, err := c.transport.Read(codeBuf[:]); err != nil {
			c.transport.EndRead()
			c.failAll(err)
			return
		}

		slot := c.takeSlot(seq)
		if slot == nil {
			// Discard leaves the slot registered until its reply is read here,
			// so reaching this branch means seq was never registered at all:
			// an unknown sequence number, not a discarded call.
			if c.log != nil {
				c.log.WithField("seq", seq).Warn("agnos: reply for unknown sequence number")
			}
			if err := c.transport.EndRead(); err != nil {
				c.failAll(err)
				return
			}
			continue
		}

		res := c.decodeReply(int8(codeBuf[0]), slot.returnPacker)
		if err := c.transport.EndRead(); err != nil {
			res = result{err: err}
		}
		if !slot.discarded.Load() {
			slot.ch <- res
		}
	}
}

func (c *Conn) decodeReply(code int8, returnPacker packer.Packer) result {
	switch code {
	case protocol.ReplySuccess:
		if returnPacker == nil {
			return result{value: nil}
		}
		v, err := returnPacker.Unpack(c.transport)
		if err != nil {
			return result{err: err}
		}
		return result{value: v}

	case protocol.ReplyProtocolError:
		msg, err := packer.String.Unpack(c.transport)
		if err != nil {
			return result{err: err}
		}
		return result{err: agnoserr.NewProtocolError("%s", msg.(string))}

	case protocol.ReplyPackedException:
		raw, err := packer.Int32.Unpack(c.transport)
		if err != nil {
			return result{err: err}
		}
		// The class's own fields follow, encoded by the server's generated
		// stub; without that stub's field packers this core can only
		// surface the class id, and relies on EndRead to skip whatever
		// field bytes remain as opaque data.
		return result{err: &agnoserr.PackedException{ClassID: raw.(int32)}}

	case protocol.ReplyGenericException:
		msg, err := packer.String.Unpack(c.transport)
		if err != nil {
			return result{err: err}
		}
		tb, err := packer.String.Unpack(c.transport)
		if err != nil {
			return result{err: err}
		}
		return result{err: &agnoserr.GenericException{Message: msg.(string), Traceback: tb.(string)}}

	default:
		return result{err: agnoserr.NewProtocolError("reply: unknown reply code %d", code)}
	}
}

// call writes cmd, then runs body to write the command's arguments onto the
// transport's write buffer, sends the packet, and blocks for the matching
// reply.
func (c *Conn) call(cmd int8, returnPacker packer.Packer, body func() error) (interface{}, error) {
	seq := c.nextSeq()
	slot := c.registerSlot(seq, returnPacker)

	if err := c.transport.BeginWrite(seq); err != nil {
		c.removeSlot(seq)
		return nil, err
	}
	if _, err := c.transport.Write([]byte{byte(cmd)}); err != nil {
		c.transport.CancelWrite()
		c.removeSlot(seq)
		return nil, err
	}
	if err := body(); err != nil {
		c.transport.CancelWrite()
		c.removeSlot(seq)
		return nil, err
	}
	if err := c.transport.EndWrite(); err != nil {
		c.removeSlot(seq)
		return nil, err
	}

	res := <-slot.ch
	return res.value, res.err
}

// Invoke issues CMD_INVOKE for funcID with args encoded by argPackers (in
// order) and blocks until the matching reply arrives, decoding it with
// returnPacker (nil for a void function). Replies for other in-flight calls
// may be delivered by the pump before or after this one; Invoke only ever
// sees the reply correlated to its own sequence number.
func (c *Conn) Invoke(funcID int32, argPackers []packer.Packer, args []interface{}, returnPacker packer.Packer) (interface{}, error) {
	return c.call(protocol.CmdInvoke, returnPacker, func() error {
		if err := packer.Int32.Pack(c.transport, funcID); err != nil {
			return err
		}
		for i, ap := range argPackers {
			if err := ap.Pack(c.transport, args[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Ping issues CMD_PING with s and returns the server's echo.
func (c *Conn) Ping(s string) (string, error) {
	v, err := c.call(protocol.CmdPing, packer.String, func() error {
		return packer.String.Pack(c.transport, s)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// GetInfo issues CMD_GETINFO for code and decodes the reply as a HeteroMap.
func (c *Conn) GetInfo(code int32) (interface{}, error) {
	return c.call(protocol.CmdGetInfo, heteromap.NewPacker(c.registry), func() error {
		return packer.Int32.Pack(c.transport, code)
	})
}

// Quit sends CMD_QUIT and does not wait for any reply: it is fire-and-forget
// and the server never sends one.
func (c *Conn) Quit() error {
	if err := c.transport.BeginWrite(c.nextSeq()); err != nil {
		return err
	}
	if _, err := c.transport.Write([]byte{byte(protocol.CmdQuit)}); err != nil {
		c.transport.CancelWrite()
		return err
	}
	return c.transport.EndWrite()
}

// SendDecref issues CMD_DECREF for id without waiting for a reply, so a
// finalizer (see objref.ProxyCache) never waits on a server round trip; the
// request packet itself is still written synchronously. A failure is
// logged, not returned: by the time a finalizer runs there is no caller
// left to report to.
func (c *Conn) SendDecref(id int64) {
	if err := c.decrefOrIncref(protocol.CmdDecref, id); err != nil && c.log != nil {
		c.log.WithError(err).Warn("agnos: decref failed")
	}
}

// Incref issues CMD_INCREF for id without waiting for a reply.
func (c *Conn) Incref(id int64) error {
	return c.decrefOrIncref(protocol.CmdIncref, id)
}

func (c *Conn) decrefOrIncref(cmd int8, id int64) error {
	if err := c.transport.BeginWrite(c.nextSeq()); err != nil {
		return err
	}
	if _, err := c.transport.Write([]byte{byte(cmd)}); err != nil {
		c.transport.CancelWrite()
		return err
	}
	if err := packer.Int64.Pack(c.transport, id); err != nil {
		c.transport.CancelWrite()
		return err
	}
	return c.transport.EndWrite()
}

// Discard abandons interest in seq's reply: if it is still in flight, the
// pump will drain and drop it instead of delivering it anywhere. Use this
// when a caller times out or is cancelled but the in-flight request cannot
// be un-sent.
func (c *Conn) Discard(seq int32) {
	c.mu.Lock()
	slot := c.slots[seq]
	c.mu.Unlock()
	if slot != nil {
		slot.discarded.Store(true)
	}
}

// Close closes the underlying transport, which unblocks the pump with a
// transport error and, in turn, fails every outstanding call.
func (c *Conn) Close() error {
	return c.transport.Close()
}
