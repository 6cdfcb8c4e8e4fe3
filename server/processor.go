package server

import (
	"fmt"

	goerrors "errors"

	"github.com/sirupsen/logrus"

	"github.com/agnos-rpc/agnos-go/agnoserr"
	"github.com/agnos-rpc/agnos-go/heteromap"
	"github.com/agnos-rpc/agnos-go/objref"
	"github.com/agnos-rpc/agnos-go/packer"
	"github.com/agnos-rpc/agnos-go/transport"
)

// ErrQuit is returned by ServeOnce after a CMD_QUIT iteration completes. It
// is not a failure: the caller (one of the Serve modes) should stop the
// command loop and may close the connection. QUIT is fire-and-forget; the
// server never writes a reply for it.
var ErrQuit = goerrors.New("server: quit requested")

// Processor runs the per-connection command loop's state machine: (ready)
// -> (reading-command) -> (writing-reply) -> (ready).
type Processor struct {
	transport  *transport.Transport
	registry   *packer.Registry
	table      *objref.Table
	dispatcher *Dispatcher
	log        logrus.FieldLogger
	metrics    *Metrics
}

// NewProcessor builds a Processor bound to one connection's Transport.
func NewProcessor(tr *transport.Transport, registry *packer.Registry, table *objref.Table, dispatcher *Dispatcher, opts ...Option) *Processor {
	o := defaultOptions
	for _, fn := range opts {
		fn(&o)
	}
	return &Processor{
		transport:  tr,
		registry:   registry,
		table:      table,
		dispatcher: dispatcher,
		log:        o.Logger,
		metrics:    o.Metrics,
	}
}

// ServeOnce runs exactly one command-loop iteration. It returns
// agnoserr.ErrTransportEOF when the peer closed cleanly, ErrQuit after a
// CMD_QUIT, or any other error for an unrecoverable transport fault.
// Protocol errors, packed exceptions, and generic handler exceptions are
// all absorbed here and turned into a reply; they never surface as
// ServeOnce's return value, and the connection stays open.
func (p *Processor) ServeOnce() error {
	seq, err := p.transport.BeginRead()
	if err != nil {
		return err
	}

	var cmdBuf [1]byte
	if _, err := p.transport.Read(cmdBuf[:]); err != nil {
		_ = p.transport.EndRead()
		return err
	}
	cmd := cmdBuf[0]

	if err := p.transport.BeginWrite(seq); err != nil {
		_ = p.transport.EndRead()
		return err
	}

	dispatchErr := p.dispatch(int8(cmd))
	quit := goerrors.Is(dispatchErr, ErrQuit)

	if dispatchErr != nil && !quit {
		p.transport.RestartWrite()
		p.writeErrorReply(dispatchErr)
		if p.metrics != nil {
			p.metrics.errors.WithLabelValues(errorKind(dispatchErr)).Inc()
		}
	}
	if p.metrics != nil {
		p.metrics.commands.WithLabelValues(fmt.Sprintf("%d", cmd)).Inc()
	}

	if endReadErr := p.transport.EndRead(); endReadErr != nil {
		p.log.WithError(endReadErr).Warn("agnos: end_read failed")
	}

	endWriteErr := p.transport.EndWrite()
	if endWriteErr != nil {
		return endWriteErr
	}
	if quit {
		return ErrQuit
	}
	return nil
}

func (p *Processor) dispatch(cmd int8) error {
	switch cmd {
	case CmdPing:
		return p.handlePing()
	case CmdInvoke:
		return p.handleInvoke()
	case CmdQuit:
		return ErrQuit
	case CmdDecref:
		return p.handleDecref()
	case CmdIncref:
		return p.handleIncref()
	case CmdGetInfo:
		return p.handleGetInfo()
	default:
		return agnoserr.NewProtocolError("unknown command code %d", cmd)
	}
}

func (p *Processor) handlePing() error {
	v, err := packer.String.Unpack(p.transport)
	if err != nil {
		return err
	}
	if _, err := p.transport.Write([]byte{byte(ReplySuccess)}); err != nil {
		return err
	}
	return packer.String.Pack(p.transport, v)
}

func (p *Processor) handleDecref() error {
	v, err := packer.Int64.Unpack(p.transport)
	if err != nil {
		return err
	}
	p.table.Decref(v.(int64))
	return nil
}

func (p *Processor) handleIncref() error {
	v, err := packer.Int64.Unpack(p.transport)
	if err != nil {
		return err
	}
	p.table.Incref(v.(int64))
	return nil
}

func (p *Processor) handleGetInfo() error {
	v, err := packer.Int32.Unpack(p.transport)
	if err != nil {
		return err
	}
	m := p.dispatcher.GetInfo(v.(int32))
	if _, err := p.transport.Write([]byte{byte(ReplySuccess)}); err != nil {
		return err
	}
	return heteromap.NewPacker(p.registry).Pack(p.transport, m)
}

func (p *Processor) handleInvoke() error {
	raw, err := packer.Int32.Unpack(p.transport)
	if err != nil {
		return err
	}
	funcID := raw.(int32)

	fn, ok := p.dispatcher.Lookup(funcID)
	if !ok {
		return agnoserr.NewProtocolError("invoke: unknown function id %d", funcID)
	}

	args := make([]interface{}, len(fn.ArgPackers))
	for i, ap := range fn.ArgPackers {
		v, err := ap.Unpack(p.transport)
		if err != nil {
			return err
		}
		args[i] = v
	}

	result, err := fn.Handler(args)
	if err != nil {
		return err
	}

	if _, err := p.transport.Write([]byte{byte(ReplySuccess)}); err != nil {
		return err
	}
	if fn.ReturnPacker != nil {
		return fn.ReturnPacker.Pack(p.transport, result)
	}
	return nil
}

// writeErrorReply applies the error-reply policy: the write buffer has
// already been reset by the caller, so this only needs to append the
// correctly-coded reply.
func (p *Processor) writeErrorReply(err error) {
	if pe, ok := agnoserr.AsProtocolError(mapPackerError(err)); ok {
		p.transport.Write([]byte{byte(ReplyProtocolError)})
		packer.String.Pack(p.transport, pe.Message)
		return
	}
	if pk, ok := agnoserr.AsPackedException(err); ok {
		p.transport.Write([]byte{byte(ReplyPackedException)})
		packer.Int32.Pack(p.transport, pk.ClassID)
		if pk.Encode != nil {
			pk.Encode(p.transport)
		}
		return
	}
	ge := agnoserr.NewGenericException(err)
	p.transport.Write([]byte{byte(ReplyGenericException)})
	packer.String.Pack(p.transport, ge.Message)
	packer.String.Pack(p.transport, ge.Traceback)
}

// mapPackerError turns a *agnoserr.PackerError into a *agnoserr.ProtocolError
// at the processor boundary, leaving any other error untouched.
func mapPackerError(err error) error {
	var pkErr *agnoserr.PackerError
	if goerrors.As(err, &pkErr) {
		return agnoserr.NewProtocolError("%s", pkErr.Error())
	}
	return err
}

func errorKind(err error) string {
	if _, ok := agnoserr.AsProtocolError(mapPackerError(err)); ok {
		return "protocol"
	}
	if _, ok := agnoserr.AsPackedException(err); ok {
		return "packed"
	}
	return "generic"
}
