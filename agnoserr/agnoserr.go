// Package agnoserr defines the error taxonomy shared by the Agnos wire
// protocol core: the transport-level failures, the three reply conditions
// a server can send back to a caller (protocol error, packed exception,
// generic exception), and the lower-level packer/hetero-map decode
// failures that get mapped to protocol errors at the processor boundary.
//
// Errors that travel to a remote peer are rendered into the reply payload by
// package server and reconstructed on the client by package client; they are
// never serialized as Go error values.
package agnoserr

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// Sentinel transport-layer errors.
var (
	// ErrTransportEOF means the peer closed the connection cleanly at a
	// packet boundary. Expected at session end; not a failure.
	ErrTransportEOF = errors.New("agnos: transport: clean eof")

	// ErrTransport wraps an unrecoverable framing or I/O fault. The
	// connection cannot continue once this is observed.
	ErrTransport = errors.New("agnos: transport error")

	// ErrReentrant is raised when begin_read/begin_write is invoked by the
	// goroutine that already holds the corresponding lock. A programming
	// error, not a deadlock.
	ErrReentrant = errors.New("agnos: transport: reentrant begin call")

	// ErrProcTransport reports a failed subprocess handshake: a first line
	// other than the literal "AGNOS", a missing host or port line, or a
	// failed dial to the announced endpoint.
	ErrProcTransport = errors.New("agnos: subprocess handshake failed")
)

// PackerError reports an internal decode invariant violation (a short read
// mid-primitive, an over-long declared length, and similar). It is always
// intercepted at the server/client boundary and turned into a ProtocolError
// before it reaches a peer.
type PackerError struct {
	Op  string
	Err error
}

func (e *PackerError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("agnos: packer error: %s", e.Op)
	}
	return fmt.Sprintf("agnos: packer error: %s: %v", e.Op, e.Err)
}

func (e *PackerError) Unwrap() error { return e.Err }

// NewPackerError wraps err (capturing a stack via pkg/errors) as a
// PackerError for operation op.
func NewPackerError(op string, err error) error {
	return &PackerError{Op: op, Err: errors.WithStack(err)}
}

// ProtocolError is a malformed-command / unknown-packer-id / invalid-
// reference / sequence-mismatch / ping-mismatch condition. Reported to the
// peer as reply code 1 (string message only); logged locally; does not
// close the connection.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string { return "agnos: protocol error: " + e.Message }

// NewProtocolError builds a ProtocolError with a formatted message.
func NewProtocolError(format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Message: fmt.Sprintf(format, args...)}
}

// PackedException is a user-schema exception: a record flagged as throwable,
// identified by a class id and carrying IDL-defined fields. Reply code 2.
// Encode writes the class's own field encoding (generated stubs supply
// this; the core treats it as opaque bytes).
type PackedException struct {
	ClassID int32
	Encode  func(w io.Writer) error
}

func (e *PackedException) Error() string {
	return fmt.Sprintf("agnos: packed exception: class %d", e.ClassID)
}

// GenericException is an unmodeled handler failure: message plus a rendered
// remote stack. Reply code 3.
type GenericException struct {
	Message   string
	Traceback string
}

func (e *GenericException) Error() string { return "agnos: generic exception: " + e.Message }

// NewGenericException renders err (and its pkg/errors stack trace, when
// present) into a GenericException suitable for reply code 3. Every
// unclassified handler error ends up here; the traceback is never empty.
// Handler panics are not recovered and never reach this function.
func NewGenericException(err error) *GenericException {
	tb := fmt.Sprintf("%+v", err)
	if tb == err.Error() {
		// err carries no stack (e.g. a bare errors.New); synthesize a
		// minimal one so the traceback field is never empty on the wire.
		tb = fmt.Sprintf("%s\n\t(no stack trace available)", err.Error())
	}
	return &GenericException{Message: err.Error(), Traceback: tb}
}

// AsProtocolError reports whether err is (or wraps) a *ProtocolError.
func AsProtocolError(err error) (*ProtocolError, bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// AsPackedException reports whether err is (or wraps) a *PackedException.
func AsPackedException(err error) (*PackedException, bool) {
	var pe *PackedException
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
