package server

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/agnos-rpc/agnos-go/agnoserr"
	"github.com/agnos-rpc/agnos-go/objref"
	"github.com/agnos-rpc/agnos-go/packer"
	"github.com/agnos-rpc/agnos-go/transport"
)

// Mode selects one of the three accept/serve lifecycles a server can run.
type Mode int

const (
	// ModeSimple serves one client at a time; the next accept happens only
	// after the current session terminates.
	ModeSimple Mode = iota
	// ModeThreaded spawns a worker per accepted connection.
	ModeThreaded
	// ModeLib binds an ephemeral local port, prints the library-mode
	// handshake to stdout, accepts exactly one client, and exits once that
	// session ends.
	ModeLib
)

// ParseMode maps the command-line surface's "-m" values to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "simple":
		return ModeSimple, nil
	case "threaded":
		return ModeThreaded, nil
	case "lib":
		return ModeLib, nil
	default:
		return 0, fmt.Errorf("server: unknown mode %q", s)
	}
}

// Config bundles everything a Serve invocation needs: where to bind, the
// shared registry/dispatcher/object table every connection's Processor
// uses, and the options forwarded to each connection's Transport and
// Processor.
type Config struct {
	Mode Mode
	Host string
	Port int // ignored (0 is used) for ModeLib

	Registry      *packer.Registry
	Dispatcher    *Dispatcher
	Table         *objref.Table
	TransportOpts []transport.Option
	ProcessorOpts []Option

	// Stdout receives the three-line library-mode handshake. Defaults to
	// os.Stdout; tests inject a buffer.
	Stdout io.Writer
}

// Serve runs the configured server mode until the listener is closed (for
// Simple/Threaded) or the single accepted session ends (for Lib). Serve
// itself only reports errors; exit-code and process lifecycle are the
// caller's responsibility (cmd/agnosd).
func Serve(cfg Config) error {
	switch cfg.Mode {
	case ModeSimple:
		return serveSimple(cfg)
	case ModeThreaded:
		return serveThreaded(cfg)
	case ModeLib:
		return serveLib(cfg)
	default:
		return fmt.Errorf("server: unknown mode %d", cfg.Mode)
	}
}

func listen(host string, port int) (net.Listener, error) {
	return net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
}

func serveSimple(cfg Config) error {
	ln, err := listen(cfg.Host, cfg.Port)
	if err != nil {
		return err
	}
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		runConnection(conn, cfg)
	}
}

func serveThreaded(cfg Config) error {
	ln, err := listen(cfg.Host, cfg.Port)
	if err != nil {
		return err
	}
	defer ln.Close()

	var g errgroup.Group
	var acceptErrs *multierror.Error

	for {
		conn, err := ln.Accept()
		if err != nil {
			acceptErrs = multierror.Append(acceptErrs, err)
			break
		}
		g.Go(func() error {
			runConnection(conn, cfg)
			return nil
		})
	}

	_ = g.Wait() // worker goroutines never return an error of their own; each absorbs its session's failures internally and simply stops
	return acceptErrs.ErrorOrNil()
}

func serveLib(cfg Config) error {
	ln, err := listen(cfg.Host, 0)
	if err != nil {
		return err
	}
	defer ln.Close()

	tcpAddr := ln.Addr().(*net.TCPAddr)
	stdout := cfg.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	if err := transport.WriteLibraryHandshake(stdout, hostOrLoopback(cfg.Host), tcpAddr.Port); err != nil {
		return err
	}
	if closer, ok := stdout.(io.Closer); ok {
		closer.Close()
	}

	conn, err := ln.Accept()
	if err != nil {
		return err
	}
	runConnection(conn, cfg)
	return nil
}

func hostOrLoopback(host string) string {
	if host == "" {
		return "127.0.0.1"
	}
	return host
}

// runConnection drives one connection's Processor loop until the peer
// disconnects, the connection quits cleanly, or an unrecoverable transport
// error occurs. It never propagates an error to the caller: per-connection
// failures must not bring down the server mode; protocol errors don't
// close the connection at all, and transport faults close only this one.
func runConnection(conn net.Conn, cfg Config) {
	defer conn.Close()

	if m := metricsFromOptions(cfg.ProcessorOpts); m != nil {
		m.ConnOpened()
		defer m.ConnClosed()
	}

	// Each connection gets its own correlation id for log lines; it never
	// goes on the wire.
	connID := uuid.NewString()
	opts := append([]Option{}, cfg.ProcessorOpts...)
	if base := loggerFromOptions(cfg.ProcessorOpts); base != nil {
		opts = append(opts, WithLogger(base.WithField("conn_id", connID)))
	}

	tr := transport.New(conn, cfg.TransportOpts...)
	proc := NewProcessor(tr, cfg.Registry, cfg.Table, cfg.Dispatcher, opts...)

	for {
		err := proc.ServeOnce()
		if err == nil {
			continue
		}
		if err == agnoserr.ErrTransportEOF || err == ErrQuit {
			return
		}
		// Any other error is an unrecoverable transport fault; this
		// connection's session ends.
		return
	}
}

func metricsFromOptions(opts []Option) *Metrics {
	o := defaultOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o.Metrics
}

func loggerFromOptions(opts []Option) *logrus.Entry {
	o := defaultOptions
	for _, fn := range opts {
		fn(&o)
	}
	if o.Logger == nil {
		return nil
	}
	l, ok := o.Logger.(*logrus.Logger)
	if !ok {
		if e, ok := o.Logger.(*logrus.Entry); ok {
			return e
		}
		return nil
	}
	return logrus.NewEntry(l)
}
