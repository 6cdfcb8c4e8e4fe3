package transport

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/pkg/errors"

	"github.com/agnos-rpc/agnos-go/agnoserr"
)

// handshakeMagic is the literal first line a subprocess server must print
// before its host/port lines.
const handshakeMagic = "AGNOS"

// DialSubprocess reads three newline-terminated lines from a child
// process's standard output, the literal "AGNOS", a host string, and a
// port string, and dials a TCP transport to that endpoint. Any other
// first line aborts with *proc-transport-error*.
func DialSubprocess(stdout io.Reader, opts ...Option) (*Transport, error) {
	br := bufio.NewReader(stdout)

	line, err := readLine(br)
	if err != nil {
		return nil, errors.Wrap(agnoserr.ErrProcTransport, "reading magic line: "+err.Error())
	}
	if line != handshakeMagic {
		return nil, errors.Wrapf(agnoserr.ErrProcTransport, "unexpected first line %q", line)
	}

	host, err := readLine(br)
	if err != nil {
		return nil, errors.Wrap(agnoserr.ErrProcTransport, "reading host line: "+err.Error())
	}
	port, err := readLine(br)
	if err != nil {
		return nil, errors.Wrap(agnoserr.ErrProcTransport, "reading port line: "+err.Error())
	}

	conn, err := net.Dial("tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, errors.Wrap(agnoserr.ErrProcTransport, "dial: "+err.Error())
	}
	return New(conn, opts...), nil
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// WriteLibraryHandshake writes the three-line library-mode handshake,
// "AGNOS\n<host>\n<port>\n", to w.
func WriteLibraryHandshake(w io.Writer, host string, port int) error {
	_, err := fmt.Fprintf(w, "%s\n%s\n%d\n", handshakeMagic, host, port)
	return err
}
