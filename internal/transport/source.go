package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"go.bug.st/serial"
)

const (
	// DefaultBaud is the eBus line speed.
	DefaultBaud = 2400

	defaultDialTimeout = 10 * time.Second
	defaultReadTimeout = time.Second
)

// Source opens a fresh byte stream. Each call to Open after a failure
// must return a new stream.
type Source interface {
	Open(ctx context.Context) (Stream, error)
	String() string
}

// Stream is an open byte source. Read may return (0, nil) or a timeout
// error when no bytes arrived within the read timeout.
type Stream interface {
	io.ReadCloser
}

// SerialSource opens a serial adapter at 8N1.
type SerialSource struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration
}

// Open opens the port and sets the read timeout.
func (s SerialSource) Open(_ context.Context) (Stream, error) {
	baud := s.Baud
	if baud == 0 {
		baud = DefaultBaud
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(s.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: serial %s: %w", ErrOpenFailed, s.Port, err)
	}

	timeout := s.ReadTimeout
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("%w: serial %s: set read timeout: %w", ErrOpenFailed, s.Port, err)
	}
	return port, nil
}

func (s SerialSource) String() string {
	return fmt.Sprintf("serial://%s@%d", s.Port, s.baud())
}

func (s SerialSource) baud() int {
	if s.Baud == 0 {
		return DefaultBaud
	}
	return s.Baud
}

// TCPSource dials a raw byte stream such as ebusd's --rawport or ser2net.
type TCPSource struct {
	Address     string
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

// Open dials the address.
func (s TCPSource) Open(ctx context.Context) (Stream, error) {
	timeout := s.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", s.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial tcp://%s: %w", ErrOpenFailed, s.Address, err)
	}

	readTimeout := s.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	return &deadlineConn{Conn: conn, timeout: readTimeout}, nil
}

func (s TCPSource) String() string {
	return "tcp://" + s.Address
}

// deadlineConn arms a read deadline before every read.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

// isTimeout reports whether err only means "no bytes yet".
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// NewSource builds a Source from the transport type name.
func NewSource(kind, serialPort string, baud int, tcpAddress string, readTimeout time.Duration) (Source, error) {
	switch kind {
	case "serial":
		return SerialSource{Port: serialPort, Baud: baud, ReadTimeout: readTimeout}, nil
	case "tcp":
		return TCPSource{Address: tcpAddress, ReadTimeout: readTimeout}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, kind)
	}
}
