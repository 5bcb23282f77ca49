package transport

import "errors"

var (
	// ErrOpenFailed is returned when a byte source cannot be opened.
	ErrOpenFailed = errors.New("transport: open failed")

	// ErrUnknownType is returned for a transport type other than serial or tcp.
	ErrUnknownType = errors.New("transport: unknown type")

	// ErrNotConnected is returned by HealthCheck while the source is closed.
	ErrNotConnected = errors.New("transport: not connected")
)
