package ebus

import "errors"

// Domain errors for the eBus package.
//
// The decode path itself never returns these: malformed bus data yields an
// absent result. They are raised while building tables and configuration.
var (
	// ErrInvalidTable is returned when a message table cannot be parsed or
	// fails validation.
	ErrInvalidTable = errors.New("ebus: invalid message table")

	// ErrUnknownRule is returned when a field names a decode rule that does
	// not exist.
	ErrUnknownRule = errors.New("ebus: unknown decode rule")

	// ErrInvalidPolynomial is returned for a CRC polynomial other than the
	// canonical or alternate value.
	ErrInvalidPolynomial = errors.New("ebus: unsupported CRC polynomial")

	// ErrInvalidHex is returned when a hex dump cannot be parsed.
	ErrInvalidHex = errors.New("ebus: invalid hex input")
)
