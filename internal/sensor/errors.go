package sensor

import "errors"

var (
	// ErrUnknownProfile is returned when an outdoor temperature profile name
	// is not recognised.
	ErrUnknownProfile = errors.New("sensor: unknown outdoor profile")

	// ErrInvalidBounds is returned for bounds whose minimum exceeds the
	// maximum.
	ErrInvalidBounds = errors.New("sensor: invalid bounds")
)
