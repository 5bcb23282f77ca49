package alert

import "errors"

var (
	// ErrInvalidRule is returned when a rule has no sensor, no condition, or
	// conflicting thresholds.
	ErrInvalidRule = errors.New("alert: invalid rule")

	// ErrUnknownSeverity is returned for a severity name other than INFO,
	// WARNING or CRITICAL.
	ErrUnknownSeverity = errors.New("alert: unknown severity")
)
