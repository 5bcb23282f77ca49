package sensor

import (
	"fmt"
	"strings"
)

// OutdoorProfile selects where the B504 response carries the outdoor
// temperature. Controller firmwares disagree on the location.
type OutdoorProfile string

const (
	// OutdoorAuto tries the 16-bit reading first and falls back to the
	// half-degree byte.
	OutdoorAuto OutdoorProfile = "auto"

	// OutdoorTemp16At8 reads a signed little-endian 1/256 value at offset 8.
	OutdoorTemp16At8 OutdoorProfile = "temp16_at_8"

	// OutdoorSignedHalfAt1 reads a signed half-degree byte at offset 1.
	OutdoorSignedHalfAt1 OutdoorProfile = "signed_half_at_1"
)

// ParseOutdoorProfile resolves a profile name; an empty name means auto.
func ParseOutdoorProfile(s string) (OutdoorProfile, error) {
	switch p := OutdoorProfile(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return OutdoorAuto, nil
	case OutdoorAuto, OutdoorTemp16At8, OutdoorSignedHalfAt1:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProfile, s)
	}
}
