package ebus

import (
	"fmt"
	"strconv"
	"strings"
)

// Polynomial is a CRC-8 generator polynomial (the x^8 term is implicit).
type Polynomial byte

const (
	// PolyCanonical is the eBus generator x^8+x^7+x^4+x^3+x+1.
	PolyCanonical Polynomial = 0x9B

	// PolyAlternate is emitted by some devices instead of the canonical
	// polynomial. Only select it for installations known to need it.
	PolyAlternate Polynomial = 0x19
)

// String returns the polynomial as 0xNN.
func (p Polynomial) String() string {
	return fmt.Sprintf("0x%02X", byte(p))
}

// ParsePolynomial parses "0x9B", "9B", "0x19" or a decimal value. Only the
// canonical and alternate polynomials are accepted.
func ParsePolynomial(s string) (Polynomial, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PolyCanonical, nil
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPolynomial, s)
	}
	p := Polynomial(v)
	if p != PolyCanonical && p != PolyAlternate {
		return 0, fmt.Errorf("%w: %s", ErrInvalidPolynomial, p)
	}
	return p, nil
}

// Checksum computes the eBus CRC-8.
//
// The lookup table is built eagerly by NewChecksum and never changes, so a
// single Checksum can be shared by every component that needs it.
type Checksum struct {
	poly  Polynomial
	table [256]byte
}

// NewChecksum builds a checksum engine for the given polynomial.
func NewChecksum(poly Polynomial) *Checksum {
	c := &Checksum{poly: poly}
	for i := range c.table {
		c.table[i] = c.step(byte(i))
	}
	return c
}

// step runs eight bit-serial iterations on a register.
func (c *Checksum) step(crc byte) byte {
	for range 8 {
		if crc&0x80 != 0 {
			crc = (crc << 1) ^ byte(c.poly)
		} else {
			crc <<= 1
		}
	}
	return crc
}

// Update folds one byte into a running CRC register using the table.
func (c *Checksum) Update(crc, b byte) byte {
	return c.table[crc^b]
}

// Sum returns the CRC of data using the lookup table.
func (c *Checksum) Sum(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc = c.table[crc^b]
	}
	return crc
}

// SumBitwise returns the CRC of data with the bit-serial algorithm. It always
// agrees with Sum and exists for verification and diagnostics.
func (c *Checksum) SumBitwise(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc = c.step(crc ^ b)
	}
	return crc
}

// Verify reports whether the CRC of data equals expected.
func (c *Checksum) Verify(data []byte, expected byte) bool {
	return c.Sum(data) == expected
}

// CRCPolicy decides whether checksum mismatches invalidate telegrams.
type CRCPolicy int

const (
	// CRCStrict marks a telegram invalid when any present checksum mismatches.
	CRCStrict CRCPolicy = iota

	// CRCLenient ignores checksum mismatches entirely. Use only for devices
	// known to emit non-conformant checksums.
	CRCLenient
)

// String returns "strict" or "lenient".
func (p CRCPolicy) String() string {
	if p == CRCLenient {
		return "lenient"
	}
	return "strict"
}

// ParseCRCPolicy converts a configuration value to a CRCPolicy.
func ParseCRCPolicy(s string) (CRCPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return CRCStrict, nil
	case "lenient":
		return CRCLenient, nil
	default:
		return CRCStrict, fmt.Errorf("ebus: unknown crc policy %q (want strict or lenient)", s)
	}
}
