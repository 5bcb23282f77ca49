package ebus

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksumKnownValues(t *testing.T) {
	tests := []struct {
		name string
		poly Polynomial
		data []byte
		want byte
	}{
		{"empty", PolyCanonical, nil, 0x00},
		{"single one bit", PolyCanonical, []byte{0x01}, 0x9B},
		{"B511 query", PolyCanonical, []byte{0x10, 0x08, 0xB5, 0x11, 0x01, 0x01}, 0x89},
		{"B511 query alternate poly", PolyAlternate, []byte{0x10, 0x08, 0xB5, 0x11, 0x01, 0x01}, 0xCE},
		{"broadcast 0507", PolyCanonical, []byte{0x10, 0xFE, 0x05, 0x07, 0x04, 0x00, 0x48, 0x12, 0x80}, 0x9E},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecksum(tt.poly)
			assert.Equal(t, tt.want, c.Sum(tt.data))
			assert.Equal(t, tt.want, c.SumBitwise(tt.data))
			assert.True(t, c.Verify(tt.data, tt.want))
		})
	}
}

func TestChecksumTableMatchesBitwise(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for _, poly := range []Polynomial{PolyCanonical, PolyAlternate} {
		c := NewChecksum(poly)
		for range 500 {
			data := make([]byte, rng.IntN(64))
			for i := range data {
				data[i] = byte(rng.UintN(256))
			}
			require.Equal(t, c.SumBitwise(data), c.Sum(data), "poly %s data % X", poly, data)
		}
	}
}

func TestChecksumUpdateIsIncremental(t *testing.T) {
	c := NewChecksum(PolyCanonical)
	data := []byte{0x10, 0x08, 0xB5, 0x11, 0x01, 0x01}

	var crc byte
	for _, b := range data {
		crc = c.Update(crc, b)
	}
	assert.Equal(t, c.Sum(data), crc)
}

func FuzzChecksumTableMatchesBitwise(f *testing.F) {
	f.Add([]byte{0x10, 0xFE, 0x05, 0x07})
	f.Add([]byte{0xAA, 0xA9, 0x00, 0xFF})
	c := NewChecksum(PolyCanonical)
	f.Fuzz(func(t *testing.T, data []byte) {
		if c.Sum(data) != c.SumBitwise(data) {
			t.Fatalf("table and bitwise CRC differ for % X", data)
		}
	})
}

func TestParsePolynomial(t *testing.T) {
	tests := []struct {
		in      string
		want    Polynomial
		wantErr bool
	}{
		{"", PolyCanonical, false},
		{"0x9B", PolyCanonical, false},
		{"9b", PolyCanonical, false},
		{"0x19", PolyAlternate, false},
		{"0x07", 0, true},
		{"zz", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolynomial(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidPolynomial)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCRCPolicy(t *testing.T) {
	p, err := ParseCRCPolicy("")
	require.NoError(t, err)
	assert.Equal(t, CRCStrict, p)

	p, err = ParseCRCPolicy("Lenient")
	require.NoError(t, err)
	assert.Equal(t, CRCLenient, p)
	assert.Equal(t, "lenient", p.String())

	_, err = ParseCRCPolicy("sometimes")
	assert.Error(t, err)
}
