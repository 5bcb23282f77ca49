package ebus

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// DecodeRule names how a field's bytes become a value.
type DecodeRule string

// Supported decode rules.
const (
	RuleU8        DecodeRule = "u8"
	RuleI8        DecodeRule = "i8"
	RuleU16LE     DecodeRule = "u16le"
	RuleI16LE     DecodeRule = "i16le"
	RuleHalfUnit  DecodeRule = "half_unit"   // DATA1C: byte / 2
	RuleFixed1256 DecodeRule = "fixed_1_256" // TEMP16: int16le / 256
	RuleData2B    DecodeRule = "data2b"      // DATA2B: int16le / 256
	RuleBCD       DecodeRule = "bcd"
	RuleBit       DecodeRule = "bit"
	RuleOpaque    DecodeRule = "opaque"
)

// ruleAliases maps the eBus data type names used in device documentation
// onto rules.
var ruleAliases = map[string]DecodeRule{
	"uint8":     RuleU8,
	"int8":      RuleI8,
	"uint16_le": RuleU16LE,
	"int16_le":  RuleI16LE,
	"data1c":    RuleHalfUnit,
	"temp16":    RuleFixed1256,
	"bytes":     RuleOpaque,
}

// ParseDecodeRule resolves a rule name or alias (case-insensitive).
func ParseDecodeRule(s string) (DecodeRule, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if alias, ok := ruleAliases[name]; ok {
		return alias, nil
	}
	r := DecodeRule(name)
	if r.width() == 0 && r != RuleOpaque {
		return "", fmt.Errorf("%w: %q", ErrUnknownRule, s)
	}
	return r, nil
}

// width returns the raw byte width of a rule, 0 for unknown rules and for
// RuleOpaque (whose width comes from the field).
func (r DecodeRule) width() int {
	switch r {
	case RuleU8, RuleI8, RuleHalfUnit, RuleBCD, RuleBit:
		return 1
	case RuleU16LE, RuleI16LE, RuleFixed1256, RuleData2B:
		return 2 //nolint:mnd // two-byte little-endian rules
	default:
		return 0
	}
}

// Sentinel encodings meaning "value not available".
const (
	sentinel8         byte   = 0xFF
	sentinel16        uint16 = 0xFFFF
	sentinel16Max     int16  = 32767
	sentinel16Min     int16  = -32768
	maxBCDDigit       byte   = 9
	fixedPointDivisor        = 256.0
	halfUnitDivisor          = 2.0
)

// DecodeField extracts one field from buf.
//
// Returned values are int for integer and BCD rules, float64 for scaled
// rules, bool for bit rules and a hex string for opaque rules. A linear
// factor/bias turns numeric results into float64. It returns false when buf
// is too short, the BCD digits are invalid, or the raw value is a sentinel.
func DecodeField(f FieldSpec, buf []byte) (any, bool) {
	if f.Offset < 0 || f.Offset >= len(buf) {
		return nil, false
	}

	var value any
	switch f.Rule {
	case RuleOpaque:
		end := min(f.Offset+max(f.Length, 1), len(buf))
		return hex.EncodeToString(buf[f.Offset:end]), true

	case RuleU8, RuleI8, RuleHalfUnit, RuleBCD, RuleBit:
		raw := buf[f.Offset]
		if !f.KeepSentinel && raw == sentinel8 {
			return nil, false
		}
		v, ok := decodeByte(f, raw)
		if !ok {
			return nil, false
		}
		value = v

	case RuleU16LE, RuleI16LE, RuleFixed1256, RuleData2B:
		if f.Offset+2 > len(buf) {
			return nil, false
		}
		raw := binary.LittleEndian.Uint16(buf[f.Offset:])
		signed := int16(raw)
		if !f.KeepSentinel && (raw == sentinel16 || signed == sentinel16Max || signed == sentinel16Min) {
			return nil, false
		}
		switch f.Rule {
		case RuleU16LE:
			value = int(raw)
		case RuleI16LE:
			value = int(signed)
		default:
			value = float64(signed) / fixedPointDivisor
		}

	default:
		return nil, false
	}

	return f.transform(value), true
}

// decodeByte applies a one-byte rule.
func decodeByte(f FieldSpec, raw byte) (any, bool) {
	switch f.Rule {
	case RuleU8:
		return int(raw), true
	case RuleI8:
		return int(int8(raw)), true
	case RuleHalfUnit:
		return float64(raw) / halfUnitDivisor, true
	case RuleBCD:
		hi, lo := raw>>4, raw&0x0F
		if hi > maxBCDDigit || lo > maxBCDDigit {
			return nil, false
		}
		return int(hi)*10 + int(lo), true
	case RuleBit:
		return raw>>uint(f.Bit)&1 == 1, true
	default:
		return nil, false
	}
}

// transform applies factor and bias to numeric values. A zero factor means
// the field has none.
func (f FieldSpec) transform(v any) any {
	factor := f.Factor
	if factor == 0 {
		factor = 1
	}
	if factor == 1 && f.Bias == 0 {
		return v
	}
	switch n := v.(type) {
	case int:
		return float64(n)*factor + f.Bias
	case float64:
		return n*factor + f.Bias
	default:
		return v
	}
}
