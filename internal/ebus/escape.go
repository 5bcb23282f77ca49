package ebus

// Reserved wire bytes.
const (
	// SyncByte delimits frames on the bus.
	SyncByte byte = 0xAA

	// EscapeByte introduces a two-byte escape sequence.
	EscapeByte byte = 0xA9

	// escapedEscape follows EscapeByte to encode a literal 0xA9.
	escapedEscape byte = 0x00

	// escapedSync follows EscapeByte to encode a literal 0xAA.
	escapedSync byte = 0x01
)

// Escape byte-stuffs data so it contains no SYNC bytes.
func Escape(data []byte) []byte {
	out := make([]byte, 0, len(data)+len(data)/8)
	for _, b := range data {
		switch b {
		case EscapeByte:
			out = append(out, EscapeByte, escapedEscape)
		case SyncByte:
			out = append(out, EscapeByte, escapedSync)
		default:
			out = append(out, b)
		}
	}
	return out
}

// Unescape reverses Escape. An escape byte that is not followed by a known
// substitute (or ends the input) is kept as a literal byte.
func Unescape(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		b := data[i]
		if b != EscapeByte || i+1 >= len(data) {
			out = append(out, b)
			continue
		}
		switch data[i+1] {
		case escapedEscape:
			out = append(out, EscapeByte)
			i++
		case escapedSync:
			out = append(out, SyncByte)
			i++
		default:
			out = append(out, b)
		}
	}
	return out
}
