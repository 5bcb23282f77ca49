package ebus

import (
	"encoding/hex"
	"fmt"
	"time"
)

// Protocol constants.
const (
	// BroadcastAddress is the destination of telegrams that expect no reply.
	BroadcastAddress byte = 0xFE

	// ACK accepts a master or slave part.
	ACK byte = 0x00

	// NAK rejects a master or slave part.
	NAK byte = 0xFF

	// headerLength covers QQ ZZ PB SB NN.
	headerLength = 5

	// MinTelegramLength is the header plus the master CRC with NN=0.
	MinTelegramLength = headerLength + 1
)

// Kind classifies a telegram by addressing.
type Kind int

const (
	// KindBroadcast is addressed to BroadcastAddress.
	KindBroadcast Kind = iota

	// KindMasterMaster is addressed and carries no slave part.
	KindMasterMaster

	// KindMasterSlave is addressed and followed by a slave handshake.
	KindMasterSlave
)

// String returns the conventional two-letter abbreviation.
func (k Kind) String() string {
	switch k {
	case KindBroadcast:
		return "BC"
	case KindMasterMaster:
		return "MM"
	case KindMasterSlave:
		return "MS"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// MarshalText encodes the kind as its abbreviation.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Command is the primary/secondary command pair.
type Command struct {
	Primary   byte
	Secondary byte
}

// String returns the command as four upper-case hex digits, e.g. "B511".
func (c Command) String() string {
	return fmt.Sprintf("%02X%02X", c.Primary, c.Secondary)
}

// MarshalText encodes the command as its hex string.
func (c Command) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a hex command string.
func (c *Command) UnmarshalText(text []byte) error {
	parsed, err := ParseCommand(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCommand parses a four-digit hex command such as "B511".
func ParseCommand(s string) (Command, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 2 {
		return Command{}, fmt.Errorf("%w: command %q", ErrInvalidTable, s)
	}
	return Command{Primary: b[0], Secondary: b[1]}, nil
}

// Response is the slave part of a master/slave telegram.
type Response struct {
	// Handshake is the slave's ACK/NAK to the master part.
	Handshake byte

	// Data is nil when the slave NAKed or the response was truncated.
	Data []byte

	// Checksum is the CRC sent after Data.
	Checksum byte

	// ChecksumOK reports whether Checksum matched [NN2]+Data.
	ChecksumOK bool

	// FinalHandshake is the master's ACK/NAK to the response, if captured.
	FinalHandshake *byte
}

// Complete reports whether a response payload was captured.
func (r *Response) Complete() bool {
	return r != nil && r.Handshake == ACK && r.Data != nil
}

// Telegram is one decoded bus exchange. It is immutable once parsed.
type Telegram struct {
	Source      byte
	Destination byte
	Command     Command
	Data        []byte
	Checksum    byte

	// ChecksumOK reports whether the master CRC matched, regardless of policy.
	ChecksumOK bool

	Kind     Kind
	Response *Response

	// Valid is false when any present checksum failed under CRCStrict.
	Valid bool

	Raw        []byte
	CapturedAt time.Time
}

// ResponseData returns the slave payload, or nil.
func (t Telegram) ResponseData() []byte {
	if t.Response == nil {
		return nil
	}
	return t.Response.Data
}

// String renders a one-line summary for logs.
func (t Telegram) String() string {
	status := "ok"
	if !t.Valid {
		status = "bad"
	}
	s := fmt.Sprintf("Telegram[%s %s](src=0x%02X dst=0x%02X cmd=%s data=%s)",
		t.Kind, status, t.Source, t.Destination, t.Command, hex.EncodeToString(t.Data))
	if r := t.Response; r != nil && r.Data != nil {
		s += fmt.Sprintf(" resp=%s", hex.EncodeToString(r.Data))
	}
	return s
}

// Parser turns raw frames into telegrams.
type Parser struct {
	crc    *Checksum
	policy CRCPolicy
}

// NewParser creates a parser sharing the given checksum engine.
func NewParser(crc *Checksum, policy CRCPolicy) *Parser {
	if crc == nil {
		crc = NewChecksum(PolyCanonical)
	}
	return &Parser{crc: crc, policy: policy}
}

// Parse decodes one escaped frame as produced by Framer.Feed.
//
// It returns false when the frame is too short for its declared lengths.
// Checksum failures do not reject the frame; they clear Valid under
// CRCStrict so callers can still inspect the telegram.
func (p *Parser) Parse(frame []byte, at time.Time) (Telegram, bool) {
	data := Unescape(frame)
	if len(data) < MinTelegramLength {
		return Telegram{}, false
	}

	n := int(data[4])
	crcPos := headerLength + n
	if len(data) < crcPos+1 {
		return Telegram{}, false
	}

	raw := make([]byte, len(frame))
	copy(raw, frame)

	t := Telegram{
		Source:      data[0],
		Destination: data[1],
		Command:     Command{Primary: data[2], Secondary: data[3]},
		Data:        append([]byte(nil), data[headerLength:crcPos]...),
		Checksum:    data[crcPos],
		Raw:         raw,
		CapturedAt:  at,
	}
	t.ChecksumOK = p.crc.Verify(data[:crcPos], t.Checksum)
	t.Valid = t.ChecksumOK || p.policy == CRCLenient

	rest := data[crcPos+1:]
	switch {
	case t.Destination == BroadcastAddress:
		t.Kind = KindBroadcast
	case len(rest) > 0:
		t.Kind = KindMasterSlave
		t.Response = p.parseResponse(rest)
		if t.Response.Data != nil && !t.Response.ChecksumOK && p.policy == CRCStrict {
			t.Valid = false
		}
	default:
		t.Kind = KindMasterMaster
	}

	return t, true
}

// parseResponse decodes the bytes following the master CRC. A NAK or a
// truncated response leaves Data nil.
func (p *Parser) parseResponse(rest []byte) *Response {
	r := &Response{Handshake: rest[0]}
	if r.Handshake != ACK || len(rest) < 2 {
		return r
	}

	n := int(rest[1])
	if len(rest) < 2+n+1 {
		return r
	}

	r.Data = append([]byte{}, rest[2:2+n]...)
	r.Checksum = rest[2+n]
	r.ChecksumOK = p.crc.Verify(rest[1:2+n], r.Checksum)

	if len(rest) > 2+n+1 {
		final := rest[2+n+1]
		r.FinalHandshake = &final
	}
	return r
}
