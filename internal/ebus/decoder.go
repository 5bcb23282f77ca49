package ebus

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// UnknownMessage is the name of messages whose command has no spec.
const UnknownMessage = "unknown"

// Message is a decoded telegram: named query and response values plus the
// telegram they came from.
type Message struct {
	Name            string            `json:"name"`
	Command         Command           `json:"command"`
	Kind            MessageKind       `json:"kind,omitempty"`
	Source          byte              `json:"source"`
	Destination     byte              `json:"destination"`
	SourceName      string            `json:"source_name"`
	DestinationName string            `json:"destination_name"`
	Query           map[string]any    `json:"query"`
	Response        map[string]any    `json:"response,omitempty"`
	Units           map[string]string `json:"units,omitempty"`
	Valid           bool              `json:"valid"`
	CapturedAt      time.Time         `json:"captured_at"`
	Raw             string            `json:"raw"`

	Telegram Telegram `json:"-"`

	order []string
}

// Known reports whether the message matched a registry spec.
func (m Message) Known() bool {
	return m.Name != UnknownMessage
}

// Get returns a field value, preferring the response side.
func (m Message) Get(key string) (any, bool) {
	if v, ok := m.Response[key]; ok {
		return v, true
	}
	v, ok := m.Query[key]
	return v, ok
}

// String renders "name [src→dst]: k=v, ..." with floats to one decimal and
// booleans as ON/OFF.
func (m Message) String() string {
	keys := m.order
	if keys == nil {
		keys = sortedKeys(m.Query, m.Response)
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, ok := m.Get(k)
		if !ok {
			continue
		}
		parts = append(parts, k+"="+FormatValue(v)+m.Units[k])
	}
	return fmt.Sprintf("%s [%s→%s]: %s", m.Name, m.SourceName, m.DestinationName, strings.Join(parts, ", "))
}

// FormatValue renders a decoded value for display.
func FormatValue(v any) string {
	switch x := v.(type) {
	case float64:
		return fmt.Sprintf("%.1f", x)
	case bool:
		if x {
			return "ON"
		}
		return "OFF"
	default:
		return fmt.Sprint(x)
	}
}

func sortedKeys(maps ...map[string]any) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, m := range maps {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// DecoderStats counts decoded messages.
type DecoderStats struct {
	Total   uint64 `json:"total"`
	Parsed  uint64 `json:"parsed"`
	Unknown uint64 `json:"unknown"`
}

// Decoder applies a registry to telegrams.
type Decoder struct {
	registry *Registry

	total   atomic.Uint64
	parsed  atomic.Uint64
	unknown atomic.Uint64
}

// NewDecoder creates a decoder over an immutable registry.
func NewDecoder(registry *Registry) *Decoder {
	return &Decoder{registry: registry}
}

// Decode maps a telegram to a message. Commands without a spec produce an
// UnknownMessage whose "raw" fields carry the query and response hex.
func (d *Decoder) Decode(t Telegram) Message {
	d.total.Add(1)

	msg := Message{
		Command:         t.Command,
		Source:          t.Source,
		Destination:     t.Destination,
		SourceName:      AddressName(t.Source),
		DestinationName: AddressName(t.Destination),
		Query:           make(map[string]any),
		Valid:           t.Valid,
		CapturedAt:      t.CapturedAt,
		Raw:             hex.EncodeToString(t.Raw),
		Telegram:        t,
	}

	spec, ok := d.registry.Find(t.Command)
	if !ok {
		d.unknown.Add(1)
		msg.Name = UnknownMessage
		msg.Query["raw"] = hex.EncodeToString(t.Data)
		if resp := t.ResponseData(); len(resp) > 0 {
			msg.Response = map[string]any{"raw": hex.EncodeToString(resp)}
		}
		return msg
	}

	d.parsed.Add(1)
	msg.Name = spec.Name
	msg.Kind = spec.Kind
	msg.Units = make(map[string]string)
	msg.order = decodeInto(msg.Query, msg.Units, spec.Query, t.Data, nil)

	if t.Response.Complete() && len(spec.Response) > 0 {
		msg.Response = make(map[string]any)
		msg.order = decodeInto(msg.Response, msg.Units, spec.Response, t.Response.Data, msg.order)
	}
	return msg
}

// decodeInto decodes each field independently and appends decoded names to
// order.
func decodeInto(values map[string]any, units map[string]string, fields []FieldSpec, buf []byte, order []string) []string {
	for _, f := range fields {
		v, ok := DecodeField(f, buf)
		if !ok {
			continue
		}
		values[f.Name] = v
		if f.Unit != "" {
			units[f.Name] = f.Unit
		}
		order = append(order, f.Name)
	}
	return order
}

// Stats returns a snapshot of the decode counters.
func (d *Decoder) Stats() DecoderStats {
	return DecoderStats{
		Total:   d.total.Load(),
		Parsed:  d.parsed.Load(),
		Unknown: d.unknown.Load(),
	}
}

// ParseHex parses a hex dump such as "AA 10 FE 05", "aa10fe05" or
// "0x10 0x08". Each token may carry its own 0x prefix.
func ParseHex(s string) ([]byte, error) {
	tokens := strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case ' ', '\n', '\r', '\t', ':', ',':
			return true
		}
		return false
	})
	var clean strings.Builder
	for _, tok := range tokens {
		tok = strings.ToLower(tok)
		clean.WriteString(strings.TrimPrefix(tok, "0x"))
	}
	b, err := hex.DecodeString(clean.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHex, err)
	}
	return b, nil
}
