package ebus

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// FieldSpec describes one named value at a fixed offset of a payload.
type FieldSpec struct {
	Name        string
	Offset      int
	Rule        DecodeRule
	Length      int // byte count for RuleOpaque
	Bit         int // bit position for RuleBit
	Unit        string
	Description string

	// KeepSentinel disables the "not available" sentinel check, so 0xFF
	// decodes as 255 instead of being omitted.
	KeepSentinel bool

	// Factor and Bias form an optional linear transform value*Factor+Bias.
	// A zero Factor means no scaling.
	Factor float64
	Bias   float64
}

// MessageKind tags the messages whose payload carries boiler sensor data.
// Sensor extraction keys on the kind, never on the message name.
type MessageKind string

const (
	MsgGeneric     MessageKind = ""
	MsgStatusTemps MessageKind = "status_temps"
	MsgModulation  MessageKind = "modulation"
	MsgRoomTemp    MessageKind = "room_temp"
	MsgDatetime    MessageKind = "datetime"
)

// ParseMessageKind validates a table kind tag.
func ParseMessageKind(s string) (MessageKind, error) {
	switch k := MessageKind(s); k {
	case MsgGeneric, MsgStatusTemps, MsgModulation, MsgRoomTemp, MsgDatetime:
		return k, nil
	default:
		return MsgGeneric, fmt.Errorf("%w: unknown message kind %q", ErrInvalidTable, s)
	}
}

// MessageSpec describes the query and response layout of one command.
type MessageSpec struct {
	Name        string
	Command     Command
	Kind        MessageKind
	Description string
	Query       []FieldSpec
	Response    []FieldSpec
}

// Registry maps command pairs to message specs. It is immutable after
// construction and holds at most one spec per command.
type Registry struct {
	byCommand map[Command]MessageSpec
	ordered   []MessageSpec
}

// NewRegistry validates specs and builds a registry. Two specs for the same
// command are an error; use MergeTables to layer tables with replacement.
func NewRegistry(specs []MessageSpec) (*Registry, error) {
	r := &Registry{byCommand: make(map[Command]MessageSpec, len(specs))}
	for _, spec := range specs {
		if err := spec.validate(); err != nil {
			return nil, err
		}
		if prev, dup := r.byCommand[spec.Command]; dup {
			return nil, fmt.Errorf("%w: command %s defined by %q and %q",
				ErrInvalidTable, spec.Command, prev.Name, spec.Name)
		}
		r.byCommand[spec.Command] = spec
		r.ordered = append(r.ordered, spec)
	}
	slices.SortFunc(r.ordered, func(a, b MessageSpec) int {
		return strings.Compare(a.Command.String(), b.Command.String())
	})
	return r, nil
}

// Find returns the spec registered for a command.
func (r *Registry) Find(cmd Command) (MessageSpec, bool) {
	spec, ok := r.byCommand[cmd]
	return spec, ok
}

// Messages returns all specs ordered by command.
func (r *Registry) Messages() []MessageSpec {
	return slices.Clone(r.ordered)
}

// Len returns the number of registered commands.
func (r *Registry) Len() int {
	return len(r.ordered)
}

func (m MessageSpec) validate() error {
	if m.Name == "" {
		return fmt.Errorf("%w: command %s has no name", ErrInvalidTable, m.Command)
	}
	for side, fields := range map[string][]FieldSpec{"query": m.Query, "response": m.Response} {
		seen := make(map[string]bool, len(fields))
		for _, f := range fields {
			if err := f.validate(); err != nil {
				return fmt.Errorf("%s %s field %q: %w", m.Name, side, f.Name, err)
			}
			if seen[f.Name] {
				return fmt.Errorf("%w: %s %s field %q defined twice", ErrInvalidTable, m.Name, side, f.Name)
			}
			seen[f.Name] = true
		}
	}
	return nil
}

func (f FieldSpec) validate() error {
	switch {
	case f.Name == "":
		return fmt.Errorf("%w: field without name", ErrInvalidTable)
	case f.Offset < 0:
		return fmt.Errorf("%w: negative offset %d", ErrInvalidTable, f.Offset)
	case f.Rule == RuleOpaque && f.Length < 1:
		return fmt.Errorf("%w: opaque length must be at least 1", ErrInvalidTable)
	case f.Rule == RuleBit && (f.Bit < 0 || f.Bit > 7):
		return fmt.Errorf("%w: bit position %d out of range 0-7", ErrInvalidTable, f.Bit)
	case f.Rule != RuleOpaque && f.Rule.width() == 0:
		return fmt.Errorf("%w: %q", ErrUnknownRule, f.Rule)
	}
	return nil
}

// tableDoc is the YAML layout of a message table file.
type tableDoc struct {
	Profile  string       `yaml:"profile"`
	Messages []messageDoc `yaml:"messages"`
}

type messageDoc struct {
	Name        string     `yaml:"name"`
	Command     string     `yaml:"command"`
	Kind        string     `yaml:"kind"`
	Description string     `yaml:"description"`
	Query       []fieldDoc `yaml:"query"`
	Response    []fieldDoc `yaml:"response"`
}

type fieldDoc struct {
	Name         string  `yaml:"name"`
	Offset       int     `yaml:"offset"`
	Rule         string  `yaml:"rule"`
	Length       int     `yaml:"length"`
	Bit          int     `yaml:"bit"`
	Unit         string  `yaml:"unit"`
	Description  string  `yaml:"description"`
	KeepSentinel bool    `yaml:"keep_sentinel"`
	Factor       float64 `yaml:"factor"`
	Bias         float64 `yaml:"bias"`
}

// ParseTable parses a YAML message table.
func ParseTable(data []byte) ([]MessageSpec, error) {
	var doc tableDoc
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTable, err)
	}

	specs := make([]MessageSpec, 0, len(doc.Messages))
	for _, md := range doc.Messages {
		cmd, err := ParseCommand(md.Command)
		if err != nil {
			return nil, fmt.Errorf("message %q: %w", md.Name, err)
		}
		kind, err := ParseMessageKind(md.Kind)
		if err != nil {
			return nil, fmt.Errorf("message %q: %w", md.Name, err)
		}
		spec := MessageSpec{Name: md.Name, Command: cmd, Kind: kind, Description: md.Description}
		if spec.Query, err = convertFields(md.Query); err != nil {
			return nil, fmt.Errorf("message %q query: %w", md.Name, err)
		}
		if spec.Response, err = convertFields(md.Response); err != nil {
			return nil, fmt.Errorf("message %q response: %w", md.Name, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func convertFields(docs []fieldDoc) ([]FieldSpec, error) {
	fields := make([]FieldSpec, 0, len(docs))
	for _, fd := range docs {
		rule, err := ParseDecodeRule(fd.Rule)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", fd.Name, err)
		}
		fields = append(fields, FieldSpec{
			Name:         fd.Name,
			Offset:       fd.Offset,
			Rule:         rule,
			Length:       fd.Length,
			Bit:          fd.Bit,
			Unit:         fd.Unit,
			Description:  fd.Description,
			KeepSentinel: fd.KeepSentinel,
			Factor:       fd.Factor,
			Bias:         fd.Bias,
		})
	}
	return fields, nil
}

// MergeTables layers tables in order. A later spec for a command replaces
// an earlier one, so site files can override the built-in table.
func MergeTables(tables ...[]MessageSpec) []MessageSpec {
	index := make(map[Command]int)
	var merged []MessageSpec
	for _, table := range tables {
		for _, spec := range table {
			if i, ok := index[spec.Command]; ok {
				merged[i] = spec
				continue
			}
			index[spec.Command] = len(merged)
			merged = append(merged, spec)
		}
	}
	return merged
}

// LoadRegistry builds a registry from the embedded default table followed by
// the given YAML files.
func LoadRegistry(paths ...string) (*Registry, error) {
	base, err := DefaultTable()
	if err != nil {
		return nil, err
	}
	tables := [][]MessageSpec{base}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading message table: %w", err)
		}
		specs, err := ParseTable(data)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		tables = append(tables, specs)
	}
	return NewRegistry(MergeTables(tables...))
}
