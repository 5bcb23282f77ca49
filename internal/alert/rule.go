package alert

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/ebus-bridge/internal/sensor"
)

// Severity ranks an alert.
type Severity string

// Severities, lowest first.
const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// ParseSeverity resolves a severity name case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	switch sev := Severity(strings.ToUpper(strings.TrimSpace(s))); sev {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return sev, nil
	case "WARN":
		return SeverityWarning, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSeverity, s)
	}
}

// Defaults applied to rules that leave them unset.
const (
	DefaultRuleMaxAge = 300 * time.Second
	DefaultStaleAfter = 600 * time.Second
	DefaultCooldown   = 10 * time.Minute
)

const (
	placeholderSensor    = "{sensor}"
	placeholderValue     = "{value}"
	placeholderThreshold = "{threshold}"
)

// Rule raises an alert when a sensor value crosses a threshold.
//
// Exactly one condition applies: Predicate if set, otherwise Below and/or
// Above. A rule triggers when value < *Below or value > *Above.
type Rule struct {
	// ID names the rule. When empty the key is "<sensor>_<SEVERITY>".
	ID string

	Sensor    string
	Below     *float64
	Above     *float64
	Predicate func(value float64) bool

	Severity Severity

	// Message is the notification text. {sensor}, {value} and {threshold}
	// are substituted.
	Message string

	// Cooldown is the minimum time between two notifications of this rule.
	Cooldown time.Duration

	// MaxAge skips evaluation when the reading is older than this.
	MaxAge time.Duration
}

// Key returns the identity under which the rule's alert is tracked.
func (r Rule) Key() string {
	if r.ID != "" {
		return r.ID
	}
	return r.Sensor + "_" + string(r.Severity)
}

// Validate checks the rule is usable.
func (r Rule) Validate() error {
	switch {
	case r.Sensor == "":
		return fmt.Errorf("%w: no sensor", ErrInvalidRule)
	case r.Predicate == nil && r.Below == nil && r.Above == nil:
		return fmt.Errorf("%w: %s has no condition", ErrInvalidRule, r.Key())
	case r.Below != nil && r.Above != nil && *r.Below > *r.Above:
		return fmt.Errorf("%w: %s below %g overlaps above %g", ErrInvalidRule, r.Key(), *r.Below, *r.Above)
	case r.Cooldown < 0 || r.MaxAge < 0:
		return fmt.Errorf("%w: %s has a negative duration", ErrInvalidRule, r.Key())
	}
	if _, err := ParseSeverity(string(r.Severity)); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidRule, r.Key(), err)
	}
	return nil
}

// triggered evaluates the condition.
func (r Rule) triggered(v float64) bool {
	if r.Predicate != nil {
		return r.Predicate(v)
	}
	return (r.Below != nil && v < *r.Below) || (r.Above != nil && v > *r.Above)
}

func (r Rule) threshold() string {
	switch {
	case r.Below != nil:
		return formatNumber(*r.Below)
	case r.Above != nil:
		return formatNumber(*r.Above)
	default:
		return ""
	}
}

func (r Rule) render(value float64) string {
	msg := r.Message
	if msg == "" {
		msg = "{sensor} = {value}"
	}
	return strings.NewReplacer(
		placeholderSensor, r.Sensor,
		placeholderValue, formatNumber(value),
		placeholderThreshold, r.threshold(),
	).Replace(msg)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Below returns a pointer to a threshold, for building rules inline.
func Below(v float64) *float64 { return &v }

// Above returns a pointer to a threshold, for building rules inline.
func Above(v float64) *float64 { return &v }

// DefaultRules returns the built-in boiler rules.
func DefaultRules() []Rule {
	return []Rule{
		{
			Sensor:   sensor.WaterPressure,
			Below:    Below(0.8),
			Severity: SeverityCritical,
			Message:  "Low water pressure (< 0.8 bar)",
		},
		{
			Sensor:   sensor.WaterPressure,
			Above:    Above(2.5),
			Severity: SeverityWarning,
			Message:  "High water pressure (> 2.5 bar)",
		},
		{
			Sensor:   sensor.ReturnTemperature,
			Above:    Above(55),
			Severity: SeverityInfo,
			Message:  "Return temp high, condensing inefficient (> 55°C)",
		},
		{
			Sensor:   sensor.DeltaT,
			Above:    Above(20),
			Severity: SeverityWarning,
			Message:  "High flow/return delta (> 20°C)",
		},
		{
			Sensor:   sensor.FlowTemperature,
			Above:    Above(80),
			Severity: SeverityWarning,
			Message:  "High flow temperature (> 80°C)",
		},
	}
}

// DefaultStaleSensors are the safety-critical sensors watched for silence.
func DefaultStaleSensors() []string {
	return []string{sensor.WaterPressure, sensor.FlowTemperature}
}
