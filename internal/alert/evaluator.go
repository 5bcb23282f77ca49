package alert

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/ebus-bridge/internal/sensor"
)

// Logger defines the logging interface used by the Evaluator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Alert is one raised alert.
type Alert struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Severity    Severity  `json:"severity"`
	Message     string    `json:"message"`
	Sensor      string    `json:"sensor"`
	Value       float64   `json:"value"`
	TriggeredAt time.Time `json:"triggered_at"`

	// Stale marks alerts raised by the staleness check; Value is then the
	// reading's age in seconds.
	Stale bool `json:"stale,omitempty"`
}

// Handler receives raised alerts.
type Handler func(Alert)

// Config configures an Evaluator.
type Config struct {
	Rules []Rule

	// StaleSensors are checked by CheckStaleness.
	StaleSensors []string

	// StaleAfter is the age above which a watched sensor is reported stale.
	// Zero means DefaultStaleAfter.
	StaleAfter time.Duration

	// Now returns the current time. Nil means time.Now.
	Now func() time.Time
}

// Outcome reports the effect of one evaluation.
type Outcome struct {
	Raised  []Alert
	Cleared []Alert

	// Suppressed holds keys whose condition held but whose cooldown had not
	// elapsed.
	Suppressed []string
}

// Changed reports whether the active set changed.
func (o Outcome) Changed() bool {
	return len(o.Raised) > 0 || len(o.Cleared) > 0
}

// Evaluator tracks active alerts against a fixed rule table.
//
// An alert is raised on the rising edge of its condition when the rule's
// cooldown has elapsed since its last notification, and removed as soon as
// the condition stops holding. Clearing is silent and does not reset the
// cooldown.
//
// All public methods are thread-safe.
type Evaluator struct {
	mu           sync.Mutex
	rules        []Rule
	staleSensors []string
	staleAfter   time.Duration
	active       map[string]Alert
	lastNotified map[string]time.Time

	handlersMu sync.RWMutex
	handlers   []Handler
	panics     uint64

	now    func() time.Time
	logger Logger
}

// NewEvaluator validates the rules and creates an evaluator.
func NewEvaluator(cfg Config) (*Evaluator, error) {
	rules := make([]Rule, 0, len(cfg.Rules))
	seen := make(map[string]bool, len(cfg.Rules))
	for _, r := range cfg.Rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if seen[r.Key()] {
			return nil, fmt.Errorf("%w: duplicate rule key %q", ErrInvalidRule, r.Key())
		}
		seen[r.Key()] = true
		if r.MaxAge == 0 {
			r.MaxAge = DefaultRuleMaxAge
		}
		rules = append(rules, r)
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Evaluator{
		rules:        rules,
		staleSensors: append([]string(nil), cfg.StaleSensors...),
		staleAfter:   cfg.StaleAfter,
		active:       make(map[string]Alert),
		lastNotified: make(map[string]time.Time),
		now:          cfg.Now,
		logger:       noopLogger{},
	}, nil
}

// SetLogger sets the logger used for handler and predicate failures.
func (e *Evaluator) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	e.logger = logger
}

// Rules returns a copy of the rule table.
func (e *Evaluator) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Subscribe registers a handler for raised alerts. Handlers run
// synchronously after the evaluation that raised the alert; a panicking
// handler is logged and does not affect the others.
func (e *Evaluator) Subscribe(h Handler) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.handlers = append(e.handlers, h)
}

// Evaluate applies every rule to the given readings. Readings are expected
// to carry their age, as returned by sensor.Aggregator.GetAll.
func (e *Evaluator) Evaluate(values map[string]sensor.Value) Outcome {
	out := e.evaluate(values)
	e.notify(out.Raised)
	return out
}

func (e *Evaluator) evaluate(values map[string]sensor.Value) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	var out Outcome
	for _, r := range e.rules {
		v, ok := values[r.Sensor]
		if !ok || v.AgeSeconds > r.MaxAge.Seconds() {
			continue
		}
		n, ok := sensor.Numeric(v.Value)
		if !ok {
			continue
		}

		key := r.Key()
		triggered, ok := e.check(r, n)
		if !ok {
			continue
		}
		if !triggered {
			if a, active := e.active[key]; active {
				delete(e.active, key)
				out.Cleared = append(out.Cleared, a)
			}
			continue
		}
		if _, active := e.active[key]; active {
			continue
		}
		if last, ok := e.lastNotified[key]; ok && r.Cooldown > 0 && now.Sub(last) < r.Cooldown {
			out.Suppressed = append(out.Suppressed, key)
			continue
		}

		a := Alert{
			ID:          uuid.NewString(),
			Key:         key,
			Severity:    r.Severity,
			Message:     r.render(n),
			Sensor:      r.Sensor,
			Value:       n,
			TriggeredAt: now,
		}
		e.active[key] = a
		e.lastNotified[key] = now
		out.Raised = append(out.Raised, a)
	}
	return out
}

// check evaluates a rule's condition. A panicking predicate is logged and
// reported as not ok, leaving the rule's alert state untouched.
func (e *Evaluator) check(r Rule, v float64) (triggered, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("alert predicate panicked", "key", r.Key(), "panic", p)
			triggered, ok = false, false
		}
	}()
	return r.triggered(v), true
}

// CheckStaleness raises a WARNING for each watched sensor whose age exceeds
// the stale threshold, and clears it once the sensor reports again. Entries
// must include stale readings, as returned by sensor.Aggregator.Entries.
// Sensors that never reported are ignored.
func (e *Evaluator) CheckStaleness(entries map[string]sensor.Value) Outcome {
	out := e.checkStaleness(entries)
	e.notify(out.Raised)
	return out
}

func (e *Evaluator) checkStaleness(entries map[string]sensor.Value) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	var out Outcome
	for _, name := range e.staleSensors {
		v, ok := entries[name]
		if !ok {
			continue
		}
		key := name + "_stale"
		if v.AgeSeconds <= e.staleAfter.Seconds() {
			if a, active := e.active[key]; active {
				delete(e.active, key)
				out.Cleared = append(out.Cleared, a)
			}
			continue
		}
		if _, active := e.active[key]; active {
			continue
		}
		a := Alert{
			ID:          uuid.NewString(),
			Key:         key,
			Severity:    SeverityWarning,
			Message:     "Sensor data stale: " + name,
			Sensor:      name,
			Value:       v.AgeSeconds,
			TriggeredAt: now,
			Stale:       true,
		}
		e.active[key] = a
		e.lastNotified[key] = now
		out.Raised = append(out.Raised, a)
	}
	return out
}

// Active returns the active alerts, most severe first, then by key.
func (e *Evaluator) Active() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Alert, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := severityRank(out[i].Severity), severityRank(out[j].Severity)
		if ri != rj {
			return ri > rj
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// HandlerPanics returns how many handler calls panicked.
func (e *Evaluator) HandlerPanics() uint64 {
	e.handlersMu.RLock()
	defer e.handlersMu.RUnlock()
	return e.panics
}

func (e *Evaluator) notify(alerts []Alert) {
	if len(alerts) == 0 {
		return
	}
	e.handlersMu.RLock()
	handlers := append([]Handler(nil), e.handlers...)
	e.handlersMu.RUnlock()

	for _, a := range alerts {
		for _, h := range handlers {
			e.call(h, a)
		}
	}
}

func (e *Evaluator) call(h Handler, a Alert) {
	defer func() {
		if r := recover(); r != nil {
			e.handlersMu.Lock()
			e.panics++
			e.handlersMu.Unlock()
			e.logger.Error("alert handler panicked", "key", a.Key, "panic", r)
		}
	}()
	h(a)
}

func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}
