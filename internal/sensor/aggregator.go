package sensor

import (
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/ebus-bridge/internal/ebus"
)

// DefaultMaxAge is how long a reading stays visible without being refreshed.
const DefaultMaxAge = 300 * time.Second

// Config configures an Aggregator.
type Config struct {
	// MaxAge bounds the age of readings returned by Get and GetAll.
	// Zero means DefaultMaxAge.
	MaxAge time.Duration

	// OutdoorProfile selects the B504 outdoor temperature layout.
	OutdoorProfile OutdoorProfile

	// Bounds overrides or extends DefaultBounds per sensor name.
	Bounds map[string]Bounds

	// Now returns the current time. Nil means time.Now.
	Now func() time.Time
}

// Result reports what one Update changed.
type Result struct {
	// Updated holds the readings written, in write order.
	Updated []Value

	// Rejected holds the names of readings dropped by their bounds.
	Rejected []string
}

// Aggregator holds the current sensor state.
//
// All public methods are thread-safe. Update holds the lock for a whole
// message, so readers never observe half of a multi-reading update.
type Aggregator struct {
	mu      sync.RWMutex
	entries map[string]Value

	maxAge  time.Duration
	outdoor OutdoorProfile
	bounds  map[string]Bounds
	now     func() time.Time

	rejected uint64
}

// NewAggregator creates an aggregator with DefaultBounds merged with cfg.Bounds.
func NewAggregator(cfg Config) *Aggregator {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.OutdoorProfile == "" {
		cfg.OutdoorProfile = OutdoorAuto
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	bounds := DefaultBounds()
	maps.Copy(bounds, cfg.Bounds)

	return &Aggregator{
		entries: make(map[string]Value),
		maxAge:  cfg.MaxAge,
		outdoor: cfg.OutdoorProfile,
		bounds:  bounds,
		now:     cfg.Now,
	}
}

// MaxAge returns the visibility window.
func (a *Aggregator) MaxAge() time.Duration {
	return a.maxAge
}

// Bounds returns the plausibility range for a sensor, if one is defined.
func (a *Aggregator) Bounds(name string) (Bounds, bool) {
	b, ok := a.bounds[name]
	return b, ok
}

// Set writes a reading unless it is numeric and outside the sensor's bounds.
// A zero CapturedAt is stamped with the current time. It reports whether the
// reading was accepted.
func (a *Aggregator) Set(s Sample) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.set(s)
	return ok
}

func (a *Aggregator) set(s Sample) (Value, bool) {
	if b, ok := a.bounds[s.Name]; ok {
		if n, isNum := Numeric(s.Value); isNum && !b.Contains(n) {
			a.rejected++
			return Value{}, false
		}
	}
	if s.CapturedAt.IsZero() {
		s.CapturedAt = a.now()
	}
	v := Value{
		Name:        s.Name,
		Value:       s.Value,
		Unit:        s.Unit,
		Description: s.Description,
		CapturedAt:  s.CapturedAt,
	}
	a.entries[s.Name] = v
	return v, true
}

// Get returns a reading's value if it is fresh.
func (a *Aggregator) Get(name string) (any, bool) {
	v, ok := a.Lookup(name)
	if !ok {
		return nil, false
	}
	return v.Value, true
}

// Lookup returns the full reading, with its age, if it is fresh.
func (a *Aggregator) Lookup(name string) (Value, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.fresh(name, a.now())
}

func (a *Aggregator) fresh(name string, now time.Time) (Value, bool) {
	v, ok := a.entries[name]
	if !ok {
		return Value{}, false
	}
	age := now.Sub(v.CapturedAt)
	if age > a.maxAge {
		return Value{}, false
	}
	v.AgeSeconds = round1(age.Seconds())
	return v, true
}

// freshNumber returns a fresh numeric reading.
func (a *Aggregator) freshNumber(name string, now time.Time) (float64, bool) {
	v, ok := a.fresh(name, now)
	if !ok {
		return 0, false
	}
	return Numeric(v.Value)
}

// GetAll returns every fresh reading keyed by name.
func (a *Aggregator) GetAll() map[string]Value {
	a.mu.RLock()
	defer a.mu.RUnlock()

	now := a.now()
	out := make(map[string]Value, len(a.entries))
	for name := range a.entries {
		if v, ok := a.fresh(name, now); ok {
			out[name] = v
		}
	}
	return out
}

// Snapshot returns the fresh readings sorted by name.
func (a *Aggregator) Snapshot() []Value {
	all := a.GetAll()
	out := make([]Value, 0, len(all))
	for _, v := range all {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Entries returns every reading ever set, including stale ones, with its raw
// age. Staleness monitoring needs values that Get already hides.
func (a *Aggregator) Entries() map[string]Value {
	a.mu.RLock()
	defer a.mu.RUnlock()

	now := a.now()
	out := make(map[string]Value, len(a.entries))
	for name, v := range a.entries {
		v.AgeSeconds = round1(now.Sub(v.CapturedAt).Seconds())
		out[name] = v
	}
	return out
}

// Rejections returns the number of readings dropped by bounds checks.
func (a *Aggregator) Rejections() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rejected
}

// Update extracts readings from a decoded message. Unknown messages and
// messages without an extractor leave the state untouched.
func (a *Aggregator) Update(msg ebus.Message) Result {
	ex := extractorFor(msg.Kind)
	if ex == nil {
		return Result{}
	}

	at := msg.CapturedAt
	if at.IsZero() {
		at = a.now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	u := &update{agg: a, at: at}
	ex(u, msg.Telegram.Data, msg.Telegram.ResponseData())
	return u.result
}
