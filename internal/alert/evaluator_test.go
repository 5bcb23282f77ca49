package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/ebus-bridge/internal/sensor"
)

var t0 = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func readings(kv ...any) map[string]sensor.Value {
	out := make(map[string]sensor.Value)
	for i := 0; i+1 < len(kv); i += 2 {
		name := kv[i].(string)
		out[name] = sensor.Value{Name: name, Value: kv[i+1]}
	}
	return out
}

func newTestEvaluator(t *testing.T, cfg Config) (*Evaluator, *fakeClock, *[]Alert) {
	t.Helper()
	clk := &fakeClock{now: t0}
	cfg.Now = clk.Now
	e, err := NewEvaluator(cfg)
	require.NoError(t, err)

	var got []Alert
	e.Subscribe(func(a Alert) { got = append(got, a) })
	return e, clk, &got
}

func TestEvaluatorCooldownTiedToEmission(t *testing.T) {
	e, clk, got := newTestEvaluator(t, Config{Rules: []Rule{{
		Sensor:   sensor.WaterPressure,
		Below:    Below(0.8),
		Severity: SeverityWarning,
		Message:  "pressure {value} below {threshold} bar",
		Cooldown: 600 * time.Second,
	}}})

	out := e.Evaluate(readings(sensor.WaterPressure, 0.5))
	require.Len(t, out.Raised, 1)
	require.Len(t, *got, 1)
	first := (*got)[0]
	assert.Equal(t, "boiler.water_pressure_WARNING", first.Key)
	assert.Equal(t, "pressure 0.5 below 0.8 bar", first.Message)
	assert.Equal(t, 0.5, first.Value)
	assert.Equal(t, t0, first.TriggeredAt)
	assert.NotEmpty(t, first.ID)

	// Still triggered and active: no re-emission.
	clk.Advance(60 * time.Second)
	out = e.Evaluate(readings(sensor.WaterPressure, 0.5))
	assert.Empty(t, out.Raised)
	assert.Len(t, *got, 1)

	// Condition clears: removed immediately, no notification.
	clk.Advance(60 * time.Second)
	out = e.Evaluate(readings(sensor.WaterPressure, 0.9))
	require.Len(t, out.Cleared, 1)
	assert.Empty(t, e.Active())
	assert.Len(t, *got, 1)

	// Re-trigger inside the cooldown window of the first emission: suppressed.
	clk.Advance(60 * time.Second)
	out = e.Evaluate(readings(sensor.WaterPressure, 0.5))
	assert.Empty(t, out.Raised)
	assert.Equal(t, []string{first.Key}, out.Suppressed)
	assert.Empty(t, e.Active())
	assert.Len(t, *got, 1)

	// First evaluation after the window emits again.
	clk.Advance(421 * time.Second)
	out = e.Evaluate(readings(sensor.WaterPressure, 0.5))
	require.Len(t, out.Raised, 1)
	assert.Len(t, *got, 2)
	assert.NotEqual(t, first.ID, (*got)[1].ID)
}

func TestEvaluatorWithoutCooldownReemitsAfterClear(t *testing.T) {
	e, _, got := newTestEvaluator(t, Config{Rules: DefaultRules()})

	e.Evaluate(readings(sensor.FlowTemperature, 85.0))
	e.Evaluate(readings(sensor.FlowTemperature, 70.0))
	e.Evaluate(readings(sensor.FlowTemperature, 85.0))
	assert.Len(t, *got, 2)
}

func TestEvaluatorDefaultRules(t *testing.T) {
	e, _, got := newTestEvaluator(t, Config{Rules: DefaultRules()})

	e.Evaluate(readings(
		sensor.WaterPressure, 0.6,
		sensor.ReturnTemperature, 58.0,
		sensor.DeltaT, 12.0,
		sensor.FlowTemperature, 70.0,
	))

	require.Len(t, *got, 2)
	active := e.Active()
	require.Len(t, active, 2)
	assert.Equal(t, SeverityCritical, active[0].Severity)
	assert.Equal(t, "Low water pressure (< 0.8 bar)", active[0].Message)
	assert.Equal(t, SeverityInfo, active[1].Severity)
	assert.Equal(t, "boiler.return_temperature_INFO", active[1].Key)
}

func TestEvaluatorSkipsStaleAndNonNumeric(t *testing.T) {
	e, _, got := newTestEvaluator(t, Config{Rules: []Rule{
		{Sensor: "a", Above: Above(1), Severity: SeverityInfo, MaxAge: 30 * time.Second},
		{Sensor: "b", Above: Above(1), Severity: SeverityInfo},
	}})

	values := map[string]sensor.Value{
		"a": {Name: "a", Value: 5.0, AgeSeconds: 31},
		"b": {Name: "b", Value: "high"},
	}
	out := e.Evaluate(values)
	assert.Empty(t, out.Raised)
	assert.Empty(t, *got)

	values["a"] = sensor.Value{Name: "a", Value: 5, AgeSeconds: 30}
	out = e.Evaluate(values)
	assert.Len(t, out.Raised, 1)
}

func TestEvaluatorStaleReadingDoesNotClear(t *testing.T) {
	e, _, _ := newTestEvaluator(t, Config{Rules: []Rule{
		{Sensor: "a", Above: Above(1), Severity: SeverityInfo},
	}})

	e.Evaluate(map[string]sensor.Value{"a": {Value: 5.0}})
	e.Evaluate(map[string]sensor.Value{"a": {Value: 0.0, AgeSeconds: 301}})
	assert.Len(t, e.Active(), 1)
}

func TestEvaluatorPredicate(t *testing.T) {
	e, _, got := newTestEvaluator(t, Config{Rules: []Rule{{
		ID:        "odd",
		Sensor:    "x",
		Predicate: func(v float64) bool { return int(v)%2 == 1 },
		Severity:  SeverityInfo,
	}}})

	e.Evaluate(readings("x", 3))
	require.Len(t, *got, 1)
	assert.Equal(t, "odd", (*got)[0].Key)
	assert.Equal(t, "x = 3", (*got)[0].Message)
}

func TestEvaluatorHandlerPanicIsolated(t *testing.T) {
	e, err := NewEvaluator(Config{Rules: DefaultRules()})
	require.NoError(t, err)

	var received int
	e.Subscribe(func(Alert) { panic("boom") })
	e.Subscribe(func(Alert) { received++ })

	assert.NotPanics(t, func() {
		e.Evaluate(readings(sensor.WaterPressure, 3.0, sensor.FlowTemperature, 90.0))
	})
	assert.Equal(t, 2, received)
	assert.Equal(t, uint64(2), e.HandlerPanics())
}

func TestEvaluatorPredicatePanicKeepsEvaluating(t *testing.T) {
	e, _, got := newTestEvaluator(t, Config{Rules: []Rule{
		{
			ID:        "broken",
			Sensor:    sensor.FlowTemperature,
			Predicate: func(float64) bool { panic("boom") },
			Severity:  SeverityInfo,
		},
		{
			Sensor:   sensor.WaterPressure,
			Below:    Below(0.8),
			Severity: SeverityCritical,
		},
	}})

	values := readings(sensor.FlowTemperature, 60.0, sensor.WaterPressure, 0.5)
	var out Outcome
	require.NotPanics(t, func() { out = e.Evaluate(values) })
	require.Len(t, out.Raised, 1)
	assert.Equal(t, "boiler.water_pressure_CRITICAL", out.Raised[0].Key)

	// The evaluator lock was released: later calls still work.
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Evaluate(values)
		e.Active()
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("evaluator deadlocked after a predicate panic")
	}
	assert.Len(t, *got, 1)
	assert.Len(t, e.Rules(), 2)
}

func TestCheckStaleness(t *testing.T) {
	e, _, got := newTestEvaluator(t, Config{
		StaleSensors: DefaultStaleSensors(),
		StaleAfter:   600 * time.Second,
	})

	entries := map[string]sensor.Value{
		sensor.WaterPressure:   {Value: 1.5, AgeSeconds: 601},
		sensor.FlowTemperature: {Value: 60.0, AgeSeconds: 600},
	}
	out := e.CheckStaleness(entries)
	require.Len(t, out.Raised, 1)
	a := (*got)[0]
	assert.Equal(t, "boiler.water_pressure_stale", a.Key)
	assert.Equal(t, SeverityWarning, a.Severity)
	assert.Equal(t, 601.0, a.Value)
	assert.True(t, a.Stale)
	assert.Equal(t, "Sensor data stale: boiler.water_pressure", a.Message)

	// Still stale: no repeat.
	entries[sensor.WaterPressure] = sensor.Value{Value: 1.5, AgeSeconds: 900}
	assert.Empty(t, e.CheckStaleness(entries).Raised)

	// Fresh again: cleared silently.
	entries[sensor.WaterPressure] = sensor.Value{Value: 1.5, AgeSeconds: 2}
	out = e.CheckStaleness(entries)
	assert.Len(t, out.Cleared, 1)
	assert.Empty(t, e.Active())
	assert.Len(t, *got, 1)

	// Sensors that never reported are not stale.
	assert.Empty(t, e.CheckStaleness(map[string]sensor.Value{}).Raised)
}

func TestNewEvaluatorRejectsBadRules(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
	}{
		{"no sensor", Rule{Above: Above(1), Severity: SeverityInfo}},
		{"no condition", Rule{Sensor: "x", Severity: SeverityInfo}},
		{"overlap", Rule{Sensor: "x", Below: Below(5), Above: Above(1), Severity: SeverityInfo}},
		{"bad severity", Rule{Sensor: "x", Above: Above(1), Severity: "LOUD"}},
		{"negative cooldown", Rule{Sensor: "x", Above: Above(1), Severity: SeverityInfo, Cooldown: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEvaluator(Config{Rules: []Rule{tt.rule}})
			assert.ErrorIs(t, err, ErrInvalidRule)
		})
	}

	dup := Rule{Sensor: "x", Above: Above(1), Severity: SeverityInfo}
	_, err := NewEvaluator(Config{Rules: []Rule{dup, dup}})
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestParseSeverity(t *testing.T) {
	for in, want := range map[string]Severity{
		"info": SeverityInfo, "Warning": SeverityWarning, "warn": SeverityWarning, "CRITICAL": SeverityCritical,
	} {
		got, err := ParseSeverity(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseSeverity("fatal")
	assert.ErrorIs(t, err, ErrUnknownSeverity)
}
