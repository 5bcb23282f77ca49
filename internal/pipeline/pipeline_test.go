package pipeline

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/ebus-bridge/internal/alert"
	"github.com/nerrad567/ebus-bridge/internal/ebus"
	"github.com/nerrad567/ebus-bridge/internal/infrastructure/metrics"
	"github.com/nerrad567/ebus-bridge/internal/sensor"
)

var t0 = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

type harness struct {
	p       *Pipeline
	clock   *testClock
	metrics *metrics.Metrics
	crc     *ebus.Checksum
	raised  []alert.Alert
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{clock: &testClock{now: t0}, crc: ebus.NewChecksum(ebus.PolyCanonical)}

	reg, err := ebus.LoadRegistry()
	require.NoError(t, err)
	eval, err := alert.NewEvaluator(alert.Config{
		Rules:        alert.DefaultRules(),
		StaleSensors: alert.DefaultStaleSensors(),
		Now:          h.clock.Now,
	})
	require.NoError(t, err)
	eval.Subscribe(func(a alert.Alert) { h.raised = append(h.raised, a) })

	h.metrics = metrics.New(prometheus.NewRegistry())
	h.p = New(Config{RecentMessages: 3}, Deps{
		Decoder:    ebus.NewDecoder(reg),
		Aggregator: sensor.NewAggregator(sensor.Config{Now: h.clock.Now}),
		Evaluator:  eval,
		Metrics:    h.metrics,
		Now:        h.clock.Now,
	})
	return h
}

// frame builds a delimited, escaped telegram. A non-nil resp adds an ACKed
// slave response; corrupt is XORed into the master checksum.
func (h *harness) frame(pb, sb byte, data, resp []byte, corrupt byte) []byte {
	master := append([]byte{0x10, 0x08, pb, sb, byte(len(data))}, data...)
	master = append(master, h.crc.Sum(master)^corrupt)
	if resp != nil {
		body := append([]byte{byte(len(resp))}, resp...)
		master = append(master, ebus.ACK)
		master = append(master, body...)
		master = append(master, h.crc.Sum(body), ebus.ACK)
	}
	out := []byte{ebus.SyncByte}
	out = append(out, ebus.Escape(master)...)
	return append(out, ebus.SyncByte)
}

func (h *harness) liveTemps(flow, ret byte) []byte {
	return h.frame(0xB5, 0x11, []byte{0x01}, []byte{flow, ret, 0x50, 0x00, 0x00, 0x51, 0x00, 0x00, 0x00}, 0)
}

func TestFeedEndToEnd(t *testing.T) {
	h := newHarness(t)

	var updates [][]sensor.Value
	var activeSets [][]alert.Alert
	h.p.OnSensors(func(v []sensor.Value) { updates = append(updates, v) })
	h.p.OnAlertsChanged(func(a []alert.Alert) { activeSets = append(activeSets, a) })

	// Flow 0xAA (85.0) must survive escaping.
	msgs := h.p.Feed(h.liveTemps(0xAA, 0x6E))
	require.Len(t, msgs, 1)
	assert.Equal(t, "status_temps", msgs[0].Name)
	assert.True(t, msgs[0].Valid)

	agg := h.p.Aggregator()
	flow, ok := agg.Get(sensor.FlowTemperature)
	require.True(t, ok)
	assert.Equal(t, 85.0, flow)
	delta, _ := agg.Get(sensor.DeltaT)
	assert.Equal(t, 30.0, delta)

	require.Len(t, updates, 1)
	assert.Len(t, updates[0], 6)

	keys := make([]string, 0, len(h.raised))
	for _, a := range h.raised {
		keys = append(keys, a.Key)
	}
	assert.ElementsMatch(t, []string{"boiler.delta_t_WARNING", "boiler.flow_temperature_WARNING"}, keys)
	require.Len(t, activeSets, 1)
	assert.Len(t, activeSets[0], 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.AlertsRaised.WithLabelValues("WARNING")))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.ActiveAlerts))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Telegrams.WithLabelValues("valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Messages.WithLabelValues("known")))

	// Back to normal: both alerts clear.
	h.p.Feed(h.liveTemps(0x8C, 0x6E))
	assert.Empty(t, h.p.Evaluator().Active())
	require.Len(t, activeSets, 2)
	assert.Empty(t, activeSets[1])
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.ActiveAlerts))
}

func TestFeedPreservesOrderAcrossChunks(t *testing.T) {
	h := newHarness(t)

	room := h.frame(0xB5, 0x09, []byte{0x2B, 0x00}, nil, 0)
	temps := h.liveTemps(0x8C, 0x6E)
	unknown := h.frame(0xB5, 0x99, []byte{0x01}, nil, 0)

	stream := append(append(append([]byte{}, room...), temps...), unknown...)

	var names []string
	h.p.OnMessage(func(m ebus.Message) { names = append(names, m.Name) })

	// Cut mid-telegram: the partial frame is held until the rest arrives.
	cut := len(room) + 4
	first := h.p.Feed(stream[:cut])
	require.Len(t, first, 1)
	second := h.p.Feed(stream[cut:])
	require.Len(t, second, 2)

	assert.Equal(t, []string{"room_temp", "status_temps", ebus.UnknownMessage}, names)

	stats := h.p.Stats()
	assert.Equal(t, uint64(len(stream)), stats.Bytes)
	assert.Equal(t, uint64(3), stats.Telegrams)
	assert.Equal(t, uint64(3), stats.ValidTelegrams)
	assert.Equal(t, ebus.DecoderStats{Total: 3, Parsed: 2, Unknown: 1}, stats.Decoder)
	assert.Equal(t, t0, stats.LastTelegramAt)

	recent := h.p.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, ebus.UnknownMessage, recent[0].Name)
	assert.Equal(t, "room_temp", recent[2].Name)
	assert.Len(t, h.p.Recent(1), 1)
}

func TestFeedInvalidTelegramDoesNotChangeState(t *testing.T) {
	h := newHarness(t)

	var published []ebus.Message
	h.p.OnMessage(func(m ebus.Message) { published = append(published, m) })

	h.p.Feed(h.frame(0xB5, 0x09, []byte{0x2B, 0x00}, nil, 0x01))

	require.Len(t, published, 1)
	assert.False(t, published[0].Valid)
	_, ok := h.p.Aggregator().Get(sensor.RoomTemperature)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), h.p.Stats().InvalidTelegrams)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Telegrams.WithLabelValues("invalid")))
}

func TestFeedRejectsShortFrames(t *testing.T) {
	h := newHarness(t)

	msgs := h.p.Feed([]byte{0xAA, 0x10, 0x08, 0xB5, 0xAA})
	assert.Empty(t, msgs)
	assert.Equal(t, uint64(1), h.p.Stats().RejectedFrames)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.FramesRejected))
}

func TestFeedRecoversFromNoise(t *testing.T) {
	h := newHarness(t)

	noise := make([]byte, 600)
	for i := range noise {
		noise[i] = byte(i%0xA0) + 1
	}
	assert.Empty(t, h.p.Feed(noise))
	assert.Equal(t, uint64(1), h.p.Stats().DesyncTrims)

	// The retained noise tail is cut as one junk frame at the next
	// delimiter; the real telegram follows it.
	msgs := h.p.Feed(h.liveTemps(0x8C, 0x6E))
	require.NotEmpty(t, msgs)
	assert.Equal(t, "status_temps", msgs[len(msgs)-1].Name)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.DesyncTrims))
}

func TestSubscriberPanicIsolated(t *testing.T) {
	h := newHarness(t)

	var got int
	h.p.OnMessage(func(ebus.Message) { panic("subscriber bug") })
	h.p.OnMessage(func(ebus.Message) { got++ })

	assert.NotPanics(t, func() {
		h.p.Feed(h.liveTemps(0x8C, 0x6E))
		h.p.Feed(h.liveTemps(0x8C, 0x6E))
	})
	assert.Equal(t, 2, got)
	assert.Equal(t, uint64(2), h.p.Stats().SubscriberPanics)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.SubscriberPanics))

	// Aggregation continued after the panics.
	_, ok := h.p.Aggregator().Get(sensor.FlowTemperature)
	assert.True(t, ok)
}

func TestAlertHandlerPanicCounted(t *testing.T) {
	h := newHarness(t)

	var viaPipeline []string
	h.p.OnAlert(func(alert.Alert) { panic("alert subscriber bug") })
	h.p.OnAlert(func(a alert.Alert) { viaPipeline = append(viaPipeline, a.Key) })
	h.p.Evaluator().Subscribe(func(alert.Alert) { panic("direct subscriber bug") })

	// Flow 82.0, return 55.0: high flow and high delta.
	assert.NotPanics(t, func() { h.p.Feed(h.liveTemps(0xA4, 0x6E)) })

	assert.Len(t, h.p.Evaluator().Active(), 2)
	assert.Len(t, viaPipeline, 2)
	assert.Len(t, h.raised, 2)

	// Two panics through OnAlert and two through the evaluator.
	assert.Equal(t, uint64(4), h.p.Stats().SubscriberPanics)
	assert.Equal(t, 4.0, testutil.ToFloat64(h.metrics.SubscriberPanics))
}

func TestCheckStaleness(t *testing.T) {
	h := newHarness(t)

	pressure := h.frame(0xB5, 0x11, []byte{0x00}, []byte{0x00, 0x00, 0x0F, 0x00, 0x00, 0x00, 0x00, 0x01}, 0)
	h.p.Feed(pressure)
	assert.Empty(t, h.p.CheckStaleness().Raised)

	h.clock.now = t0.Add(601 * time.Second)
	out := h.p.CheckStaleness()
	require.Len(t, out.Raised, 1)
	assert.Equal(t, "boiler.water_pressure_stale", out.Raised[0].Key)
	assert.Len(t, h.raised, 1)

	h.p.Feed(pressure)
	// Fresh data arrives stamped with the new clock.
	out = h.p.CheckStaleness()
	assert.Len(t, out.Cleared, 1)
}

func TestReset(t *testing.T) {
	h := newHarness(t)
	full := h.liveTemps(0x8C, 0x6E)

	h.p.Feed(full[:6])
	assert.Positive(t, h.p.Stats().BufferedBytes)
	h.p.Reset()
	assert.Zero(t, h.p.Stats().BufferedBytes)
	assert.Len(t, h.p.Feed(full[6:]), 0, "tail of a discarded frame is not a telegram")
}

func TestSensorRejectionsCounted(t *testing.T) {
	h := newHarness(t)

	// Flow 125.0 is outside the flow temperature bounds.
	msgs := h.p.Feed(h.liveTemps(0xFA, 0x6E))
	require.Len(t, msgs, 1)

	assert.Equal(t, uint64(1), h.p.Stats().SensorRejections)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SensorRejections))
	_, ok := h.p.Aggregator().Get(sensor.FlowTemperature)
	assert.False(t, ok)
}
