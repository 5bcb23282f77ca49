// Package metrics defines the Prometheus collectors for the bridge.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests and in the decode CLI.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ebus"

// NewRegistry creates a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the scrape handler for a registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Metrics holds the bridge collectors.
type Metrics struct {
	BytesReceived       prometheus.Counter
	Frames              prometheus.Counter
	Telegrams           *prometheus.CounterVec // result=valid|invalid
	FramesRejected      prometheus.Counter
	DesyncTrims         prometheus.Counter
	Messages            *prometheus.CounterVec // kind=known|unknown
	SensorRejections    prometheus.Counter
	AlertsRaised        *prometheus.CounterVec // severity
	SubscriberPanics    prometheus.Counter
	TransportReconnects prometheus.Counter
	TransportConnected  prometheus.Gauge
	ActiveAlerts        prometheus.Gauge
}

// New registers and returns the bridge collectors. A nil registry returns
// nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Bytes fed into the decoder.",
		}),
		Frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Delimited frames cut from the byte stream.",
		}),
		Telegrams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telegrams_total",
			Help:      "Parsed telegrams by checksum result.",
		}, []string{"result"}),
		FramesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_rejected_total",
			Help:      "Frames too short or truncated to parse.",
		}),
		DesyncTrims: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "desync_trims_total",
			Help:      "Buffer trims after no delimiter was seen.",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Decoded messages by registry match.",
		}, []string{"kind"}),
		SensorRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_rejections_total",
			Help:      "Readings dropped by plausibility bounds.",
		}),
		AlertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_raised_total",
			Help:      "Alerts raised by severity.",
		}, []string{"severity"}),
		SubscriberPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_panics_total",
			Help:      "Subscriber callbacks that panicked.",
		}),
		TransportReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_reconnects_total",
			Help:      "Transport reconnect attempts.",
		}),
		TransportConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transport_connected",
			Help:      "1 while the bus transport is connected.",
		}),
		ActiveAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_alerts",
			Help:      "Currently active alerts.",
		}),
	}
	reg.MustRegister(
		m.BytesReceived, m.Frames, m.Telegrams, m.FramesRejected, m.DesyncTrims,
		m.Messages, m.SensorRejections, m.AlertsRaised, m.SubscriberPanics,
		m.TransportReconnects, m.TransportConnected, m.ActiveAlerts,
	)
	return m
}

// ObserveBytes counts bytes fed to the framer.
func (m *Metrics) ObserveBytes(n int) {
	if m == nil {
		return
	}
	m.BytesReceived.Add(float64(n))
}

// ObserveFrames counts cut frames and new desync trims.
func (m *Metrics) ObserveFrames(frames int, trims uint64) {
	if m == nil {
		return
	}
	m.Frames.Add(float64(frames))
	m.DesyncTrims.Add(float64(trims))
}

// ObserveTelegram counts one parse attempt.
func (m *Metrics) ObserveTelegram(parsed, valid bool) {
	if m == nil {
		return
	}
	switch {
	case !parsed:
		m.FramesRejected.Inc()
	case valid:
		m.Telegrams.WithLabelValues("valid").Inc()
	default:
		m.Telegrams.WithLabelValues("invalid").Inc()
	}
}

// ObserveMessage counts one decoded message.
func (m *Metrics) ObserveMessage(known bool) {
	if m == nil {
		return
	}
	kind := "unknown"
	if known {
		kind = "known"
	}
	m.Messages.WithLabelValues(kind).Inc()
}

// ObserveRejections counts readings dropped by bounds.
func (m *Metrics) ObserveRejections(n int) {
	if m == nil || n == 0 {
		return
	}
	m.SensorRejections.Add(float64(n))
}

// ObserveAlert counts one raised alert.
func (m *Metrics) ObserveAlert(severity string) {
	if m == nil {
		return
	}
	m.AlertsRaised.WithLabelValues(severity).Inc()
}

// SetActiveAlerts records the size of the active set.
func (m *Metrics) SetActiveAlerts(n int) {
	if m == nil {
		return
	}
	m.ActiveAlerts.Set(float64(n))
}

// ObservePanic counts one panicking subscriber call.
func (m *Metrics) ObservePanic() {
	if m == nil {
		return
	}
	m.SubscriberPanics.Inc()
}

// ObserveReconnect counts one transport reconnect attempt.
func (m *Metrics) ObserveReconnect() {
	if m == nil {
		return
	}
	m.TransportReconnects.Inc()
}

// SetConnected records the transport connection state.
func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.TransportConnected.Set(1)
	} else {
		m.TransportConnected.Set(0)
	}
}
