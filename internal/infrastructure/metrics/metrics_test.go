package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	m.ObserveBytes(12)
	m.ObserveFrames(2, 1)
	m.ObserveTelegram(true, true)
	m.ObserveTelegram(true, false)
	m.ObserveTelegram(false, false)
	m.ObserveMessage(true)
	m.ObserveMessage(false)
	m.ObserveMessage(false)
	m.ObserveRejections(3)
	m.ObserveAlert("CRITICAL")
	m.SetActiveAlerts(1)
	m.ObservePanic()
	m.ObserveReconnect()
	m.SetConnected(true)

	assert.Equal(t, 12.0, testutil.ToFloat64(m.BytesReceived))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Frames))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DesyncTrims))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Telegrams.WithLabelValues("valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Telegrams.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesRejected))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Messages.WithLabelValues("unknown")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SensorRejections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsRaised.WithLabelValues("CRITICAL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveAlerts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubscriberPanics))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransportReconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransportConnected))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.Nil(t, New(nil))
	assert.NotPanics(t, func() {
		m.ObserveBytes(1)
		m.ObserveFrames(1, 1)
		m.ObserveTelegram(true, true)
		m.ObserveMessage(true)
		m.ObserveRejections(1)
		m.ObserveAlert("INFO")
		m.SetActiveAlerts(0)
		m.ObservePanic()
		m.ObserveReconnect()
		m.SetConnected(false)
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := NewRegistry()
	m := New(reg)
	m.ObserveBytes(5)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "ebus_bytes_received_total 5"))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
