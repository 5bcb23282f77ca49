package hass

import (
	"time"

	"github.com/nerrad567/ebus-bridge/internal/alert"
	"github.com/nerrad567/ebus-bridge/internal/ebus"
)

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy means broker and bus transport are both connected.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded means one side is disconnected.
	HealthDegraded HealthStatus = "degraded"

	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published on {state_prefix}/health.
type HealthMessage struct {
	Bridge        string           `json:"bridge"`
	Timestamp     time.Time        `json:"timestamp"`
	Status        HealthStatus     `json:"status"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Transport     *TransportHealth `json:"transport,omitempty"`
	Telegrams     TelegramCounters `json:"telegrams"`
	ActiveAlerts  int              `json:"active_alerts"`
	DroppedEvents uint64           `json:"dropped_events"`
	Reason        string           `json:"reason,omitempty"`
}

// TransportHealth summarises the byte source.
type TransportHealth struct {
	Source       string    `json:"source"`
	Connected    bool      `json:"connected"`
	BytesRead    uint64    `json:"bytes_read"`
	Reconnects   uint64    `json:"reconnects"`
	LastActivity time.Time `json:"last_activity"`
}

// TelegramCounters summarises decode results.
type TelegramCounters struct {
	Total    uint64 `json:"total"`
	Valid    uint64 `json:"valid"`
	Invalid  uint64 `json:"invalid"`
	Rejected uint64 `json:"rejected_frames"`
	Decoded  uint64 `json:"decoded"`
	Unknown  uint64 `json:"unknown"`
}

// AlertMessage is published on {state_prefix}/alerts when an alert is raised.
type AlertMessage struct {
	ID        string         `json:"id"`
	Key       string         `json:"key"`
	Severity  alert.Severity `json:"severity"`
	Message   string         `json:"message"`
	Sensor    string         `json:"sensor"`
	Value     float64        `json:"value"`
	Stale     bool           `json:"stale,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func newAlertMessage(a alert.Alert) AlertMessage {
	return AlertMessage{
		ID:        a.ID,
		Key:       a.Key,
		Severity:  a.Severity,
		Message:   a.Message,
		Sensor:    a.Sensor,
		Value:     a.Value,
		Stale:     a.Stale,
		Timestamp: a.TriggeredAt.UTC(),
	}
}

// ActiveAlertsMessage is the retained active set.
type ActiveAlertsMessage struct {
	Count     int            `json:"count"`
	Alerts    []AlertMessage `json:"alerts"`
	Timestamp time.Time      `json:"timestamp"`
}

// DecodedMessage is published on {state_prefix}/messages/{name}.
type DecodedMessage struct {
	Name        string            `json:"name"`
	Command     string            `json:"command"`
	Source      string            `json:"source"`
	Destination string            `json:"destination"`
	Query       map[string]any    `json:"query,omitempty"`
	Response    map[string]any    `json:"response,omitempty"`
	Units       map[string]string `json:"units,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

func newDecodedMessage(m ebus.Message) DecodedMessage {
	return DecodedMessage{
		Name:        m.Name,
		Command:     m.Command.String(),
		Source:      m.SourceName,
		Destination: m.DestinationName,
		Query:       m.Query,
		Response:    m.Response,
		Units:       m.Units,
		Timestamp:   m.CapturedAt.UTC(),
	}
}
