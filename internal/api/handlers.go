package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/ebus-bridge/internal/pipeline"
	"github.com/nerrad567/ebus-bridge/internal/transport"
)

// defaultRecentLimit is the number of messages returned by
// /messages/recent without a limit parameter.
const defaultRecentLimit = 20

// maxRecentLimit caps the limit parameter.
const maxRecentLimit = 1000

// HealthResponse is the /api/v1/health body.
type HealthResponse struct {
	Status          string     `json:"status"`
	Version         string     `json:"version"`
	TransportOK     *bool      `json:"transport_connected,omitempty"`
	MQTTOK          *bool      `json:"mqtt_connected,omitempty"`
	ActiveAlerts    int        `json:"active_alerts"`
	LastTelegramAt  *time.Time `json:"last_telegram_at,omitempty"`
	TelegramsValid  uint64     `json:"telegrams_valid"`
	TelegramsFailed uint64     `json:"telegrams_invalid"`

	// Checks maps each dependency check to "ok" or its error.
	Checks map[string]string `json:"checks,omitempty"`
}

// StatsResponse is the /api/v1/stats body.
type StatsResponse struct {
	Pipeline  pipeline.Stats   `json:"pipeline"`
	Transport *transport.Stats `json:"transport,omitempty"`
}

// handleHealth reports "ok" when every configured connection is up and
// "degraded" otherwise. It always answers 200 so callers can read the body.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.messages.Stats()
	resp := HealthResponse{
		Status:          "ok",
		Version:         s.version,
		ActiveAlerts:    len(s.alerts.Active()),
		TelegramsValid:  stats.ValidTelegrams,
		TelegramsFailed: stats.InvalidTelegrams,
	}
	if !stats.LastTelegramAt.IsZero() {
		at := stats.LastTelegramAt
		resp.LastTelegramAt = &at
	}

	if s.transport != nil {
		connected := s.transport.Stats().Connected
		resp.TransportOK = &connected
		if !connected {
			resp.Status = "degraded"
		}
	}
	if s.mqtt != nil {
		connected := s.mqtt.IsConnected()
		resp.MQTTOK = &connected
		if !connected {
			resp.Status = "degraded"
		}
	}

	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
		for name, c := range s.checks {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := c.HealthCheck(ctx)
			cancel()
			if err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleStats returns the ingestion counters.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	resp := StatsResponse{Pipeline: s.messages.Stats()}
	if s.transport != nil {
		ts := s.transport.Stats()
		resp.Transport = &ts
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListSensors returns every fresh reading sorted by name.
func (s *Server) handleListSensors(w http.ResponseWriter, _ *http.Request) {
	values := s.sensors.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"sensors": values,
		"count":   len(values),
	})
}

// handleGetSensor returns one fresh reading.
func (s *Server) handleGetSensor(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	v, ok := s.sensors.Lookup(name)
	if !ok {
		writeNotFound(w, "sensor not found or stale: "+name)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleListAlerts returns the active alerts, most severe first.
func (s *Server) handleListAlerts(w http.ResponseWriter, _ *http.Request) {
	active := s.alerts.Active()
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": active,
		"count":  len(active),
	})
}

// handleRecentMessages returns the newest decoded messages first.
func (s *Server) handleRecentMessages(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRecentLimit)
	}

	msgs := s.messages.Recent(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"count":    len(msgs),
	})
}

// handleListCommands returns the command inventory. ?unknown=true limits it
// to commands without a message spec.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if s.commands == nil {
		writeUnavailable(w, "command recorder is disabled")
		return
	}

	list := s.commands.Commands
	if unknown, _ := strconv.ParseBool(r.URL.Query().Get("unknown")); unknown { //nolint:errcheck // invalid values mean false
		list = s.commands.UnknownCommands
	}

	records, err := list(r.Context())
	if err != nil {
		s.logger.Error("listing commands failed", "error", err)
		writeInternalError(w, "failed to list commands")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"commands": records,
		"count":    len(records),
	})
}

// handleListAddresses returns the bus participants seen so far.
func (s *Server) handleListAddresses(w http.ResponseWriter, r *http.Request) {
	if s.commands == nil {
		writeUnavailable(w, "command recorder is disabled")
		return
	}

	records, err := s.commands.Addresses(r.Context())
	if err != nil {
		s.logger.Error("listing addresses failed", "error", err)
		writeInternalError(w, "failed to list addresses")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"addresses": records,
		"count":     len(records),
	})
}
