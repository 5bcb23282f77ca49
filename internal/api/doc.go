// Package api implements the read-only HTTP API and WebSocket stream for the
// eBus bridge.
//
// This package provides:
//   - REST endpoints for sensor readings, active alerts, recent decoded
//     messages, ingestion counters and the command inventory
//   - WebSocket hub broadcasting sensor.updated, alert.raised and
//     message.decoded events to subscribed clients
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - The Prometheus scrape endpoint at /metrics
//
// # Graceful Degradation
//
// The transport, MQTT client and command recorder are optional. Health
// reports "degraded" while a configured connection is down, and the command
// endpoints answer 503 when no recorder is configured.
package api
