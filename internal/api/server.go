// Package api provides the read-only HTTP API and WebSocket stream for the
// eBus bridge.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/ebus-bridge/internal/alert"
	"github.com/nerrad567/ebus-bridge/internal/ebus"
	"github.com/nerrad567/ebus-bridge/internal/infrastructure/config"
	"github.com/nerrad567/ebus-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/ebus-bridge/internal/pipeline"
	"github.com/nerrad567/ebus-bridge/internal/recorder"
	"github.com/nerrad567/ebus-bridge/internal/sensor"
	"github.com/nerrad567/ebus-bridge/internal/transport"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// healthCheckTimeout bounds each dependency check run by /api/v1/health.
const healthCheckTimeout = 2 * time.Second

// SensorSource provides the current sensor readings.
type SensorSource interface {
	Snapshot() []sensor.Value
	Lookup(name string) (sensor.Value, bool)
}

// AlertSource provides the active alert set.
type AlertSource interface {
	Active() []alert.Alert
}

// MessageSource provides recent decoded messages and ingestion counters.
type MessageSource interface {
	Recent(n int) []ebus.Message
	Stats() pipeline.Stats
}

// CommandSource provides the command and address inventory.
type CommandSource interface {
	Commands(ctx context.Context) ([]recorder.CommandRecord, error)
	UnknownCommands(ctx context.Context) ([]recorder.CommandRecord, error)
	Addresses(ctx context.Context) ([]recorder.AddressRecord, error)
}

// TransportSource provides byte source statistics.
type TransportSource interface {
	Stats() transport.Stats
}

// BrokerStatus reports MQTT connectivity.
type BrokerStatus interface {
	IsConnected() bool
}

// HealthChecker is a dependency checked by the health endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Sensors  SensorSource
	Alerts   AlertSource
	Messages MessageSource

	// Optional collaborators. Endpoints backed by a nil source answer 503.
	Commands  CommandSource
	Transport TransportSource
	MQTT      BrokerStatus

	// HealthChecks are run on every /api/v1/health request, keyed by name.
	HealthChecks map[string]HealthChecker

	// Metrics is mounted at /metrics when set.
	Metrics http.Handler

	Version string
}

// Server is the HTTP API server for the bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	sensors   SensorSource
	alerts    AlertSource
	messages  MessageSource
	commands  CommandSource
	transport TransportSource
	mqtt      BrokerStatus
	checks    map[string]HealthChecker
	metrics   http.Handler
	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called, but the WebSocket hub
// exists immediately so pipeline events can be published from the start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Sensors == nil {
		return nil, fmt.Errorf("sensor source is required")
	}
	if deps.Alerts == nil {
		return nil, fmt.Errorf("alert source is required")
	}
	if deps.Messages == nil {
		return nil, fmt.Errorf("message source is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		sensors:   deps.Sensors,
		alerts:    deps.Alerts,
		messages:  deps.Messages,
		commands:  deps.Commands,
		transport: deps.Transport,
		mqtt:      deps.MQTT,
		checks:    deps.HealthChecks,
		metrics:   deps.Metrics,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.WS, deps.Logger),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       config.Seconds(s.cfg.Timeouts.Read),
		ReadHeaderTimeout: config.Seconds(s.cfg.Timeouts.Read),
		WriteTimeout:      config.Seconds(s.cfg.Timeouts.Write),
		IdleTimeout:       config.Seconds(s.cfg.Timeouts.Idle),
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
