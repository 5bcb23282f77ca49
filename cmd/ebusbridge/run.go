package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/ebus-bridge/migrations"

	"github.com/nerrad567/ebus-bridge/internal/api"
	"github.com/nerrad567/ebus-bridge/internal/bridges/hass"
	"github.com/nerrad567/ebus-bridge/internal/ebus"
	"github.com/nerrad567/ebus-bridge/internal/infrastructure/config"
	"github.com/nerrad567/ebus-bridge/internal/infrastructure/database"
	"github.com/nerrad567/ebus-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/ebus-bridge/internal/infrastructure/metrics"
	"github.com/nerrad567/ebus-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/ebus-bridge/internal/pipeline"
	"github.com/nerrad567/ebus-bridge/internal/recorder"
	"github.com/nerrad567/ebus-bridge/internal/transport"
)

func newRunCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bridge until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), config.ResolvePath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "configuration file (default $EBUSBRIDGE_CONFIG or "+config.DefaultPath+")")
	return cmd
}

// run is the bridge lifecycle, separated from the command for testability.
// Deferred Close calls unwind in reverse start order.
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting ebusbridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	var (
		m              *metrics.Metrics
		metricsHandler http.Handler
	)
	if cfg.Metrics.Enabled {
		reg := metrics.NewRegistry()
		m = metrics.New(reg)
		metricsHandler = metrics.Handler(reg)
	}

	comps, err := buildPipeline(cfg, m, log)
	if err != nil {
		return err
	}
	p := comps.pipeline
	for _, spec := range comps.registry.Messages() {
		log.Debug("message registered", "command", spec.Command.String(), "name", spec.Name)
	}
	log.Info("pipeline ready",
		"messages", comps.registry.Len(),
		"alert_rules", len(p.Evaluator().Rules()),
		"crc_polynomial", cfg.Protocol.CRCPolynomial,
		"crc_policy", comps.policy.String(),
	)
	if comps.policy == ebus.CRCLenient {
		log.Warn("CRC policy is lenient: checksum mismatches will be ignored")
	}

	p.OnMessage(func(msg ebus.Message) {
		log.Debug("message decoded", "message", msg.String(), "valid", msg.Valid)
	})

	// Command recorder (optional)
	var (
		db  *database.DB
		rec *recorder.Recorder
	)
	if cfg.Database.Enabled {
		var closeDB func()
		db, rec, closeDB, err = startRecorder(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer closeDB()
		p.OnMessage(rec.Observe)
	} else {
		log.Info("command recorder disabled")
	}

	reader, err := transportReader(cfg.Transport)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	reader.SetLogger(log)
	reader.SetObserver(&readerObserver{pipeline: p, metrics: m})

	// MQTT and Home Assistant (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = connectMQTT(cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	} else {
		log.Info("MQTT disabled")
	}

	if cfg.HomeAssistant.Enabled && mqttClient != nil {
		pub, pubErr := startPublisher(ctx, cfg, mqttClient, p, reader, log)
		if pubErr != nil {
			return pubErr
		}
		defer func() {
			log.Info("stopping Home Assistant publisher")
			pub.Stop()
		}()
	}

	// HTTP API (optional)
	var srv *api.Server
	if cfg.API.Enabled {
		srv, err = startAPI(ctx, cfg, apiSources{
			pipeline: p,
			reader:   reader,
			db:       db,
			recorder: rec,
			mqtt:     mqttClient,
			metrics:  metricsHandler,
		}, log)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	healthCtx, healthCancel := context.WithTimeout(ctx, startupHealthTimeout)
	err = healthCheck(healthCtx, db, mqttClient, srv)
	healthCancel()
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	go checkStaleness(ctx, p, stalenessInterval(cfg.Alerts))

	readErr := make(chan error, 1)
	go func() {
		readErr <- reader.Run(ctx, func(chunk []byte) { p.Feed(chunk) })
	}()
	log.Info("initialisation complete, reading bus", "source", reader.Stats().Source)

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
		<-readErr
	case err := <-readErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("transport: %w", err)
		}
	}

	stats := p.Stats()
	log.Info("ebusbridge stopped",
		"telegrams", stats.Telegrams,
		"valid", stats.ValidTelegrams,
		"invalid", stats.InvalidTelegrams,
	)
	return nil
}

// startupHealthTimeout bounds the health check run before reading starts.
const startupHealthTimeout = 5 * time.Second

// healthCheck verifies the started infrastructure connections. Components
// that are disabled are nil and skipped. The transport is not checked here
// since it connects once reading starts and reconnects on its own.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, srv *api.Server) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if srv != nil {
		if err := srv.HealthCheck(ctx); err != nil {
			return fmt.Errorf("api: %w", err)
		}
	}
	return nil
}

// readerObserver resets the framer after a reconnect, since bytes from the
// old stream can never complete a frame, and forwards to the metrics.
type readerObserver struct {
	pipeline *pipeline.Pipeline
	metrics  *metrics.Metrics
}

func (o *readerObserver) ObserveReconnect() {
	o.pipeline.Reset()
	o.metrics.ObserveReconnect()
}

func (o *readerObserver) SetConnected(connected bool) {
	o.metrics.SetConnected(connected)
}

// startRecorder opens the database, applies migrations and starts the
// command recorder. The returned func closes both.
func startRecorder(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, *recorder.Recorder, func(), error) {
	db, err := database.Open(databaseConfig(cfg.Database))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", db.Path())

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	schema, err := db.SchemaVersion(ctx)
	if err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("reading schema version: %w", err)
	}
	log.Info("database migrations complete", "schema_version", schema)

	rec := recorder.New(db.DB)
	rec.SetLogger(log)
	if err := rec.Start(); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("starting recorder: %w", err)
	}

	return db, rec, func() {
		rec.Stop()
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}, nil
}

// connectMQTT connects to the broker with the bridge's status topic as LWT.
func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg.MQTT, mqtt.NewTopics(cfg.HomeAssistant.StatePrefix))
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	return client, nil
}

// startPublisher wires the Home Assistant publisher to pipeline events.
func startPublisher(ctx context.Context, cfg *config.Config, client *mqtt.Client, p *pipeline.Pipeline, reader *transport.Reader, log *logging.Logger) (*hass.Publisher, error) {
	pub := hass.NewPublisher(publisherConfig(cfg, client.Topics()), hass.Deps{
		Client:    client,
		Sensors:   p.Aggregator(),
		Alerts:    p.Evaluator(),
		Stats:     p,
		Transport: reader,
		Logger:    log,
	})

	if err := pub.PublishDiscovery(); err != nil {
		return nil, fmt.Errorf("publishing discovery: %w", err)
	}
	// Home Assistant drops discovery state on restart and announces itself
	// on its birth topic.
	if err := client.Subscribe(pub.BirthTopic(), byte(cfg.MQTT.QoS), pub.HandleBirth); err != nil {
		log.Warn("failed to subscribe to Home Assistant birth topic", "error", err)
	}

	// Queued so a stalled broker never holds up ingestion.
	p.OnAlert(pub.QueueAlert)
	p.OnAlertsChanged(pub.QueueActiveAlerts)
	p.OnMessage(pub.QueueMessage)

	pub.Start(ctx)
	log.Info("Home Assistant publisher started",
		"discovery_prefix", cfg.HomeAssistant.DiscoveryPrefix,
		"state_prefix", cfg.HomeAssistant.StatePrefix,
		"mqtt_subscriptions", client.SubscriptionCount(),
	)
	return pub, nil
}

// apiSources are the collaborators the API reads from. db, recorder, mqtt
// and metrics may be nil.
type apiSources struct {
	pipeline *pipeline.Pipeline
	reader   *transport.Reader
	db       *database.DB
	recorder *recorder.Recorder
	mqtt     *mqtt.Client
	metrics  http.Handler
}

// startAPI starts the HTTP server and forwards pipeline events to its
// WebSocket hub.
func startAPI(ctx context.Context, cfg *config.Config, src apiSources, log *logging.Logger) (*api.Server, error) {
	p := src.pipeline
	deps := api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Logger:    log,
		Sensors:   p.Aggregator(),
		Alerts:    p.Evaluator(),
		Messages:  p,
		Transport: src.reader,
		Metrics:   src.metrics,
		Version:   version,
	}
	deps.HealthChecks = map[string]api.HealthChecker{"transport": src.reader}
	// Typed nil pointers must not become non-nil interfaces.
	if src.db != nil {
		deps.HealthChecks["database"] = src.db
	}
	if src.recorder != nil {
		deps.Commands = src.recorder
	}
	if src.mqtt != nil {
		deps.MQTT = src.mqtt
		deps.HealthChecks["mqtt"] = src.mqtt
	}

	srv, err := api.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	p.OnSensors(srv.PublishSensors)
	p.OnMessage(srv.PublishMessage)
	p.OnAlert(srv.PublishAlert)

	if err := srv.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting API server: %w", err)
	}
	return srv, nil
}

// checkStaleness runs the staleness check until ctx is cancelled.
func checkStaleness(ctx context.Context, p *pipeline.Pipeline, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.CheckStaleness()
		}
	}
}
