package main

import (
	"fmt"
	"time"

	"github.com/nerrad567/ebus-bridge/internal/alert"
	"github.com/nerrad567/ebus-bridge/internal/bridges/hass"
	"github.com/nerrad567/ebus-bridge/internal/ebus"
	"github.com/nerrad567/ebus-bridge/internal/infrastructure/config"
	"github.com/nerrad567/ebus-bridge/internal/infrastructure/database"
	"github.com/nerrad567/ebus-bridge/internal/infrastructure/metrics"
	"github.com/nerrad567/ebus-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/ebus-bridge/internal/pipeline"
	"github.com/nerrad567/ebus-bridge/internal/sensor"
	"github.com/nerrad567/ebus-bridge/internal/transport"
)

// The helpers below convert configuration sections into the domain types.
// config stays free of domain imports, so this is the only place the two meet.

// protocolConfig converts the protocol section.
func protocolConfig(cfg config.ProtocolConfig) (pipeline.Config, error) {
	poly, err := ebus.ParsePolynomial(cfg.CRCPolynomial)
	if err != nil {
		return pipeline.Config{}, err
	}
	policy, err := ebus.ParseCRCPolicy(cfg.CRCPolicy)
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{
		Polynomial: poly,
		Policy:     policy,
		MaxBuffer:  cfg.MaxFrameBuffer,
		TailWindow: cfg.FrameTailWindow,
	}, nil
}

// aggregatorConfig converts the sensors section.
func aggregatorConfig(cfg config.SensorsConfig) (sensor.Config, error) {
	profile, err := sensor.ParseOutdoorProfile(cfg.OutdoorProfile)
	if err != nil {
		return sensor.Config{}, err
	}

	bounds := make(map[string]sensor.Bounds, len(cfg.Bounds))
	for name, b := range cfg.Bounds {
		sb := sensor.Bounds{Min: b.Min, Max: b.Max}
		if err := sb.Validate(); err != nil {
			return sensor.Config{}, fmt.Errorf("sensors.bounds.%s: %w", name, err)
		}
		bounds[name] = sb
	}

	return sensor.Config{
		MaxAge:         config.Seconds(cfg.MaxAge),
		OutdoorProfile: profile,
		Bounds:         bounds,
	}, nil
}

// alertRules merges the built-in rules with the configured ones. A configured
// rule replaces a built-in rule with the same key. Rules without a cooldown
// or max age get the section defaults; a missing severity means WARNING.
func alertRules(cfg config.AlertsConfig) ([]alert.Rule, error) {
	defaultCooldown := config.Seconds(cfg.DefaultCooldown)
	defaultMaxAge := config.Seconds(cfg.DefaultMaxAge)

	var rules []alert.Rule
	index := make(map[string]int)
	add := func(r alert.Rule) {
		if i, ok := index[r.Key()]; ok {
			rules[i] = r
			return
		}
		index[r.Key()] = len(rules)
		rules = append(rules, r)
	}

	if cfg.BuiltinRules {
		for _, r := range alert.DefaultRules() {
			r.Cooldown = defaultCooldown
			r.MaxAge = defaultMaxAge
			add(r)
		}
	}

	for i, rc := range cfg.Rules {
		severity := alert.SeverityWarning
		if rc.Severity != "" {
			parsed, err := alert.ParseSeverity(rc.Severity)
			if err != nil {
				return nil, fmt.Errorf("alerts.rules[%d]: %w", i, err)
			}
			severity = parsed
		}
		r := alert.Rule{
			ID:       rc.ID,
			Sensor:   rc.Sensor,
			Below:    rc.Below,
			Above:    rc.Above,
			Severity: severity,
			Message:  rc.Message,
			Cooldown: defaultCooldown,
			MaxAge:   defaultMaxAge,
		}
		if rc.Cooldown != nil {
			r.Cooldown = config.Seconds(*rc.Cooldown)
		}
		if rc.MaxAge != nil {
			r.MaxAge = config.Seconds(*rc.MaxAge)
		}
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("alerts.rules[%d]: %w", i, err)
		}
		add(r)
	}
	return rules, nil
}

// evaluatorConfig converts the alerts section.
func evaluatorConfig(cfg config.AlertsConfig) (alert.Config, error) {
	rules, err := alertRules(cfg)
	if err != nil {
		return alert.Config{}, err
	}
	return alert.Config{
		Rules:        rules,
		StaleSensors: cfg.Staleness.Sensors,
		StaleAfter:   config.Seconds(cfg.Staleness.MaxAge),
	}, nil
}

// components are the ingestion stages built from configuration.
type components struct {
	pipeline *pipeline.Pipeline
	registry *ebus.Registry
	policy   ebus.CRCPolicy
}

// buildPipeline assembles registry, decoder, aggregator and evaluator.
// m and log may be nil.
func buildPipeline(cfg *config.Config, m *metrics.Metrics, log pipeline.Logger) (*components, error) {
	pcfg, err := protocolConfig(cfg.Protocol)
	if err != nil {
		return nil, fmt.Errorf("protocol: %w", err)
	}

	registry, err := ebus.LoadRegistry(cfg.Registry.Tables...)
	if err != nil {
		return nil, fmt.Errorf("loading message tables: %w", err)
	}

	acfg, err := aggregatorConfig(cfg.Sensors)
	if err != nil {
		return nil, fmt.Errorf("sensors: %w", err)
	}

	ecfg, err := evaluatorConfig(cfg.Alerts)
	if err != nil {
		return nil, fmt.Errorf("alerts: %w", err)
	}
	evaluator, err := alert.NewEvaluator(ecfg)
	if err != nil {
		return nil, fmt.Errorf("alerts: %w", err)
	}
	if log != nil {
		evaluator.SetLogger(log)
	}

	p := pipeline.New(pcfg, pipeline.Deps{
		Decoder:    ebus.NewDecoder(registry),
		Aggregator: sensor.NewAggregator(acfg),
		Evaluator:  evaluator,
		Metrics:    m,
		Logger:     log,
	})
	return &components{pipeline: p, registry: registry, policy: pcfg.Policy}, nil
}

// databaseConfig converts the database section.
func databaseConfig(cfg config.DatabaseConfig) database.Config {
	return database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	}
}

// transportReader builds the byte source and its reconnecting reader.
func transportReader(cfg config.TransportConfig) (*transport.Reader, error) {
	source, err := transport.NewSource(
		cfg.Type,
		cfg.Serial.Port,
		cfg.Serial.Baud,
		cfg.TCP.Address,
		config.Seconds(cfg.ReadTimeout),
	)
	if err != nil {
		return nil, err
	}
	return transport.NewReader(source, transport.Config{
		ReconnectInterval:    config.Seconds(cfg.ReconnectInterval),
		MaxReconnectInterval: config.Seconds(cfg.MaxReconnectInterval),
	}), nil
}

// publisherConfig converts the homeassistant section.
func publisherConfig(cfg *config.Config, topics mqtt.Topics) hass.Config {
	ha := cfg.HomeAssistant
	return hass.Config{
		DiscoveryPrefix:  ha.DiscoveryPrefix,
		NodeID:           ha.NodeID,
		Topics:           topics,
		QoS:              byte(cfg.MQTT.QoS),
		PublishInterval:  config.Seconds(ha.PublishInterval),
		HealthInterval:   config.Seconds(ha.HealthInterval),
		FullRefreshEvery: ha.FullRefreshEvery,
		PublishMessages:  ha.PublishMessages,
		QueueSize:        ha.QueueSize,
		Version:          version,
	}
}

// stalenessInterval returns the staleness check period.
func stalenessInterval(cfg config.AlertsConfig) time.Duration {
	if cfg.CheckInterval < 1 {
		return 30 * time.Second
	}
	return config.Seconds(cfg.CheckInterval)
}
