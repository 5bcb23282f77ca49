package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file used when neither the --config flag
// nor EBUSBRIDGE_CONFIG is set.
const DefaultPath = "/etc/ebusbridge/config.yaml"

// envPrefix prefixes every environment override.
const envPrefix = "EBUSBRIDGE_"

// Config is the root configuration structure for the eBus bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site          SiteConfig          `yaml:"site"`
	Transport     TransportConfig     `yaml:"transport"`
	Protocol      ProtocolConfig      `yaml:"protocol"`
	Registry      RegistryConfig      `yaml:"registry"`
	Sensors       SensorsConfig       `yaml:"sensors"`
	Alerts        AlertsConfig        `yaml:"alerts"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	API           APIConfig           `yaml:"api"`
	WebSocket     WebSocketConfig     `yaml:"websocket"`
	Database      DatabaseConfig      `yaml:"database"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// SiteConfig identifies the installation.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// TransportConfig selects how raw bus bytes are read.
type TransportConfig struct {
	// Type is "serial" or "tcp".
	Type   string                `yaml:"type"`
	Serial SerialTransportConfig `yaml:"serial"`
	TCP    TCPTransportConfig    `yaml:"tcp"`

	// ReconnectInterval is the initial delay before reopening (seconds).
	ReconnectInterval int `yaml:"reconnect_interval"`

	// MaxReconnectInterval caps the reconnect backoff (seconds).
	MaxReconnectInterval int `yaml:"max_reconnect_interval"`

	// ReadTimeout bounds a single read so cancellation is observed (seconds).
	ReadTimeout int `yaml:"read_timeout"`
}

// SerialTransportConfig contains serial adapter settings.
type SerialTransportConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// TCPTransportConfig contains settings for a raw TCP bus stream
// (ebusd in raw mode, ser2net, network adapters).
type TCPTransportConfig struct {
	Address string `yaml:"address"`
}

// ProtocolConfig contains framing and checksum settings.
type ProtocolConfig struct {
	// CRCPolicy is "strict" or "lenient". Lenient ignores checksum
	// mismatches entirely and is logged at startup.
	CRCPolicy string `yaml:"crc_policy"`

	// CRCPolynomial is "0x9B" (standard) or "0x19" (alternate devices).
	CRCPolynomial string `yaml:"crc_polynomial"`

	MaxFrameBuffer  int `yaml:"max_frame_buffer"`
	FrameTailWindow int `yaml:"frame_tail_window"`
}

// RegistryConfig lists extra message table files merged over the built-in table.
type RegistryConfig struct {
	Tables []string `yaml:"tables"`
}

// SensorsConfig contains aggregator settings.
type SensorsConfig struct {
	// MaxAge is how long a reading stays visible (seconds).
	MaxAge int `yaml:"max_age"`

	// OutdoorProfile is auto, temp16_at_8 or signed_half_at_1.
	OutdoorProfile string `yaml:"outdoor_profile"`

	// Bounds overrides plausibility ranges per sensor name.
	Bounds map[string]BoundsConfig `yaml:"bounds"`
}

// BoundsConfig is an inclusive plausibility range.
type BoundsConfig struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// AlertsConfig contains the alert rule table.
type AlertsConfig struct {
	// BuiltinRules keeps the default boiler rules in addition to Rules.
	BuiltinRules bool `yaml:"builtin_rules"`

	Rules []AlertRuleConfig `yaml:"rules"`

	// DefaultCooldown applies to rules without a cooldown (seconds).
	DefaultCooldown int `yaml:"default_cooldown"`

	// DefaultMaxAge applies to rules without a max_age (seconds).
	DefaultMaxAge int `yaml:"default_max_age"`

	Staleness StalenessConfig `yaml:"staleness"`

	// CheckInterval is how often the staleness check runs (seconds).
	CheckInterval int `yaml:"check_interval"`
}

// AlertRuleConfig is one threshold rule.
type AlertRuleConfig struct {
	ID       string   `yaml:"id"`
	Sensor   string   `yaml:"sensor"`
	Below    *float64 `yaml:"below"`
	Above    *float64 `yaml:"above"`
	Severity string   `yaml:"severity"`
	Message  string   `yaml:"message"`
	Cooldown *int     `yaml:"cooldown"`
	MaxAge   *int     `yaml:"max_age"`
}

// StalenessConfig lists sensors whose silence is itself an alert.
type StalenessConfig struct {
	Sensors []string `yaml:"sensors"`
	MaxAge  int      `yaml:"max_age"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// HomeAssistantConfig contains Home Assistant MQTT publishing settings.
type HomeAssistantConfig struct {
	Enabled         bool   `yaml:"enabled"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	NodeID          string `yaml:"node_id"`
	StatePrefix     string `yaml:"state_prefix"`

	// PublishInterval is the sensor state publish period (seconds).
	PublishInterval int `yaml:"publish_interval"`

	// FullRefreshEvery republishes unchanged values every N intervals.
	FullRefreshEvery int `yaml:"full_refresh_every"`

	// HealthInterval is the health publish period (seconds).
	HealthInterval int `yaml:"health_interval"`

	// PublishMessages publishes every decoded message as JSON.
	PublishMessages bool `yaml:"publish_messages"`

	// QueueSize bounds the alert and message events waiting for the
	// broker. Events beyond it are dropped.
	QueueSize int `yaml:"queue_size"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// DatabaseConfig contains SQLite settings for the command recorder.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// ResolvePath picks the configuration file: the flag value if set, else
// EBUSBRIDGE_CONFIG, else DefaultPath.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(envPrefix + "CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: EBUSBRIDGE_SECTION_KEY
// For example: EBUSBRIDGE_SERIAL_PORT, EBUSBRIDGE_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults for a serial adapter and a
// local broker.
func Default() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "home",
			Name: "eBus bridge",
		},
		Transport: TransportConfig{
			Type: "serial",
			Serial: SerialTransportConfig{
				Port: "/dev/ttyAMA0",
				Baud: 2400,
			},
			ReconnectInterval:    5,
			MaxReconnectInterval: 120,
			ReadTimeout:          1,
		},
		Protocol: ProtocolConfig{
			CRCPolicy:       "strict",
			CRCPolynomial:   "0x9B",
			MaxFrameBuffer:  512,
			FrameTailWindow: 256,
		},
		Sensors: SensorsConfig{
			MaxAge:         300,
			OutdoorProfile: "auto",
		},
		Alerts: AlertsConfig{
			BuiltinRules:    true,
			DefaultCooldown: 600,
			DefaultMaxAge:   300,
			Staleness: StalenessConfig{
				Sensors: []string{"boiler.water_pressure", "boiler.flow_temperature"},
				MaxAge:  600,
			},
			CheckInterval: 30,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "ebusbridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		HomeAssistant: HomeAssistantConfig{
			Enabled:          true,
			DiscoveryPrefix:  "homeassistant",
			NodeID:           "ebus_thelia",
			StatePrefix:      "ebus/thelia",
			PublishInterval:  30,
			FullRefreshEvery: 10,
			QueueSize:        256,
			HealthInterval:   30,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/ebusbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: EBUSBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Transport
	if v := os.Getenv(envPrefix + "TRANSPORT_TYPE"); v != "" {
		cfg.Transport.Type = v
	}
	if v := os.Getenv(envPrefix + "SERIAL_PORT"); v != "" {
		cfg.Transport.Serial.Port = v
	}
	if v := os.Getenv(envPrefix + "TCP_ADDRESS"); v != "" {
		cfg.Transport.TCP.Address = v
	}

	// Protocol
	if v := os.Getenv(envPrefix + "CRC_POLICY"); v != "" {
		cfg.Protocol.CRCPolicy = v
	}

	// MQTT
	if v := os.Getenv(envPrefix + "MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv(envPrefix + "MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv(envPrefix + "MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv(envPrefix + "API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv(envPrefix + "API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Database
	if v := os.Getenv(envPrefix + "DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Logging
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	errs = append(errs, c.Transport.validate()...)

	switch strings.ToLower(c.Protocol.CRCPolicy) {
	case "strict", "lenient":
	default:
		errs = append(errs, "protocol.crc_policy must be strict or lenient")
	}
	switch strings.ToUpper(strings.TrimPrefix(strings.ToLower(c.Protocol.CRCPolynomial), "0x")) {
	case "9B", "19":
	default:
		errs = append(errs, "protocol.crc_polynomial must be 0x9B or 0x19")
	}
	if c.Protocol.FrameTailWindow > c.Protocol.MaxFrameBuffer {
		errs = append(errs, "protocol.frame_tail_window must not exceed protocol.max_frame_buffer")
	}

	if c.Sensors.MaxAge < 1 {
		errs = append(errs, "sensors.max_age must be at least 1 second")
	}
	switch c.Sensors.OutdoorProfile {
	case "", "auto", "temp16_at_8", "signed_half_at_1":
	default:
		errs = append(errs, "sensors.outdoor_profile must be auto, temp16_at_8 or signed_half_at_1")
	}
	for name, b := range c.Sensors.Bounds {
		if b.Min > b.Max {
			errs = append(errs, fmt.Sprintf("sensors.bounds.%s: min exceeds max", name))
		}
	}

	for i, r := range c.Alerts.Rules {
		if r.Sensor == "" {
			errs = append(errs, fmt.Sprintf("alerts.rules[%d].sensor is required", i))
		}
		if r.Below == nil && r.Above == nil {
			errs = append(errs, fmt.Sprintf("alerts.rules[%d] needs below or above", i))
		}
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.HomeAssistant.Enabled && !c.MQTT.Enabled {
		errs = append(errs, "homeassistant.enabled requires mqtt.enabled")
	}
	if c.HomeAssistant.Enabled && c.HomeAssistant.PublishInterval < 1 {
		errs = append(errs, "homeassistant.publish_interval must be at least 1 second")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (t TransportConfig) validate() []string {
	var errs []string
	switch t.Type {
	case "serial":
		if t.Serial.Port == "" {
			errs = append(errs, "transport.serial.port is required")
		}
		if t.Serial.Baud < 1 {
			errs = append(errs, "transport.serial.baud must be positive")
		}
	case "tcp":
		if t.TCP.Address == "" {
			errs = append(errs, "transport.tcp.address is required")
		}
	default:
		errs = append(errs, "transport.type must be serial or tcp")
	}
	if t.ReconnectInterval < 1 {
		errs = append(errs, "transport.reconnect_interval must be at least 1 second")
	}
	return errs
}

// Seconds converts an integer seconds setting to a Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
