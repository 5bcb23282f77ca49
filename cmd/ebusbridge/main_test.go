package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/ebus-bridge/internal/alert"
	"github.com/nerrad567/ebus-bridge/internal/ebus"
	"github.com/nerrad567/ebus-bridge/internal/infrastructure/config"
	"github.com/nerrad567/ebus-bridge/internal/infrastructure/database"
	"github.com/nerrad567/ebus-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/ebus-bridge/internal/sensor"
)

// statusTempsFrame builds a delimited B511 status telegram with the given
// flow and return bytes (half-degree units).
func statusTempsFrame(flow, ret byte) []byte {
	crc := ebus.NewChecksum(ebus.PolyCanonical)
	master := []byte{0x10, 0x08, 0xB5, 0x11, 0x01, 0x01}
	master = append(master, crc.Sum(master))
	body := []byte{0x09, flow, ret, 0x50, 0x00, 0x00, 0x51, 0x00, 0x00, 0x00}
	master = append(master, ebus.ACK)
	master = append(master, body...)
	master = append(master, crc.Sum(body), ebus.ACK)

	out := []byte{ebus.SyncByte}
	out = append(out, ebus.Escape(master)...)
	return append(out, ebus.SyncByte)
}

// execute runs the command tree with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func ptr[T any](v T) *T { return &v }

// ─── Config conversion ───────────────────────────────────────────────

func TestProtocolConfig(t *testing.T) {
	cfg := config.Default().Protocol
	cfg.CRCPolynomial = "0x19"
	cfg.CRCPolicy = "lenient"

	pcfg, err := protocolConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, ebus.PolyAlternate, pcfg.Polynomial)
	assert.Equal(t, ebus.CRCLenient, pcfg.Policy)
	assert.Equal(t, cfg.MaxFrameBuffer, pcfg.MaxBuffer)
	assert.Equal(t, cfg.FrameTailWindow, pcfg.TailWindow)

	cfg.CRCPolynomial = "0x07"
	_, err = protocolConfig(cfg)
	assert.ErrorIs(t, err, ebus.ErrInvalidPolynomial)
}

func TestAggregatorConfig(t *testing.T) {
	cfg := config.Default().Sensors
	cfg.Bounds = map[string]config.BoundsConfig{
		sensor.FlowTemperature: {Min: 5, Max: 90},
	}

	acfg, err := aggregatorConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 300*time.Second, acfg.MaxAge)
	assert.Equal(t, 5.0, acfg.Bounds[sensor.FlowTemperature].Min)
	assert.Equal(t, 90.0, acfg.Bounds[sensor.FlowTemperature].Max)

	cfg.Bounds[sensor.FlowTemperature] = config.BoundsConfig{Min: 90, Max: 5}
	_, err = aggregatorConfig(cfg)
	assert.Error(t, err, "inverted bounds")

	cfg.Bounds = nil
	cfg.OutdoorProfile = "fahrenheit"
	_, err = aggregatorConfig(cfg)
	assert.Error(t, err, "unknown outdoor profile")
}

func TestAlertRules_Defaults(t *testing.T) {
	cfg := config.Default().Alerts

	rules, err := alertRules(cfg)
	require.NoError(t, err)
	require.Len(t, rules, len(alert.DefaultRules()))
	for _, r := range rules {
		assert.Equal(t, 600*time.Second, r.Cooldown, r.Key())
		assert.Equal(t, 300*time.Second, r.MaxAge, r.Key())
	}

	cfg.BuiltinRules = false
	rules, err = alertRules(cfg)
	require.NoError(t, err)
	assert.Empty(t, rules, "built-ins disabled")
}

func TestAlertRules_ConfiguredRules(t *testing.T) {
	cfg := config.Default().Alerts
	cfg.Rules = []config.AlertRuleConfig{
		{
			// Same key as the built-in high delta rule.
			Sensor:   sensor.DeltaT,
			Above:    ptr(25.0),
			Severity: "warning",
			Message:  "Delta above 25",
			Cooldown: ptr(0),
		},
		{
			ID:      "dhw_cold",
			Sensor:  "dhw.temperature",
			Below:   ptr(40.0),
			Message: "Hot water cold",
			MaxAge:  ptr(60),
		},
	}

	rules, err := alertRules(cfg)
	require.NoError(t, err)
	require.Len(t, rules, len(alert.DefaultRules())+1)

	byKey := make(map[string]alert.Rule, len(rules))
	for _, r := range rules {
		byKey[r.Key()] = r
	}

	delta := byKey[sensor.DeltaT+"_WARNING"]
	assert.Equal(t, "Delta above 25", delta.Message, "delta rule not replaced")
	require.NotNil(t, delta.Above)
	assert.Equal(t, 25.0, *delta.Above)
	assert.Zero(t, delta.Cooldown)

	dhw, ok := byKey["dhw_cold"]
	require.True(t, ok, "dhw_cold rule missing")
	assert.Equal(t, alert.SeverityWarning, dhw.Severity)
	assert.Equal(t, time.Minute, dhw.MaxAge)
	assert.Equal(t, 600*time.Second, dhw.Cooldown)
}

func TestAlertRules_InvalidSeverity(t *testing.T) {
	cfg := config.Default().Alerts
	cfg.Rules = []config.AlertRuleConfig{{Sensor: sensor.WaterPressure, Below: ptr(1.0), Severity: "panic"}}

	_, err := alertRules(cfg)
	assert.ErrorContains(t, err, "alerts.rules[0]")
}

func TestStalenessInterval(t *testing.T) {
	cfg := config.Default().Alerts
	assert.Equal(t, 30*time.Second, stalenessInterval(cfg))

	cfg.CheckInterval = 0
	assert.Equal(t, 30*time.Second, stalenessInterval(cfg))

	cfg.CheckInterval = 5
	assert.Equal(t, 5*time.Second, stalenessInterval(cfg))
}

func TestPublisherConfig_QueueSize(t *testing.T) {
	cfg := config.Default()
	cfg.HomeAssistant.QueueSize = 32

	pcfg := publisherConfig(cfg, mqtt.NewTopics(cfg.HomeAssistant.StatePrefix))
	assert.Equal(t, 32, pcfg.QueueSize)
	assert.Equal(t, "ebus/thelia/status", pcfg.Topics.Status())
}

// ─── Commands ────────────────────────────────────────────────────────

func TestCRCCommand(t *testing.T) {
	out, err := execute(t, "crc", "10", "08", "B5", "11", "01", "01")
	require.NoError(t, err)
	assert.Equal(t, "0x9B: 0x89\n0x19: 0xCE\n", out)

	// Each byte may carry its own 0x prefix.
	out, err = execute(t, "crc", "0x10 0x08", "0xB5", "0x11,0x01,0x01")
	require.NoError(t, err)
	assert.Equal(t, "0x9B: 0x89\n0x19: 0xCE\n", out)

	_, err = execute(t, "crc", "zz")
	assert.ErrorIs(t, err, ebus.ErrInvalidHex)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Regexp(t, "^ebusbridge "+version, out)
}

func TestDecodeCommand_Hex(t *testing.T) {
	frame := hex.EncodeToString(statusTempsFrame(0x8C, 0x6E))

	out, err := execute(t, "decode", "--hex", frame)
	require.NoError(t, err)
	for _, want := range []string{
		"Messages (1):",
		"status_temps",
		sensor.FlowTemperature,
		"70.0",
		"Alerts (0):",
		"Telegrams: 1 valid, 0 invalid",
	} {
		assert.Contains(t, out, want)
	}
}

func TestDecodeCommand_PrefixedHex(t *testing.T) {
	var dump bytes.Buffer
	for _, b := range statusTempsFrame(0x8C, 0x6E) {
		dump.WriteString("0x")
		dump.WriteString(hex.EncodeToString([]byte{b}))
		dump.WriteByte(' ')
	}

	out, err := execute(t, "decode", "--hex", dump.String())
	require.NoError(t, err)
	assert.Contains(t, out, "Telegrams: 1 valid, 0 invalid")
}

func TestDecodeCommand_RaisesAlerts(t *testing.T) {
	// Flow 85.0, return 55.0: delta 30 and flow above the warning line.
	frame := hex.EncodeToString(statusTempsFrame(0xAA, 0x6E))

	out, err := execute(t, "decode", "--hex", frame)
	require.NoError(t, err)
	assert.Contains(t, out, "Alerts (2):")
	assert.Contains(t, out, "[WARNING]")
}

func TestDecodeCommand_RawFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.bin")
	capture := append(statusTempsFrame(0x8C, 0x6E), statusTempsFrame(0x8E, 0x6E)...)
	require.NoError(t, os.WriteFile(path, capture, 0600))

	out, err := execute(t, "decode", "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Messages (2):")
	assert.Contains(t, out, "71.0", "snapshot should hold the latest flow reading")
}

func TestDecodeCommand_CorruptChecksum(t *testing.T) {
	frame := statusTempsFrame(0x8C, 0x6E)
	frame[7] ^= 0x01 // master CRC

	out, err := execute(t, "decode", "--hex", hex.EncodeToString(frame))
	require.NoError(t, err)
	assert.Contains(t, out, "[invalid]")
	assert.Contains(t, out, "Sensors (0):", "strict decode keeps no state")

	out, err = execute(t, "decode", "--lenient", "--hex", hex.EncodeToString(frame))
	require.NoError(t, err)
	assert.NotContains(t, out, "[invalid]")
	assert.Contains(t, out, sensor.FlowTemperature)
}

func TestDecodeCommand_Errors(t *testing.T) {
	_, err := execute(t, "decode")
	assert.Error(t, err, "no input")

	_, err = execute(t, "decode", "--hex", "AA", "--poly", "0x07")
	assert.Error(t, err, "unknown polynomial")

	_, err = execute(t, "decode", "--file", filepath.Join(t.TempDir(), "missing.bin"))
	assert.Error(t, err, "missing file")
}

// ─── Run ─────────────────────────────────────────────────────────────

func TestHealthCheck(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, healthCheck(ctx, nil, nil, nil), "disabled components are skipped")

	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "test.db"), BusyTimeout: 1})
	require.NoError(t, err)
	assert.NoError(t, healthCheck(ctx, db, nil, nil))

	err = healthCheck(ctx, db, &mqtt.Client{}, nil)
	assert.ErrorIs(t, err, mqtt.ErrNotConnected)
	assert.ErrorContains(t, err, "mqtt:")

	require.NoError(t, db.Close())
	assert.ErrorContains(t, healthCheck(ctx, db, nil, nil), "database:")
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, "/nonexistent/path/config.yaml")
	assert.ErrorContains(t, err, "loading config")
}

// TestRun_TCPSource runs the bridge against a local TCP stream with the
// optional outputs disabled and checks it shuts down cleanly.
func TestRun_TCPSource(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write(statusTempsFrame(0x8C, 0x6E))
		<-done
	}()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")
	configContent := `
transport:
  type: tcp
  tcp:
    address: "` + ln.Addr().String() + `"
  reconnect_interval: 1
  read_timeout: 1

database:
  enabled: true
  path: "` + filepath.Join(tmpDir, "test.db") + `"

mqtt:
  enabled: false

homeassistant:
  enabled: false

api:
  enabled: false

logging:
  level: warn
  format: text
  output: stdout
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0600))

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	assert.NoError(t, run(ctx, configPath))
}

func TestRun_InvalidTransport(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "test-config.yaml")
	configContent := `
transport:
  type: carrier-pigeon
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0600))

	assert.Error(t, run(context.Background(), configPath), "unknown transport type")
}
