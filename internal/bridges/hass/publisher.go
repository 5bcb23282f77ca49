package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/ebus-bridge/internal/alert"
	"github.com/nerrad567/ebus-bridge/internal/ebus"
	"github.com/nerrad567/ebus-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/ebus-bridge/internal/pipeline"
	"github.com/nerrad567/ebus-bridge/internal/sensor"
	"github.com/nerrad567/ebus-bridge/internal/transport"
)

const (
	DefaultPublishInterval  = 30 * time.Second
	DefaultHealthInterval   = 30 * time.Second
	DefaultFullRefreshEvery = 10
	DefaultQueueSize        = 256

	// BirthPayload is what Home Assistant publishes on its status topic
	// after starting.
	BirthPayload = "online"
)

// MQTTClient is the subset of the MQTT client the publisher needs.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// SensorSource provides fresh sensor values.
type SensorSource interface {
	GetAll() map[string]sensor.Value
}

// AlertSource provides the active alert set.
type AlertSource interface {
	Active() []alert.Alert
}

// StatsSource provides pipeline counters.
type StatsSource interface {
	Stats() pipeline.Stats
}

// TransportSource provides byte source state.
type TransportSource interface {
	Stats() transport.Stats
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Config holds publisher settings.
type Config struct {
	DiscoveryPrefix string
	NodeID          string
	Topics          mqtt.Topics
	QoS             byte

	Entities []Entity
	Device   Device

	PublishInterval  time.Duration
	HealthInterval   time.Duration
	FullRefreshEvery int
	PublishMessages  bool

	// QueueSize bounds the events waiting for the broker. Events arriving
	// while the queue is full are dropped.
	QueueSize int

	Version string
	Now     func() time.Time
}

// Deps are the publisher's collaborators. Client and Sensors are required.
type Deps struct {
	Client    MQTTClient
	Sensors   SensorSource
	Alerts    AlertSource
	Stats     StatsSource
	Transport TransportSource
	Logger    Logger
}

// Publisher publishes bridge state to Home Assistant over MQTT.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Publisher struct {
	cfg  Config
	deps Deps

	mu            sync.Mutex
	discoverySent bool
	lastState     map[string]string
	cycle         int

	events   chan queuedEvent
	dropped  atomic.Uint64
	dropDiag *rate.Limiter

	startTime time.Time
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// queuedEvent is a publish deferred to the queue worker.
type queuedEvent struct {
	kind    string
	publish func() error
}

// NewPublisher applies defaults and returns a publisher ready to Start.
func NewPublisher(cfg Config, deps Deps) *Publisher {
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = "homeassistant"
	}
	if cfg.NodeID == "" {
		cfg.NodeID = "ebus_thelia"
	}
	if cfg.Topics.Prefix() == "" {
		cfg.Topics = mqtt.NewTopics("ebus/thelia")
	}
	if cfg.Entities == nil {
		cfg.Entities = DefaultEntities()
	}
	if cfg.Device.Name == "" {
		cfg.Device = DefaultDevice()
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = DefaultPublishInterval
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}
	if cfg.FullRefreshEvery <= 0 {
		cfg.FullRefreshEvery = DefaultFullRefreshEvery
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Publisher{
		cfg:       cfg,
		deps:      deps,
		lastState: make(map[string]string),
		events:    make(chan queuedEvent, cfg.QueueSize),
		dropDiag:  rate.NewLimiter(rate.Every(time.Minute), 1),
		startTime: cfg.Now(),
		done:      make(chan struct{}),
	}
}

// BirthTopic is Home Assistant's own status topic.
func (p *Publisher) BirthTopic() string {
	return p.cfg.DiscoveryPrefix + "/status"
}

// PublishDiscovery sends retained discovery configs for every entity and
// marks the bridge online.
func (p *Publisher) PublishDiscovery() error {
	if !p.deps.Client.IsConnected() {
		return ErrNotConnected
	}

	var firstErr error
	for _, e := range p.cfg.Entities {
		payload, err := json.Marshal(e.discovery(p.cfg.Topics, p.cfg.Device))
		if err != nil {
			return fmt.Errorf("marshalling discovery for %s: %w", e.Key, err)
		}
		topic := mqtt.Discovery(p.cfg.DiscoveryPrefix, e.component(), p.cfg.NodeID, e.Key)
		if err := p.deps.Client.Publish(topic, payload, p.cfg.QoS, true); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
		}
	}
	if err := p.deps.Client.Publish(p.cfg.Topics.Status(), []byte(mqtt.PayloadOnline), p.cfg.QoS, true); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("%w: %s: %w", ErrPublishFailed, p.cfg.Topics.Status(), err)
	}

	if firstErr == nil {
		p.mu.Lock()
		p.discoverySent = true
		p.mu.Unlock()
		p.logInfo("home assistant discovery published", "entities", len(p.cfg.Entities))
	}
	return firstErr
}

// HandleBirth re-sends discovery and a full state refresh when Home
// Assistant announces it came back online.
func (p *Publisher) HandleBirth(_ string, payload []byte) error {
	if string(payload) != BirthPayload {
		return nil
	}
	p.mu.Lock()
	p.discoverySent = false
	p.lastState = make(map[string]string)
	p.mu.Unlock()

	if err := p.PublishDiscovery(); err != nil {
		return err
	}
	_, err := p.PublishStates()
	return err
}

// PublishStates publishes fresh sensor values and returns how many were
// sent. Unchanged values are skipped except on every FullRefreshEvery-th
// call, which republishes everything.
func (p *Publisher) PublishStates() (int, error) {
	if !p.deps.Client.IsConnected() {
		return 0, ErrNotConnected
	}

	p.mu.Lock()
	needDiscovery := !p.discoverySent
	p.mu.Unlock()
	if needDiscovery {
		if err := p.PublishDiscovery(); err != nil {
			p.logWarn("discovery publish failed", "error", err)
		}
	}

	values := p.deps.Sensors.GetAll()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p.mu.Lock()
	defer p.mu.Unlock()

	full := p.cycle%p.cfg.FullRefreshEvery == 0
	p.cycle++

	sent := 0
	var firstErr error
	for _, key := range keys {
		payload := FormatState(values[key].Value)
		if !full && p.lastState[key] == payload {
			continue
		}
		topic := p.cfg.Topics.State(key)
		if err := p.deps.Client.Publish(topic, []byte(payload), p.cfg.QoS, false); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
			}
			continue
		}
		p.lastState[key] = payload
		sent++
	}
	return sent, firstErr
}

// PublishAlert publishes one raised alert (not retained).
func (p *Publisher) PublishAlert(a alert.Alert) error {
	return p.publishJSON(p.cfg.Topics.Alerts(), newAlertMessage(a), false)
}

// PublishActiveAlerts publishes the retained active alert set.
func (p *Publisher) PublishActiveAlerts(active []alert.Alert) error {
	msg := ActiveAlertsMessage{
		Count:     len(active),
		Alerts:    make([]AlertMessage, 0, len(active)),
		Timestamp: p.cfg.Now().UTC(),
	}
	for _, a := range active {
		msg.Alerts = append(msg.Alerts, newAlertMessage(a))
	}
	return p.publishJSON(p.cfg.Topics.ActiveAlerts(), msg, true)
}

// PublishMessage publishes a decoded message when message publishing is
// enabled. Unknown and invalid messages are skipped.
func (p *Publisher) PublishMessage(m ebus.Message) error {
	if !p.cfg.PublishMessages || !m.Known() || !m.Valid {
		return nil
	}
	return p.publishJSON(p.cfg.Topics.Message(m.Name), newDecodedMessage(m), false)
}

// QueueAlert schedules PublishAlert on the queue worker. It never blocks,
// so it is safe to call from the ingestion goroutine.
func (p *Publisher) QueueAlert(a alert.Alert) {
	p.enqueue("alert", func() error { return p.PublishAlert(a) })
}

// QueueActiveAlerts schedules PublishActiveAlerts on the queue worker.
func (p *Publisher) QueueActiveAlerts(active []alert.Alert) {
	active = append([]alert.Alert(nil), active...)
	p.enqueue("active_alerts", func() error { return p.PublishActiveAlerts(active) })
}

// QueueMessage schedules PublishMessage on the queue worker. Messages that
// PublishMessage would skip are not queued.
func (p *Publisher) QueueMessage(m ebus.Message) {
	if !p.cfg.PublishMessages || !m.Known() || !m.Valid {
		return
	}
	p.enqueue("message", func() error { return p.PublishMessage(m) })
}

// Dropped returns how many queued events were discarded because the queue
// was full.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

func (p *Publisher) enqueue(kind string, publish func() error) {
	select {
	case p.events <- queuedEvent{kind: kind, publish: publish}:
	default:
		n := p.dropped.Add(1)
		if p.dropDiag.Allow() {
			p.logWarn("publish queue full, dropping events", "kind", kind, "dropped_total", n)
		}
	}
}

// drain publishes queued events until the publisher stops.
func (p *Publisher) drain(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case ev := <-p.events:
			if err := ev.publish(); err != nil {
				p.logWarn("queued publish failed", "kind", ev.kind, "error", err)
			}
		}
	}
}

// PublishHealth publishes a health message with the given status, or the
// derived status when status is empty.
func (p *Publisher) PublishHealth(status HealthStatus) error {
	msg := p.health()
	if status != "" {
		msg.Status = status
		msg.Reason = ""
	}
	return p.publishJSON(p.cfg.Topics.Health(), msg, true)
}

func (p *Publisher) health() HealthMessage {
	now := p.cfg.Now()
	msg := HealthMessage{
		Bridge:        p.cfg.NodeID,
		Timestamp:     now.UTC(),
		Status:        HealthHealthy,
		Version:       p.cfg.Version,
		UptimeSeconds: int64(now.Sub(p.startTime).Seconds()),
		DroppedEvents: p.Dropped(),
	}

	if p.deps.Stats != nil {
		s := p.deps.Stats.Stats()
		msg.Telegrams = TelegramCounters{
			Total:    s.Telegrams,
			Valid:    s.ValidTelegrams,
			Invalid:  s.InvalidTelegrams,
			Rejected: s.RejectedFrames,
			Decoded:  s.Decoder.Parsed,
			Unknown:  s.Decoder.Unknown,
		}
	}
	if p.deps.Alerts != nil {
		msg.ActiveAlerts = len(p.deps.Alerts.Active())
	}

	if p.deps.Transport == nil {
		msg.Status, msg.Reason = HealthDegraded, "no transport"
		return msg
	}
	ts := p.deps.Transport.Stats()
	msg.Transport = &TransportHealth{
		Source:       ts.Source,
		Connected:    ts.Connected,
		BytesRead:    ts.BytesRead,
		Reconnects:   ts.ReconnectsTotal,
		LastActivity: ts.LastActivity,
	}
	if !ts.Connected {
		msg.Status, msg.Reason = HealthDegraded, "transport disconnected"
	}
	return msg
}

func (p *Publisher) publishJSON(topic string, v any, retained bool) error {
	if !p.deps.Client.IsConnected() {
		return ErrNotConnected
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", topic, err)
	}
	if err := p.deps.Client.Publish(topic, payload, p.cfg.QoS, retained); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// Start begins periodic state and health publishing and the queue worker.
// Call Stop to end them.
func (p *Publisher) Start(ctx context.Context) {
	if err := p.PublishHealth(HealthStarting); err != nil {
		p.logWarn("failed to publish starting health", "error", err)
	}
	p.wg.Add(2)
	go p.loop(ctx)
	go p.drain(ctx)
}

func (p *Publisher) loop(ctx context.Context) {
	defer p.wg.Done()

	states := time.NewTicker(p.cfg.PublishInterval)
	defer states.Stop()
	health := time.NewTicker(p.cfg.HealthInterval)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-states.C:
			if n, err := p.PublishStates(); err != nil {
				p.logWarn("state publish failed", "error", err)
			} else if n > 0 {
				p.logDebug("states published", "count", n)
			}
		case <-health.C:
			if err := p.PublishHealth(""); err != nil {
				p.logWarn("health publish failed", "error", err)
			}
		}
	}
}

// Stop ends the publishing loop and the queue worker, then announces the
// bridge offline. Events still queued are discarded. Safe to call multiple
// times.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()

		//nolint:errcheck // best effort during shutdown
		p.PublishHealth(HealthStopping)
		if p.deps.Client.IsConnected() {
			//nolint:errcheck // best effort during shutdown
			p.deps.Client.Publish(p.cfg.Topics.Status(), []byte(mqtt.PayloadOffline), p.cfg.QoS, true)
		}
	})
}

func (p *Publisher) logDebug(msg string, kv ...any) {
	if p.deps.Logger != nil {
		p.deps.Logger.Debug(msg, kv...)
	}
}

func (p *Publisher) logInfo(msg string, kv ...any) {
	if p.deps.Logger != nil {
		p.deps.Logger.Info(msg, kv...)
	}
}

func (p *Publisher) logWarn(msg string, kv ...any) {
	if p.deps.Logger != nil {
		p.deps.Logger.Warn(msg, kv...)
	}
}
