// Package pipeline runs the decode chain for one bus.
//
// Feed pushes a chunk of raw bus bytes through
//
//	framer → parser → decoder → aggregator → evaluator
//
// synchronously and in arrival order. Feed never waits for more input; the
// transport calls it once per read. Subscribers are called inline, each in
// its own recover, so a failing consumer cannot stall ingestion.
package pipeline

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/ebus-bridge/internal/alert"
	"github.com/nerrad567/ebus-bridge/internal/ebus"
	"github.com/nerrad567/ebus-bridge/internal/infrastructure/metrics"
	"github.com/nerrad567/ebus-bridge/internal/sensor"
)

// Logger defines the logging interface used by the Pipeline.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Defaults.
const (
	DefaultRecentMessages = 100
	diagInterval          = 10 * time.Second
	diagBurst             = 5
)

// Config holds protocol settings.
type Config struct {
	Polynomial ebus.Polynomial
	Policy     ebus.CRCPolicy

	// MaxBuffer and TailWindow bound the framer; zero means the framer
	// defaults.
	MaxBuffer  int
	TailWindow int

	// RecentMessages is the size of the recent message ring.
	RecentMessages int
}

// Deps holds the stages and collaborators of a pipeline.
type Deps struct {
	Decoder    *ebus.Decoder
	Aggregator *sensor.Aggregator
	Evaluator  *alert.Evaluator
	Metrics    *metrics.Metrics
	Logger     Logger
	Now        func() time.Time
}

// MessageHandler receives every decoded message, known or not, valid or not.
type MessageHandler func(ebus.Message)

// SensorHandler receives the readings written by one message.
type SensorHandler func([]sensor.Value)

// AlertChangeHandler receives the active alert set after it changed.
type AlertChangeHandler func([]alert.Alert)

// Stats summarises what the pipeline has processed.
type Stats struct {
	Bytes            uint64            `json:"bytes"`
	Frames           uint64            `json:"frames"`
	Telegrams        uint64            `json:"telegrams"`
	ValidTelegrams   uint64            `json:"valid_telegrams"`
	InvalidTelegrams uint64            `json:"invalid_telegrams"`
	RejectedFrames   uint64            `json:"rejected_frames"`
	DesyncTrims      uint64            `json:"desync_trims"`
	BytesDropped     uint64            `json:"bytes_dropped"`
	BufferedBytes    int               `json:"buffered_bytes"`
	SensorRejections uint64            `json:"sensor_rejections"`
	SubscriberPanics uint64            `json:"subscriber_panics"`
	Decoder          ebus.DecoderStats `json:"decoder"`
	LastTelegramAt   time.Time         `json:"last_telegram_at"`
}

// Pipeline is the ingestion chain. Feed is serialised; read methods may be
// called from any goroutine.
type Pipeline struct {
	feedMu sync.Mutex
	framer *ebus.Framer
	parser *ebus.Parser

	decoder    *ebus.Decoder
	aggregator *sensor.Aggregator
	evaluator  *alert.Evaluator
	metrics    *metrics.Metrics
	logger     Logger
	diag       *rate.Limiter
	now        func() time.Time

	subMu           sync.RWMutex
	messageHandlers []MessageHandler
	sensorHandlers  []SensorHandler
	alertHandlers   []AlertChangeHandler
	raisedHandlers  []alert.Handler

	statsMu        sync.RWMutex
	stats          Stats
	lastTrims      uint64
	lastEvalPanics uint64

	recent *ring
}

// New creates a pipeline. Decoder, Aggregator and Evaluator are required.
func New(cfg Config, deps Deps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.Polynomial == 0 {
		cfg.Polynomial = ebus.PolyCanonical
	}
	if cfg.RecentMessages <= 0 {
		cfg.RecentMessages = DefaultRecentMessages
	}

	return &Pipeline{
		framer:     ebus.NewFramer(cfg.MaxBuffer, cfg.TailWindow),
		parser:     ebus.NewParser(ebus.NewChecksum(cfg.Polynomial), cfg.Policy),
		decoder:    deps.Decoder,
		aggregator: deps.Aggregator,
		evaluator:  deps.Evaluator,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		diag:       rate.NewLimiter(rate.Every(diagInterval), diagBurst),
		now:        deps.Now,
		recent:     newRing(cfg.RecentMessages),
	}
}

// Aggregator returns the sensor state.
func (p *Pipeline) Aggregator() *sensor.Aggregator { return p.aggregator }

// Evaluator returns the alert evaluator.
func (p *Pipeline) Evaluator() *alert.Evaluator { return p.evaluator }

// OnMessage registers a handler for decoded messages.
func (p *Pipeline) OnMessage(h MessageHandler) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	p.messageHandlers = append(p.messageHandlers, h)
}

// OnSensors registers a handler for sensor updates.
func (p *Pipeline) OnSensors(h SensorHandler) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	p.sensorHandlers = append(p.sensorHandlers, h)
}

// OnAlert registers a handler for each raised alert. Prefer it over
// alert.Evaluator.Subscribe: a panic here is counted like any other
// subscriber panic.
func (p *Pipeline) OnAlert(h alert.Handler) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	p.raisedHandlers = append(p.raisedHandlers, h)
}

// OnAlertsChanged registers a handler for changes of the active alert set.
func (p *Pipeline) OnAlertsChanged(h AlertChangeHandler) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	p.alertHandlers = append(p.alertHandlers, h)
}

// Feed processes a chunk of raw bus bytes and returns the messages decoded
// from it, in order. Handlers run before Feed returns and must not call
// Feed themselves.
func (p *Pipeline) Feed(chunk []byte) []ebus.Message {
	p.feedMu.Lock()
	defer p.feedMu.Unlock()

	p.metrics.ObserveBytes(len(chunk))
	frames := p.framer.Feed(chunk)

	fs := p.framer.Stats()
	newTrims := fs.DesyncTrims - p.lastTrims
	p.lastTrims = fs.DesyncTrims
	p.metrics.ObserveFrames(len(frames), newTrims)
	if newTrims > 0 && p.diag.Allow() {
		p.logger.Warn("bus stream desynchronised, buffer trimmed",
			"trims", fs.DesyncTrims, "bytes_dropped", fs.BytesDropped)
	}

	p.statsMu.Lock()
	p.stats.Bytes += uint64(len(chunk))
	p.stats.Frames = fs.Frames
	p.stats.DesyncTrims = fs.DesyncTrims
	p.stats.BytesDropped = fs.BytesDropped
	p.stats.BufferedBytes = p.framer.Pending()
	p.statsMu.Unlock()

	var out []ebus.Message
	for _, frame := range frames {
		if msg, ok := p.process(frame); ok {
			out = append(out, msg)
		}
	}
	return out
}

func (p *Pipeline) process(frame []byte) (ebus.Message, bool) {
	now := p.now()
	t, ok := p.parser.Parse(frame, now)
	p.metrics.ObserveTelegram(ok, t.Valid)
	if !ok {
		p.statsMu.Lock()
		p.stats.RejectedFrames++
		p.statsMu.Unlock()
		if p.diag.Allow() {
			p.logger.Debug("frame rejected", "length", len(frame))
		}
		return ebus.Message{}, false
	}

	p.statsMu.Lock()
	p.stats.Telegrams++
	if t.Valid {
		p.stats.ValidTelegrams++
	} else {
		p.stats.InvalidTelegrams++
	}
	p.stats.LastTelegramAt = now
	p.statsMu.Unlock()

	if !t.Valid && p.diag.Allow() {
		p.logger.Debug("checksum mismatch", "telegram", t.String())
	}

	msg := p.decoder.Decode(t)
	p.metrics.ObserveMessage(msg.Known())
	if !msg.Known() && p.diag.Allow() {
		p.logger.Debug("unknown command", "command", msg.Command.String(), "source", msg.SourceName)
	}
	p.recent.push(msg)
	p.publishMessage(msg)

	// Invalid telegrams are published for visibility but never change state.
	if !msg.Valid {
		return msg, true
	}

	res := p.aggregator.Update(msg)
	if n := len(res.Rejected); n > 0 {
		p.metrics.ObserveRejections(n)
	}
	if len(res.Updated) > 0 {
		p.publishSensors(res.Updated)
		p.evaluate(p.evaluator.Evaluate(p.aggregator.GetAll()))
	}
	return msg, true
}

// CheckStaleness runs the evaluator's staleness check against the raw
// aggregator entries. The bridge calls it periodically.
func (p *Pipeline) CheckStaleness() alert.Outcome {
	p.feedMu.Lock()
	defer p.feedMu.Unlock()

	out := p.evaluator.CheckStaleness(p.aggregator.Entries())
	p.evaluate(out)
	return out
}

func (p *Pipeline) evaluate(out alert.Outcome) {
	p.countEvaluatorPanics()
	for _, a := range out.Raised {
		p.metrics.ObserveAlert(string(a.Severity))
		p.logger.Warn("alert raised", "key", a.Key, "severity", a.Severity, "value", a.Value, "message", a.Message)
		p.publishRaised(a)
	}
	for _, a := range out.Cleared {
		p.logger.Info("alert cleared", "key", a.Key)
	}
	if !out.Changed() {
		return
	}
	active := p.evaluator.Active()
	p.metrics.SetActiveAlerts(len(active))
	p.publishAlerts(active)
}

// countEvaluatorPanics folds panics of handlers subscribed directly to the
// evaluator into the subscriber panic count. Called with feedMu held.
func (p *Pipeline) countEvaluatorPanics() {
	n := p.evaluator.HandlerPanics()
	if n <= p.lastEvalPanics {
		return
	}
	delta := n - p.lastEvalPanics
	p.lastEvalPanics = n

	p.statsMu.Lock()
	p.stats.SubscriberPanics += delta
	p.statsMu.Unlock()
	for range delta {
		p.metrics.ObservePanic()
	}
}

// Recent returns up to n of the most recent decoded messages, newest first.
func (p *Pipeline) Recent(n int) []ebus.Message {
	return p.recent.last(n)
}

// Stats returns a snapshot of the processing counters.
func (p *Pipeline) Stats() Stats {
	p.statsMu.RLock()
	s := p.stats
	p.statsMu.RUnlock()
	s.Decoder = p.decoder.Stats()
	s.SensorRejections = p.aggregator.Rejections()
	return s
}

// Reset clears the framer buffer, for example after a transport reconnect.
func (p *Pipeline) Reset() {
	p.feedMu.Lock()
	defer p.feedMu.Unlock()
	p.framer.Reset()

	p.statsMu.Lock()
	p.stats.BufferedBytes = 0
	p.statsMu.Unlock()
}
