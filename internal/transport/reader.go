package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultReconnectInterval is the first delay after a failure.
	DefaultReconnectInterval = 5 * time.Second

	// DefaultMaxReconnectInterval caps the backoff.
	DefaultMaxReconnectInterval = 2 * time.Minute

	backoffFactor = 1.5

	// readBufferSize comfortably exceeds what 2400 baud delivers per read.
	readBufferSize = 256
)

// Sink receives each chunk in arrival order. It runs on the reader
// goroutine and must not retain chunk.
type Sink func(chunk []byte)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Observer receives connection events. *metrics.Metrics satisfies it.
type Observer interface {
	ObserveReconnect()
	SetConnected(connected bool)
}

// Config controls reconnect behaviour.
type Config struct {
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
}

// Stats holds reader counters.
type Stats struct {
	Source          string    `json:"source"`
	BytesRead       uint64    `json:"bytes_read"`
	Chunks          uint64    `json:"chunks"`
	ReconnectsTotal uint64    `json:"reconnects_total"`
	ErrorsTotal     uint64    `json:"errors_total"`
	Connected       bool      `json:"connected"`
	LastActivity    time.Time `json:"last_activity"`
}

// Reader pulls bytes from a Source and pushes them into a Sink.
//
// Thread Safety:
//   - Run must be called once; Stats and IsConnected are safe concurrently.
type Reader struct {
	source Source
	cfg    Config

	logger   Logger
	observer Observer
	mu       sync.RWMutex

	connected    atomic.Bool
	opened       atomic.Bool // set after the first successful open
	bytesRead    atomic.Uint64
	chunks       atomic.Uint64
	reconnects   atomic.Uint64
	errorsTotal  atomic.Uint64
	lastActivity atomic.Int64 // unix nanos

	sleep func(ctx context.Context, d time.Duration) bool
}

// NewReader returns a reader for source. Zero intervals take the defaults.
func NewReader(source Source, cfg Config) *Reader {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.MaxReconnectInterval <= 0 {
		cfg.MaxReconnectInterval = DefaultMaxReconnectInterval
	}
	if cfg.MaxReconnectInterval < cfg.ReconnectInterval {
		cfg.MaxReconnectInterval = cfg.ReconnectInterval
	}
	return &Reader{source: source, cfg: cfg, sleep: sleepCtx}
}

// SetLogger sets the logger.
func (r *Reader) SetLogger(logger Logger) {
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// SetObserver sets the connection event observer.
func (r *Reader) SetObserver(o Observer) {
	r.mu.Lock()
	r.observer = o
	r.mu.Unlock()
}

// Run reads until ctx is cancelled, reopening the source after failures.
// It returns nil on cancellation.
func (r *Reader) Run(ctx context.Context, sink Sink) error {
	backoff := r.cfg.ReconnectInterval

	for {
		if ctx.Err() != nil {
			return nil
		}

		stream, err := r.source.Open(ctx)
		if err != nil {
			r.errorsTotal.Add(1)
			r.logWarn("transport open failed", "source", r.source.String(), "error", err, "retry_in", backoff.String())
			if !r.sleep(ctx, backoff) {
				return nil
			}
			backoff = r.nextBackoff(backoff)
			continue
		}

		if r.opened.Swap(true) {
			r.reconnects.Add(1)
			r.observe(func(o Observer) { o.ObserveReconnect() })
		}
		r.setConnected(true)
		r.logInfo("transport connected", "source", r.source.String())
		backoff = r.cfg.ReconnectInterval

		err = r.readLoop(ctx, stream, sink)
		stream.Close() //nolint:errcheck // best effort
		r.setConnected(false)

		if ctx.Err() != nil {
			return nil
		}
		r.errorsTotal.Add(1)
		r.logWarn("transport read failed", "source", r.source.String(), "error", err, "retry_in", backoff.String())
		if !r.sleep(ctx, backoff) {
			return nil
		}
		backoff = r.nextBackoff(backoff)
	}
}

// readLoop returns when the stream fails or ctx is cancelled.
func (r *Reader) readLoop(ctx context.Context, stream Stream, sink Sink) error {
	// Unblock a read stuck past its timeout when the context ends.
	stop := context.AfterFunc(ctx, func() { stream.Close() }) //nolint:errcheck // closed again by Run
	defer stop()

	buf := make([]byte, readBufferSize)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			r.bytesRead.Add(uint64(n))
			r.chunks.Add(1)
			r.lastActivity.Store(time.Now().UnixNano())
			sink(buf[:n])
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch {
		case err == nil:
		case isTimeout(err):
		case errors.Is(err, io.EOF):
			return io.ErrUnexpectedEOF
		default:
			return err
		}
	}
}

func (r *Reader) nextBackoff(d time.Duration) time.Duration {
	next := time.Duration(float64(d) * backoffFactor)
	if next > r.cfg.MaxReconnectInterval {
		next = r.cfg.MaxReconnectInterval
	}
	return next
}

func (r *Reader) setConnected(v bool) {
	r.connected.Store(v)
	r.observe(func(o Observer) { o.SetConnected(v) })
}

// IsConnected reports whether the source is currently open.
func (r *Reader) IsConnected() bool {
	return r.connected.Load()
}

// HealthCheck returns ErrNotConnected while the source is closed.
func (r *Reader) HealthCheck(_ context.Context) error {
	if !r.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Stats returns current counters.
func (r *Reader) Stats() Stats {
	s := Stats{
		Source:          r.source.String(),
		BytesRead:       r.bytesRead.Load(),
		Chunks:          r.chunks.Load(),
		ReconnectsTotal: r.reconnects.Load(),
		ErrorsTotal:     r.errorsTotal.Load(),
		Connected:       r.IsConnected(),
	}
	if ns := r.lastActivity.Load(); ns != 0 {
		s.LastActivity = time.Unix(0, ns)
	}
	return s
}

func (r *Reader) observe(fn func(Observer)) {
	r.mu.RLock()
	o := r.observer
	r.mu.RUnlock()
	if o != nil {
		fn(o)
	}
}

func (r *Reader) logInfo(msg string, kv ...any) {
	r.mu.RLock()
	logger := r.logger
	r.mu.RUnlock()
	if logger != nil {
		logger.Info(msg, kv...)
	}
}

func (r *Reader) logWarn(msg string, kv ...any) {
	r.mu.RLock()
	logger := r.logger
	r.mu.RUnlock()
	if logger != nil {
		logger.Warn(msg, kv...)
	}
}

// sleepCtx waits d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
