// Package consumer drives the blocking poll, process, acknowledge loop that
// feeds bus messages to an Ingester.
package consumer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"miltracker/internal/adsb"
	"miltracker/internal/bus"
	"miltracker/internal/ingest"
)

// State is the loop's current phase.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateProcessing
	StateAcknowledging
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateProcessing:
		return "processing"
	case StateAcknowledging:
		return "acknowledging"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Ingester handles one decoded record.
type Ingester interface {
	Ingest(ctx context.Context, rec *adsb.Record) ingest.Outcome
}

// Metrics receives loop-level counts. Per-event outcomes are counted by the
// Ingester.
type Metrics interface {
	Received(n int)
	DecodeFailed()
	BusError(op string)
	Acked(n int)
}

// NopMetrics discards all counts.
type NopMetrics struct{}

func (NopMetrics) Received(int)    {}
func (NopMetrics) DecodeFailed()   {}
func (NopMetrics) BusError(string) {}
func (NopMetrics) Acked(int)       {}

// Config controls polling and reconnect backoff.
type Config struct {
	BatchSize      int           `toml:"batch_size"`
	PollTimeout    time.Duration `toml:"poll_timeout"`
	BackoffInitial time.Duration `toml:"backoff_initial"`
	BackoffMax     time.Duration `toml:"backoff_max"`
}

// DefaultConfig returns the default loop settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:      500,
		PollTimeout:    500 * time.Millisecond,
		BackoffInitial: time.Second,
		BackoffMax:     30 * time.Second,
	}
}

// Loop is a single-worker consumer. Events of a batch are handled in
// delivery order and the batch is acknowledged only after every event was
// attempted.
type Loop struct {
	source   bus.Source
	ingester Ingester
	metrics  Metrics
	logger   *zap.Logger
	cfg      Config

	state    atomic.Int32
	stopping atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New creates a loop. Zero config fields take their defaults.
func New(source bus.Source, ingester Ingester, metrics Metrics, logger *zap.Logger, cfg Config) *Loop {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = def.PollTimeout
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = def.BackoffInitial
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = cfg.BackoffInitial
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Loop{
		source:   source,
		ingester: ingester,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// State returns the current phase.
func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
}

// Shutdown asks the loop to stop after the current batch. It is safe to call
// from any goroutine, more than once.
func (l *Loop) Shutdown() {
	l.stopOnce.Do(func() {
		l.stopping.Store(true)
		close(l.stopCh)
	})
}

// Done is closed once Run has returned and the source is closed.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Run polls until Shutdown is called or ctx is cancelled. Bus errors are
// retried with exponential backoff and never end the loop. The source is
// closed on return.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	defer func() {
		if err := l.source.Close(); err != nil {
			l.logger.Warn("closing bus source", zap.Error(err))
		}
		l.setState(StateStopped)
		l.logger.Info("consumer stopped")
	}()

	backoff := l.cfg.BackoffInitial
	for {
		if l.stopping.Load() || ctx.Err() != nil {
			l.setState(StateDraining)
			return nil
		}

		l.setState(StatePolling)
		msgs, err := l.source.Fetch(ctx, l.cfg.BatchSize, l.cfg.PollTimeout)

		// A partial batch delivered alongside an error is still handled.
		if len(msgs) > 0 {
			l.process(ctx, msgs)
		}

		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			cerr := &ingest.ConnectionError{Op: "fetch", Err: err}
			l.metrics.BusError("fetch")
			l.logger.Warn("bus fetch failed, backing off", zap.Error(cerr), zap.Duration("backoff", backoff))
			l.setState(StateIdle)
			l.sleep(ctx, backoff)
			backoff = min(backoff*2, l.cfg.BackoffMax)
			continue
		}
		backoff = l.cfg.BackoffInitial
		l.setState(StateIdle)
	}
}

// process handles one batch in delivery order and then acknowledges it.
func (l *Loop) process(ctx context.Context, msgs []bus.Message) {
	l.metrics.Received(len(msgs))
	l.setState(StateProcessing)
	for _, m := range msgs {
		l.handle(ctx, m)
	}

	l.setState(StateAcknowledging)
	if err := l.source.Ack(context.WithoutCancel(ctx), msgs); err != nil {
		// Unacknowledged events are redelivered; the pipeline tolerates that.
		l.metrics.BusError("ack")
		l.logger.Warn("bus ack failed", zap.Error(&ingest.ConnectionError{Op: "ack", Err: err}), zap.Int("count", len(msgs)))
		return
	}
	l.metrics.Acked(len(msgs))
}

func (l *Loop) handle(ctx context.Context, m bus.Message) {
	rec, err := adsb.Decode(m.Value)
	if err != nil {
		l.metrics.DecodeFailed()
		l.logger.Warn("dropping undecodable message", zap.ByteString("key", m.Key), zap.Error(err))
		return
	}

	out := l.ingester.Ingest(ctx, rec)
	l.logger.Debug("event handled", zap.String("hex", out.Hex), zap.Stringer("status", out.Status))
}

func (l *Loop) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	case <-l.stopCh:
	}
}
