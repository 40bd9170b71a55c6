// Package sweep finalises flight tracks that have stopped receiving points.
package sweep

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Closer closes open tracks last extended before cutoff.
type Closer interface {
	CloseIdleTracks(ctx context.Context, cutoff time.Time) (int64, error)
}

// Metrics counts closed tracks.
type Metrics interface {
	TracksClosed(n int64)
}

type nopMetrics struct{}

func (nopMetrics) TracksClosed(int64) {}

// Sweeper periodically closes idle tracks. It runs outside the ingestion
// unit of work; a later sighting of the same flight starts a new track.
type Sweeper struct {
	closer   Closer
	interval time.Duration
	idle     time.Duration
	metrics  Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// DefaultInterval is used when New is given a non-positive interval.
const DefaultInterval = time.Minute

// New creates a sweeper. metrics may be nil.
func New(closer Closer, interval, idle time.Duration, metrics Metrics, logger *zap.Logger) *Sweeper {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		closer:   closer,
		interval: interval,
		idle:     idle,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Sweep runs one pass and returns the number of tracks closed.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.idle)
	n, err := s.closer.CloseIdleTracks(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.metrics.TracksClosed(n)
	if n > 0 {
		s.logger.Info("closed idle tracks", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("track sweep failed", zap.Error(err))
			}
		}
	}
}
