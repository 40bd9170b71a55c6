// Package poller republishes the military ADS-B feed onto the message bus.
package poller

import (
	"context"
	"time"

	"go.uber.org/zap"

	"miltracker/internal/adsb"
	"miltracker/internal/bus"
)

// Feed returns the current aircraft snapshot.
type Feed interface {
	Fetch(ctx context.Context) (*adsb.FeedResponse, error)
}

// Metrics counts poll results.
type Metrics interface {
	PollSucceeded(aircraft int)
	PollFailed()
	Published(n int)
}

type nopMetrics struct{}

func (nopMetrics) PollSucceeded(int) {}
func (nopMetrics) PollFailed()       {}
func (nopMetrics) Published(int)     {}

// Poller fetches the feed at a fixed rate and publishes each aircraft item
// verbatim, keyed by its upper-cased hex.
type Poller struct {
	feed      Feed
	publisher bus.Publisher
	interval  time.Duration
	metrics   Metrics
	logger    *zap.Logger
}

// New creates a poller. metrics may be nil.
func New(feed Feed, publisher bus.Publisher, interval time.Duration, metrics Metrics, logger *zap.Logger) *Poller {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Poller{
		feed:      feed,
		publisher: publisher,
		interval:  interval,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run polls immediately and then every interval until ctx is done. Poll
// failures are logged and the next tick proceeds.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("poll failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll performs one fetch and publish cycle and returns the number of
// messages published.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	resp, err := p.feed.Fetch(ctx)
	if err != nil {
		p.metrics.PollFailed()
		return 0, err
	}
	p.metrics.PollSucceeded(len(resp.Aircraft))

	msgs := make([]bus.Message, 0, len(resp.Aircraft))
	for _, raw := range resp.Aircraft {
		hex := adsb.PeekHex(raw)
		if hex == "" {
			p.logger.Debug("dropping feed item without hex")
			continue
		}
		msgs = append(msgs, bus.Message{Key: []byte(hex), Value: raw})
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	if err := p.publisher.Publish(ctx, msgs); err != nil {
		p.metrics.PollFailed()
		return 0, err
	}
	p.metrics.Published(len(msgs))
	p.logger.Info("published feed snapshot",
		zap.Int("total", resp.Total),
		zap.Int("published", len(msgs)))
	return len(msgs), nil
}
