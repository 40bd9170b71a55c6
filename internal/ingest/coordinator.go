// Package ingest turns decoded position reports into durable aircraft,
// position and track rows, one atomic unit of work per report.
package ingest

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"miltracker/internal/adsb"
	"miltracker/internal/storage"
)

// Store opens units of work.
type Store interface {
	Begin(ctx context.Context) (storage.Tx, error)
}

// Coordinator runs resolve, write and stitch for one record inside a single
// unit of work.
type Coordinator struct {
	store    Store
	metrics  Metrics
	logger   *zap.Logger
	resolver *Resolver
	writer   *PositionWriter
	stitcher *Stitcher
}

// NewCoordinator creates a coordinator. A nil metrics sink counts nothing.
func NewCoordinator(store Store, metrics Metrics, logger *zap.Logger) *Coordinator {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	c := &Coordinator{
		store:   store,
		metrics: metrics,
		logger:  logger,
	}
	return c.WithClock(func() time.Time { return time.Now().UTC() })
}

// WithClock replaces the clock used to stamp rows.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.resolver = NewResolver(now)
	c.writer = NewPositionWriter(now)
	c.stitcher = NewStitcher(now)
	return c
}

// Ingest persists one record. Records without a position are skipped with
// no store access. Any failure rolls back the whole unit; nothing is retried.
func (c *Coordinator) Ingest(ctx context.Context, rec *adsb.Record) Outcome {
	if !rec.HasPosition() {
		c.metrics.Skipped()
		c.logger.Debug("skipping record without position", zap.String("hex", rec.Hex))
		return Outcome{Status: StatusSkippedNoPosition, Hex: rec.Hex}
	}

	// A started unit always runs to commit or rollback, even during shutdown.
	ctx = context.WithoutCancel(ctx)

	if err := c.ingest(ctx, rec); err != nil {
		step := ""
		var pe *PersistenceError
		if errors.As(err, &pe) {
			step = pe.Step
		}
		c.metrics.Failed(step)
		c.logger.Warn("ingest failed", zap.String("hex", rec.Hex), zap.Error(err))
		return Outcome{Status: StatusFailed, Hex: rec.Hex, Err: err}
	}

	c.metrics.Ingested()
	return Outcome{Status: StatusIngested, Hex: rec.Hex}
}

func (c *Coordinator) ingest(ctx context.Context, rec *adsb.Record) (err error) {
	tx, err := c.store.Begin(ctx)
	if err != nil {
		return &PersistenceError{Step: StepBegin, Err: err}
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			c.logger.Error("rollback failed", zap.String("hex", rec.Hex), zap.Error(rbErr))
		}
	}()

	aircraftID, err := c.resolver.Resolve(ctx, tx, rec)
	if err != nil {
		return &PersistenceError{Step: StepResolve, Err: err}
	}
	if err = c.writer.Write(ctx, tx, aircraftID, rec); err != nil {
		return &PersistenceError{Step: StepWrite, Err: err}
	}
	if err = c.stitcher.Stitch(ctx, tx, aircraftID, rec); err != nil {
		return &PersistenceError{Step: StepStitch, Err: err}
	}
	if err = tx.Commit(ctx); err != nil {
		return &PersistenceError{Step: StepCommit, Err: err}
	}
	return nil
}
