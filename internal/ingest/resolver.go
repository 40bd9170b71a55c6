package ingest

import (
	"context"
	"time"

	"miltracker/internal/adsb"
	"miltracker/internal/storage"
)

// Resolver maps a hex identifier to a durable aircraft id, creating the
// aircraft on first sight and merging identity attributes afterwards.
type Resolver struct {
	now func() time.Time
}

// NewResolver creates a resolver using the given clock.
func NewResolver(now func() time.Time) *Resolver {
	return &Resolver{now: now}
}

// Resolve upserts the aircraft inside tx and returns its id.
func (r *Resolver) Resolve(ctx context.Context, tx storage.Tx, rec *adsb.Record) (int64, error) {
	return tx.UpsertAircraft(ctx, storage.AircraftUpsert{
		Hex:          rec.Hex,
		Registration: rec.Registration,
		TypeCode:     rec.TypeCode,
		Description:  rec.Description,
		Operator:     rec.Operator,
		SeenAt:       r.now(),
	})
}
