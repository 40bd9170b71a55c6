package ingest

import (
	"context"
	"time"

	"miltracker/internal/adsb"
	"miltracker/internal/storage"
)

// PositionWriter appends one observation per event.
type PositionWriter struct {
	now func() time.Time
}

// NewPositionWriter creates a writer that stamps observations with now().
func NewPositionWriter(now func() time.Time) *PositionWriter {
	return &PositionWriter{now: now}
}

// Write appends the record's observation for aircraftID inside tx.
// The record must have a position.
func (w *PositionWriter) Write(ctx context.Context, tx storage.Tx, aircraftID int64, rec *adsb.Record) error {
	return tx.InsertPosition(ctx, storage.Position{
		AircraftID:   aircraftID,
		Flight:       rec.Flight,
		Point:        pointOf(rec),
		AltBaro:      rec.AltBaro,
		AltGeom:      rec.AltGeom,
		GroundSpeed:  rec.GroundSpeed,
		Track:        rec.Track,
		VerticalRate: rec.VerticalRate,
		Squawk:       rec.Squawk,
		Category:     rec.Category,
		OnGround:     rec.OnGround,
		SeenAt:       w.now(),
	})
}

// pointOf builds the 3D point of a record: altitude is geometric feet or 0.
func pointOf(rec *adsb.Record) storage.Point {
	return storage.Point{
		Lon: *rec.Lon,
		Lat: *rec.Lat,
		Alt: float64(rec.GeomAltitude()),
	}
}
