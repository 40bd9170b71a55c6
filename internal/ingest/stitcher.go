package ingest

import (
	"context"
	"time"

	"miltracker/internal/adsb"
	"miltracker/internal/storage"
)

// Stitcher extends the open track of an (aircraft, flight) pair or opens a
// new one. Records without a flight leave tracks untouched.
type Stitcher struct {
	now func() time.Time
}

// NewStitcher creates a stitcher using the given clock.
func NewStitcher(now func() time.Time) *Stitcher {
	return &Stitcher{now: now}
}

// Stitch adds the record's point to a track inside tx.
func (s *Stitcher) Stitch(ctx context.Context, tx storage.Tx, aircraftID int64, rec *adsb.Record) error {
	if rec.Flight == nil {
		return nil
	}
	flight := *rec.Flight
	p := pointOf(rec)
	at := s.now()

	trackID, ok, err := tx.FindOpenTrack(ctx, aircraftID, flight)
	if err != nil {
		return err
	}
	if ok {
		return tx.AppendTrackPoint(ctx, trackID, p, at)
	}
	_, err = tx.CreateTrack(ctx, aircraftID, flight, p, at)
	return err
}
