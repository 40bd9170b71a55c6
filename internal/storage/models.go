package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by read queries when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// Point is a 3D position: longitude, latitude (WGS84 degrees) and altitude in feet.
type Point struct {
	Lon float64
	Lat float64
	Alt float64
}

// AircraftUpsert carries the identity attributes of one sighting. Nil fields
// leave the stored value unchanged.
type AircraftUpsert struct {
	Hex          string
	Registration *string
	TypeCode     *string
	Description  *string
	Operator     *string
	SeenAt       time.Time
}

// Aircraft is a stored identity row.
type Aircraft struct {
	ID           int64     `json:"id"`
	Hex          string    `json:"hex_icao"`
	Registration *string   `json:"registration,omitempty"`
	TypeCode     *string   `json:"aircraft_type,omitempty"`
	Description  *string   `json:"description,omitempty"`
	Operator     *string   `json:"operator,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// MergeAircraft applies the identity merge rule: an incoming attribute
// replaces the stored one unless it is nil. The hex key never changes.
// The SQL backends apply the same rule with COALESCE in their upsert.
func MergeAircraft(existing Aircraft, incoming AircraftUpsert) Aircraft {
	out := existing
	if out.Hex == "" {
		out.Hex = incoming.Hex
	}
	out.Registration = coalesce(incoming.Registration, existing.Registration)
	out.TypeCode = coalesce(incoming.TypeCode, existing.TypeCode)
	out.Description = coalesce(incoming.Description, existing.Description)
	out.Operator = coalesce(incoming.Operator, existing.Operator)
	if !incoming.SeenAt.IsZero() {
		out.UpdatedAt = incoming.SeenAt
	}
	return out
}

func coalesce(a, b *string) *string {
	if a != nil {
		return a
	}
	return b
}

// Position is one observation to append.
type Position struct {
	AircraftID   int64
	Flight       *string
	Point        Point
	AltBaro      *int
	AltGeom      *int
	GroundSpeed  *float64
	Track        *float64
	VerticalRate *int
	Squawk       *string
	Category     *string
	OnGround     bool
	SeenAt       time.Time
}

// Tx is one unit of work against a durable store. Every write of a single
// event goes through the same Tx and becomes visible only on Commit.
type Tx interface {
	// UpsertAircraft inserts the aircraft or merges into the existing row and
	// returns its durable id.
	UpsertAircraft(ctx context.Context, a AircraftUpsert) (int64, error)
	InsertPosition(ctx context.Context, p Position) error
	// FindOpenTrack returns the most recently started open track for the
	// aircraft and flight.
	FindOpenTrack(ctx context.Context, aircraftID int64, flight string) (int64, bool, error)
	// AppendTrackPoint appends p to the track geometry in the store.
	AppendTrackPoint(ctx context.Context, trackID int64, p Point, at time.Time) error
	CreateTrack(ctx context.Context, aircraftID int64, flight string, p Point, at time.Time) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// FlightSummary is the latest position of one aircraft joined with its identity.
type FlightSummary struct {
	PositionID   int64     `json:"position_id"`
	AircraftID   int64     `json:"aircraft_id"`
	Hex          string    `json:"hex_icao"`
	Registration *string   `json:"registration,omitempty"`
	TypeCode     *string   `json:"aircraft_type,omitempty"`
	Operator     *string   `json:"operator,omitempty"`
	Flight       *string   `json:"flight,omitempty"`
	Lat          float64   `json:"lat"`
	Lon          float64   `json:"lon"`
	AltBaro      *int      `json:"alt_baro,omitempty"`
	GroundSpeed  *float64  `json:"ground_speed,omitempty"`
	Track        *float64  `json:"track,omitempty"`
	OnGround     bool      `json:"on_ground"`
	SeenAt       time.Time `json:"seen_at"`
}

// PositionDetail is a stored observation.
type PositionDetail struct {
	ID           int64     `json:"id"`
	AircraftID   int64     `json:"aircraft_id"`
	Hex          string    `json:"hex_icao"`
	Flight       *string   `json:"flight,omitempty"`
	Lat          float64   `json:"lat"`
	Lon          float64   `json:"lon"`
	Alt          float64   `json:"alt"`
	AltBaro      *int      `json:"alt_baro,omitempty"`
	AltGeom      *int      `json:"alt_geom,omitempty"`
	GroundSpeed  *float64  `json:"ground_speed,omitempty"`
	Track        *float64  `json:"track,omitempty"`
	VerticalRate *int      `json:"vertical_rate,omitempty"`
	Squawk       *string   `json:"squawk,omitempty"`
	Category     *string   `json:"category,omitempty"`
	OnGround     bool      `json:"on_ground"`
	SeenAt       time.Time `json:"seen_at"`
}

// Track is a stitched flight track.
type Track struct {
	ID         int64
	AircraftID int64
	Hex        string
	Flight     string
	Points     []Point
	PointCount int
	StartTime  time.Time
	EndTime    *time.Time
	ClosedAt   *time.Time
	UpdatedAt  time.Time
}

// Open reports whether the track can still be extended.
func (t *Track) Open() bool {
	return t.ClosedAt == nil
}

// Box is a geographic bounding box in degrees.
type Box struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// Validate checks that the box is well formed.
func (b Box) Validate() error {
	switch {
	case b.North < -90 || b.North > 90 || b.South < -90 || b.South > 90:
		return fmt.Errorf("latitude out of range")
	case b.East < -180 || b.East > 180 || b.West < -180 || b.West > 180:
		return fmt.Errorf("longitude out of range")
	case b.North <= b.South:
		return fmt.Errorf("north must be greater than south")
	}
	return nil
}

// Reader is the read side used by the watcher API.
type Reader interface {
	Ping(ctx context.Context) error
	GetAircraft(ctx context.Context, hex string) (*Aircraft, error)
	ListLatestPositions(ctx context.Context, limit, offset int) ([]FlightSummary, error)
	GetPosition(ctx context.Context, id int64) (*PositionDetail, error)
	ListAircraftPositions(ctx context.Context, aircraftID int64, limit int) ([]PositionDetail, error)
	FindPositionsInBox(ctx context.Context, b Box, since time.Time, limit int) ([]PositionDetail, error)
	GetTrack(ctx context.Context, id int64) (*Track, error)
	ListTracks(ctx context.Context, aircraftID int64) ([]Track, error)
}

// parseLineCoords decodes a coordinate array of [lon, lat, alt] triples, as
// produced by ST_AsGeoJSON or stored by the SQLite backend.
func parseLineCoords(data []byte) ([]Point, error) {
	var coords [][]float64
	if err := json.Unmarshal(data, &coords); err != nil {
		return nil, fmt.Errorf("decode track coordinates: %w", err)
	}
	points := make([]Point, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		p := Point{Lon: c[0], Lat: c[1]}
		if len(c) > 2 {
			p.Alt = c[2]
		}
		points = append(points, p)
	}
	return points, nil
}
