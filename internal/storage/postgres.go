package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Database string `toml:"database"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	MaxConns int32  `toml:"max_conns"`
}

// PostgresDB wraps a PostgreSQL/PostGIS connection pool.
type PostgresDB struct {
	pool *pgxpool.Pool
}

// OpenPostgres opens a connection pool to PostgreSQL.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresDB, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MaxConns = 10
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	// Test the connection.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

// Close closes the PostgreSQL connection pool.
func (d *PostgresDB) Close() {
	d.pool.Close()
}

// Ping checks that the database is reachable.
func (d *PostgresDB) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

// CreateSchema creates the PostGIS extension and the tracking tables.
func (d *PostgresDB) CreateSchema(ctx context.Context) error {
	schema := `
	CREATE EXTENSION IF NOT EXISTS postgis;

	CREATE TABLE IF NOT EXISTS aircraft (
		id              BIGSERIAL PRIMARY KEY,
		hex_icao        TEXT NOT NULL UNIQUE,
		registration    TEXT,
		aircraft_type   TEXT,
		description     TEXT,
		operator        TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS flight_positions (
		id              BIGSERIAL PRIMARY KEY,
		aircraft_id     BIGINT NOT NULL REFERENCES aircraft(id),
		flight          TEXT,
		position        GEOMETRY(POINTZ, 4326) NOT NULL,
		alt_baro        INTEGER,
		alt_geom        INTEGER,
		ground_speed    DOUBLE PRECISION,
		track           DOUBLE PRECISION,
		vertical_rate   INTEGER,
		squawk          TEXT,
		category        TEXT,
		on_ground       BOOLEAN NOT NULL DEFAULT FALSE,
		seen_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_positions_aircraft_seen ON flight_positions(aircraft_id, seen_at);
	CREATE INDEX IF NOT EXISTS idx_positions_seen ON flight_positions(seen_at);
	CREATE INDEX IF NOT EXISTS idx_positions_geom ON flight_positions USING GIST(position);

	CREATE TABLE IF NOT EXISTS flight_tracks (
		id              BIGSERIAL PRIMARY KEY,
		aircraft_id     BIGINT NOT NULL REFERENCES aircraft(id),
		flight          TEXT NOT NULL,
		track_line      GEOMETRY(LINESTRINGZ, 4326) NOT NULL,
		point_count     INTEGER NOT NULL DEFAULT 1,
		start_time      TIMESTAMPTZ NOT NULL,
		end_time        TIMESTAMPTZ,
		closed_at       TIMESTAMPTZ,
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_tracks_aircraft_flight ON flight_tracks(aircraft_id, flight, start_time);
	`

	_, err := d.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	// At most one open track per aircraft and flight.
	_, err = d.pool.Exec(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS uq_tracks_open ON flight_tracks(aircraft_id, flight) WHERE closed_at IS NULL`)
	if err != nil {
		return fmt.Errorf("create open track index: %w", err)
	}

	return nil
}

// Begin starts a unit of work.
func (d *PostgresDB) Begin(ctx context.Context) (Tx, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) UpsertAircraft(ctx context.Context, a AircraftUpsert) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO aircraft (hex_icao, registration, aircraft_type, description, operator, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (hex_icao) DO UPDATE SET
			registration = COALESCE(EXCLUDED.registration, aircraft.registration),
			aircraft_type = COALESCE(EXCLUDED.aircraft_type, aircraft.aircraft_type),
			description = COALESCE(EXCLUDED.description, aircraft.description),
			operator = COALESCE(EXCLUDED.operator, aircraft.operator),
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`, a.Hex, a.Registration, a.TypeCode, a.Description, a.Operator, a.SeenAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert aircraft %s: %w", a.Hex, err)
	}
	return id, nil
}

func (t *pgTx) InsertPosition(ctx context.Context, p Position) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO flight_positions (aircraft_id, flight, position, alt_baro, alt_geom, ground_speed,
			track, vertical_rate, squawk, category, on_ground, seen_at)
		VALUES ($1, $2, ST_SetSRID(ST_MakePoint($3, $4, $5), 4326), $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, p.AircraftID, p.Flight, p.Point.Lon, p.Point.Lat, p.Point.Alt, p.AltBaro, p.AltGeom, p.GroundSpeed,
		p.Track, p.VerticalRate, p.Squawk, p.Category, p.OnGround, p.SeenAt)
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

func (t *pgTx) FindOpenTrack(ctx context.Context, aircraftID int64, flight string) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		SELECT id FROM flight_tracks
		WHERE aircraft_id = $1 AND flight = $2 AND closed_at IS NULL
		ORDER BY start_time DESC LIMIT 1
	`, aircraftID, flight).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("find open track: %w", err)
	}
	return id, true, nil
}

func (t *pgTx) AppendTrackPoint(ctx context.Context, trackID int64, p Point, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE flight_tracks
		SET track_line = ST_AddPoint(track_line, ST_SetSRID(ST_MakePoint($1, $2, $3), 4326)),
			point_count = point_count + 1,
			end_time = $4,
			updated_at = $4
		WHERE id = $5
	`, p.Lon, p.Lat, p.Alt, at, trackID)
	if err != nil {
		return fmt.Errorf("append track point: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("append track point: track %d: %w", trackID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) CreateTrack(ctx context.Context, aircraftID int64, flight string, p Point, at time.Time) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO flight_tracks (aircraft_id, flight, track_line, point_count, start_time, updated_at)
		VALUES ($1, $2, ST_SetSRID(ST_MakeLine(ARRAY[ST_MakePoint($3, $4, $5)]), 4326), 1, $6, $6)
		RETURNING id
	`, aircraftID, flight, p.Lon, p.Lat, p.Alt, at).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create track: %w", err)
	}
	return id, nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// CloseIdleTracks finalises open tracks whose last extension is older than cutoff.
func (d *PostgresDB) CloseIdleTracks(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := d.pool.Exec(ctx, `
		UPDATE flight_tracks
		SET closed_at = NOW(), updated_at = NOW()
		WHERE closed_at IS NULL AND COALESCE(end_time, start_time) < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("close idle tracks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListLatestPositions returns the most recent position of each aircraft,
// newest first.
func (d *PostgresDB) ListLatestPositions(ctx context.Context, limit, offset int) ([]FlightSummary, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT * FROM (
			SELECT DISTINCT ON (p.aircraft_id)
				p.id, p.aircraft_id, a.hex_icao, a.registration, a.aircraft_type, a.operator, p.flight,
				ST_Y(p.position), ST_X(p.position), p.alt_baro, p.ground_speed, p.track, p.on_ground, p.seen_at
			FROM flight_positions p
			JOIN aircraft a ON a.id = p.aircraft_id
			ORDER BY p.aircraft_id, p.seen_at DESC, p.id DESC
		) latest
		ORDER BY seen_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list latest positions: %w", err)
	}
	defer rows.Close()

	var out []FlightSummary
	for rows.Next() {
		var f FlightSummary
		if err := rows.Scan(&f.PositionID, &f.AircraftID, &f.Hex, &f.Registration, &f.TypeCode, &f.Operator, &f.Flight,
			&f.Lat, &f.Lon, &f.AltBaro, &f.GroundSpeed, &f.Track, &f.OnGround, &f.SeenAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

const pgPositionColumns = `p.id, p.aircraft_id, a.hex_icao, p.flight, ST_Y(p.position), ST_X(p.position), ST_Z(p.position),
	p.alt_baro, p.alt_geom, p.ground_speed, p.track, p.vertical_rate, p.squawk, p.category, p.on_ground, p.seen_at`

func scanPGPosition(row pgx.Row) (PositionDetail, error) {
	var p PositionDetail
	err := row.Scan(&p.ID, &p.AircraftID, &p.Hex, &p.Flight, &p.Lat, &p.Lon, &p.Alt,
		&p.AltBaro, &p.AltGeom, &p.GroundSpeed, &p.Track, &p.VerticalRate, &p.Squawk, &p.Category, &p.OnGround, &p.SeenAt)
	return p, err
}

// GetPosition returns one observation by id.
func (d *PostgresDB) GetPosition(ctx context.Context, id int64) (*PositionDetail, error) {
	p, err := scanPGPosition(d.pool.QueryRow(ctx, `
		SELECT `+pgPositionColumns+`
		FROM flight_positions p JOIN aircraft a ON a.id = p.aircraft_id
		WHERE p.id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position %d: %w", id, err)
	}
	return &p, nil
}

// ListAircraftPositions returns an aircraft's observations in time order.
func (d *PostgresDB) ListAircraftPositions(ctx context.Context, aircraftID int64, limit int) ([]PositionDetail, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT `+pgPositionColumns+`
		FROM flight_positions p JOIN aircraft a ON a.id = p.aircraft_id
		WHERE p.aircraft_id = $1
		ORDER BY p.seen_at ASC, p.id ASC
		LIMIT $2
	`, aircraftID, limit)
	if err != nil {
		return nil, fmt.Errorf("list aircraft positions: %w", err)
	}
	return collectPGPositions(rows)
}

// FindPositionsInBox returns observations since the given time inside the box.
func (d *PostgresDB) FindPositionsInBox(ctx context.Context, b Box, since time.Time, limit int) ([]PositionDetail, error) {
	// A box whose west edge is east of its east edge crosses the antimeridian.
	rows, err := d.pool.Query(ctx, `
		SELECT `+pgPositionColumns+`
		FROM flight_positions p JOIN aircraft a ON a.id = p.aircraft_id
		WHERE p.seen_at >= $1
			AND ST_Y(p.position) BETWEEN $2 AND $3
			AND CASE WHEN $4::float8 <= $5::float8
				THEN ST_X(p.position) BETWEEN $4 AND $5
				ELSE ST_X(p.position) >= $4 OR ST_X(p.position) <= $5
			END
		ORDER BY p.seen_at DESC
		LIMIT $6
	`, since, b.South, b.North, b.West, b.East, limit)
	if err != nil {
		return nil, fmt.Errorf("find positions in box: %w", err)
	}
	return collectPGPositions(rows)
}

func collectPGPositions(rows pgx.Rows) ([]PositionDetail, error) {
	defer rows.Close()
	var out []PositionDetail
	for rows.Next() {
		p, err := scanPGPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetTrack returns a stitched track with its full geometry.
func (d *PostgresDB) GetTrack(ctx context.Context, id int64) (*Track, error) {
	var t Track
	var coords string
	err := d.pool.QueryRow(ctx, `
		SELECT t.id, t.aircraft_id, a.hex_icao, t.flight,
			(ST_AsGeoJSON(t.track_line)::json)->>'coordinates',
			t.point_count, t.start_time, t.end_time, t.closed_at, t.updated_at
		FROM flight_tracks t JOIN aircraft a ON a.id = t.aircraft_id
		WHERE t.id = $1
	`, id).Scan(&t.ID, &t.AircraftID, &t.Hex, &t.Flight, &coords, &t.PointCount, &t.StartTime, &t.EndTime, &t.ClosedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get track %d: %w", id, err)
	}
	t.Points, err = parseLineCoords([]byte(coords))
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetAircraft returns the identity row for a hex identifier.
func (d *PostgresDB) GetAircraft(ctx context.Context, hex string) (*Aircraft, error) {
	var a Aircraft
	err := d.pool.QueryRow(ctx, `
		SELECT id, hex_icao, registration, aircraft_type, description, operator, created_at, updated_at
		FROM aircraft WHERE hex_icao = $1
	`, hex).Scan(&a.ID, &a.Hex, &a.Registration, &a.TypeCode, &a.Description, &a.Operator, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get aircraft %s: %w", hex, err)
	}
	return &a, nil
}

// ListTracks returns an aircraft's tracks, most recently started first.
func (d *PostgresDB) ListTracks(ctx context.Context, aircraftID int64) ([]Track, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT t.id, t.aircraft_id, a.hex_icao, t.flight,
			(ST_AsGeoJSON(t.track_line)::json)->>'coordinates',
			t.point_count, t.start_time, t.end_time, t.closed_at, t.updated_at
		FROM flight_tracks t JOIN aircraft a ON a.id = t.aircraft_id
		WHERE t.aircraft_id = $1
		ORDER BY t.start_time DESC, t.id DESC
	`, aircraftID)
	if err != nil {
		return nil, fmt.Errorf("list tracks: %w", err)
	}
	defer rows.Close()

	var out []Track
	for rows.Next() {
		var t Track
		var coords string
		if err := rows.Scan(&t.ID, &t.AircraftID, &t.Hex, &t.Flight, &coords, &t.PointCount,
			&t.StartTime, &t.EndTime, &t.ClosedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if t.Points, err = parseLineCoords([]byte(coords)); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
