package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteConfig holds SQLite settings.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// sqliteTimeLayout is fixed width so stored timestamps compare as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(sqliteTimeLayout, s)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SQLiteDB is a single-file store with the same unit-of-work contract as
// PostgresDB. Track geometry is kept as a JSON array of [lon, lat, alt].
type SQLiteDB struct {
	db *sql.DB
}

// OpenSQLite opens or creates a SQLite database at the given path.
// Use ":memory:" for a throwaway database.
func OpenSQLite(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection: SQLite has a single writer and an in-memory database
	// only lives as long as its connection.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent access.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

// NewSQLite wraps an existing database handle.
func NewSQLite(db *sql.DB) *SQLiteDB {
	return &SQLiteDB{db: db}
}

// Close closes the database connection.
func (d *SQLiteDB) Close() error {
	return d.db.Close()
}

// Ping checks that the database is reachable.
func (d *SQLiteDB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// CreateSchema creates the database tables and indices.
func (d *SQLiteDB) CreateSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS aircraft (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		hex_icao TEXT NOT NULL UNIQUE,
		registration TEXT,
		aircraft_type TEXT,
		description TEXT,
		operator TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS flight_positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		aircraft_id INTEGER NOT NULL REFERENCES aircraft(id),
		flight TEXT,
		lon REAL NOT NULL,
		lat REAL NOT NULL,
		alt REAL NOT NULL DEFAULT 0,
		alt_baro INTEGER,
		alt_geom INTEGER,
		ground_speed REAL,
		track REAL,
		vertical_rate INTEGER,
		squawk TEXT,
		category TEXT,
		on_ground INTEGER NOT NULL DEFAULT 0,
		seen_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_positions_aircraft_seen ON flight_positions(aircraft_id, seen_at);
	CREATE INDEX IF NOT EXISTS idx_positions_seen ON flight_positions(seen_at);

	CREATE TABLE IF NOT EXISTS flight_tracks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		aircraft_id INTEGER NOT NULL REFERENCES aircraft(id),
		flight TEXT NOT NULL,
		track_line TEXT NOT NULL,
		point_count INTEGER NOT NULL DEFAULT 1,
		start_time TEXT NOT NULL,
		end_time TEXT,
		closed_at TEXT,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tracks_aircraft_flight ON flight_tracks(aircraft_id, flight, start_time);
	CREATE UNIQUE INDEX IF NOT EXISTS uq_tracks_open ON flight_tracks(aircraft_id, flight) WHERE closed_at IS NULL;
	`

	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Begin starts a unit of work.
func (d *SQLiteDB) Begin(ctx context.Context) (Tx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &sqliteTx{tx: tx}, nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) UpsertAircraft(ctx context.Context, a AircraftUpsert) (int64, error) {
	var id int64
	seen := formatTime(a.SeenAt)
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO aircraft (hex_icao, registration, aircraft_type, description, operator, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (hex_icao) DO UPDATE SET
			registration = COALESCE(excluded.registration, aircraft.registration),
			aircraft_type = COALESCE(excluded.aircraft_type, aircraft.aircraft_type),
			description = COALESCE(excluded.description, aircraft.description),
			operator = COALESCE(excluded.operator, aircraft.operator),
			updated_at = excluded.updated_at
		RETURNING id
	`, a.Hex, a.Registration, a.TypeCode, a.Description, a.Operator, seen, seen).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert aircraft %s: %w", a.Hex, err)
	}
	return id, nil
}

func (t *sqliteTx) InsertPosition(ctx context.Context, p Position) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO flight_positions (aircraft_id, flight, lon, lat, alt, alt_baro, alt_geom, ground_speed,
			track, vertical_rate, squawk, category, on_ground, seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.AircraftID, p.Flight, p.Point.Lon, p.Point.Lat, p.Point.Alt, p.AltBaro, p.AltGeom, p.GroundSpeed,
		p.Track, p.VerticalRate, p.Squawk, p.Category, p.OnGround, formatTime(p.SeenAt))
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

func (t *sqliteTx) FindOpenTrack(ctx context.Context, aircraftID int64, flight string) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT id FROM flight_tracks
		WHERE aircraft_id = ? AND flight = ? AND closed_at IS NULL
		ORDER BY start_time DESC LIMIT 1
	`, aircraftID, flight).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("find open track: %w", err)
	}
	return id, true, nil
}

func (t *sqliteTx) AppendTrackPoint(ctx context.Context, trackID int64, p Point, at time.Time) error {
	ts := formatTime(at)
	res, err := t.tx.ExecContext(ctx, `
		UPDATE flight_tracks
		SET track_line = json_insert(track_line, '$[#]', json_array(?, ?, ?)),
			point_count = point_count + 1,
			end_time = ?,
			updated_at = ?
		WHERE id = ?
	`, p.Lon, p.Lat, p.Alt, ts, ts, trackID)
	if err != nil {
		return fmt.Errorf("append track point: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("append track point: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("append track point: track %d: %w", trackID, ErrNotFound)
	}
	return nil
}

func (t *sqliteTx) CreateTrack(ctx context.Context, aircraftID int64, flight string, p Point, at time.Time) (int64, error) {
	ts := formatTime(at)
	var id int64
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO flight_tracks (aircraft_id, flight, track_line, point_count, start_time, updated_at)
		VALUES (?, ?, json_array(json_array(?, ?, ?)), 1, ?, ?)
		RETURNING id
	`, aircraftID, flight, p.Lon, p.Lat, p.Alt, ts, ts).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create track: %w", err)
	}
	return id, nil
}

func (t *sqliteTx) Commit(ctx context.Context) error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// CloseIdleTracks finalises open tracks whose last extension is older than cutoff.
func (d *SQLiteDB) CloseIdleTracks(ctx context.Context, cutoff time.Time) (int64, error) {
	now := formatTime(time.Now())
	res, err := d.db.ExecContext(ctx, `
		UPDATE flight_tracks
		SET closed_at = ?, updated_at = ?
		WHERE closed_at IS NULL AND COALESCE(end_time, start_time) < ?
	`, now, now, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("close idle tracks: %w", err)
	}
	return res.RowsAffected()
}

// GetAircraft returns the identity row for a hex identifier.
func (d *SQLiteDB) GetAircraft(ctx context.Context, hex string) (*Aircraft, error) {
	var a Aircraft
	var created, updated string
	err := d.db.QueryRowContext(ctx, `
		SELECT id, hex_icao, registration, aircraft_type, description, operator, created_at, updated_at
		FROM aircraft WHERE hex_icao = ?
	`, hex).Scan(&a.ID, &a.Hex, &a.Registration, &a.TypeCode, &a.Description, &a.Operator, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get aircraft %s: %w", hex, err)
	}
	if a.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListLatestPositions returns the most recent position of each aircraft,
// newest first.
func (d *SQLiteDB) ListLatestPositions(ctx context.Context, limit, offset int) ([]FlightSummary, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT p.id, p.aircraft_id, a.hex_icao, a.registration, a.aircraft_type, a.operator, p.flight,
			p.lat, p.lon, p.alt_baro, p.ground_speed, p.track, p.on_ground, p.seen_at
		FROM flight_positions p
		JOIN aircraft a ON a.id = p.aircraft_id
		WHERE p.id = (
			SELECT p2.id FROM flight_positions p2
			WHERE p2.aircraft_id = p.aircraft_id
			ORDER BY p2.seen_at DESC, p2.id DESC LIMIT 1
		)
		ORDER BY p.seen_at DESC, p.id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list latest positions: %w", err)
	}
	defer rows.Close()

	var out []FlightSummary
	for rows.Next() {
		var f FlightSummary
		var seen string
		if err := rows.Scan(&f.PositionID, &f.AircraftID, &f.Hex, &f.Registration, &f.TypeCode, &f.Operator, &f.Flight,
			&f.Lat, &f.Lon, &f.AltBaro, &f.GroundSpeed, &f.Track, &f.OnGround, &seen); err != nil {
			return nil, err
		}
		if f.SeenAt, err = parseTime(seen); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

const sqlitePositionColumns = `p.id, p.aircraft_id, a.hex_icao, p.flight, p.lat, p.lon, p.alt,
	p.alt_baro, p.alt_geom, p.ground_speed, p.track, p.vertical_rate, p.squawk, p.category, p.on_ground, p.seen_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLitePosition(row rowScanner) (PositionDetail, error) {
	var p PositionDetail
	var seen string
	err := row.Scan(&p.ID, &p.AircraftID, &p.Hex, &p.Flight, &p.Lat, &p.Lon, &p.Alt,
		&p.AltBaro, &p.AltGeom, &p.GroundSpeed, &p.Track, &p.VerticalRate, &p.Squawk, &p.Category, &p.OnGround, &seen)
	if err != nil {
		return p, err
	}
	p.SeenAt, err = parseTime(seen)
	return p, err
}

// GetPosition returns one observation by id.
func (d *SQLiteDB) GetPosition(ctx context.Context, id int64) (*PositionDetail, error) {
	p, err := scanSQLitePosition(d.db.QueryRowContext(ctx, `
		SELECT `+sqlitePositionColumns+`
		FROM flight_positions p JOIN aircraft a ON a.id = p.aircraft_id
		WHERE p.id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position %d: %w", id, err)
	}
	return &p, nil
}

// ListAircraftPositions returns an aircraft's observations in time order.
func (d *SQLiteDB) ListAircraftPositions(ctx context.Context, aircraftID int64, limit int) ([]PositionDetail, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+sqlitePositionColumns+`
		FROM flight_positions p JOIN aircraft a ON a.id = p.aircraft_id
		WHERE p.aircraft_id = ?
		ORDER BY p.seen_at ASC, p.id ASC
		LIMIT ?
	`, aircraftID, limit)
	if err != nil {
		return nil, fmt.Errorf("list aircraft positions: %w", err)
	}
	return collectSQLitePositions(rows)
}

// FindPositionsInBox returns observations since the given time inside the box.
func (d *SQLiteDB) FindPositionsInBox(ctx context.Context, b Box, since time.Time, limit int) ([]PositionDetail, error) {
	lonCond := "p.lon BETWEEN ? AND ?"
	if b.West > b.East {
		lonCond = "(p.lon >= ? OR p.lon <= ?)"
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+sqlitePositionColumns+`
		FROM flight_positions p JOIN aircraft a ON a.id = p.aircraft_id
		WHERE p.seen_at >= ? AND p.lat BETWEEN ? AND ? AND `+lonCond+`
		ORDER BY p.seen_at DESC, p.id DESC
		LIMIT ?
	`, formatTime(since), b.South, b.North, b.West, b.East, limit)
	if err != nil {
		return nil, fmt.Errorf("find positions in box: %w", err)
	}
	return collectSQLitePositions(rows)
}

func collectSQLitePositions(rows *sql.Rows) ([]PositionDetail, error) {
	defer rows.Close()
	var out []PositionDetail
	for rows.Next() {
		p, err := scanSQLitePosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const sqliteTrackColumns = `t.id, t.aircraft_id, a.hex_icao, t.flight, t.track_line, t.point_count,
	t.start_time, t.end_time, t.closed_at, t.updated_at`

func scanSQLiteTrack(row rowScanner) (Track, error) {
	var t Track
	var line, start, updated string
	var end, closed sql.NullString
	err := row.Scan(&t.ID, &t.AircraftID, &t.Hex, &t.Flight, &line, &t.PointCount, &start, &end, &closed, &updated)
	if err != nil {
		return t, err
	}
	if t.Points, err = parseLineCoords([]byte(line)); err != nil {
		return t, err
	}
	if t.StartTime, err = parseTime(start); err != nil {
		return t, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return t, err
	}
	if t.EndTime, err = parseNullTime(end); err != nil {
		return t, err
	}
	t.ClosedAt, err = parseNullTime(closed)
	return t, err
}

// GetTrack returns a stitched track with its full geometry.
func (d *SQLiteDB) GetTrack(ctx context.Context, id int64) (*Track, error) {
	t, err := scanSQLiteTrack(d.db.QueryRowContext(ctx, `
		SELECT `+sqliteTrackColumns+`
		FROM flight_tracks t JOIN aircraft a ON a.id = t.aircraft_id
		WHERE t.id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get track %d: %w", id, err)
	}
	return &t, nil
}

// ListTracks returns an aircraft's tracks, most recently started first.
func (d *SQLiteDB) ListTracks(ctx context.Context, aircraftID int64) ([]Track, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+sqliteTrackColumns+`
		FROM flight_tracks t JOIN aircraft a ON a.id = t.aircraft_id
		WHERE t.aircraft_id = ?
		ORDER BY t.start_time DESC, t.id DESC
	`, aircraftID)
	if err != nil {
		return nil, fmt.Errorf("list tracks: %w", err)
	}
	defer rows.Close()

	var out []Track
	for rows.Next() {
		t, err := scanSQLiteTrack(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
