package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Database string `toml:"database"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

// ClickHouseDB wraps a ClickHouse connection used as the geo search index.
type ClickHouseDB struct {
	conn driver.Conn
}

// OpenClickHouse opens a connection to ClickHouse.
func OpenClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	// Test the connection.
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Close closes the ClickHouse connection.
func (d *ClickHouseDB) Close() error {
	return d.conn.Close()
}

// Ping checks that the server is reachable.
func (d *ClickHouseDB) Ping(ctx context.Context) error {
	return d.conn.Ping(ctx)
}

// CreateSchema creates the geo document table. Rows sharing an id collapse
// into the latest indexed copy on merge.
func (d *ClickHouseDB) CreateSchema(ctx context.Context) error {
	q := `CREATE TABLE IF NOT EXISTS geo_positions (
			id              String,
			hex             LowCardinality(String),
			flight          String,
			aircraft_type   LowCardinality(String),
			lon             Float64,
			lat             Float64,
			alt             Float64,
			alt_baro        Nullable(Int32),
			ground_speed    Nullable(Float64),
			track           Nullable(Float64),
			geojson         String,
			wkt             String,
			observed_at     DateTime64(3),
			indexed_at      DateTime64(3) DEFAULT now64(3)
		)
		ENGINE = ReplacingMergeTree(indexed_at)
		PARTITION BY toYYYYMM(observed_at)
		ORDER BY (hex, observed_at, id)`

	if err := d.conn.Exec(ctx, q); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// GeoDocument is one indexed sighting.
type GeoDocument struct {
	ID           string
	Hex          string
	Flight       string
	AircraftType string
	Lon          float64
	Lat          float64
	Alt          float64
	AltBaro      *int32
	GroundSpeed  *float64
	Track        *float64
	GeoJSON      string
	WKT          string
	ObservedAt   time.Time
}

// InsertGeoDocuments stores documents in one batch.
func (d *ClickHouseDB) InsertGeoDocuments(ctx context.Context, docs []GeoDocument) error {
	if len(docs) == 0 {
		return nil
	}

	batch, err := d.conn.PrepareBatch(ctx, `
		INSERT INTO geo_positions (id, hex, flight, aircraft_type, lon, lat, alt, alt_baro, ground_speed, track, geojson, wkt, observed_at)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, doc := range docs {
		err = batch.Append(doc.ID, doc.Hex, doc.Flight, doc.AircraftType, doc.Lon, doc.Lat, doc.Alt,
			doc.AltBaro, doc.GroundSpeed, doc.Track, doc.GeoJSON, doc.WKT, doc.ObservedAt)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// CountGeoDocuments returns the number of indexed sightings, optionally for one hex.
func (d *ClickHouseDB) CountGeoDocuments(ctx context.Context, hex string) (uint64, error) {
	var count uint64
	var err error
	if hex != "" {
		row := d.conn.QueryRow(ctx, "SELECT count() FROM geo_positions FINAL WHERE hex = ?", hex)
		err = row.Scan(&count)
	} else {
		row := d.conn.QueryRow(ctx, "SELECT count() FROM geo_positions FINAL")
		err = row.Scan(&count)
	}
	return count, err
}
