// Package storage provides the durable stores for aircraft identities,
// position observations, stitched tracks and the geo search index.
package storage

import (
	"context"
	"fmt"
	"time"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds database connection settings.
type Config struct {
	Driver     string           `toml:"driver"`
	Postgres   PostgresConfig   `toml:"postgres"`
	SQLite     SQLiteConfig     `toml:"sqlite"`
	ClickHouse ClickHouseConfig `toml:"clickhouse"`
}

// DefaultConfig returns a configuration with default local development settings.
func DefaultConfig() Config {
	return Config{
		Driver: DriverPostgres,
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "military_tracker",
			User:     "tracker",
			Password: "tracker",
			MaxConns: 10,
		},
		SQLite: SQLiteConfig{
			Path: "miltracker.db",
		},
		ClickHouse: ClickHouseConfig{
			Host:     "localhost",
			Port:     9000,
			Database: "military_tracker",
			User:     "default",
			Password: "",
		},
	}
}

// TrackStore is a relational store offering both the write unit of work and
// the read queries.
type TrackStore interface {
	Reader
	Begin(ctx context.Context) (Tx, error)
	CreateSchema(ctx context.Context) error
	CloseIdleTracks(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// OpenTrackStore opens the relational store selected by cfg.Driver.
func OpenTrackStore(ctx context.Context, cfg Config) (TrackStore, error) {
	switch cfg.Driver {
	case DriverPostgres, "":
		pg, err := OpenPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return pgCloser{pg}, nil
	case DriverSQLite:
		db, err := OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// pgCloser adapts PostgresDB.Close to the error-returning form.
type pgCloser struct {
	*PostgresDB
}

func (p pgCloser) Close() error {
	p.PostgresDB.Close()
	return nil
}
