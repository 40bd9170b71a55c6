// Package config loads service settings from a TOML file, then environment
// variables. Command-line flags are applied by each binary on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"miltracker/internal/bus"
	"miltracker/internal/consumer"
	"miltracker/internal/storage"
)

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// StoreConfig selects the relational store.
type StoreConfig struct {
	Driver string `toml:"driver"`
}

// PollerConfig holds feed polling settings.
type PollerConfig struct {
	FeedURL  string        `toml:"feed_url"`
	Interval time.Duration `toml:"interval"`
	Timeout  time.Duration `toml:"timeout"`
}

// SweeperConfig controls the idle track closer.
type SweeperConfig struct {
	Enabled  bool          `toml:"enabled"`
	Interval time.Duration `toml:"interval"`
	Idle     time.Duration `toml:"idle"`
}

// GeoConfig holds geo indexer settings.
type GeoConfig struct {
	Group string `toml:"group"`
}

// HTTPConfig holds the watcher API listener.
type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// MetricsConfig holds the health, readiness and metrics listener.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// Config is the complete service configuration.
type Config struct {
	Log        LogConfig                `toml:"log"`
	Store      StoreConfig              `toml:"store"`
	Postgres   storage.PostgresConfig   `toml:"postgres"`
	SQLite     storage.SQLiteConfig     `toml:"sqlite"`
	ClickHouse storage.ClickHouseConfig `toml:"clickhouse"`
	Bus        bus.Config               `toml:"bus"`
	Consumer   consumer.Config          `toml:"consumer"`
	Poller     PollerConfig             `toml:"poller"`
	Sweeper    SweeperConfig            `toml:"sweeper"`
	Geo        GeoConfig                `toml:"geo"`
	HTTP       HTTPConfig               `toml:"http"`
	Metrics    MetricsConfig            `toml:"metrics"`
}

// Default returns settings for local development.
func Default() Config {
	st := storage.DefaultConfig()
	return Config{
		Log:        LogConfig{Level: "info", Format: "json"},
		Store:      StoreConfig{Driver: st.Driver},
		Postgres:   st.Postgres,
		SQLite:     st.SQLite,
		ClickHouse: st.ClickHouse,
		Bus:        bus.DefaultConfig(),
		Consumer:   consumer.DefaultConfig(),
		Poller: PollerConfig{
			FeedURL:  "https://api.adsb.lol/v2/mil",
			Interval: 10 * time.Second,
			Timeout:  30 * time.Second,
		},
		Sweeper: SweeperConfig{
			Enabled:  false,
			Interval: time.Minute,
			Idle:     30 * time.Minute,
		},
		Geo:     GeoConfig{Group: "geo-ingestor"},
		HTTP:    HTTPConfig{Addr: ":8080"},
		Metrics: MetricsConfig{Addr: ":9102"},
	}
}

// Load reads path (when non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Storage returns the storage settings.
func (c Config) Storage() storage.Config {
	return storage.Config{
		Driver:     c.Store.Driver,
		Postgres:   c.Postgres,
		SQLite:     c.SQLite,
		ClickHouse: c.ClickHouse,
	}
}

// ApplyEnv overrides fields from environment variables that are set.
func (c *Config) ApplyEnv(getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			if i, err := strconv.Atoi(v); err == nil {
				*dst = i
			}
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	str("STORE_DRIVER", &c.Store.Driver)
	str("POSTGRES_HOST", &c.Postgres.Host)
	num("POSTGRES_PORT", &c.Postgres.Port)
	str("POSTGRES_DATABASE", &c.Postgres.Database)
	str("POSTGRES_USER", &c.Postgres.User)
	str("POSTGRES_PASSWORD", &c.Postgres.Password)
	str("SQLITE_PATH", &c.SQLite.Path)
	str("CLICKHOUSE_HOST", &c.ClickHouse.Host)
	num("CLICKHOUSE_PORT", &c.ClickHouse.Port)
	str("CLICKHOUSE_DATABASE", &c.ClickHouse.Database)
	str("CLICKHOUSE_USER", &c.ClickHouse.User)
	str("CLICKHOUSE_PASSWORD", &c.ClickHouse.Password)

	str("BUS_KIND", &c.Bus.Kind)
	str("BUS_TOPIC", &c.Bus.Topic)
	str("BUS_GROUP", &c.Bus.Group)
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Bus.Kafka.Brokers = splitList(v)
	}
	str("NATS_URL", &c.Bus.NATS.URL)
	str("NATS_STREAM", &c.Bus.NATS.Stream)
	str("REDIS_ADDR", &c.Bus.Redis.Addr)
	str("REDIS_PASSWORD", &c.Bus.Redis.Password)
	num("REDIS_DB", &c.Bus.Redis.DB)

	num("CONSUMER_BATCH_SIZE", &c.Consumer.BatchSize)
	dur("CONSUMER_POLL_TIMEOUT", &c.Consumer.PollTimeout)

	str("FEED_URL", &c.Poller.FeedURL)
	dur("POLL_INTERVAL", &c.Poller.Interval)

	if v := getenv("SWEEPER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Sweeper.Enabled = b
		}
	}
	dur("SWEEPER_INTERVAL", &c.Sweeper.Interval)
	dur("SWEEPER_IDLE", &c.Sweeper.Idle)

	str("GEO_GROUP", &c.Geo.Group)
	str("HTTP_ADDR", &c.HTTP.Addr)
	str("METRICS_ADDR", &c.Metrics.Addr)
}

// Validate rejects settings no binary can run with.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case storage.DriverPostgres, storage.DriverSQLite:
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}
	switch c.Bus.Kind {
	case bus.KindKafka:
		if len(c.Bus.Kafka.Brokers) == 0 {
			return fmt.Errorf("bus.kafka.brokers: at least one broker is required")
		}
	case bus.KindNATS:
		if c.Bus.NATS.URL == "" || c.Bus.NATS.Stream == "" {
			return fmt.Errorf("bus.nats: url and stream are required")
		}
	case bus.KindRedis:
		if c.Bus.Redis.Addr == "" {
			return fmt.Errorf("bus.redis.addr: address is required")
		}
	default:
		return fmt.Errorf("bus.kind: unknown kind %q", c.Bus.Kind)
	}
	if c.Bus.Topic == "" {
		return fmt.Errorf("bus.topic: required")
	}
	if c.Poller.Interval <= 0 {
		return fmt.Errorf("poller.interval: must be positive")
	}
	if c.Sweeper.Enabled && c.Sweeper.Idle <= 0 {
		return fmt.Errorf("sweeper.idle: must be positive when the sweeper is enabled")
	}
	if c.Sweeper.Enabled && c.Sweeper.Interval <= 0 {
		return fmt.Errorf("sweeper.interval: must be positive when the sweeper is enabled")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
