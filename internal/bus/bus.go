// Package bus adapts Kafka, NATS JetStream and Redis Streams to one
// fetch/ack/publish contract for keyed position reports.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Transport kinds.
const (
	KindKafka = "kafka"
	KindNATS  = "nats"
	KindRedis = "redis"
)

// Message is one keyed payload. Key is the aircraft hex identifier.
type Message struct {
	Key   []byte
	Value []byte

	// raw is the transport's own handle, needed to acknowledge.
	raw any
}

// Source is the consuming side of a transport.
type Source interface {
	// Fetch returns up to max messages, waiting at most wait for the first.
	// An empty result with a nil error means nothing arrived in time.
	Fetch(ctx context.Context, max int, wait time.Duration) ([]Message, error)
	// Ack marks messages as processed so they are not redelivered.
	Ack(ctx context.Context, msgs []Message) error
	Close() error
}

// Publisher is the producing side of a transport.
type Publisher interface {
	Publish(ctx context.Context, msgs []Message) error
	Close() error
}

// KafkaConfig holds Kafka settings.
type KafkaConfig struct {
	Brokers []string `toml:"brokers"`
}

// NATSConfig holds NATS JetStream settings.
type NATSConfig struct {
	URL    string `toml:"url"`
	Stream string `toml:"stream"`
}

// RedisConfig holds Redis Streams settings.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	MaxLen   int64  `toml:"max_len"`
}

// Config selects and configures a transport. Topic is the Kafka topic, the
// NATS subject or the Redis stream key.
type Config struct {
	Kind     string      `toml:"kind"`
	Topic    string      `toml:"topic"`
	Group    string      `toml:"group"`
	Consumer string      `toml:"consumer"`
	Kafka    KafkaConfig `toml:"kafka"`
	NATS     NATSConfig  `toml:"nats"`
	Redis    RedisConfig `toml:"redis"`
}

// DefaultConfig returns local development settings.
func DefaultConfig() Config {
	return Config{
		Kind:  KindKafka,
		Topic: "military-flights",
		Group: "db-ingestor",
		Kafka: KafkaConfig{Brokers: []string{"localhost:9092"}},
		NATS:  NATSConfig{URL: "nats://localhost:4222", Stream: "MILITARY"},
		Redis: RedisConfig{Addr: "localhost:6379", MaxLen: 100000},
	}
}

// consumerName returns the configured consumer name or a fresh one.
func (c Config) consumerName() string {
	if c.Consumer != "" {
		return c.Consumer
	}
	return c.Group + "-" + uuid.NewString()
}

// OpenSource connects the consuming side of the configured transport.
func OpenSource(ctx context.Context, cfg Config) (Source, error) {
	switch cfg.Kind {
	case KindKafka:
		return NewKafkaSource(cfg), nil
	case KindNATS:
		return NewNATSSource(ctx, cfg)
	case KindRedis:
		return NewRedisSource(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown bus kind %q", cfg.Kind)
	}
}

// OpenPublisher connects the producing side of the configured transport.
func OpenPublisher(ctx context.Context, cfg Config) (Publisher, error) {
	switch cfg.Kind {
	case KindKafka:
		return NewKafkaPublisher(cfg), nil
	case KindNATS:
		return NewNATSPublisher(ctx, cfg)
	case KindRedis:
		return NewRedisPublisher(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown bus kind %q", cfg.Kind)
	}
}
