package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// kafkaReader is the subset of *kafka.Reader the source needs.
type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource reads a topic as part of a consumer group. Offsets are
// committed only through Ack.
type KafkaSource struct {
	reader kafkaReader
}

// NewKafkaSource creates a group reader for cfg.Topic.
func NewKafkaSource(cfg Config) *KafkaSource {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Kafka.Brokers,
		GroupID:     cfg.Group,
		Topic:       cfg.Topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	})
	return &KafkaSource{reader: reader}
}

func (s *KafkaSource) Fetch(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	fctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	var out []Message
	for len(out) < max {
		m, err := s.reader.FetchMessage(fctx)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return out, nil
			}
			// The reader has already advanced past out; hand it over and
			// let the next Fetch surface the error.
			if len(out) > 0 {
				return out, nil
			}
			return out, fmt.Errorf("kafka fetch: %w", err)
		}
		out = append(out, Message{Key: m.Key, Value: m.Value, raw: m})
	}
	return out, nil
}

func (s *KafkaSource) Ack(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	km := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		if raw, ok := m.raw.(kafka.Message); ok {
			km = append(km, raw)
		}
	}
	if err := s.reader.CommitMessages(ctx, km...); err != nil {
		return fmt.Errorf("kafka commit: %w", err)
	}
	return nil
}

func (s *KafkaSource) Close() error {
	return s.reader.Close()
}

// KafkaPublisher writes keyed messages; the key selects the partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a writer for cfg.Topic.
func NewKafkaPublisher(cfg Config) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Kafka.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	records := make([]kafka.Message, len(msgs))
	for i, m := range msgs {
		records[i] = kafka.Message{Key: m.Key, Value: m.Value}
	}
	if err := p.writer.WriteMessages(ctx, records...); err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
