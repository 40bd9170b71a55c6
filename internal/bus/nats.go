package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// KeyHeader carries the message key on NATS.
const KeyHeader = "Aircraft-Hex"

func connectJetStream(ctx context.Context, cfg Config) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(cfg.NATS.URL, nats.Name("miltracker"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.NATS.Stream,
		Subjects: []string{cfg.Topic},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create stream %s: %w", cfg.NATS.Stream, err)
	}
	return nc, js, nil
}

// NATSSource pulls from a durable JetStream consumer with explicit acks.
type NATSSource struct {
	nc       *nats.Conn
	consumer jetstream.Consumer
}

// NewNATSSource ensures the stream and the durable consumer named by cfg.Group exist.
func NewNATSSource(ctx context.Context, cfg Config) (*NATSSource, error) {
	nc, js, err := connectJetStream(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cons, err := js.CreateOrUpdateConsumer(ctx, cfg.NATS.Stream, jetstream.ConsumerConfig{
		Durable:       cfg.Group,
		FilterSubject: cfg.Topic,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckWait:       time.Minute,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create consumer %s: %w", cfg.Group, err)
	}
	return &NATSSource{nc: nc, consumer: cons}, nil
}

func (s *NATSSource) Fetch(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	batch, err := s.consumer.Fetch(max, jetstream.FetchMaxWait(wait))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("jetstream fetch: %w", err)
	}

	var out []Message
	for m := range batch.Messages() {
		out = append(out, Message{Key: []byte(m.Headers().Get(KeyHeader)), Value: m.Data(), raw: m})
	}
	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
		return out, fmt.Errorf("jetstream fetch: %w", err)
	}
	return out, nil
}

func (s *NATSSource) Ack(ctx context.Context, msgs []Message) error {
	var errs []error
	for _, m := range msgs {
		if raw, ok := m.raw.(jetstream.Msg); ok {
			if err := raw.Ack(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("jetstream ack: %w", errors.Join(errs...))
	}
	return nil
}

func (s *NATSSource) Close() error {
	s.nc.Close()
	return nil
}

// NATSPublisher publishes to the stream subject with the key in a header.
type NATSPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	subject string
}

// NewNATSPublisher ensures the stream exists and returns a publisher.
func NewNATSPublisher(ctx context.Context, cfg Config) (*NATSPublisher, error) {
	nc, js, err := connectJetStream(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{nc: nc, js: js, subject: cfg.Topic}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, msgs []Message) error {
	for _, m := range msgs {
		msg := nats.NewMsg(p.subject)
		msg.Data = m.Value
		msg.Header.Set(KeyHeader, string(m.Key))
		if _, err := p.js.PublishMsg(ctx, msg); err != nil {
			return fmt.Errorf("jetstream publish: %w", err)
		}
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}
