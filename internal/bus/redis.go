package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis stream entry fields.
const (
	redisKeyField  = "key"
	redisDataField = "data"
)

func newRedisClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// RedisSource reads a stream through a consumer group. After a restart it
// first re-reads its own unacknowledged entries.
type RedisSource struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string

	// pending is true until the consumer's pending list has been drained.
	pending bool
}

// NewRedisSource creates the consumer group if needed.
func NewRedisSource(ctx context.Context, cfg Config) (*RedisSource, error) {
	client, err := newRedisClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	err = client.XGroupCreateMkStream(ctx, cfg.Topic, cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		_ = client.Close()
		return nil, fmt.Errorf("create consumer group %s: %w", cfg.Group, err)
	}
	return &RedisSource{
		client:   client,
		stream:   cfg.Topic,
		group:    cfg.Group,
		consumer: cfg.consumerName(),
		pending:  true,
	}, nil
}

func (s *RedisSource) Fetch(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	if s.pending {
		out, err := s.read(ctx, "0", max, 0)
		if err != nil || len(out) > 0 {
			return out, err
		}
		s.pending = false
	}
	return s.read(ctx, ">", max, wait)
}

func (s *RedisSource) read(ctx context.Context, id string, max int, wait time.Duration) ([]Message, error) {
	args := &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, id},
		Count:    int64(max),
		Block:    wait,
	}
	if id != ">" || wait < time.Millisecond {
		// Pending entries are returned immediately; BLOCK 0 would wait forever.
		args.Block = -1
	}
	streams, err := s.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("redis read: %w", err)
	}

	var out []Message
	for _, st := range streams {
		for _, m := range st.Messages {
			out = append(out, Message{
				Key:   []byte(fieldString(m.Values, redisKeyField)),
				Value: []byte(fieldString(m.Values, redisDataField)),
				raw:   m.ID,
			})
		}
	}
	return out, nil
}

func fieldString(values map[string]interface{}, field string) string {
	switch v := values[field].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func (s *RedisSource) Ack(ctx context.Context, msgs []Message) error {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if id, ok := m.raw.(string); ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.client.XAck(ctx, s.stream, s.group, ids...).Err(); err != nil {
		return fmt.Errorf("redis ack: %w", err)
	}
	return nil
}

func (s *RedisSource) Close() error {
	return s.client.Close()
}

// RedisPublisher appends entries to a stream, trimming it approximately to MaxLen.
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisPublisher connects to Redis.
func NewRedisPublisher(ctx context.Context, cfg Config) (*RedisPublisher, error) {
	client, err := newRedisClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &RedisPublisher{client: client, stream: cfg.Topic, maxLen: cfg.Redis.MaxLen}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	pipe := p.client.Pipeline()
	for _, m := range msgs {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: p.stream,
			MaxLen: p.maxLen,
			Approx: p.maxLen > 0,
			Values: map[string]interface{}{
				redisKeyField:  string(m.Key),
				redisDataField: string(m.Value),
			},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
