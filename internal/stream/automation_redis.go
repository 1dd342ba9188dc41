// Package stream provides Redis stream plumbing for incoming mail events.
package stream

import (
	"context"
	"strings"
	"time"

	"automation_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const (
	// StreamMailIncoming carries one entry per newly received message.
	StreamMailIncoming = "mail:incoming"
)

// StreamConfig tunes the consumer read loop.
type StreamConfig struct {
	BatchSize int64         // Entries per XREADGROUP call
	Block     time.Duration // Block duration when the stream is empty
}

// DefaultStreamConfig returns production defaults.
func DefaultStreamConfig() *StreamConfig {
	return &StreamConfig{
		BatchSize: 10,
		Block:     5 * time.Second,
	}
}

// RedisStream wraps consumer-group access to one Redis instance.
type RedisStream struct {
	client    *redis.Client
	group     string
	batchSize int64
	block     time.Duration
	log       *logger.Logger
}

// NewRedisStream creates a stream accessor for one consumer group.
func NewRedisStream(client *redis.Client, group string) *RedisStream {
	return NewRedisStreamWithConfig(client, group, nil)
}

// NewRedisStreamWithConfig creates a stream accessor with explicit read
// tuning.
func NewRedisStreamWithConfig(client *redis.Client, group string, cfg *StreamConfig) *RedisStream {
	if cfg == nil {
		cfg = DefaultStreamConfig()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	return &RedisStream{
		client:    client,
		group:     group,
		batchSize: cfg.BatchSize,
		block:     cfg.Block,
		log:       logger.WithField("component", "redis-stream"),
	}
}

// CreateGroup ensures the consumer group exists, creating the stream as
// needed. An already existing group is not an error.
func (s *RedisStream) CreateGroup(ctx context.Context, stream string) error {
	err := s.client.XGroupCreateMkStream(ctx, stream, s.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Publish appends one JSON-encoded entry.
func (s *RedisStream) Publish(ctx context.Context, stream string, data any) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"data": jsonData},
	}).Result()
}

// Consume reads entries for this consumer until the context is cancelled.
// Entries are acknowledged only after the handler returns nil; failed entries
// stay pending for redelivery.
func (s *RedisStream) Consume(ctx context.Context, stream, consumer string, handler func(id string, data []byte) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    s.batchSize,
			Block:    s.block,
		}).Result()

		if err != nil {
			if err != redis.Nil && ctx.Err() == nil {
				s.log.WithError(err).Error("Stream read error")
			}
			continue
		}

		for _, str := range streams {
			for _, msg := range str.Messages {
				data, ok := msg.Values["data"].(string)
				if !ok {
					s.client.XAck(ctx, str.Stream, s.group, msg.ID)
					continue
				}

				if err := handler(msg.ID, []byte(data)); err != nil {
					s.log.WithError(err).Error("Handler error for entry %s", msg.ID)
					continue
				}

				s.client.XAck(ctx, str.Stream, s.group, msg.ID)
			}
		}
	}
}

// Ack acknowledges one entry.
func (s *RedisStream) Ack(ctx context.Context, stream, id string) error {
	return s.client.XAck(ctx, stream, s.group, id).Err()
}

// Pending reports the group's unacknowledged entry count.
func (s *RedisStream) Pending(ctx context.Context, stream string) (int64, error) {
	info, err := s.client.XPending(ctx, stream, s.group).Result()
	if err != nil {
		return 0, err
	}
	return info.Count, nil
}
