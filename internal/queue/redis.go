package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ws:queue:"

// RedisStore keeps one FIFO list per user, TTL-bounded so abandoned
// identities do not accumulate unbounded state.
type RedisStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisStore(logger *slog.Logger, rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "offline_queue_redis")),
	}
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) Enqueue(ctx context.Context, userID string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal queued message: %w", err)
	}

	key := keyPrefix + userID
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue offline message: %w", err)
	}
	return nil
}

func (s *RedisStore) Drain(ctx context.Context, userID string) ([]Message, error) {
	key := keyPrefix + userID

	// read and delete in one transaction so racing admissions for the same
	// user cannot both observe the queue.
	pipe := s.rdb.TxPipeline()
	rangeCmd := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to drain offline queue: %w", err)
	}

	raw := rangeCmd.Val()
	if len(raw) == 0 {
		return nil, nil
	}

	messages := make([]Message, 0, len(raw))
	for _, entry := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			s.logger.Warn("Discarding malformed queued message", slog.String("userID", userID), slog.Any("error", err))
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
