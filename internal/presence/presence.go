// Package presence tracks which identities are reachable right now. The
// record lives in a shared store so every gateway instance sees the same
// answer; TTL expiry bounds the staleness a crashed instance can leave
// behind.
package presence

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ws:presence:"

type Tracker interface {
	// MarkOnline writes (or refreshes) the presence record for the user.
	MarkOnline(ctx context.Context, userID string) error
	// MarkOffline deletes the record immediately.
	MarkOffline(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// RedisTracker stores presence records as TTL-bounded keys.
type RedisTracker struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisTracker(logger *slog.Logger, rdb *redis.Client, ttl time.Duration) *RedisTracker {
	return &RedisTracker{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "presence_redis")),
	}
}

var _ Tracker = (*RedisTracker)(nil)

func (t *RedisTracker) MarkOnline(ctx context.Context, userID string) error {
	err := t.rdb.SetEx(ctx, keyPrefix+userID, time.Now().UnixMilli(), t.ttl).Err()
	if err != nil {
		t.logger.Warn("Failed to write presence record", slog.String("userID", userID), slog.Any("error", err))
	}
	return err
}

func (t *RedisTracker) MarkOffline(ctx context.Context, userID string) error {
	err := t.rdb.Del(ctx, keyPrefix+userID).Err()
	if err != nil {
		t.logger.Warn("Failed to delete presence record", slog.String("userID", userID), slog.Any("error", err))
	}
	return err
}

func (t *RedisTracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := t.rdb.Exists(ctx, keyPrefix+userID).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
