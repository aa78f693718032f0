package fabric

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisFabric relays envelopes over a single pub/sub channel shared by all
// gateway instances. The publishing instance receives its own messages back
// through the subscription, so local and remote delivery run through one
// code path.
type RedisFabric struct {
	rdb     *redis.Client
	channel string
	pubsub  *redis.PubSub
	logger  *slog.Logger
}

func NewRedisFabric(logger *slog.Logger, rdb *redis.Client, channel string) *RedisFabric {
	return &RedisFabric{
		rdb:     rdb,
		channel: channel,
		logger:  logger.With(slog.String("component", "fabric_redis")),
	}
}

var _ Fabric = (*RedisFabric)(nil)

func (f *RedisFabric) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal fan-out envelope: %w", err)
	}
	if err := f.rdb.Publish(ctx, f.channel, data).Err(); err != nil {
		return fmt.Errorf("fan-out publish failed: %w", err)
	}
	return nil
}

func (f *RedisFabric) Subscribe(ctx context.Context, h Handler) error {
	pubsub := f.rdb.Subscribe(ctx, f.channel)

	// force the subscription round-trip now so an unreachable fabric fails
	// startup instead of surfacing later as silent delivery loss.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("fan-out subscribe failed: %w", err)
	}
	f.pubsub = pubsub
	f.logger.Info("Subscribed to fan-out channel", slog.String("channel", f.channel))

	ch := pubsub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					f.logger.Warn("Failed to unmarshal fan-out envelope", slog.Any("error", err))
					continue
				}
				h(env)
			}
		}
	}()
	return nil
}

func (f *RedisFabric) Close() error {
	if f.pubsub != nil {
		return f.pubsub.Close()
	}
	return nil
}
