package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pscheid92/roomstream/internal/adapter/metrics"
	"github.com/pscheid92/roomstream/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const invalidationChannel = "cache:invalidate"

// Invalidation is the message announced on the invalidation channel.
type Invalidation struct {
	Keys []string `json:"keys"`
}

// CacheInvalidator deletes cached views from Redis and announces the
// affected keys so in-process caches elsewhere can drop them too.
type CacheInvalidator struct {
	rdb     *goredis.Client
	metrics *metrics.RedisMetrics
}

var _ domain.CacheInvalidator = (*CacheInvalidator)(nil)

func NewCacheInvalidator(rdb *goredis.Client, m *metrics.RedisMetrics) *CacheInvalidator {
	return &CacheInvalidator{rdb: rdb, metrics: m}
}

func (c *CacheInvalidator) Invalidate(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	msg, err := json.Marshal(Invalidation{Keys: keys})
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.Publish(ctx, invalidationChannel, msg)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to invalidate %v: %w", keys, err)
	}

	c.metrics.Invalidations.Add(float64(len(keys)))
	slog.DebugContext(ctx, "Cache invalidated", "keys", keys)
	return nil
}

// SubscribeInvalidations calls fn for every announced invalidation until ctx
// is cancelled.
func SubscribeInvalidations(ctx context.Context, rdb *goredis.Client, fn func(Invalidation)) {
	pubsub := rdb.Subscribe(ctx, invalidationChannel)
	defer func() { _ = pubsub.Close() }()

	ch := pubsub.Channel()
	for {
		select {
		case msg := <-ch:
			if msg == nil {
				return
			}
			var inv Invalidation
			if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
				slog.Warn("Empty or invalid cache invalidation message", "error", err)
				continue
			}
			fn(inv)
		case <-ctx.Done():
			return
		}
	}
}
