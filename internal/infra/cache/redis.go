package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"rss-mail-digest/internal/domain"
	"rss-mail-digest/internal/infra/metrics"
)

// RedisSeenSet реализует domain.SeenSet через SETNX с TTL.
type RedisSeenSet struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ domain.SeenSet = (*RedisSeenSet)(nil)

// NewRedis создаёт множество ключей. ttl 0 хранит ключи бессрочно.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *RedisSeenSet {
	if prefix == "" {
		prefix = "rss2mail:seen:"
	}
	return &RedisSeenSet{client: client, prefix: prefix, ttl: ttl}
}

// MarkIfNew ставит ключ, если его ещё нет.
func (c *RedisSeenSet) MarkIfNew(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := c.client.SetNX(ctx, c.prefix+key, "1", c.ttl).Result()
	metrics.ObserveNetworkRequest("redis", "setnx", "seen", start, err)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Forget удаляет ключ, например если отправка не удалась.
func (c *RedisSeenSet) Forget(ctx context.Context, key string) error {
	start := time.Now()
	err := c.client.Del(ctx, c.prefix+key).Err()
	metrics.ObserveNetworkRequest("redis", "del", "seen", start, err)
	return err
}
