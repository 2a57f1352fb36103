// Package cache wraps the Redis connection shared by the rate limiter and
// the work queue.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/kiranshivaraju/twimagine/internal/config"
	"github.com/redis/go-redis/v9"
)

// Cache is what the API needs from Redis besides the queue.
// Implementations must be safe for concurrent use.
type Cache interface {
	Ping(ctx context.Context) error
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects lazily; call Ping to verify the server is reachable.
func NewRedisCache(cfg config.RedisConfig) (*RedisCache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

// Client exposes the connection so the work queue can share the pool.
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// IncrWithExpiry increments key and returns the new count. The expiry is set
// only when the key is created, so a busy window still ends on time.
func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
