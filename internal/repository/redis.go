package repository

import (
	"context"
	"fmt"
	"time"

	"meetbook/internal/config"

	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "rate_limit:"

// incrWindow starts the window on the first hit so INCR and PEXPIRE stay atomic.
var incrWindow = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// RedisRateLimiter counts requests per key in fixed windows shared across instances.
type RedisRateLimiter struct {
	client *redis.Client
}

// NewRedisClient builds a client from the redis config section.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}

	count, err := incrWindow.Run(ctx, r.client, []string{rateLimitPrefix + key}, window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	return count <= int64(limit), nil
}

// Ping checks connectivity with a single round trip.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close tolerates a nil client so callers can defer it unconditionally.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
