// Package debounce suppresses duplicate sync triggers within a short
// window, backed by Redis.
package debounce

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDebouncer implements debouncing with SET NX: the first caller to
// claim a key within the TTL window proceeds, later callers are
// suppressed until the key expires.
type RedisDebouncer struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisDebouncer creates a debouncer from a Redis connection URL.
func NewRedisDebouncer(url string, ttl time.Duration, logger *slog.Logger) (*RedisDebouncer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return &RedisDebouncer{
		client: redis.NewClient(opts),
		ttl:    ttl,
		logger: logger,
	}, nil
}

// NewRedisDebouncerWithClient creates a debouncer on an existing client.
func NewRedisDebouncerWithClient(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisDebouncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisDebouncer{client: client, ttl: ttl, logger: logger}
}

// Allow reports whether this occurrence of the key should proceed.
func (d *RedisDebouncer) Allow(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("debounce setnx: %w", err)
	}
	return ok, nil
}

// Close closes the Redis connection.
func (d *RedisDebouncer) Close() error {
	return d.client.Close()
}

// NoopDebouncer allows everything. Used when Redis is not configured.
type NoopDebouncer struct{}

// Allow always permits the occurrence.
func (NoopDebouncer) Allow(context.Context, string) (bool, error) {
	return true, nil
}
