// Package cache holds short-lived lookups (resolved roles, the status
// vocabulary) in Redis or, without a Redis URL, in process memory.
package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"resume-backend/internal/config"
)

// Cache stores opaque values with a time to live.
type Cache interface {
	// Get returns the value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// New returns a Redis cache when cfg.URL is set, else an in-memory one.
func New(ctx context.Context, cfg config.RedisConfig) (Cache, error) {
	if cfg.URL == "" {
		log.Println("WARN: redis.url not set, using in-process cache")
		return NewMemoryCache(), nil
	}
	c, err := NewRedisCache(ctx, cfg.URL, cfg.KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return c, nil
}
