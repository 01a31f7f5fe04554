// Package cache provides the entity caches the change router invalidates.
//
// Two backends: an in-memory map with a TTL janitor, and Redis for
// deployments where several processes share one cache.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "pulsesync/pkg/logx"
)

// Cache is a byte-value cache keyed by entity id.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
	Close() error
}

// Config selects and tunes a backend.
//
// Backend values:
//   - "memory": in-process map (default)
//   - "redis": shared Redis instance
type Config struct {
	Backend  string
	RedisURL string
	Prefix   string

	// DefaultTTL applies when Set is called with ttl <= 0. 0 means 15 minutes.
	DefaultTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 15 * time.Minute
	}
	if c.Prefix == "" {
		c.Prefix = "pulsesync:"
	}
	return c
}

// Open initializes the configured backend.
func Open(cfg Config, log logx.Logger) (Cache, error) {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		return newMemory(cfg), nil
	case "redis":
		return newRedis(cfg, log)
	default:
		return nil, errors.New("unknown cache backend: " + cfg.Backend)
	}
}
