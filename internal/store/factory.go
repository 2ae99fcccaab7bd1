package store

import (
	"context"
	"log/slog"
	"time"
)

const dialTimeout = 5 * time.Second

// NewStore picks Redis when a host is configured and falls back to the
// in-memory store when Redis is unreachable or not configured.
func NewStore(ctx context.Context, cfg RedisConfig) Store {
	if cfg.Host == "" {
		slog.Info("💾 using in-memory store")
		return NewMemoryStore()
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	st, err := NewRedisStore(dialCtx, cfg)
	if err != nil {
		slog.Warn("⚠️  redis connection failed, falling back to in-memory store",
			"addr", cfg.Addr(), "error", err)
		return NewMemoryStore()
	}
	slog.Info("💾 using redis store", "addr", cfg.Addr())
	return st
}
