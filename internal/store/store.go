// Package store is the ephemeral, TTL-capable key/value and set store shared
// by every server process. It holds no business logic.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound   = errors.New("key not found")
	ErrWrongType  = errors.New("operation against a key holding the wrong kind of value")
	ErrNotInteger = errors.New("value is not an integer")
)

// Store mirrors the subset of Redis semantics the services rely on.
//
// A ttl of 0 means "no expiry". Set replaces any previous TTL; set and hash
// writes keep the key's current TTL. Removing the last member of a set or the
// last field of a hash deletes the key.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL returns ErrNotFound for a missing key and 0 for a key without expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)

	// SAdd reports how many members were newly added; it is the store's
	// atomic claim primitive.
	SAdd(ctx context.Context, key string, members ...string) (int64, error)
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SCard(ctx context.Context, key string) (int64, error)

	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error

	// Keys lists keys matching a glob pattern. Meant for small key spaces.
	Keys(ctx context.Context, pattern string) ([]string, error)

	Close() error
}
