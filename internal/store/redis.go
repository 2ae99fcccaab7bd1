package store

import (
	"context"
	"errors"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs Store with a shared Redis so every server process sees the
// same presence, ban and voucher state.
type RedisStore struct {
	client *redis.Client
}

// RedisConfig is the connection info for NewRedisStore.
type RedisConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	port := c.Port
	if port == "" {
		port = "6379"
	}
	return net.JoinHostPort(c.Host, port)
}

func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client. The store owns it.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client exposes the underlying connection for pub/sub and scripting.
func (st *RedisStore) Client() *redis.Client {
	return st.client
}

func mapErr(err error) error {
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		msg := err.Error()
		switch {
		case strings.HasPrefix(msg, "WRONGTYPE"):
			return ErrWrongType
		case strings.Contains(msg, "not an integer"):
			return ErrNotInteger
		}
	}
	return err
}

func (st *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := st.client.Get(ctx, key).Result()
	return v, mapErr(err)
}

func (st *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return st.client.Set(ctx, key, value, ttl).Err()
}

func (st *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return st.client.Del(ctx, keys...).Err()
}

func (st *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := st.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (st *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return st.client.Del(ctx, key).Err()
	}
	return st.client.Expire(ctx, key, ttl).Err()
}

func (st *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := st.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	// go-redis passes the -2 (missing) and -1 (no expiry) markers through raw
	switch d {
	case -2:
		return 0, ErrNotFound
	case -1:
		return 0, nil
	}
	return d, nil
}

func (st *RedisStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	n, err := st.client.IncrBy(ctx, key, delta).Result()
	return n, mapErr(err)
}

func (st *RedisStore) SAdd(ctx context.Context, key string, members ...string) (int64, error) {
	n, err := st.client.SAdd(ctx, key, toAny(members)...).Result()
	return n, mapErr(err)
}

func (st *RedisStore) SRem(ctx context.Context, key string, members ...string) error {
	return mapErr(st.client.SRem(ctx, key, toAny(members)...).Err())
}

func (st *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	out, err := st.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, mapErr(err)
	}
	sort.Strings(out)
	return out, nil
}

func (st *RedisStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := st.client.SIsMember(ctx, key, member).Result()
	return ok, mapErr(err)
}

func (st *RedisStore) SCard(ctx context.Context, key string) (int64, error) {
	n, err := st.client.SCard(ctx, key).Result()
	return n, mapErr(err)
}

func (st *RedisStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	return mapErr(st.client.HSet(ctx, key, fields).Err())
}

func (st *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	out, err := st.client.HGetAll(ctx, key).Result()
	return out, mapErr(err)
}

func (st *RedisStore) HDel(ctx context.Context, key string, fields ...string) error {
	return mapErr(st.client.HDel(ctx, key, fields...).Err())
}

func (st *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	iter := st.client.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (st *RedisStore) Close() error {
	return st.client.Close()
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
