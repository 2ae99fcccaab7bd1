package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"

	"roomchat/internal/store"
	"roomchat/internal/store/storetest"
)

type backend struct {
	st      store.Store
	advance func(time.Duration)
}

func backends() map[string]func(t *testing.T) backend {
	return map[string]func(t *testing.T) backend{
		"memory": func(t *testing.T) backend {
			st, clock := storetest.NewMemory(t)
			return backend{st: st, advance: clock.Advance}
		},
		"redis": func(t *testing.T) backend {
			mr := miniredis.RunT(t)
			st := store.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
			t.Cleanup(func() { _ = st.Close() })
			return backend{st: st, advance: mr.FastForward}
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, b backend)) {
	for name, mk := range backends() {
		t.Run(name, func(t *testing.T) {
			fn(t, mk(t))
		})
	}
}

func TestStringExpiry(t *testing.T) {
	ctx := context.Background()
	forEachBackend(t, func(t *testing.T, b backend) {
		if err := b.st.Set(ctx, "presence:u1", "online", 10*time.Second); err != nil {
			t.Fatalf("Set: %v", err)
		}
		b.advance(4 * time.Second)

		ttl, err := b.st.TTL(ctx, "presence:u1")
		if err != nil {
			t.Fatalf("TTL: %v", err)
		}
		if ttl != 6*time.Second {
			t.Errorf("ttl = %v, want 6s", ttl)
		}

		b.advance(7 * time.Second)
		if _, err := b.st.Get(ctx, "presence:u1"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Get after expiry: want ErrNotFound, got %v", err)
		}
		if _, err := b.st.TTL(ctx, "presence:u1"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("TTL after expiry: want ErrNotFound, got %v", err)
		}
	})
}

func TestSetResetsTTL(t *testing.T) {
	ctx := context.Background()
	forEachBackend(t, func(t *testing.T, b backend) {
		_ = b.st.Set(ctx, "k", "w", time.Minute)
		_ = b.st.Set(ctx, "k", "x", 0)
		b.advance(2 * time.Minute)
		if v, _ := b.st.Get(ctx, "k"); v != "x" {
			t.Errorf("Set without ttl should clear expiry, got %q", v)
		}
		if ttl, _ := b.st.TTL(ctx, "k"); ttl != 0 {
			t.Errorf("ttl = %v, want 0", ttl)
		}
	})
}

func TestSetsAndClaimPrimitive(t *testing.T) {
	ctx := context.Background()
	forEachBackend(t, func(t *testing.T, b backend) {
		n, err := b.st.SAdd(ctx, "room:1:members", "bob", "alice")
		if err != nil || n != 2 {
			t.Fatalf("SAdd = %d, %v", n, err)
		}
		if n, _ := b.st.SAdd(ctx, "room:1:members", "alice"); n != 0 {
			t.Errorf("re-adding existing member reported %d new", n)
		}

		members, _ := b.st.SMembers(ctx, "room:1:members")
		if diff := cmp.Diff([]string{"alice", "bob"}, members); diff != "" {
			t.Errorf("SMembers (-want +got):\n%s", diff)
		}
		if ok, _ := b.st.SIsMember(ctx, "room:1:members", "bob"); !ok {
			t.Error("bob should be a member")
		}

		_ = b.st.SRem(ctx, "room:1:members", "alice", "bob")
		if ok, _ := b.st.Exists(ctx, "room:1:members"); ok {
			t.Error("empty set should be removed")
		}
		if n, _ := b.st.SCard(ctx, "room:1:members"); n != 0 {
			t.Errorf("SCard of missing set = %d", n)
		}
	})
}

func TestSetKeepsTTLOnAdd(t *testing.T) {
	ctx := context.Background()
	forEachBackend(t, func(t *testing.T, b backend) {
		_, _ = b.st.SAdd(ctx, "s", "a")
		_ = b.st.Expire(ctx, "s", 30*time.Second)
		_, _ = b.st.SAdd(ctx, "s", "b")

		b.advance(31 * time.Second)
		if ok, _ := b.st.Exists(ctx, "s"); ok {
			t.Error("set should have expired with its original ttl")
		}
	})
}

func TestHashes(t *testing.T) {
	ctx := context.Background()
	forEachBackend(t, func(t *testing.T, b backend) {
		err := b.st.HSet(ctx, "voucher:active", map[string]string{"code": "1234567", "amount": "750"})
		if err != nil {
			t.Fatalf("HSet: %v", err)
		}
		got, _ := b.st.HGetAll(ctx, "voucher:active")
		if diff := cmp.Diff(map[string]string{"code": "1234567", "amount": "750"}, got); diff != "" {
			t.Errorf("HGetAll (-want +got):\n%s", diff)
		}

		_ = b.st.HDel(ctx, "voucher:active", "code", "amount")
		got, _ = b.st.HGetAll(ctx, "voucher:active")
		if len(got) != 0 {
			t.Errorf("expected empty hash, got %v", got)
		}
	})
}

func TestIncrBy(t *testing.T) {
	ctx := context.Background()
	forEachBackend(t, func(t *testing.T, b backend) {
		for want := int64(1); want <= 3; want++ {
			n, err := b.st.IncrBy(ctx, "ban:kickCount:u1", 1)
			if err != nil || n != want {
				t.Fatalf("IncrBy = %d, %v; want %d", n, err, want)
			}
		}

		_ = b.st.Set(ctx, "text", "abc", 0)
		if _, err := b.st.IncrBy(ctx, "text", 1); !errors.Is(err, store.ErrNotInteger) {
			t.Errorf("want ErrNotInteger, got %v", err)
		}

		_, _ = b.st.SAdd(ctx, "set", "x")
		if _, err := b.st.Get(ctx, "set"); !errors.Is(err, store.ErrWrongType) {
			t.Errorf("want ErrWrongType, got %v", err)
		}
	})
}

func TestKeysPattern(t *testing.T) {
	ctx := context.Background()
	forEachBackend(t, func(t *testing.T, b backend) {
		_, _ = b.st.SAdd(ctx, "room:1:members", "a")
		_, _ = b.st.SAdd(ctx, "room:2:members", "b")
		_, _ = b.st.SAdd(ctx, "room:3:members", "c")
		_ = b.st.Expire(ctx, "room:3:members", time.Second)
		_ = b.st.Set(ctx, "room:kick:u1", "1", 0)

		b.advance(2 * time.Second)

		keys, err := b.st.Keys(ctx, "room:*:members")
		if err != nil {
			t.Fatalf("Keys: %v", err)
		}
		if diff := cmp.Diff([]string{"room:1:members", "room:2:members"}, keys); diff != "" {
			t.Errorf("Keys (-want +got):\n%s", diff)
		}
	})
}

func TestExpireMissingKeyIsNoop(t *testing.T) {
	ctx := context.Background()
	forEachBackend(t, func(t *testing.T, b backend) {
		if err := b.st.Expire(ctx, "nope", time.Minute); err != nil {
			t.Errorf("Expire on missing key: %v", err)
		}
		if ok, _ := b.st.Exists(ctx, "nope"); ok {
			t.Error("Expire must not create keys")
		}
	})
}

func TestNewStoreFallsBackToMemory(t *testing.T) {
	st := store.NewStore(context.Background(), store.RedisConfig{})
	defer st.Close()
	if _, ok := st.(*store.MemoryStore); !ok {
		t.Fatalf("expected memory store without a redis host, got %T", st)
	}

	mr := miniredis.RunT(t)
	st2 := store.NewStore(context.Background(), store.RedisConfig{Host: mr.Host(), Port: mr.Port()})
	defer st2.Close()
	if _, ok := st2.(*store.RedisStore); !ok {
		t.Fatalf("expected redis store, got %T", st2)
	}
}
