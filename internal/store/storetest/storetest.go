// Package storetest provides a controllable clock and store for tests of
// packages built on store.Store.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"roomchat/internal/store"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// NewMemory returns a memory store on a fake clock, closed with the test.
func NewMemory(t testing.TB) (*store.MemoryStore, *Clock) {
	t.Helper()
	clock := NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	st := store.NewMemoryStore(store.WithClock(clock.Now))
	t.Cleanup(func() { _ = st.Close() })
	return st, clock
}

// ErrUnavailable is returned by every Failing operation.
var ErrUnavailable = errors.New("store unavailable")

// Failing is a Store whose backend is down.
type Failing struct{}

var _ store.Store = Failing{}

func (Failing) Get(context.Context, string) (string, error) { return "", ErrUnavailable }
func (Failing) Set(context.Context, string, string, time.Duration) error {
	return ErrUnavailable
}
func (Failing) Del(context.Context, ...string) error                { return ErrUnavailable }
func (Failing) Exists(context.Context, string) (bool, error)        { return false, ErrUnavailable }
func (Failing) Expire(context.Context, string, time.Duration) error { return ErrUnavailable }
func (Failing) TTL(context.Context, string) (time.Duration, error)  { return 0, ErrUnavailable }
func (Failing) IncrBy(context.Context, string, int64) (int64, error) {
	return 0, ErrUnavailable
}
func (Failing) SAdd(context.Context, string, ...string) (int64, error) {
	return 0, ErrUnavailable
}
func (Failing) SRem(context.Context, string, ...string) error { return ErrUnavailable }
func (Failing) SMembers(context.Context, string) ([]string, error) {
	return nil, ErrUnavailable
}
func (Failing) SIsMember(context.Context, string, string) (bool, error) {
	return false, ErrUnavailable
}
func (Failing) SCard(context.Context, string) (int64, error) { return 0, ErrUnavailable }
func (Failing) HSet(context.Context, string, map[string]string) error {
	return ErrUnavailable
}
func (Failing) HGetAll(context.Context, string) (map[string]string, error) {
	return nil, ErrUnavailable
}
func (Failing) HDel(context.Context, string, ...string) error  { return ErrUnavailable }
func (Failing) Keys(context.Context, string) ([]string, error) { return nil, ErrUnavailable }
func (Failing) Close() error                                   { return nil }
