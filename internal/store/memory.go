package store

import (
	"context"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"

	"roomchat/internal/constants"
)

type kind int

const (
	kindString kind = iota
	kindSet
	kindHash
)

type entry struct {
	kind      kind
	str       string
	set       map[string]struct{}
	hash      map[string]string
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is a single-process Store. Expired keys disappear on access
// and are swept periodically.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]*entry
	now  func() time.Time

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, letting tests move time forward.
func WithClock(now func() time.Time) MemoryOption {
	return func(st *MemoryStore) { st.now = now }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	st := &MemoryStore{
		data: make(map[string]*entry),
		now:  time.Now,
		stop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(st)
	}
	st.wg.Add(1)
	go st.cleanupLoop()
	return st
}

// lookup returns the live entry for key. Caller holds mu.
func (st *MemoryStore) lookup(key string) *entry {
	e, ok := st.data[key]
	if !ok {
		return nil
	}
	if e.expired(st.now()) {
		delete(st.data, key)
		return nil
	}
	return e
}

func (st *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return st.now().Add(ttl)
}

func (st *MemoryStore) Get(_ context.Context, key string) (string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	e := st.lookup(key)
	if e == nil {
		return "", ErrNotFound
	}
	if e.kind != kindString {
		return "", ErrWrongType
	}
	return e.str, nil
}

func (st *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.data[key] = &entry{kind: kindString, str: value, expiresAt: st.deadline(ttl)}
	return nil
}

func (st *MemoryStore) Del(_ context.Context, keys ...string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, key := range keys {
		delete(st.data, key)
	}
	return nil
}

func (st *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lookup(key) != nil, nil
}

func (st *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	e := st.lookup(key)
	if e == nil {
		return nil
	}
	if ttl <= 0 {
		delete(st.data, key)
		return nil
	}
	e.expiresAt = st.deadline(ttl)
	return nil
}

func (st *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	e := st.lookup(key)
	if e == nil {
		return 0, ErrNotFound
	}
	if e.expiresAt.IsZero() {
		return 0, nil
	}
	return e.expiresAt.Sub(st.now()), nil
}

func (st *MemoryStore) IncrBy(_ context.Context, key string, delta int64) (int64, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	e := st.lookup(key)
	if e == nil {
		st.data[key] = &entry{kind: kindString, str: strconv.FormatInt(delta, 10)}
		return delta, nil
	}
	if e.kind != kindString {
		return 0, ErrWrongType
	}
	n, err := strconv.ParseInt(e.str, 10, 64)
	if err != nil {
		return 0, ErrNotInteger
	}
	n += delta
	e.str = strconv.FormatInt(n, 10)
	return n, nil
}

func (st *MemoryStore) SAdd(_ context.Context, key string, members ...string) (int64, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	e := st.lookup(key)
	if e == nil {
		e = &entry{kind: kindSet, set: make(map[string]struct{})}
		st.data[key] = e
	}
	if e.kind != kindSet {
		return 0, ErrWrongType
	}

	var added int64
	for _, m := range members {
		if _, ok := e.set[m]; !ok {
			e.set[m] = struct{}{}
			added++
		}
	}
	return added, nil
}

func (st *MemoryStore) SRem(_ context.Context, key string, members ...string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	e := st.lookup(key)
	if e == nil {
		return nil
	}
	if e.kind != kindSet {
		return ErrWrongType
	}
	for _, m := range members {
		delete(e.set, m)
	}
	if len(e.set) == 0 {
		delete(st.data, key)
	}
	return nil
}

func (st *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	e := st.lookup(key)
	if e == nil {
		return []string{}, nil
	}
	if e.kind != kindSet {
		return nil, ErrWrongType
	}
	out := make([]string, 0, len(e.set))
	for m := range e.set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (st *MemoryStore) SIsMember(_ context.Context, key, member string) (bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	e := st.lookup(key)
	if e == nil {
		return false, nil
	}
	if e.kind != kindSet {
		return false, ErrWrongType
	}
	_, ok := e.set[member]
	return ok, nil
}

func (st *MemoryStore) SCard(_ context.Context, key string) (int64, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	e := st.lookup(key)
	if e == nil {
		return 0, nil
	}
	if e.kind != kindSet {
		return 0, ErrWrongType
	}
	return int64(len(e.set)), nil
}

func (st *MemoryStore) HSet(_ context.Context, key string, fields map[string]string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	e := st.lookup(key)
	if e == nil {
		e = &entry{kind: kindHash, hash: make(map[string]string)}
		st.data[key] = e
	}
	if e.kind != kindHash {
		return ErrWrongType
	}
	for k, v := range fields {
		e.hash[k] = v
	}
	return nil
}

func (st *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	e := st.lookup(key)
	if e == nil {
		return map[string]string{}, nil
	}
	if e.kind != kindHash {
		return nil, ErrWrongType
	}
	out := make(map[string]string, len(e.hash))
	for k, v := range e.hash {
		out[k] = v
	}
	return out, nil
}

func (st *MemoryStore) HDel(_ context.Context, key string, fields ...string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	e := st.lookup(key)
	if e == nil {
		return nil
	}
	if e.kind != kindHash {
		return ErrWrongType
	}
	for _, f := range fields {
		delete(e.hash, f)
	}
	if len(e.hash) == 0 {
		delete(st.data, key)
	}
	return nil
}

func (st *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	var out []string
	for key := range st.data {
		if st.lookup(key) == nil {
			continue
		}
		if ok, _ := path.Match(pattern, key); ok {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (st *MemoryStore) Close() error {
	st.once.Do(func() { close(st.stop) })
	st.wg.Wait()
	return nil
}

func (st *MemoryStore) cleanupLoop() {
	defer st.wg.Done()
	ticker := time.NewTicker(constants.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-st.stop:
			return
		case <-ticker.C:
			st.sweep()
		}
	}
}

func (st *MemoryStore) sweep() {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.now()
	removed := 0
	for key, e := range st.data {
		if e.expired(now) {
			delete(st.data, key)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("🗑 expired keys swept", "count", removed)
	}
}
