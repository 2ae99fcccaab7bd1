package security

import (
	"sync"
	"time"
)

// Refusal names the cap that turned a websocket connection away.
type Refusal string

const (
	RefusedIP   Refusal = "ip"
	RefusedUser Refusal = "user"
)

// ConnectionLimiter caps concurrent websocket connections per client IP and
// per user id. A cap of 0 disables that check.
type ConnectionLimiter struct {
	perIP   int
	perUser int

	mu     sync.Mutex
	byIP   map[string]int
	byUser map[string]int
}

func NewConnectionLimiter(perIP, perUser int) *ConnectionLimiter {
	return &ConnectionLimiter{
		perIP:   perIP,
		perUser: perUser,
		byIP:    make(map[string]int),
		byUser:  make(map[string]int),
	}
}

// Acquire reserves a slot for user connecting from ip. On success the
// returned release must be called once the socket is gone; otherwise it is
// nil and the Refusal says which cap was hit.
func (cl *ConnectionLimiter) Acquire(ip, user string) (release func(), refused Refusal) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.perIP > 0 && cl.byIP[ip] >= cl.perIP {
		return nil, RefusedIP
	}
	if cl.perUser > 0 && cl.byUser[user] >= cl.perUser {
		return nil, RefusedUser
	}
	cl.byIP[ip]++
	cl.byUser[user]++

	var once sync.Once
	return func() { once.Do(func() { cl.release(ip, user) }) }, ""
}

func (cl *ConnectionLimiter) release(ip, user string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	decrement(cl.byIP, ip)
	decrement(cl.byUser, user)
}

func decrement(m map[string]int, key string) {
	if m[key] <= 1 {
		delete(m, key)
		return
	}
	m[key]--
}

// BruteForceProtector blocks an IP after repeated admin token failures.
type BruteForceProtector struct {
	maxAttempts   int
	blockDuration time.Duration
	now           func() time.Time

	mu       sync.Mutex
	failures map[string]failureRecord
}

// failureRecord is one IP's run of bad tokens. blockedUntil is zero while
// the IP is still allowed to try.
type failureRecord struct {
	count        int
	blockedUntil time.Time
}

func NewBruteForceProtector(maxAttempts int, blockDuration time.Duration) *BruteForceProtector {
	return &BruteForceProtector{
		maxAttempts:   maxAttempts,
		blockDuration: blockDuration,
		now:           time.Now,
		failures:      make(map[string]failureRecord),
	}
}

// Check reports whether ip may present a token. A lapsed block starts a
// fresh run.
func (bf *BruteForceProtector) Check(ip string) bool {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	rec, ok := bf.failures[ip]
	if !ok {
		return true
	}
	if rec.blockedUntil.IsZero() {
		return rec.count < bf.maxAttempts
	}
	if bf.now().Before(rec.blockedUntil) {
		return false
	}
	delete(bf.failures, ip)
	return true
}

// RecordFailure returns the failure count and whether this failure blocked
// the IP.
func (bf *BruteForceProtector) RecordFailure(ip string) (int, bool) {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	rec := bf.failures[ip]
	rec.count++
	blocked := false
	if rec.count >= bf.maxAttempts && rec.blockedUntil.IsZero() {
		rec.blockedUntil = bf.now().Add(bf.blockDuration)
		blocked = true
	}
	bf.failures[ip] = rec
	return rec.count, blocked
}

func (bf *BruteForceProtector) RecordSuccess(ip string) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	delete(bf.failures, ip)
}

// Sweep drops lapsed blocks. The server calls it from its cleanup ticker.
func (bf *BruteForceProtector) Sweep() {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	now := bf.now()
	for ip, rec := range bf.failures {
		if !rec.blockedUntil.IsZero() && !now.Before(rec.blockedUntil) {
			delete(bf.failures, ip)
		}
	}
}
