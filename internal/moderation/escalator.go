package moderation

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"roomchat/internal/store"
)

// Escalator increments a kick counter and raises the matching ban flag once
// the counter reaches threshold. threshold <= 0 never raises the flag.
type Escalator interface {
	Escalate(ctx context.Context, counterKey, flagKey string, threshold int64) (count int64, flagged bool, err error)
}

// NewEscalator uses the atomic script on Redis and the plain two-step
// escalator elsewhere.
func NewEscalator(st store.Store) Escalator {
	if rs, ok := st.(interface{ Client() *redis.Client }); ok {
		return NewScriptEscalator(rs.Client())
	}
	return StoreEscalator{Store: st}
}

// StoreEscalator does increment-then-compare as two store calls. A failed
// flag write leaves the counter incremented.
type StoreEscalator struct {
	Store store.Store
}

func (e StoreEscalator) Escalate(ctx context.Context, counterKey, flagKey string, threshold int64) (int64, bool, error) {
	n, err := e.Store.IncrBy(ctx, counterKey, 1)
	if err != nil {
		return 0, false, fmt.Errorf("increment %s: %w", counterKey, err)
	}
	if threshold <= 0 || n < threshold {
		return n, false, nil
	}
	if err := e.Store.Set(ctx, flagKey, "true", 0); err != nil {
		return n, false, fmt.Errorf("flag %s: %w", flagKey, err)
	}
	return n, true, nil
}

var escalateScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
local threshold = tonumber(ARGV[1])
if threshold > 0 and n >= threshold then
	redis.call('SET', KEYS[2], 'true')
	return {n, 1}
end
return {n, 0}
`)

// ScriptEscalator runs increment and flag as one Lua script.
type ScriptEscalator struct {
	client *redis.Client
}

func NewScriptEscalator(client *redis.Client) *ScriptEscalator {
	return &ScriptEscalator{client: client}
}

func (e *ScriptEscalator) Escalate(ctx context.Context, counterKey, flagKey string, threshold int64) (int64, bool, error) {
	res, err := escalateScript.Run(ctx, e.client, []string{counterKey, flagKey}, threshold).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("escalate %s: %w", counterKey, err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("escalate %s: unexpected reply %v", counterKey, res)
	}
	return res[0], res[1] == 1, nil
}
