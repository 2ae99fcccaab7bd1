// Package broker fans server events out to every process. Each process
// delivers a message to the sockets it holds locally.
package broker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"roomchat/internal/constants"
	"roomchat/internal/store"
)

type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeRoom   Scope = "room"
	ScopeUser   Scope = "user"
	ScopeConn   Scope = "conn"
)

// Message is an encoded protocol frame plus its audience.
type Message struct {
	Scope  Scope           `json:"scope"`
	Target string          `json:"target,omitempty"`
	Frame  json.RawMessage `json:"frame"`
	// Leave detaches the recipients from this room before the frame is queued.
	Leave string `json:"leave,omitempty"`
	// Close ends the recipients' sockets once the frame is queued.
	Close bool `json:"close,omitempty"`
}

type Handler func(Message)

type Bus interface {
	Publish(ctx context.Context, msg Message) error
	// Subscribe registers h; it receives every message published after
	// Subscribe returns. The returned func unregisters it.
	Subscribe(ctx context.Context, h Handler) (func(), error)
	Close() error
}

// New returns a Redis pub/sub bus when st is Redis-backed, otherwise an
// in-process bus.
func New(st store.Store) Bus {
	if rs, ok := st.(interface{ Client() *redis.Client }); ok {
		slog.Info("📡 using redis event bus", "channel", constants.BusChannel)
		return NewRedisBus(rs.Client(), constants.BusChannel)
	}
	return NewMemoryBus()
}
