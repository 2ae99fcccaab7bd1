package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"roomchat/internal/broker"
	"roomchat/internal/protocol"
)

// Hub tracks the sockets held by this process and delivers bus messages to
// them. Every broadcast goes through the bus so peers on other processes see
// it too.
type Hub struct {
	bus         broker.Bus
	unsubscribe func()
	log         *slog.Logger

	mu    sync.RWMutex
	conns map[string]*client
	users map[string]map[*client]struct{}
	rooms map[string]map[*client]struct{}
}

func NewHub(ctx context.Context, bus broker.Bus) (*Hub, error) {
	h := &Hub{
		bus:   bus,
		log:   slog.Default().With("component", "hub"),
		conns: make(map[string]*client),
		users: make(map[string]map[*client]struct{}),
		rooms: make(map[string]map[*client]struct{}),
	}
	unsub, err := bus.Subscribe(ctx, h.deliver)
	if err != nil {
		return nil, fmt.Errorf("subscribe hub: %w", err)
	}
	h.unsubscribe = unsub
	return h, nil
}

func (h *Hub) Close() {
	h.unsubscribe()

	h.mu.Lock()
	conns := make([]*client, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.id] = c
	addMember(h.users, c.userID, c)
}

// unregister drops c everywhere and returns the rooms it was attached to.
func (h *Hub) unregister(c *client) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.conns, c.id)
	removeMember(h.users, c.userID, c)

	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		removeMember(h.rooms, room, c)
		rooms = append(rooms, room)
	}
	clear(c.rooms)
	return rooms
}

func (h *Hub) attach(c *client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.rooms[room] = struct{}{}
	addMember(h.rooms, room, c)
}

// detach reports whether c was attached to room.
func (h *Hub) detach(c *client, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := c.rooms[room]; !ok {
		return false
	}
	delete(c.rooms, room)
	removeMember(h.rooms, room, c)
	return true
}

func (h *Hub) attached(c *client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

// LocalConns is the number of sockets held by this process.
func (h *Hub) LocalConns() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func addMember(m map[string]map[*client]struct{}, key string, c *client) {
	set, ok := m[key]
	if !ok {
		set = make(map[*client]struct{})
		m[key] = set
	}
	set[c] = struct{}{}
}

func removeMember(m map[string]map[*client]struct{}, key string, c *client) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(m, key)
	}
}

func (h *Hub) recipients(msg broker.Message) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*client
	switch msg.Scope {
	case broker.ScopeGlobal:
		out = make([]*client, 0, len(h.conns))
		for _, c := range h.conns {
			out = append(out, c)
		}
	case broker.ScopeRoom:
		for c := range h.rooms[msg.Target] {
			out = append(out, c)
		}
	case broker.ScopeUser:
		for c := range h.users[msg.Target] {
			out = append(out, c)
		}
	case broker.ScopeConn:
		if c, ok := h.conns[msg.Target]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) deliver(msg broker.Message) {
	for _, c := range h.recipients(msg) {
		if msg.Leave != "" {
			h.detach(c, msg.Leave)
		}
		if !c.enqueue(msg.Frame) {
			h.log.Warn("⚠️  send queue full, dropping connection", "conn", c.id, "user", c.userID)
			c.close()
			continue
		}
		if msg.Close {
			c.close()
		}
	}
}

func (h *Hub) publish(ctx context.Context, msg broker.Message, ev protocol.ServerEvent) {
	frame, err := protocol.Encode(ev)
	if err != nil {
		h.log.Error("encode event", "event", ev.Name(), "error", err)
		return
	}
	msg.Frame = frame
	if err := h.bus.Publish(ctx, msg); err != nil {
		h.log.Warn("publish failed", "event", ev.Name(), "scope", msg.Scope, "error", err)
	}
}

// Global sends ev to every connected socket.
func (h *Hub) Global(ctx context.Context, ev protocol.ServerEvent) {
	h.publish(ctx, broker.Message{Scope: broker.ScopeGlobal}, ev)
}

// Room sends ev to every socket attached to room.
func (h *Hub) Room(ctx context.Context, room string, ev protocol.ServerEvent) {
	h.publish(ctx, broker.Message{Scope: broker.ScopeRoom, Target: room}, ev)
}

// User sends ev to every socket of user.
func (h *Hub) User(ctx context.Context, user string, ev protocol.ServerEvent) {
	h.publish(ctx, broker.Message{Scope: broker.ScopeUser, Target: user}, ev)
}

// EvictFromRoom sends ev to the user's sockets and detaches them from room.
func (h *Hub) EvictFromRoom(ctx context.Context, user, room string, ev protocol.ServerEvent) {
	h.publish(ctx, broker.Message{Scope: broker.ScopeUser, Target: user, Leave: room}, ev)
}

// CloseConn sends ev to one socket, wherever it lives, and closes it.
func (h *Hub) CloseConn(ctx context.Context, connID string, ev protocol.ServerEvent) {
	h.publish(ctx, broker.Message{Scope: broker.ScopeConn, Target: connID, Close: true}, ev)
}
