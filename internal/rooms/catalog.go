// Package rooms keeps the room catalog and each room's last-message summary
// in the shared store.
package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"

	"roomchat/internal/constants"
	"roomchat/internal/protocol"
	"roomchat/internal/store"
)

var ErrInvalidRoom = errors.New("room needs a name")

type seedFile struct {
	Rooms []seedRoom `yaml:"rooms"`
}

type seedRoom struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	MaxUsers int    `yaml:"maxUsers"`
}

// LoadFile reads a YAML room list:
//
//	rooms:
//	  - id: "1"
//	    name: Indonesia
//	    category: official
//	    maxUsers: 25
func LoadFile(path string) ([]protocol.RoomInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read room catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) ([]protocol.RoomInfo, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse room catalog: %w", err)
	}

	out := make([]protocol.RoomInfo, 0, len(f.Rooms))
	seen := make(map[string]bool, len(f.Rooms))
	for i, r := range f.Rooms {
		if r.ID == "" || r.Name == "" {
			return nil, fmt.Errorf("room catalog entry %d: id and name are required", i)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("room catalog entry %d: duplicate id %q", i, r.ID)
		}
		seen[r.ID] = true
		out = append(out, protocol.RoomInfo{ID: r.ID, Name: r.Name, Category: r.Category, MaxUsers: r.MaxUsers})
	}
	return out, nil
}

type Catalog struct {
	store store.Store
	log   *slog.Logger
}

func NewCatalog(st store.Store) *Catalog {
	return &Catalog{store: st, log: slog.Default().With("component", "rooms")}
}

// Seed adds the rooms that are not in the catalog yet. Rooms created or
// deleted at runtime are left as they are.
func (c *Catalog) Seed(ctx context.Context, rooms []protocol.RoomInfo) (int, error) {
	existing, err := c.store.HGetAll(ctx, constants.KeyRoomCatalog)
	if err != nil {
		return 0, fmt.Errorf("read catalog: %w", err)
	}

	fields := make(map[string]string)
	for _, r := range rooms {
		if _, ok := existing[r.ID]; ok {
			continue
		}
		data, err := json.Marshal(r)
		if err != nil {
			return 0, fmt.Errorf("encode room %s: %w", r.ID, err)
		}
		fields[r.ID] = string(data)
	}
	if err := c.store.HSet(ctx, constants.KeyRoomCatalog, fields); err != nil {
		return 0, fmt.Errorf("seed catalog: %w", err)
	}
	return len(fields), nil
}

// List returns the catalog ordered by id, numeric ids first.
func (c *Catalog) List(ctx context.Context) []protocol.RoomInfo {
	all, err := c.store.HGetAll(ctx, constants.KeyRoomCatalog)
	if err != nil {
		c.log.Warn("failed to list rooms", "error", err)
		return []protocol.RoomInfo{}
	}

	out := make([]protocol.RoomInfo, 0, len(all))
	for id, raw := range all {
		var r protocol.RoomInfo
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			c.log.Warn("skipping malformed room", "room", id, "error", err)
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return lessID(out[i].ID, out[j].ID) })
	return out
}

func lessID(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}

func (c *Catalog) Get(ctx context.Context, id string) (protocol.RoomInfo, bool) {
	for _, r := range c.List(ctx) {
		if r.ID == id {
			return r, true
		}
	}
	return protocol.RoomInfo{}, false
}

// Name falls back to the id for rooms outside the catalog.
func (c *Catalog) Name(ctx context.Context, id string) string {
	if r, ok := c.Get(ctx, id); ok {
		return r.Name
	}
	return id
}

// Create adds a room, assigning an id when none is given.
func (c *Catalog) Create(ctx context.Context, r protocol.RoomInfo) (protocol.RoomInfo, error) {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return protocol.RoomInfo{}, ErrInvalidRoom
	}
	if r.ID == "" {
		r.ID = strings.ToLower(ulid.Make().String())
	}
	data, err := json.Marshal(r)
	if err != nil {
		return protocol.RoomInfo{}, err
	}
	if err := c.store.HSet(ctx, constants.KeyRoomCatalog, map[string]string{r.ID: string(data)}); err != nil {
		return protocol.RoomInfo{}, fmt.Errorf("create room: %w", err)
	}
	c.log.Info("🏠 room created", "room", r.ID, "name", r.Name)
	return r, nil
}

func (c *Catalog) Delete(ctx context.Context, id string) (protocol.RoomInfo, bool, error) {
	r, ok := c.Get(ctx, id)
	if !ok {
		return protocol.RoomInfo{}, false, nil
	}
	if err := c.store.HDel(ctx, constants.KeyRoomCatalog, id); err != nil {
		return protocol.RoomInfo{}, false, fmt.Errorf("delete room: %w", err)
	}
	c.log.Info("🏚 room deleted", "room", id)
	return r, true, nil
}

// LastMessage summarises the most recent chat line in a room.
type LastMessage struct {
	Message   string    `json:"message"`
	Username  string    `json:"username,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

func lastMessageKey(room string) string { return constants.KeyLastMessage + room }

func (c *Catalog) SetLastMessage(ctx context.Context, msg protocol.ChatMessage) {
	key := lastMessageKey(msg.RoomID)
	err := c.store.HSet(ctx, key, map[string]string{
		"message":   msg.Text,
		"username":  msg.Username,
		"timestamp": msg.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		c.log.Warn("failed to store last message", "room", msg.RoomID, "error", err)
		return
	}
	if err := c.store.Expire(ctx, key, constants.LastMessageTTL); err != nil {
		c.log.Warn("failed to set last message ttl", "room", msg.RoomID, "error", err)
	}
}

func (c *Catalog) LastMessage(ctx context.Context, room string) LastMessage {
	data, err := c.store.HGetAll(ctx, lastMessageKey(room))
	if err != nil {
		c.log.Warn("failed to read last message", "room", room, "error", err)
	}
	if data["message"] == "" {
		return LastMessage{Message: constants.MsgNoMessages}
	}
	ts, _ := time.Parse(time.RFC3339Nano, data["timestamp"])
	return LastMessage{Message: data["message"], Username: data["username"], Timestamp: ts}
}
