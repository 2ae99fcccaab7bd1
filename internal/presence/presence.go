// Package presence tracks who is online, which rooms they are in and which
// connection currently owns their session.
//
// Every operation is best effort: store failures are logged and the caller
// gets a safe default (offline, empty list, false).
package presence

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"roomchat/internal/constants"
	"roomchat/internal/store"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// ParseStatus accepts the user-selectable statuses.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return st, true
	}
	return "", false
}

type Config struct {
	OnlineTTL     time.Duration
	MembershipTTL time.Duration
	SessionTTL    time.Duration
}

func DefaultConfig() Config {
	return Config{
		OnlineTTL:     constants.OnlinePresenceTTL,
		MembershipTTL: constants.DefaultTTL,
		SessionTTL:    constants.DefaultTTL,
	}
}

type Service struct {
	store store.Store
	cfg   Config
	log   *slog.Logger
}

func NewService(st store.Store, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.OnlineTTL <= 0 {
		cfg.OnlineTTL = def.OnlineTTL
	}
	if cfg.MembershipTTL <= 0 {
		cfg.MembershipTTL = def.MembershipTTL
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = def.SessionTTL
	}
	return &Service{
		store: st,
		cfg:   cfg,
		log:   slog.Default().With("component", "presence"),
	}
}

func presenceKey(user string) string  { return constants.KeyPresence + user }
func membersKey(room string) string   { return constants.KeyRoom + room + constants.KeyMembersSuffix }
func userRoomsKey(user string) string { return constants.KeyUserRooms + user }

func (s *Service) warn(op string, err error, args ...any) {
	s.log.Warn("store operation failed", append([]any{"op", op, "error", err}, args...)...)
}

// MarkOnline sets the user online for one OnlineTTL window.
func (s *Service) MarkOnline(ctx context.Context, user string) bool {
	if err := s.store.Set(ctx, presenceKey(user), string(StatusOnline), s.cfg.OnlineTTL); err != nil {
		s.warn("markOnline", err, "user", user)
		return false
	}
	return true
}

// MarkAway and MarkBusy are durable until changed.
func (s *Service) MarkAway(ctx context.Context, user string) bool {
	return s.markDurable(ctx, user, StatusAway)
}

func (s *Service) MarkBusy(ctx context.Context, user string) bool {
	return s.markDurable(ctx, user, StatusBusy)
}

func (s *Service) markDurable(ctx context.Context, user string, status Status) bool {
	if err := s.store.Set(ctx, presenceKey(user), string(status), 0); err != nil {
		s.warn("mark"+string(status), err, "user", user)
		return false
	}
	return true
}

func (s *Service) MarkOffline(ctx context.Context, user string) bool {
	if err := s.store.Del(ctx, presenceKey(user)); err != nil {
		s.warn("markOffline", err, "user", user)
		return false
	}
	return true
}

// SetStatus routes a user-chosen status to the matching Mark call.
func (s *Service) SetStatus(ctx context.Context, user string, status Status) bool {
	switch status {
	case StatusOnline:
		return s.MarkOnline(ctx, user)
	case StatusAway:
		return s.MarkAway(ctx, user)
	case StatusBusy:
		return s.MarkBusy(ctx, user)
	default:
		return s.MarkOffline(ctx, user)
	}
}

// RefreshOnline extends the online TTL. Away and busy users are left alone,
// and a user who already lapsed to offline stays offline.
func (s *Service) RefreshOnline(ctx context.Context, user string) bool {
	if s.GetPresence(ctx, user) != StatusOnline {
		return false
	}
	if err := s.store.Expire(ctx, presenceKey(user), s.cfg.OnlineTTL); err != nil {
		s.warn("refreshOnline", err, "user", user)
		return false
	}
	return true
}

func (s *Service) GetPresence(ctx context.Context, user string) Status {
	v, err := s.store.Get(ctx, presenceKey(user))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.warn("getPresence", err, "user", user)
		}
		return StatusOffline
	}
	if st, ok := ParseStatus(v); ok {
		return st
	}
	return StatusOffline
}

// JoinRoom adds the user to the room and refreshes the set's TTL along with
// the user's reverse index.
func (s *Service) JoinRoom(ctx context.Context, room, user string) bool {
	if _, err := s.store.SAdd(ctx, membersKey(room), user); err != nil {
		s.warn("joinRoom", err, "room", room, "user", user)
		return false
	}
	if err := s.store.Expire(ctx, membersKey(room), s.cfg.MembershipTTL); err != nil {
		s.warn("joinRoom.expire", err, "room", room)
	}
	if _, err := s.store.SAdd(ctx, userRoomsKey(user), room); err != nil {
		s.warn("joinRoom.index", err, "user", user)
		return true
	}
	if err := s.store.Expire(ctx, userRoomsKey(user), s.cfg.MembershipTTL); err != nil {
		s.warn("joinRoom.index.expire", err, "user", user)
	}
	return true
}

// LeaveRoom removes only this user; other members' TTL is untouched.
func (s *Service) LeaveRoom(ctx context.Context, room, user string) bool {
	if err := s.store.SRem(ctx, membersKey(room), user); err != nil {
		s.warn("leaveRoom", err, "room", room, "user", user)
		return false
	}
	if err := s.store.SRem(ctx, userRoomsKey(user), room); err != nil {
		s.warn("leaveRoom.index", err, "user", user)
	}
	return true
}

// TouchRooms keeps the rooms of a live user from expiring. Called on
// heartbeat.
func (s *Service) TouchRooms(ctx context.Context, user string) {
	for _, room := range s.UserRooms(ctx, user) {
		if err := s.store.Expire(ctx, membersKey(room), s.cfg.MembershipTTL); err != nil {
			s.warn("touchRooms", err, "room", room)
		}
	}
	if err := s.store.Expire(ctx, userRoomsKey(user), s.cfg.MembershipTTL); err != nil {
		s.warn("touchRooms.index", err, "user", user)
	}
}

// ListMembers returns the room's members that still hold a session. Members
// whose session lapsed without a disconnect are removed on the way.
func (s *Service) ListMembers(ctx context.Context, room string) []string {
	members, err := s.store.SMembers(ctx, membersKey(room))
	if err != nil {
		s.warn("listMembers", err, "room", room)
		return []string{}
	}
	return s.pruneStale(ctx, room, members)
}

func (s *Service) pruneStale(ctx context.Context, room string, members []string) []string {
	live := members[:0]
	for _, user := range members {
		ok, err := s.store.Exists(ctx, sessionKey(user))
		if err != nil {
			s.warn("listMembers.session", err, "user", user)
			live = append(live, user)
			continue
		}
		if ok {
			live = append(live, user)
			continue
		}
		s.log.Debug("🧹 removing stale member", "room", room, "user", user)
		s.LeaveRoom(ctx, room, user)
	}
	return live
}

func (s *Service) IsMember(ctx context.Context, room, user string) bool {
	ok, err := s.store.SIsMember(ctx, membersKey(room), user)
	if err != nil {
		s.warn("isMember", err, "room", room, "user", user)
		return false
	}
	return ok
}

func (s *Service) CountMembers(ctx context.Context, room string) int {
	return len(s.ListMembers(ctx, room))
}

// UserRooms lists the rooms the user is tracked in.
func (s *Service) UserRooms(ctx context.Context, user string) []string {
	rooms, err := s.store.SMembers(ctx, userRoomsKey(user))
	if err != nil {
		s.warn("userRooms", err, "user", user)
		return []string{}
	}
	return rooms
}

// ActiveRooms lists every room with a live membership set.
func (s *Service) ActiveRooms(ctx context.Context) []string {
	keys, err := s.store.Keys(ctx, constants.KeyRoom+"*"+constants.KeyMembersSuffix)
	if err != nil {
		s.warn("activeRooms", err)
		return []string{}
	}
	rooms := make([]string, 0, len(keys))
	for _, k := range keys {
		id := strings.TrimSuffix(strings.TrimPrefix(k, constants.KeyRoom), constants.KeyMembersSuffix)
		if id != "" {
			rooms = append(rooms, id)
		}
	}
	return rooms
}

type Participant struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Status   Status `json:"status"`
}

// Participants resolves room members to display names through their
// sessions. Members without a session fall back to their id.
func (s *Service) Participants(ctx context.Context, room string) []Participant {
	members := s.ListMembers(ctx, room)
	out := make([]Participant, 0, len(members))
	for _, id := range members {
		p := Participant{UserID: id, Username: id, Status: s.GetPresence(ctx, id)}
		if sess, ok := s.GetSession(ctx, id); ok && sess.Username != "" {
			p.Username = sess.Username
		}
		out = append(out, p)
	}
	return out
}
