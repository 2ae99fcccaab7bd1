package moderation

import (
	"context"
	"errors"

	"roomchat/internal/store"
)

// KickStatus is the answer to "is this user temp-kicked, and from where".
type KickStatus struct {
	Kicked bool   `json:"kicked"`
	RoomID string `json:"roomId,omitempty"`
}

// TempKick bars the user from rejoining room for TempKickDuration.
func (s *Service) TempKick(ctx context.Context, user, room string) bool {
	if err := s.store.Set(ctx, tempKickKey(user), room, s.cfg.TempKickDuration); err != nil {
		s.warn("tempKick", err, "user", user, "room", room)
		return false
	}
	return true
}

func (s *Service) IsTempKicked(ctx context.Context, user string) KickStatus {
	room, err := s.store.Get(ctx, tempKickKey(user))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.warn("isTempKicked", err, "user", user)
		}
		return KickStatus{}
	}
	return KickStatus{Kicked: true, RoomID: room}
}

// KickResult reports every effect AdminKick managed to apply.
type KickResult struct {
	Admin           string `json:"admin"`
	Target          string `json:"target"`
	RoomID          string `json:"roomId"`
	AdminKickCount  int64  `json:"adminKickCount"`
	AdminBanned     bool   `json:"adminBanned"`
	TargetKickCount int64  `json:"targetKickCount"`
	TargetBanned    bool   `json:"targetBanned"`
}

// AdminKick applies, in order and independently of each other's failure:
//  1. the target's cooldown on room
//  2. the admin's global kick counter, banning the admin at the threshold
//  3. a short cooldown keeping the admin out of room
//  4. the target's own counter, banning the target at its threshold
func (s *Service) AdminKick(ctx context.Context, admin, target, room string) KickResult {
	res := KickResult{Admin: admin, Target: target, RoomID: room}
	policy := s.cfg.Policy

	if err := s.store.Set(ctx, cooldownKey(target, room), "1", s.cfg.KickCooldown); err != nil {
		s.warn("adminKick.cooldown", err, "target", target, "room", room)
	}
	s.TempKick(ctx, target, room)

	n, banned, err := s.escalator.Escalate(ctx, adminKicksKey(admin), adminBanKey(admin), policy.AdminBanThreshold)
	if err != nil {
		s.warn("adminKick.adminCounter", err, "admin", admin)
	}
	res.AdminKickCount, res.AdminBanned = n, banned

	if err := s.store.Set(ctx, cooldownKey(admin, room), "1", s.cfg.RetaliationCooldown); err != nil {
		s.warn("adminKick.retaliation", err, "admin", admin, "room", room)
	}

	n, banned, err = s.escalator.Escalate(ctx, targetKicksKey(target), globalBanKey(target), policy.TargetBanThreshold)
	if err != nil {
		s.warn("adminKick.targetCounter", err, "target", target)
	}
	res.TargetKickCount, res.TargetBanned = n, banned

	s.audit.LogKick(admin, target, room, res.AdminKickCount, res.TargetKickCount)
	if res.AdminBanned {
		s.log.Warn("🚫 admin banned for excessive kicks", "admin", admin, "kicks", res.AdminKickCount)
		s.audit.LogBan("admin", admin, res.AdminKickCount)
	}
	if res.TargetBanned {
		s.log.Warn("🚫 user globally banned", "user", target, "kicks", res.TargetKickCount)
		s.audit.LogBan("global", target, res.TargetKickCount)
	}
	return res
}

func (s *Service) IsGloballyBanned(ctx context.Context, user string) bool {
	return s.exists(ctx, "isGloballyBanned", globalBanKey(user))
}

func (s *Service) IsAdminGloballyBanned(ctx context.Context, admin string) bool {
	return s.exists(ctx, "isAdminGloballyBanned", adminBanKey(admin))
}

// ClearGlobalBan resets the user's ban flag and kick counter.
func (s *Service) ClearGlobalBan(ctx context.Context, user string) bool {
	if err := s.store.Del(ctx, globalBanKey(user), targetKicksKey(user)); err != nil {
		s.warn("clearGlobalBan", err, "user", user)
		return false
	}
	s.audit.LogBanCleared("global", user)
	return true
}

// ClearAdminBan resets the admin's ban flag and kick counter.
func (s *Service) ClearAdminBan(ctx context.Context, admin string) bool {
	if err := s.store.Del(ctx, adminBanKey(admin), adminKicksKey(admin)); err != nil {
		s.warn("clearAdminBan", err, "admin", admin)
		return false
	}
	s.audit.LogBanCleared("admin", admin)
	return true
}

func (s *Service) AdminKickCount(ctx context.Context, admin string) int64 {
	return s.count(ctx, "adminKickCount", adminKicksKey(admin))
}

func (s *Service) TargetKickCount(ctx context.Context, user string) int64 {
	return s.count(ctx, "targetKickCount", targetKicksKey(user))
}

// JoinVerdict is the outcome of CanJoin.
type JoinVerdict string

const (
	JoinAllowed     JoinVerdict = "allowed"
	JoinBanned      JoinVerdict = "banned"
	JoinAdminBanned JoinVerdict = "admin_banned"
	JoinKicked      JoinVerdict = "kicked"
)

// CanJoin checks bans, then the temp kick and per-room cooldowns for room.
// Store failures let the user in.
func (s *Service) CanJoin(ctx context.Context, user, room string) JoinVerdict {
	if s.IsGloballyBanned(ctx, user) {
		return JoinBanned
	}
	if s.IsAdminGloballyBanned(ctx, user) {
		return JoinAdminBanned
	}
	if st := s.IsTempKicked(ctx, user); st.Kicked && st.RoomID == room {
		return JoinKicked
	}
	if s.exists(ctx, "canJoin.cooldown", cooldownKey(user, room)) {
		return JoinKicked
	}
	return JoinAllowed
}
