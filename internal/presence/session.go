package presence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"roomchat/internal/constants"
	"roomchat/internal/store"
)

// Session points a user at the connection that currently owns them.
type Session struct {
	UserID       string    `json:"userId"`
	Username     string    `json:"username"`
	ConnectionID string    `json:"connectionId"`
	ConnectedAt  time.Time `json:"connectedAt"`
}

func sessionKey(user string) string { return constants.KeySession + user }

// OpenSession makes sess the user's active session. When another connection
// held it, that connection's id is returned so the caller can close it.
func (s *Service) OpenSession(ctx context.Context, sess Session) (superseded string) {
	if prev, ok := s.GetSession(ctx, sess.UserID); ok && prev.ConnectionID != sess.ConnectionID {
		superseded = prev.ConnectionID
	}

	data, err := json.Marshal(sess)
	if err != nil {
		s.warn("openSession.encode", err, "user", sess.UserID)
		return superseded
	}
	if err := s.store.Set(ctx, sessionKey(sess.UserID), string(data), s.cfg.SessionTTL); err != nil {
		s.warn("openSession", err, "user", sess.UserID)
	}
	return superseded
}

func (s *Service) GetSession(ctx context.Context, user string) (Session, bool) {
	v, err := s.store.Get(ctx, sessionKey(user))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.warn("getSession", err, "user", user)
		}
		return Session{}, false
	}
	var sess Session
	if err := json.Unmarshal([]byte(v), &sess); err != nil {
		s.warn("getSession.decode", err, "user", user)
		return Session{}, false
	}
	return sess, true
}

// CloseSession removes the session only if connID still owns it, so a
// superseded connection shutting down cannot evict its replacement.
func (s *Service) CloseSession(ctx context.Context, user, connID string) bool {
	sess, ok := s.GetSession(ctx, user)
	if !ok || sess.ConnectionID != connID {
		return false
	}
	if err := s.store.Del(ctx, sessionKey(user)); err != nil {
		s.warn("closeSession", err, "user", user)
		return false
	}
	return true
}

// RefreshSession extends the session TTL when connID still owns it.
func (s *Service) RefreshSession(ctx context.Context, user, connID string) bool {
	sess, ok := s.GetSession(ctx, user)
	if !ok || sess.ConnectionID != connID {
		return false
	}
	if err := s.store.Expire(ctx, sessionKey(user), s.cfg.SessionTTL); err != nil {
		s.warn("refreshSession", err, "user", user)
		return false
	}
	return true
}

// IsCurrent reports whether connID owns the user's session.
func (s *Service) IsCurrent(ctx context.Context, user, connID string) bool {
	sess, ok := s.GetSession(ctx, user)
	return ok && sess.ConnectionID == connID
}
