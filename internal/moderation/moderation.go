// Package moderation holds flood marks, temporary room kicks, admin kick
// escalation into bans, and abuse reports.
//
// Kick and ban state is a counter plus a derived flag so the kick history
// survives a ban being cleared. None of it is transactional; concurrent
// kicks may overshoot a threshold by a kick or two.
package moderation

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"roomchat/internal/constants"
	"roomchat/internal/store"
)

// Auditor receives moderation actions. *security.AuditLogger implements it.
type Auditor interface {
	LogKick(admin, target, room string, adminCount, targetCount int64)
	LogBan(kind, user string, count int64)
	LogBanCleared(kind, user string)
	LogAbuseReport(reporter, target, room, reason string)
}

type nopAuditor struct{}

func (nopAuditor) LogKick(string, string, string, int64, int64)  {}
func (nopAuditor) LogBan(string, string, int64)                  {}
func (nopAuditor) LogBanCleared(string, string)                  {}
func (nopAuditor) LogAbuseReport(string, string, string, string) {}

// EscalationPolicy decides whose counter escalates into whose ban.
// A threshold of 0 keeps counting but never bans.
type EscalationPolicy struct {
	AdminBanThreshold  int64
	TargetBanThreshold int64
}

func DefaultPolicy() EscalationPolicy {
	return EscalationPolicy{
		AdminBanThreshold:  constants.MaxAdminKicks,
		TargetBanThreshold: constants.MaxTargetKicks,
	}
}

type Config struct {
	Policy              EscalationPolicy
	TempKickDuration    time.Duration
	KickCooldown        time.Duration
	RetaliationCooldown time.Duration
	ReportTTL           time.Duration
}

func DefaultConfig() Config {
	return Config{
		Policy:              DefaultPolicy(),
		TempKickDuration:    constants.TempKickDuration,
		KickCooldown:        constants.AdminKickCooldown,
		RetaliationCooldown: constants.AdminRetaliationDelay,
		ReportTTL:           constants.AbuseReportTTL,
	}
}

type Service struct {
	store     store.Store
	escalator Escalator
	audit     Auditor
	cfg       Config
	log       *slog.Logger
	now       func() time.Time
	newID     func() string
}

type Option func(*Service)

// WithEscalator overrides the escalator picked by NewEscalator.
func WithEscalator(e Escalator) Option {
	return func(s *Service) { s.escalator = e }
}

func WithAuditor(a Auditor) Option {
	return func(s *Service) {
		if a != nil {
			s.audit = a
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(st store.Store, cfg Config, opts ...Option) *Service {
	def := DefaultConfig()
	if cfg.TempKickDuration <= 0 {
		cfg.TempKickDuration = def.TempKickDuration
	}
	if cfg.KickCooldown <= 0 {
		cfg.KickCooldown = def.KickCooldown
	}
	if cfg.RetaliationCooldown <= 0 {
		cfg.RetaliationCooldown = def.RetaliationCooldown
	}
	if cfg.ReportTTL <= 0 {
		cfg.ReportTTL = def.ReportTTL
	}

	s := &Service{
		store:     st,
		escalator: NewEscalator(st),
		audit:     nopAuditor{},
		cfg:       cfg,
		log:       slog.Default().With("component", "moderation"),
		now:       time.Now,
		newID:     newReportID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) warn(op string, err error, args ...any) {
	s.log.Warn("store operation failed", append([]any{"op", op, "error", err}, args...)...)
}

// exists is a read that degrades to false.
func (s *Service) exists(ctx context.Context, op, key string) bool {
	ok, err := s.store.Exists(ctx, key)
	if err != nil {
		s.warn(op, err, "key", key)
		return false
	}
	return ok
}

func (s *Service) count(ctx context.Context, op, key string) int64 {
	v, err := s.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.warn(op, err, "key", key)
		}
		return 0
	}
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}

func floodKey(user string) string          { return constants.KeyFlood + user }
func tempKickKey(user string) string       { return constants.KeyTempKick + user }
func cooldownKey(user, room string) string { return constants.KeyKickCooldown + user + ":" + room }
func adminKicksKey(admin string) string    { return constants.KeyAdminKicks + admin }
func adminBanKey(admin string) string      { return constants.KeyAdminBan + admin }
func targetKicksKey(user string) string    { return constants.KeyTargetKicks + user }
func globalBanKey(user string) string      { return constants.KeyGlobalBan + user }

// SetFlood marks the user as flooding for ttl.
func (s *Service) SetFlood(ctx context.Context, user string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = constants.FloodMarkTTL
	}
	if err := s.store.Set(ctx, floodKey(user), "1", ttl); err != nil {
		s.warn("setFlood", err, "user", user)
		return false
	}
	return true
}

func (s *Service) CheckFlood(ctx context.Context, user string) bool {
	return s.exists(ctx, "checkFlood", floodKey(user))
}

func (s *Service) ClearFlood(ctx context.Context, user string) bool {
	if err := s.store.Del(ctx, floodKey(user)); err != nil {
		s.warn("clearFlood", err, "user", user)
		return false
	}
	return true
}
