// Package voucher runs the periodic free-credit giveaway: a 7-digit code
// announced to everyone, claimable once per user while it is active.
package voucher

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"roomchat/internal/constants"
	"roomchat/internal/credits"
	"roomchat/internal/protocol"
	"roomchat/internal/store"
)

type Config struct {
	Interval     time.Duration
	Expiry       time.Duration
	MinAmount    int64
	MaxAmount    int64
	UserCooldown time.Duration
	// Locale formats the amount in announcements.
	Locale language.Tag
}

func DefaultConfig() Config {
	return Config{
		Interval:     constants.VoucherInterval,
		Expiry:       constants.VoucherExpiry,
		MinAmount:    constants.VoucherMinAmount,
		MaxAmount:    constants.VoucherMaxAmount,
		UserCooldown: constants.VoucherUserCooldown,
		Locale:       language.Indonesian,
	}
}

// Voucher is the singleton active giveaway.
type Voucher struct {
	Code      string    `json:"code"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RemainingSeconds rounds up so a voucher with 0.2s left still reports 1.
func (v Voucher) RemainingSeconds(now time.Time) int {
	left := v.ExpiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int((left + time.Second - 1) / time.Second)
}

// Broadcaster delivers announcements. The server hub implements it.
type Broadcaster interface {
	Global(ctx context.Context, ev protocol.ServerEvent)
	Room(ctx context.Context, room string, ev protocol.ServerEvent)
}

// RoomLister names the rooms that should receive the in-room copy.
type RoomLister interface {
	ActiveRooms(ctx context.Context) []string
}

type Service struct {
	store   store.Store
	granter credits.Granter
	rooms   RoomLister
	cfg     Config
	printer *message.Printer
	log     *slog.Logger

	now    func() time.Time
	int64N func(int64) int64
	newID  func() string
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRand fixes the code and amount source.
func WithRand(r *rand.Rand) Option {
	return func(s *Service) { s.int64N = r.Int64N }
}

func NewService(st store.Store, granter credits.Granter, rooms RoomLister, cfg Config, opts ...Option) *Service {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = def.Expiry
	}
	if cfg.MinAmount <= 0 || cfg.MaxAmount < cfg.MinAmount {
		cfg.MinAmount, cfg.MaxAmount = def.MinAmount, def.MaxAmount
	}
	if cfg.UserCooldown <= 0 {
		cfg.UserCooldown = def.UserCooldown
	}
	if cfg.Locale == language.Und {
		cfg.Locale = def.Locale
	}

	s := &Service{
		store:   st,
		granter: granter,
		rooms:   rooms,
		cfg:     cfg,
		printer: message.NewPrinter(cfg.Locale),
		log:     slog.Default().With("component", "voucher"),
		now:     time.Now,
		int64N:  rand.Int64N,
		newID:   func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Config() Config { return s.cfg }

func claimedKey(code string) string  { return constants.KeyVoucherClaim + code }
func cooldownKey(user string) string { return constants.KeyVoucherCool + user }

// CreateNewVoucher replaces the active voucher with a fresh one. The store
// TTL runs a little past the logical expiry and only serves as cleanup.
func (s *Service) CreateNewVoucher(ctx context.Context) (Voucher, bool) {
	now := s.now()
	v := Voucher{
		Code:      strconv.FormatInt(constants.VoucherCodeMin+s.int64N(constants.VoucherCodeMax-constants.VoucherCodeMin+1), 10),
		Amount:    s.cfg.MinAmount + s.int64N(s.cfg.MaxAmount-s.cfg.MinAmount+1),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.Expiry),
	}

	key := constants.KeyVoucherActive
	if err := s.store.Del(ctx, key); err != nil {
		s.log.Warn("failed to clear previous voucher", "error", err)
		return Voucher{}, false
	}
	err := s.store.HSet(ctx, key, map[string]string{
		"code":      v.Code,
		"amount":    strconv.FormatInt(v.Amount, 10),
		"createdAt": strconv.FormatInt(v.CreatedAt.UnixMilli(), 10),
		"expiresAt": strconv.FormatInt(v.ExpiresAt.UnixMilli(), 10),
	})
	if err != nil {
		s.log.Warn("failed to store voucher", "error", err)
		return Voucher{}, false
	}
	if err := s.store.Expire(ctx, key, s.cfg.Expiry+constants.VoucherStoreBuffer); err != nil {
		s.log.Warn("failed to set voucher ttl", "error", err)
	}
	return v, true
}

// GetActiveVoucher returns the active voucher. A voucher past its logical
// expiry is deleted and reported absent whatever its store TTL says.
func (s *Service) GetActiveVoucher(ctx context.Context) (Voucher, bool) {
	data, err := s.store.HGetAll(ctx, constants.KeyVoucherActive)
	if err != nil {
		s.log.Warn("failed to read active voucher", "error", err)
		return Voucher{}, false
	}
	if data["code"] == "" {
		return Voucher{}, false
	}

	amount, _ := strconv.ParseInt(data["amount"], 10, 64)
	created, _ := strconv.ParseInt(data["createdAt"], 10, 64)
	expires, err := strconv.ParseInt(data["expiresAt"], 10, 64)
	if err != nil {
		return Voucher{}, false
	}
	v := Voucher{
		Code:      data["code"],
		Amount:    amount,
		CreatedAt: time.UnixMilli(created),
		ExpiresAt: time.UnixMilli(expires),
	}

	if !s.now().Before(v.ExpiresAt) {
		if err := s.store.Del(ctx, constants.KeyVoucherActive); err != nil {
			s.log.Warn("failed to delete expired voucher", "error", err)
		}
		return Voucher{}, false
	}
	return v, true
}
