package voucher

import (
	"context"
	"strconv"
	"strings"
	"time"

	"roomchat/internal/constants"
)

// Outcome is the typed result of a claim. Everything except OutcomeSuccess
// is an expected, user-facing rejection.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeCooldown       Outcome = "cooldown"
	OutcomeExpired        Outcome = "expired"
	OutcomeInvalid        Outcome = "invalid"
	OutcomeAlreadyClaimed Outcome = "already_claimed"
	OutcomeError          Outcome = "error"
)

type ClaimResult struct {
	Outcome          Outcome `json:"outcome"`
	Amount           int64   `json:"amount,omitempty"`
	NewBalance       int64   `json:"newBalance,omitempty"`
	RemainingSeconds int     `json:"remainingSeconds,omitempty"`
}

// Message is the user-facing text for r, with amounts formatted like the
// announcement.
func (s *Service) Message(r ClaimResult) string {
	switch r.Outcome {
	case OutcomeSuccess:
		return s.printer.Sprintf("You claimed IDR %d! New balance: %d", r.Amount, r.NewBalance)
	case OutcomeCooldown:
		return s.printer.Sprintf("Please wait %d minutes before claiming again", (r.RemainingSeconds+59)/60)
	case OutcomeExpired:
		return "No active voucher or voucher expired"
	case OutcomeInvalid:
		return "Invalid code"
	case OutcomeAlreadyClaimed:
		return "You already claimed this voucher"
	default:
		return "Failed to add credits"
	}
}

// ClaimVoucher runs the ordered checks, first failure wins: cooldown, no
// active voucher, wrong code, already claimed, credit grant failure.
//
// The claimed-set insert is done before the grant and is the exclusion
// point: SAdd adding nothing means another claim by the same user got
// there first. A failed grant removes the reservation again.
func (s *Service) ClaimVoucher(ctx context.Context, user, code string) ClaimResult {
	code = strings.TrimSpace(code)

	ttl, err := s.store.TTL(ctx, cooldownKey(user))
	if err == nil && ttl > 0 {
		return ClaimResult{Outcome: OutcomeCooldown, RemainingSeconds: int((ttl + time.Second - 1) / time.Second)}
	}

	v, ok := s.GetActiveVoucher(ctx)
	if !ok {
		return ClaimResult{Outcome: OutcomeExpired}
	}
	if v.Code != code {
		return ClaimResult{Outcome: OutcomeInvalid}
	}

	added, err := s.store.SAdd(ctx, claimedKey(code), user)
	if err != nil {
		s.log.Warn("failed to reserve claim", "user", user, "error", err)
		return ClaimResult{Outcome: OutcomeError}
	}
	if added == 0 {
		return ClaimResult{Outcome: OutcomeAlreadyClaimed}
	}
	if err := s.store.Expire(ctx, claimedKey(code), s.cfg.Expiry+constants.VoucherClaimedBuffer); err != nil {
		s.log.Warn("failed to set claimed-set ttl", "code", code, "error", err)
	}

	balance, err := s.granter.Grant(ctx, user, v.Amount, "voucher:"+code)
	if err != nil {
		s.log.Warn("credit grant failed", "user", user, "amount", v.Amount, "error", err)
		if err := s.store.SRem(ctx, claimedKey(code), user); err != nil {
			s.log.Warn("failed to release claim", "user", user, "error", err)
		}
		return ClaimResult{Outcome: OutcomeError}
	}

	if err := s.store.Set(ctx, cooldownKey(user), strconv.FormatInt(s.now().UnixMilli(), 10), s.cfg.UserCooldown); err != nil {
		s.log.Warn("failed to set claim cooldown", "user", user, "error", err)
	}
	s.log.Info("🎁 voucher claimed", "user", user, "code", code, "amount", v.Amount)
	return ClaimResult{Outcome: OutcomeSuccess, Amount: v.Amount, NewBalance: balance}
}
