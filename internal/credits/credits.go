// Package credits grants in-app credit. Production deployments point it at
// the wallet service over HTTP; development keeps balances in the store.
package credits

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"roomchat/internal/constants"
	"roomchat/internal/store"
)

var ErrGrantFailed = errors.New("credit grant failed")

type Granter interface {
	// Grant credits amount to user and returns the new balance.
	Grant(ctx context.Context, user string, amount int64, reason string) (int64, error)
}

// New returns an HTTP granter for url, or a store ledger when url is empty.
func New(url string, st store.Store) Granter {
	if url == "" {
		slog.Info("💰 using store-backed credit ledger")
		return NewLedger(st)
	}
	slog.Info("💰 using remote credit service", "url", url)
	return NewHTTPGranter(url, nil)
}

// Ledger keeps balances under credits:balance:<user>.
type Ledger struct {
	store store.Store
}

func NewLedger(st store.Store) *Ledger {
	return &Ledger{store: st}
}

func balanceKey(user string) string { return constants.KeyCredits + user }

func (l *Ledger) Grant(ctx context.Context, user string, amount int64, _ string) (int64, error) {
	n, err := l.store.IncrBy(ctx, balanceKey(user), amount)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrGrantFailed, err)
	}
	return n, nil
}

func (l *Ledger) Balance(ctx context.Context, user string) (int64, error) {
	v, err := l.store.Get(ctx, balanceKey(user))
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

type grantRequest struct {
	UserID string `json:"userId"`
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

type grantResponse struct {
	Success bool   `json:"success"`
	Balance int64  `json:"balance"`
	Error   string `json:"error,omitempty"`
}

// HTTPGranter POSTs grants to a wallet service.
type HTTPGranter struct {
	url    string
	client *http.Client
}

func NewHTTPGranter(url string, client *http.Client) *HTTPGranter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPGranter{url: url, client: client}
}

func (g *HTTPGranter) Grant(ctx context.Context, user string, amount int64, reason string) (int64, error) {
	body, err := json.Marshal(grantRequest{UserID: user, Amount: amount, Reason: reason})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrGrantFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrGrantFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrGrantFailed, err)
	}
	defer resp.Body.Close()

	var out grantResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("%w: status %d: %w", ErrGrantFailed, resp.StatusCode, err)
	}
	if resp.StatusCode/100 != 2 || !out.Success {
		return 0, fmt.Errorf("%w: status %d: %s", ErrGrantFailed, resp.StatusCode, out.Error)
	}
	return out.Balance, nil
}
