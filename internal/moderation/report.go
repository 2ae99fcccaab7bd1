package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"roomchat/internal/constants"
	"roomchat/internal/store"
)

var (
	ErrMissingFields = errors.New(constants.MsgMissingFields)
	ErrInvalidReason = errors.New(constants.MsgInvalidReason)
)

type Reason string

const (
	ReasonSpam       Reason = "spam"
	ReasonHarassment Reason = "harassment"
	ReasonPorn       Reason = "porn"
	ReasonScam       Reason = "scam"
)

func (r Reason) Valid() bool {
	switch r {
	case ReasonSpam, ReasonHarassment, ReasonPorn, ReasonScam:
		return true
	}
	return false
}

// ReportInput is what a client submits.
type ReportInput struct {
	Reporter    string `json:"reporter"`
	Target      string `json:"target"`
	RoomID      string `json:"roomId"`
	Reason      Reason `json:"reason"`
	MessageText string `json:"messageText,omitempty"`
}

type Report struct {
	ID          string    `json:"id"`
	Reporter    string    `json:"reporter"`
	Target      string    `json:"target"`
	RoomID      string    `json:"roomId"`
	Reason      Reason    `json:"reason"`
	MessageText string    `json:"messageText,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

func newReportID() string { return uuid.NewString() }

func reportKey(id string) string { return constants.KeyAbuseReport + id }

// SubmitReport validates and stores an abuse report. Unlike the presence
// style reads, a store failure is returned: the reporter should learn the
// report was not filed.
func (s *Service) SubmitReport(ctx context.Context, in ReportInput) (Report, error) {
	in.Target = strings.TrimSpace(in.Target)
	in.RoomID = strings.TrimSpace(in.RoomID)
	if in.Target == "" || in.RoomID == "" || in.Reason == "" {
		return Report{}, ErrMissingFields
	}
	if !in.Reason.Valid() {
		return Report{}, fmt.Errorf("%w: %q", ErrInvalidReason, in.Reason)
	}
	if in.Reporter == "" {
		in.Reporter = "anonymous"
	}

	rep := Report{
		ID:          s.newID(),
		Reporter:    in.Reporter,
		Target:      in.Target,
		RoomID:      in.RoomID,
		Reason:      in.Reason,
		MessageText: in.MessageText,
		Status:      "pending",
		CreatedAt:   s.now().UTC(),
	}
	data, err := json.Marshal(rep)
	if err != nil {
		return Report{}, fmt.Errorf("encode report: %w", err)
	}
	if err := s.store.Set(ctx, reportKey(rep.ID), string(data), s.cfg.ReportTTL); err != nil {
		return Report{}, fmt.Errorf("store report: %w", err)
	}
	if _, err := s.store.SAdd(ctx, constants.KeyAbuseIndex, rep.ID); err != nil {
		s.warn("submitReport.index", err, "report", rep.ID)
	}

	s.audit.LogAbuseReport(rep.Reporter, rep.Target, rep.RoomID, string(rep.Reason))
	return rep, nil
}

// Reports lists stored reports, newest first. Index entries whose report
// expired are pruned.
func (s *Service) Reports(ctx context.Context) []Report {
	ids, err := s.store.SMembers(ctx, constants.KeyAbuseIndex)
	if err != nil {
		s.warn("reports", err)
		return []Report{}
	}

	out := make([]Report, 0, len(ids))
	var stale []string
	for _, id := range ids {
		v, err := s.store.Get(ctx, reportKey(id))
		if errors.Is(err, store.ErrNotFound) {
			stale = append(stale, id)
			continue
		}
		if err != nil {
			s.warn("reports.get", err, "report", id)
			continue
		}
		var rep Report
		if err := json.Unmarshal([]byte(v), &rep); err != nil {
			s.warn("reports.decode", err, "report", id)
			continue
		}
		out = append(out, rep)
	}
	if len(stale) > 0 {
		if err := s.store.SRem(ctx, constants.KeyAbuseIndex, stale...); err != nil {
			s.warn("reports.prune", err)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
