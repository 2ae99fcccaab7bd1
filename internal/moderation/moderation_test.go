package moderation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"

	"roomchat/internal/store"
	"roomchat/internal/store/storetest"
)

type recordingAuditor struct {
	mu      sync.Mutex
	entries []string
}

func (a *recordingAuditor) add(s string) {
	a.mu.Lock()
	a.entries = append(a.entries, s)
	a.mu.Unlock()
}

func (a *recordingAuditor) LogKick(admin, target, room string, ac, tc int64) {
	a.add(fmt.Sprintf("kick %s->%s@%s %d/%d", admin, target, room, ac, tc))
}
func (a *recordingAuditor) LogBan(kind, user string, n int64) {
	a.add(fmt.Sprintf("ban %s %s %d", kind, user, n))
}
func (a *recordingAuditor) LogBanCleared(kind, user string) {
	a.add(fmt.Sprintf("clear %s %s", kind, user))
}
func (a *recordingAuditor) LogAbuseReport(reporter, target, room, reason string) {
	a.add(fmt.Sprintf("report %s->%s %s", reporter, target, reason))
}

func newService(t *testing.T, opts ...Option) (*Service, *storetest.Clock) {
	t.Helper()
	st, clock := storetest.NewMemory(t)
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewService(st, DefaultConfig(), opts...), clock
}

func TestFloodMark(t *testing.T) {
	ctx := context.Background()
	svc, clock := newService(t)

	if svc.CheckFlood(ctx, "u1") {
		t.Fatal("fresh user flagged as flooding")
	}
	svc.SetFlood(ctx, "u1", 30*time.Second)
	if !svc.CheckFlood(ctx, "u1") {
		t.Fatal("flood mark not visible")
	}
	clock.Advance(31 * time.Second)
	if svc.CheckFlood(ctx, "u1") {
		t.Error("flood mark should lapse")
	}

	svc.SetFlood(ctx, "u1", time.Minute)
	svc.ClearFlood(ctx, "u1")
	if svc.CheckFlood(ctx, "u1") {
		t.Error("cleared flood mark still set")
	}
}

func TestTempKickLapses(t *testing.T) {
	ctx := context.Background()
	svc, clock := newService(t)

	svc.TempKick(ctx, "bob", "room7")
	if diff := cmp.Diff(KickStatus{Kicked: true, RoomID: "room7"}, svc.IsTempKicked(ctx, "bob")); diff != "" {
		t.Errorf("kick status (-want +got):\n%s", diff)
	}

	clock.Advance(10*time.Minute + time.Second)
	if diff := cmp.Diff(KickStatus{}, svc.IsTempKicked(ctx, "bob")); diff != "" {
		t.Errorf("kick status after cooldown (-want +got):\n%s", diff)
	}
}

func TestAdminBanThreshold(t *testing.T) {
	tests := map[string]struct {
		kicks      int
		wantBanned bool
	}{
		"two kicks":   {kicks: 2, wantBanned: false},
		"three kicks": {kicks: 3, wantBanned: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			svc, _ := newService(t)

			for i := range tc.kicks {
				svc.AdminKick(ctx, "admin", fmt.Sprintf("target%d", i), fmt.Sprintf("room%d", i%2))
			}
			if got := svc.IsAdminGloballyBanned(ctx, "admin"); got != tc.wantBanned {
				t.Errorf("IsAdminGloballyBanned = %v, want %v", got, tc.wantBanned)
			}
			if got := svc.AdminKickCount(ctx, "admin"); got != int64(tc.kicks) {
				t.Errorf("AdminKickCount = %d, want %d", got, tc.kicks)
			}
		})
	}
}

func TestClearAdminBanRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	for range 3 {
		svc.AdminKick(ctx, "admin", "bob", "7")
	}
	if !svc.IsAdminGloballyBanned(ctx, "admin") {
		t.Fatal("admin should be banned")
	}

	svc.ClearAdminBan(ctx, "admin")
	if svc.IsAdminGloballyBanned(ctx, "admin") {
		t.Error("admin still banned after clear")
	}
	if n := svc.AdminKickCount(ctx, "admin"); n != 0 {
		t.Errorf("counter = %d after clear, want 0", n)
	}
	if !svc.IsGloballyBanned(ctx, "bob") {
		t.Error("clearing the admin must not clear the target's ban")
	}
}

func TestAdminKickEffects(t *testing.T) {
	ctx := context.Background()
	audit := &recordingAuditor{}
	svc, clock := newService(t, WithAuditor(audit))

	res := svc.AdminKick(ctx, "admin", "bob", "7")
	want := KickResult{Admin: "admin", Target: "bob", RoomID: "7", AdminKickCount: 1, TargetKickCount: 1}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("result (-want +got):\n%s", diff)
	}

	if v := svc.CanJoin(ctx, "bob", "7"); v != JoinKicked {
		t.Errorf("bob rejoining = %q, want kicked", v)
	}
	if v := svc.CanJoin(ctx, "bob", "8"); v != JoinAllowed {
		t.Errorf("bob joining another room = %q, want allowed", v)
	}
	if v := svc.CanJoin(ctx, "admin", "7"); v != JoinKicked {
		t.Errorf("admin rejoining during retaliation cooldown = %q", v)
	}

	clock.Advance(3 * time.Minute)
	if v := svc.CanJoin(ctx, "admin", "7"); v != JoinAllowed {
		t.Errorf("admin after retaliation cooldown = %q", v)
	}
	clock.Advance(8 * time.Minute)
	if v := svc.CanJoin(ctx, "bob", "7"); v != JoinAllowed {
		t.Errorf("bob after cooldown = %q", v)
	}

	if diff := cmp.Diff([]string{"kick admin->bob@7 1/1"}, audit.entries); diff != "" {
		t.Errorf("audit (-want +got):\n%s", diff)
	}
}

func TestTargetEscalationPolicy(t *testing.T) {
	ctx := context.Background()

	tests := map[string]struct {
		policy     EscalationPolicy
		wantBanned bool
	}{
		"default":         {policy: DefaultPolicy(), wantBanned: true},
		"target path off": {policy: EscalationPolicy{AdminBanThreshold: 3}, wantBanned: false},
		"stricter target": {policy: EscalationPolicy{TargetBanThreshold: 2}, wantBanned: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			st, _ := storetest.NewMemory(t)
			cfg := DefaultConfig()
			cfg.Policy = tc.policy
			svc := NewService(st, cfg)

			for _, admin := range []string{"a1", "a2", "a3"} {
				svc.AdminKick(ctx, admin, "bob", "7")
			}
			if got := svc.IsGloballyBanned(ctx, "bob"); got != tc.wantBanned {
				t.Errorf("IsGloballyBanned = %v, want %v", got, tc.wantBanned)
			}
			if got := svc.TargetKickCount(ctx, "bob"); got != 3 {
				t.Errorf("target count = %d, want 3", got)
			}
			if tc.wantBanned {
				if v := svc.CanJoin(ctx, "bob", "other"); v != JoinBanned {
					t.Errorf("CanJoin = %q, want banned", v)
				}
				svc.ClearGlobalBan(ctx, "bob")
				if svc.IsGloballyBanned(ctx, "bob") || svc.TargetKickCount(ctx, "bob") != 0 {
					t.Error("ClearGlobalBan should reset flag and counter")
				}
			}
		})
	}
}

func TestScriptEscalatorIsAtomic(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rs := store.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = rs.Close() })

	esc := NewEscalator(rs)
	if _, ok := esc.(*ScriptEscalator); !ok {
		t.Fatalf("redis store should get the script escalator, got %T", esc)
	}

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := esc.Escalate(ctx, "ban:adminKick:x", "ban:admin:x", 3); err != nil {
				t.Errorf("Escalate: %v", err)
			}
		}()
	}
	wg.Wait()

	if v, _ := rs.Get(ctx, "ban:adminKick:x"); v != "10" {
		t.Errorf("counter = %q, want 10", v)
	}
	if v, _ := rs.Get(ctx, "ban:admin:x"); v != "true" {
		t.Errorf("flag = %q, want true", v)
	}
}

func TestRedisBackedAdminKick(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rs := store.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = rs.Close() })
	svc := NewService(rs, DefaultConfig())

	for range 2 {
		svc.AdminKick(ctx, "admin", "bob", "7")
	}
	if svc.IsAdminGloballyBanned(ctx, "admin") {
		t.Fatal("banned after two kicks")
	}
	res := svc.AdminKick(ctx, "admin", "carol", "9")
	if !res.AdminBanned || res.AdminKickCount != 3 {
		t.Errorf("third kick result = %+v", res)
	}

	mr.FastForward(11 * time.Minute)
	if st := svc.IsTempKicked(ctx, "carol"); st.Kicked {
		t.Errorf("temp kick should lapse, got %+v", st)
	}
}

func TestStoreFailureIsAdvisory(t *testing.T) {
	ctx := context.Background()
	svc := NewService(storetest.Failing{}, DefaultConfig())

	res := svc.AdminKick(ctx, "admin", "bob", "7")
	if res.AdminBanned || res.TargetBanned || res.AdminKickCount != 0 {
		t.Errorf("unexpected result on failing store: %+v", res)
	}
	if svc.IsGloballyBanned(ctx, "bob") || svc.CheckFlood(ctx, "bob") {
		t.Error("reads should default to false")
	}
	if v := svc.CanJoin(ctx, "bob", "7"); v != JoinAllowed {
		t.Errorf("CanJoin on failing store = %q", v)
	}
	if svc.ClearAdminBan(ctx, "admin") {
		t.Error("clear should report failure")
	}
}

func TestSubmitReportValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	tests := map[string]struct {
		in      ReportInput
		wantErr error
	}{
		"missing target": {in: ReportInput{RoomID: "7", Reason: ReasonSpam}, wantErr: ErrMissingFields},
		"missing room":   {in: ReportInput{Target: "bob", Reason: ReasonSpam}, wantErr: ErrMissingFields},
		"missing reason": {in: ReportInput{Target: "bob", RoomID: "7"}, wantErr: ErrMissingFields},
		"bad reason":     {in: ReportInput{Target: "bob", RoomID: "7", Reason: "rude"}, wantErr: ErrInvalidReason},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.SubmitReport(ctx, tc.in); !errors.Is(err, tc.wantErr) {
				t.Errorf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestReportsListAndExpire(t *testing.T) {
	ctx := context.Background()
	audit := &recordingAuditor{}
	svc, clock := newService(t, WithAuditor(audit))
	ids := []string{"r1", "r2"}
	svc.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	first, err := svc.SubmitReport(ctx, ReportInput{Target: "bob", RoomID: "7", Reason: ReasonScam})
	if err != nil {
		t.Fatalf("SubmitReport: %v", err)
	}
	if first.Reporter != "anonymous" || first.Status != "pending" {
		t.Errorf("defaults not applied: %+v", first)
	}

	clock.Advance(24 * time.Hour)
	if _, err := svc.SubmitReport(ctx, ReportInput{Reporter: "alice", Target: "eve", RoomID: "8", Reason: ReasonPorn}); err != nil {
		t.Fatalf("SubmitReport: %v", err)
	}

	got := svc.Reports(ctx)
	if len(got) != 2 || got[0].ID != "r2" || got[1].ID != "r1" {
		t.Fatalf("reports = %+v, want r2 then r1", got)
	}

	clock.Advance(6*24*time.Hour + time.Minute)
	got = svc.Reports(ctx)
	if len(got) != 1 || got[0].ID != "r2" {
		t.Errorf("after expiry reports = %+v, want only r2", got)
	}
	if len(audit.entries) != 2 {
		t.Errorf("audit entries = %v", audit.entries)
	}
}
