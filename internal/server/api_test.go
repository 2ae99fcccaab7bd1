package server

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"roomchat/internal/config"
	"roomchat/internal/constants"
	"roomchat/internal/presence"
	"roomchat/internal/protocol"
)

type apiResult struct {
	status int
	header http.Header
	body   map[string]any
}

func doRequest(t *testing.T, env *testEnv, method, path, body string, header map[string]string) apiResult {
	t.Helper()

	req, err := http.NewRequest(method, env.baseURL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	res := apiResult{status: resp.StatusCode, header: resp.Header}
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&res.body); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return res
}

var adminHeader = map[string]string{constants.AdminTokenHeader: "secret"}

func TestHealth(t *testing.T) {
	env := startTestServer(t)
	connectClient(t, env, "alice", "Alice")

	res := doRequest(t, env, http.MethodGet, "/healthz", "", nil)
	if res.status != http.StatusOK || res.body["status"] != "ok" || res.body["connections"] != float64(1) {
		t.Errorf("health = %d %v", res.status, res.body)
	}
	if res.header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestListRoomsWithCounts(t *testing.T) {
	env := startTestServer(t)
	ctx := context.Background()
	env.srv.presence.OpenSession(ctx, presence.Session{UserID: "alice", Username: "Alice", ConnectionID: "c1"})
	env.srv.presence.JoinRoom(ctx, "1", "alice")
	env.srv.presence.JoinRoom(ctx, "1", "ghost")

	res := doRequest(t, env, http.MethodGet, "/api/rooms", "", nil)
	rooms := res.body["rooms"].([]any)
	if len(rooms) != 2 {
		t.Fatalf("got %d rooms, want 2", len(rooms))
	}
	first := rooms[0].(map[string]any)
	if first["id"] != "1" || first["name"] != "Indonesia" || first["userCount"] != float64(1) {
		t.Errorf("first room = %v", first)
	}
}

func TestCreateAndDeleteRoom(t *testing.T) {
	env := startTestServer(t)
	watcher := connectClient(t, env, "watcher", "Watcher")

	res := doRequest(t, env, http.MethodPost, "/api/rooms", `{"id":"games","name":"Games"}`, nil)
	if res.status != http.StatusUnauthorized {
		t.Fatalf("create without token = %d, want 401", res.status)
	}

	res = doRequest(t, env, http.MethodPost, "/api/rooms", `{"id":"games","name":"Games","maxUsers":50}`, adminHeader)
	if res.status != http.StatusCreated {
		t.Fatalf("create = %d %v", res.status, res.body)
	}
	update := readUntil(t, watcher, isEvent[protocol.RoomsUpdate]).(protocol.RoomsUpdate)
	want := protocol.RoomsUpdate{Room: protocol.RoomInfo{ID: "games", Name: "Games", MaxUsers: 50}, Action: protocol.RoomCreated}
	if diff := cmp.Diff(want, update); diff != "" {
		t.Errorf("rooms:update mismatch (-want +got):\n%s", diff)
	}

	res = doRequest(t, env, http.MethodPost, "/api/rooms", `{"id":"games","name":"Again"}`, adminHeader)
	if res.status != http.StatusConflict {
		t.Errorf("duplicate create = %d, want 409", res.status)
	}

	res = doRequest(t, env, http.MethodDelete, "/api/rooms/games", "", adminHeader)
	if res.status != http.StatusOK {
		t.Fatalf("delete = %d %v", res.status, res.body)
	}
	update = readUntil(t, watcher, isEvent[protocol.RoomsUpdate]).(protocol.RoomsUpdate)
	if update.Action != protocol.RoomDeleted || update.Room.ID != "games" {
		t.Errorf("delete update = %+v", update)
	}

	res = doRequest(t, env, http.MethodDelete, "/api/rooms/games", "", adminHeader)
	if res.status != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", res.status)
	}
}

func TestAbuseReport(t *testing.T) {
	tests := map[string]struct {
		body       string
		wantStatus int
		wantError  string
	}{
		"valid": {
			body:       `{"reporter":"alice","target":"bob","roomId":"1","reason":"spam","messageText":"buy now"}`,
			wantStatus: http.StatusCreated,
		},
		"anonymous": {
			body:       `{"target":"bob","roomId":"1","reason":"scam"}`,
			wantStatus: http.StatusCreated,
		},
		"missing target": {
			body:       `{"roomId":"1","reason":"spam"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  constants.MsgMissingFields,
		},
		"unknown reason": {
			body:       `{"target":"bob","roomId":"1","reason":"rude"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  constants.MsgInvalidReason,
		},
		"malformed": {
			body:       `{"target":`,
			wantStatus: http.StatusBadRequest,
			wantError:  constants.MsgInvalidJSON,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			env := startTestServer(t)

			res := doRequest(t, env, http.MethodPost, "/api/abuse/report", tc.body, nil)
			if res.status != tc.wantStatus {
				t.Fatalf("status = %d, want %d (%v)", res.status, tc.wantStatus, res.body)
			}
			if tc.wantError != "" && res.body["error"] != tc.wantError {
				t.Errorf("error = %v, want %q", res.body["error"], tc.wantError)
			}
			if tc.wantStatus == http.StatusCreated && res.body["reportId"] == "" {
				t.Error("reportId missing")
			}
		})
	}
}

func TestAbuseReportsRequireAdmin(t *testing.T) {
	env := startTestServer(t)
	doRequest(t, env, http.MethodPost, "/api/abuse/report", `{"target":"bob","roomId":"1","reason":"porn"}`, nil)

	if res := doRequest(t, env, http.MethodGet, "/api/abuse/reports", "", nil); res.status != http.StatusUnauthorized {
		t.Fatalf("without token = %d, want 401", res.status)
	}
	res := doRequest(t, env, http.MethodGet, "/api/abuse/reports", "", adminHeader)
	reports := res.body["reports"].([]any)
	if len(reports) != 1 || reports[0].(map[string]any)["reporter"] != "anonymous" {
		t.Errorf("reports = %v", reports)
	}
}

func TestAdminTokenBruteForceBlocked(t *testing.T) {
	env := startTestServer(t)
	wrong := map[string]string{constants.AdminTokenHeader: "guess"}

	for i := 0; i < constants.MaxAdminAttempts; i++ {
		if res := doRequest(t, env, http.MethodGet, "/api/abuse/reports", "", wrong); res.status != http.StatusUnauthorized {
			t.Fatalf("attempt %d = %d, want 401", i+1, res.status)
		}
	}
	res := doRequest(t, env, http.MethodGet, "/api/abuse/reports", "", adminHeader)
	if res.status != http.StatusTooManyRequests {
		t.Errorf("after %d failures = %d, want 429", constants.MaxAdminAttempts, res.status)
	}
}

func TestClearBansOverREST(t *testing.T) {
	env := startTestServer(t)
	ctx := context.Background()

	for _, target := range []string{"a", "b", "c"} {
		env.srv.moderation.AdminKick(ctx, "mod", target, "1")
	}
	for range 3 {
		env.srv.moderation.AdminKick(ctx, "other", "bob", "1")
	}

	res := doRequest(t, env, http.MethodGet, "/api/admin/kicks/mod", "", adminHeader)
	if res.body["adminKickCount"] != float64(3) || res.body["adminBanned"] != true {
		t.Fatalf("kick counts = %v", res.body)
	}

	res = doRequest(t, env, http.MethodDelete, "/api/admin/admin-bans/mod", "", adminHeader)
	if res.body["success"] != true {
		t.Fatalf("clear admin ban = %v", res.body)
	}
	if env.srv.moderation.IsAdminGloballyBanned(ctx, "mod") || env.srv.moderation.AdminKickCount(ctx, "mod") != 0 {
		t.Error("admin ban not cleared")
	}

	if !env.srv.moderation.IsGloballyBanned(ctx, "bob") {
		t.Fatal("bob should be globally banned after three kicks")
	}
	doRequest(t, env, http.MethodDelete, "/api/admin/bans/bob", "", adminHeader)
	if env.srv.moderation.IsGloballyBanned(ctx, "bob") {
		t.Error("global ban not cleared")
	}
}

func TestChatListAndJoined(t *testing.T) {
	env := startTestServer(t)
	ctx := context.Background()

	env.srv.presence.JoinRoom(ctx, "1", "alice")
	env.srv.presence.JoinRoom(ctx, "2", "alice")
	env.srv.presence.JoinRoom(ctx, "gone", "alice")
	env.srv.catalog.SetLastMessage(ctx, protocol.ChatMessage{
		RoomID:    "1",
		Username:  "Bob",
		Text:      "selamat pagi",
		Timestamp: env.clock.Now(),
	})

	res := doRequest(t, env, http.MethodGet, "/api/chat/list/alice", "", nil)
	rooms := res.body["rooms"].([]any)
	if len(rooms) != 2 {
		t.Fatalf("got %d rooms, want 2: %v", len(rooms), rooms)
	}
	byID := map[string]map[string]any{}
	for _, r := range rooms {
		m := r.(map[string]any)
		byID[m["id"].(string)] = m
	}
	if byID["1"]["lastMessage"] != "selamat pagi" || byID["1"]["lastUsername"] != "Bob" {
		t.Errorf("room 1 = %v", byID["1"])
	}
	if byID["2"]["lastMessage"] != constants.MsgNoMessages || byID["2"]["lastUsername"] != "Private" {
		t.Errorf("room 2 = %v", byID["2"])
	}
	if env.srv.presence.IsMember(ctx, "gone", "alice") {
		t.Error("room missing from the catalog should be pruned")
	}

	res = doRequest(t, env, http.MethodGet, "/api/chat/joined/alice", "", nil)
	joined := res.body["rooms"].([]any)
	if len(joined) != 2 || joined[0].(map[string]any)["type"] != "room" {
		t.Errorf("joined = %v", joined)
	}
}

func TestParticipantsAndPresence(t *testing.T) {
	env := startTestServer(t)
	connectClient(t, env, "alice", "Alice")
	env.srv.presence.JoinRoom(context.Background(), "1", "alice")

	res := doRequest(t, env, http.MethodGet, "/api/rooms/1/participants", "", nil)
	parts := res.body["participants"].([]any)
	if len(parts) != 1 {
		t.Fatalf("participants = %v", parts)
	}
	p := parts[0].(map[string]any)
	if p["userId"] != "alice" || p["username"] != "Alice" || p["status"] != "online" {
		t.Errorf("participant = %v", p)
	}

	res = doRequest(t, env, http.MethodGet, "/api/presence/bob", "", nil)
	if res.body["status"] != "offline" {
		t.Errorf("unknown user status = %v", res.body["status"])
	}

	res = doRequest(t, env, http.MethodGet, "/api/presence/bad*id", "", nil)
	if res.status != http.StatusBadRequest {
		t.Errorf("invalid id = %d, want 400", res.status)
	}
}

func TestActiveVoucherHidesCode(t *testing.T) {
	env := startTestServer(t)

	res := doRequest(t, env, http.MethodGet, "/api/voucher/active", "", nil)
	if res.body["active"] != false {
		t.Fatalf("no voucher: %v", res.body)
	}

	v, _ := env.srv.vouchers.CreateNewVoucher(context.Background())
	env.clock.Advance(15 * time.Second)

	res = doRequest(t, env, http.MethodGet, "/api/voucher/active", "", nil)
	if res.body["active"] != true || res.body["amount"] != float64(v.Amount) || res.body["remainingSeconds"] != float64(45) {
		t.Errorf("active voucher = %v", res.body)
	}
	if _, leaked := res.body["code"]; leaked {
		t.Error("voucher code must not be exposed")
	}
}

func TestGzipResponses(t *testing.T) {
	env := startTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, env.baseURL+"/api/rooms", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Content-Encoding") != "gzip" {
		t.Fatalf("Content-Encoding = %q", resp.Header.Get("Content-Encoding"))
	}
	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	var body map[string]any
	if err := json.NewDecoder(gz).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["success"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestCorsPreflight(t *testing.T) {
	env := startTestServer(t, func(c *config.Server) { c.AllowedOrigins = []string{"https://chat.example.com"} })

	tests := map[string]struct {
		origin    string
		wantAllow string
	}{
		"allowed origin": {origin: "https://chat.example.com", wantAllow: "https://chat.example.com"},
		"other origin":   {origin: "https://evil.example.com", wantAllow: ""},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodOptions, env.baseURL+"/api/rooms", nil)
			req.Header.Set("Origin", tc.origin)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			resp.Body.Close()

			if resp.StatusCode != http.StatusNoContent {
				t.Errorf("status = %d, want 204", resp.StatusCode)
			}
			if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tc.wantAllow {
				t.Errorf("Allow-Origin = %q, want %q", got, tc.wantAllow)
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { order = append(order, "handler") }),
		mark("outer"), mark("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if diff := cmp.Diff([]string{"outer", "inner", "handler"}, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}
