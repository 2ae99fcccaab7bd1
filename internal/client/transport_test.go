package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"roomchat/internal/protocol"
)

// pongServer answers every ping with a pong and echoes joins as room:joined.
func pongServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("userId") == "" {
			http.Error(w, "missing identity", http.StatusBadRequest)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			_, frame, err := ws.ReadMessage()
			if err != nil {
				return
			}
			ev, err := protocol.DecodeClient(frame)
			if err != nil {
				continue
			}
			var reply protocol.ServerEvent
			switch e := ev.(type) {
			case protocol.Ping:
				reply = protocol.Pong{}
			case protocol.JoinRoom:
				reply = protocol.RoomJoined{RoomID: e.RoomID, RoomName: "Room " + e.RoomID}
			default:
				continue
			}
			out, _ := protocol.Encode(reply)
			if err := ws.WriteMessage(websocket.TextMessage, out); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebSocketDialer(t *testing.T) {
	srv := pongServer(t)
	d := NewWebSocketDialer("ws" + strings.TrimPrefix(srv.URL, "http"))

	conn, err := d.Dial(context.Background(), alice)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.Send(protocol.JoinRoom{RoomID: "7"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	ev, err := conn.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if diff := cmp.Diff(protocol.RoomJoined{RoomID: "7", RoomName: "Room 7"}, ev); diff != "" {
		t.Errorf("reply mismatch (-want +got):\n%s", diff)
	}
}

func TestWebSocketDialerRejected(t *testing.T) {
	srv := pongServer(t)
	d := NewWebSocketDialer("ws" + strings.TrimPrefix(srv.URL, "http"))

	_, err := d.Dial(context.Background(), Credential{Username: "nobody"})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Errorf("Dial = %v, want a 400 rejection", err)
	}
}

func TestManagerOverWebSocket(t *testing.T) {
	srv := pongServer(t)
	opts := testOptions()
	opts.Heartbeat = 20 * time.Millisecond
	m := New(NewWebSocketDialer("ws"+strings.TrimPrefix(srv.URL, "http")), alice, opts)
	defer m.Disconnect()

	joined := make(chan protocol.RoomJoined, 1)
	On(m, func(e protocol.RoomJoined) { joined <- e })
	m.JoinRoom("3")

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	select {
	case e := <-joined:
		if e.RoomID != "3" {
			t.Errorf("joined %q, want 3", e.RoomID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no room:joined after connect")
	}

	// several heartbeat periods with pongs must not cost the session
	time.Sleep(150 * time.Millisecond)
	if !m.Connected() {
		t.Errorf("state = %s, want connected", m.State())
	}
}

func TestCredentialFile(t *testing.T) {
	f := CredentialFile(filepath.Join(t.TempDir(), "roomchat", "credential.json"))

	if _, err := f.Load(); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("Load before Save = %v, want ErrNoCredential", err)
	}
	if err := f.Save(Credential{UserID: "alice"}); !errors.Is(err, ErrNoCredential) {
		t.Errorf("Save without username = %v, want ErrNoCredential", err)
	}

	if err := f.Save(alice); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := f.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(alice, got); diff != "" {
		t.Errorf("credential mismatch (-want +got):\n%s", diff)
	}

	if err := f.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := f.Remove(); err != nil {
		t.Errorf("second Remove: %v", err)
	}
	if _, err := f.Load(); !errors.Is(err, ErrNoCredential) {
		t.Errorf("Load after Remove = %v, want ErrNoCredential", err)
	}
}
