package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"

	"roomchat/internal/store"
)

func collect(t *testing.T, bus Bus) <-chan Message {
	t.Helper()
	got := make(chan Message, 8)
	cancel, err := bus.Subscribe(context.Background(), func(m Message) { got <- m })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	t.Cleanup(cancel)
	return got
}

func waitMessage(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bus message")
		return Message{}
	}
}

func TestMemoryBusFanout(t *testing.T) {
	bus := NewMemoryBus()
	a := collect(t, bus)
	b := collect(t, bus)

	want := Message{Scope: ScopeRoom, Target: "7", Frame: json.RawMessage(`{"event":"pong"}`)}
	if err := bus.Publish(context.Background(), want); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	for _, ch := range []<-chan Message{a, b} {
		if diff := cmp.Diff(want, waitMessage(t, ch)); diff != "" {
			t.Errorf("message mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	bus := NewMemoryBus()
	calls := 0
	cancel, _ := bus.Subscribe(context.Background(), func(Message) { calls++ })
	cancel()
	cancel()

	_ = bus.Publish(context.Background(), Message{Scope: ScopeGlobal})
	if calls != 0 {
		t.Errorf("handler called %d times after unsubscribe", calls)
	}
}

func TestRedisBusAcrossClients(t *testing.T) {
	mr := miniredis.RunT(t)
	sub := NewRedisBus(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:bus")
	pub := NewRedisBus(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:bus")
	t.Cleanup(func() {
		_ = sub.Close()
		_ = pub.Close()
	})

	got := collect(t, sub)
	want := Message{Scope: ScopeUser, Target: "u1", Frame: json.RawMessage(`{"event":"session:superseded"}`)}
	if err := pub.Publish(context.Background(), want); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if diff := cmp.Diff(want, waitMessage(t, got)); diff != "" {
		t.Errorf("message mismatch (-want +got):\n%s", diff)
	}
}

func TestNewPicksBackendFromStore(t *testing.T) {
	mem := store.NewMemoryStore()
	defer mem.Close()
	if _, ok := New(mem).(*MemoryBus); !ok {
		t.Error("memory store should get a memory bus")
	}

	mr := miniredis.RunT(t)
	rs := store.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer rs.Close()
	if _, ok := New(rs).(*RedisBus); !ok {
		t.Error("redis store should get a redis bus")
	}
}
