package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBus relays messages over a single Redis pub/sub channel.
type RedisBus struct {
	client  *redis.Client
	channel string

	mu     sync.Mutex
	closed bool
	subs   []*redis.PubSub
	wg     sync.WaitGroup
}

func NewRedisBus(client *redis.Client, channel string) *RedisBus {
	return &RedisBus{client: client, channel: channel}
}

func (b *RedisBus) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode bus message: %w", err)
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, h Handler) (func(), error) {
	ps := b.client.Subscribe(ctx, b.channel)
	// wait for the subscription confirmation so no later publish is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: bus closed", b.channel)
	}
	b.subs = append(b.subs, ps)
	b.mu.Unlock()

	ch := ps.Channel()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for m := range ch {
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				slog.Warn("dropping malformed bus message", "error", err)
				continue
			}
			h(msg)
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { _ = ps.Close() }) }, nil
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, ps := range subs {
		_ = ps.Close()
	}
	b.wg.Wait()
	return nil
}
