package broker

import (
	"context"
	"sync"
)

// MemoryBus delivers synchronously on the publishing goroutine. Handlers
// must not block.
type MemoryBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]Handler
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]Handler)}
}

func (b *MemoryBus) Publish(_ context.Context, msg Message) error {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(msg)
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, h Handler) (func(), error) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	clear(b.subs)
	b.mu.Unlock()
	return nil
}
