package fabric

import (
	"context"
	"sync"
)

// MemoryFabric is a single-process loopback fabric. Publishes are delivered
// synchronously to the subscribed handler, which keeps tests deterministic.
type MemoryFabric struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewMemoryFabric() *MemoryFabric {
	return &MemoryFabric{}
}

var _ Fabric = (*MemoryFabric)(nil)

func (f *MemoryFabric) Publish(ctx context.Context, env Envelope) error {
	f.mu.RLock()
	handlers := make([]Handler, len(f.handlers))
	copy(handlers, f.handlers)
	f.mu.RUnlock()

	for _, h := range handlers {
		h(env)
	}
	return nil
}

func (f *MemoryFabric) Subscribe(ctx context.Context, h Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, h)
	return nil
}

func (f *MemoryFabric) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = nil
	return nil
}
