package presence

import (
	"context"
	"sync"
	"time"
)

// MemoryTracker is a single-process Tracker. It honors TTL expiry so tests
// can exercise the staleness window.
type MemoryTracker struct {
	mu      sync.RWMutex
	expires map[string]time.Time
	ttl     time.Duration
}

func NewMemoryTracker(ttl time.Duration) *MemoryTracker {
	return &MemoryTracker{
		expires: make(map[string]time.Time),
		ttl:     ttl,
	}
}

var _ Tracker = (*MemoryTracker)(nil)

func (t *MemoryTracker) MarkOnline(ctx context.Context, userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expires[userID] = time.Now().Add(t.ttl)
	return nil
}

func (t *MemoryTracker) MarkOffline(ctx context.Context, userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.expires, userID)
	return nil
}

func (t *MemoryTracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	expiry, ok := t.expires[userID]
	if !ok {
		return false, nil
	}
	return time.Now().Before(expiry), nil
}
