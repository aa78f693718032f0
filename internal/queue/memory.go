package queue

import (
	"context"
	"sync"
)

// MemoryStore is a single-process Store for tests. TTL expiry is not
// modelled; FIFO and drain-once semantics are.
type MemoryStore struct {
	mu     sync.Mutex
	queues map[string][]Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{queues: make(map[string][]Message)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Enqueue(ctx context.Context, userID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[userID] = append(s.queues[userID], msg)
	return nil
}

func (s *MemoryStore) Drain(ctx context.Context, userID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := s.queues[userID]
	delete(s.queues, userID)
	return messages, nil
}
