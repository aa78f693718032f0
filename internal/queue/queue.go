// Package queue is the durable store-and-forward for identity-addressed
// events. Events sent to an identity with no live connection are appended
// here and delivered, in order, on its next admission.
package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Message is one queued envelope.
type Message struct {
	Event      string          `json:"event"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

type Store interface {
	// Enqueue appends to the tail of the user's queue and refreshes the
	// queue's TTL.
	Enqueue(ctx context.Context, userID string, msg Message) error
	// Drain reads the whole queue in enqueue order and deletes it. The
	// delete is atomic with the read; a second drain observes an empty
	// queue. Draining an empty queue returns no messages and no error.
	Drain(ctx context.Context, userID string) ([]Message, error)
}
