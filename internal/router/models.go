package router

import "encoding/json"

// ClientMessage is the wire frame for both directions: a named event with an
// arbitrary JSON payload.
type ClientMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// client-originated update submissions.

type documentUpdate struct {
	DocumentID string         `json:"documentId"`
	Version    int64          `json:"version"`
	Data       map[string]any `json:"data"`
	Timestamp  string         `json:"timestamp,omitempty"`
}

type resourceUpdate struct {
	ResourceID string         `json:"resourceId"`
	Version    int64          `json:"version"`
	Data       map[string]any `json:"data"`
	Timestamp  string         `json:"timestamp"`
}

// gateway-originated notification payloads.

type updateNotice struct {
	DocumentID string         `json:"documentId,omitempty"`
	ResourceID string         `json:"resourceId,omitempty"`
	Version    int64          `json:"version"`
	Data       map[string]any `json:"data"`
}

type roomVerified struct {
	Room   string `json:"room"`
	Member bool   `json:"member"`
}
