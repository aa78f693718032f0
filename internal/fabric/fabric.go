// Package fabric is the cross-instance publish/subscribe substrate. A
// broadcast published on one gateway instance is observed by every instance,
// each of which delivers to the locally-held connections subscribed to the
// envelope's group.
package fabric

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Envelope is the wire form of one group-addressed broadcast.
type Envelope struct {
	Group   string          `json:"group"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	// Origin is the connection id of the sender, if the broadcast should
	// exclude it. Connection ids are unique across instances.
	Origin string `json:"origin,omitempty"`
}

// FromConnection returns the origin string for an envelope excluding connID.
func FromConnection(connID uuid.UUID) string {
	return connID.String()
}

type Handler func(env Envelope)

type Fabric interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe registers the delivery handler and starts consuming. It
	// must be called, and must succeed, before the gateway accepts
	// connections; an instance that cannot reach the fabric must not claim
	// to be healthy.
	Subscribe(ctx context.Context, h Handler) error
	Close() error
}
