// Package broadcast is the send API upstream business services use to push
// events to connected clients. Tenant broadcasts are best-effort to current
// viewers; identity sends are durable until delivered.
package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lucky7slw/construction-erp-sub001/internal/fabric"
	"github.com/lucky7slw/construction-erp-sub001/internal/presence"
	"github.com/lucky7slw/construction-erp-sub001/internal/queue"
	"github.com/lucky7slw/construction-erp-sub001/pkg/state"
)

type Router struct {
	logger   *slog.Logger
	fabric   fabric.Fabric
	presence presence.Tracker
	queue    queue.Store
}

func NewRouter(logger *slog.Logger, f fabric.Fabric, p presence.Tracker, q queue.Store) *Router {
	return &Router{
		logger:   logger.With(slog.String("component", "broadcast_router")),
		fabric:   f,
		presence: p,
		queue:    q,
	}
}

// BroadcastToTenant fans an event out to every current member of the tenant
// group. Delivery is best-effort: offline members of the tenant are not
// queued, since "all current viewers" is the intended audience.
func (r *Router) BroadcastToTenant(ctx context.Context, tenantID, event string, payload json.RawMessage) error {
	return r.fabric.Publish(ctx, fabric.Envelope{
		Group:   state.TenantGroup(tenantID),
		Event:   event,
		Payload: payload,
	})
}

// SendToIdentity delivers an event to one identity across all its
// connections. If the identity is offline the event is queued rather than
// dropped — identity-addressed events are notifications the recipient must
// eventually see.
func (r *Router) SendToIdentity(ctx context.Context, userID, event string, payload json.RawMessage) error {
	online, err := r.presence.IsOnline(ctx, userID)
	if err != nil {
		// presence store unavailable: degrade to optimistic live delivery
		// rather than failing the send outright.
		r.logger.Warn("Presence lookup failed; attempting live delivery",
			slog.String("userID", userID), slog.Any("error", err))
		online = true
	}

	if !online {
		return r.queue.Enqueue(ctx, userID, queue.Message{
			Event:      event,
			Payload:    payload,
			EnqueuedAt: time.Now(),
		})
	}

	return r.fabric.Publish(ctx, fabric.Envelope{
		Group:   state.IdentityGroup(userID),
		Event:   event,
		Payload: payload,
	})
}

// ToGroup publishes directly to a named group, optionally excluding the
// originating connection. Used for presence transitions and post-accept
// update broadcasts.
func (r *Router) ToGroup(ctx context.Context, group, event string, payload json.RawMessage, origin string) error {
	return r.fabric.Publish(ctx, fabric.Envelope{
		Group:   group,
		Event:   event,
		Payload: payload,
		Origin:  origin,
	})
}
