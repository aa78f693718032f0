// Package router dispatches inbound client events to their handlers. The
// inbound surface is a fixed set of named events; anything else is logged
// and dropped.
package router

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/lucky7slw/construction-erp-sub001/internal/broadcast"
	"github.com/lucky7slw/construction-erp-sub001/internal/conflict"
	"github.com/lucky7slw/construction-erp-sub001/pkg/state"

	"github.com/google/uuid"
)

// one named event, one handler.
type HandlerFunc func(ctx context.Context, conn *state.Connection, payload json.RawMessage)

type EventRouter struct {
	logger       *slog.Logger
	stateManager state.Manager
	conflicts    *conflict.Engine
	broadcaster  *broadcast.Router
	handlers     map[string]HandlerFunc
}

func NewEventRouter(logger *slog.Logger, stateManager state.Manager, conflicts *conflict.Engine, broadcaster *broadcast.Router) *EventRouter {
	r := &EventRouter{
		logger:       logger.With(slog.String("component", "event_router")),
		stateManager: stateManager,
		conflicts:    conflicts,
		broadcaster:  broadcaster,
	}
	r.handlers = map[string]HandlerFunc{
		"document:update": r.handleDocumentUpdate,
		"resource:update": r.handleResourceUpdate,
		"verify:room":     r.handleVerifyRoom,
	}
	return r
}

func (r *EventRouter) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	var clientMsg ClientMessage
	if err := json.Unmarshal(msg, &clientMsg); err != nil {
		r.logger.Warn("Failed to unmarshal client message", slog.String("connID", connID.String()), slog.Any("error", err))
		return
	}

	handler, ok := r.handlers[clientMsg.Event]
	if !ok {
		r.logger.Warn("Received unknown event", slog.String("event", clientMsg.Event), slog.String("connID", connID.String()))
		return
	}

	conn, found := r.stateManager.GetConnection(connID)
	if !found {
		r.logger.Error("could not find connection profile for active connection", slog.String("connID", connID.String()))
		return
	}

	r.logger.Debug("Dispatching event", slog.String("event", clientMsg.Event), slog.String("connID", connID.String()))
	handler(ctx, conn, clientMsg.Payload)
}

// emit marshals a named event and sends it to one connection.
func (r *EventRouter) emit(conn *state.Connection, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("Failed to marshal outbound payload", slog.String("event", event), slog.Any("error", err))
		return
	}
	msg, err := json.Marshal(ClientMessage{Event: event, Payload: data})
	if err != nil {
		r.logger.Error("Failed to marshal outbound message", slog.String("event", event), slog.Any("error", err))
		return
	}
	conn.Transport.Send(msg)
}
