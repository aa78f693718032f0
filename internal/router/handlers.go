package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lucky7slw/construction-erp-sub001/internal/conflict"
	"github.com/lucky7slw/construction-erp-sub001/internal/fabric"
	"github.com/lucky7slw/construction-erp-sub001/pkg/state"

	"github.com/tidwall/gjson"
)

func (r *EventRouter) handleDocumentUpdate(ctx context.Context, conn *state.Connection, payload json.RawMessage) {
	if !gjson.GetBytes(payload, "documentId").Exists() {
		r.logger.Warn("document:update missing documentId", slog.String("connID", conn.ID.String()))
		return
	}

	var upd documentUpdate
	if err := json.Unmarshal(payload, &upd); err != nil {
		r.logger.Warn("Failed to unmarshal document update", slog.Any("error", err))
		return
	}

	result := r.conflicts.ApplyDocument(upd.DocumentID, upd.Version, upd.Data)
	switch result.Outcome {
	case conflict.OutcomeAccepted:
		r.broadcastUpdate(ctx, conn, "document:updated", updateNotice{
			DocumentID: upd.DocumentID,
			Version:    result.Version,
			Data:       result.Data,
		})
	case conflict.OutcomeConflict:
		r.emit(conn, "document:conflict", result.Resolution)
	case conflict.OutcomeStale:
		r.emit(conn, "document:resync", updateNotice{
			DocumentID: upd.DocumentID,
			Version:    result.Version,
			Data:       result.Data,
		})
	}
}

func (r *EventRouter) handleResourceUpdate(ctx context.Context, conn *state.Connection, payload json.RawMessage) {
	if !gjson.GetBytes(payload, "resourceId").Exists() {
		r.logger.Warn("resource:update missing resourceId", slog.String("connID", conn.ID.String()))
		return
	}

	var upd resourceUpdate
	if err := json.Unmarshal(payload, &upd); err != nil {
		r.logger.Warn("Failed to unmarshal resource update", slog.Any("error", err))
		return
	}

	timestamp, err := time.Parse(time.RFC3339, upd.Timestamp)
	if err != nil {
		r.logger.Warn("resource:update carried an unparseable timestamp; using receipt time",
			slog.String("resourceID", upd.ResourceID), slog.Any("error", err))
		timestamp = time.Now()
	}

	result := r.conflicts.ApplyResource(upd.ResourceID, upd.Version, upd.Data, timestamp)
	switch result.Outcome {
	case conflict.OutcomeAccepted:
		r.broadcastUpdate(ctx, conn, "resource:updated", updateNotice{
			ResourceID: upd.ResourceID,
			Version:    result.Version,
			Data:       result.Data,
		})
	case conflict.OutcomeConflict:
		r.emit(conn, "conflict:resolved", result.Resolution)
	case conflict.OutcomeStale:
		r.emit(conn, "resource:resync", updateNotice{
			ResourceID: upd.ResourceID,
			Version:    result.Version,
			Data:       result.Data,
		})
	}
}

// accepted updates fan out to the originator's tenant group, excluding the
// originating connection.
func (r *EventRouter) broadcastUpdate(ctx context.Context, conn *state.Connection, event string, notice updateNotice) {
	if conn.User == nil {
		return
	}
	payload, err := json.Marshal(notice)
	if err != nil {
		r.logger.Error("Failed to marshal update notice", slog.Any("error", err))
		return
	}
	group := state.TenantGroup(conn.User.TenantID)
	if err := r.broadcaster.ToGroup(ctx, group, event, payload, fabric.FromConnection(conn.ID)); err != nil {
		r.logger.Error("Failed to broadcast accepted update", slog.String("event", event), slog.Any("error", err))
	}
}

func (r *EventRouter) handleVerifyRoom(ctx context.Context, conn *state.Connection, payload json.RawMessage) {
	room := gjson.GetBytes(payload, "room").String()
	if room == "" {
		r.logger.Warn("verify:room missing room name", slog.String("connID", conn.ID.String()))
		return
	}
	r.emit(conn, "room:verified", roomVerified{
		Room:   room,
		Member: r.stateManager.IsMember(conn.ID, room),
	})
}
