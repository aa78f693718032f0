package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// operational surface: liveness, connection count, per-user presence.
func (a *App) registerHealthRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.HandleFunc("GET /stats", a.handleStats)
	mux.HandleFunc("GET /presence/{userID}", a.handlePresence)
}

// a gateway instance that cannot reach the fan-out fabric must not claim to
// be healthy.
func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.rdb.Ping(ctx).Err(); err != nil {
		http.Error(w, "shared store unreachable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (a *App) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"connections": a.stateManager.ConnectionCount(),
	})
}

func (a *App) handlePresence(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	online, err := a.presence.IsOnline(r.Context(), userID)
	if err != nil {
		http.Error(w, "presence unknown", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"userId": userID,
		"online": online,
	})
}
