package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/lucky7slw/construction-erp-sub001/internal/broadcast"
	"github.com/lucky7slw/construction-erp-sub001/internal/conflict"
	"github.com/lucky7slw/construction-erp-sub001/internal/credential"
	"github.com/lucky7slw/construction-erp-sub001/internal/fabric"
	"github.com/lucky7slw/construction-erp-sub001/internal/presence"
	"github.com/lucky7slw/construction-erp-sub001/internal/queue"
	"github.com/lucky7slw/construction-erp-sub001/internal/router"
	"github.com/lucky7slw/construction-erp-sub001/internal/server/middleware"
	"github.com/lucky7slw/construction-erp-sub001/pkg/config"
	"github.com/lucky7slw/construction-erp-sub001/pkg/state"
	"github.com/lucky7slw/construction-erp-sub001/pkg/state/statemanager"
	"github.com/lucky7slw/construction-erp-sub001/pkg/transport"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type App struct {
	logger       *slog.Logger
	stateManager state.Manager
	presence     presence.Tracker
	queue        queue.Store
	fabric       fabric.Fabric
	broadcaster  *broadcast.Router
	eventRouter  *router.EventRouter
	wg           sync.WaitGroup
	http         *http.Server
	config       *config.Config
	rdb          *redis.Client

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config) *App {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	stateManager := statemanager.NewInMemoryManager(logger)
	presenceTracker := presence.NewRedisTracker(logger, rdb, cfg.Presence.TTL)
	offlineQueue := queue.NewRedisStore(logger, rdb, cfg.Queue.TTL)
	fanout := fabric.NewRedisFabric(logger, rdb, cfg.Redis.Channel)
	broadcaster := broadcast.NewRouter(logger, fanout, presenceTracker, offlineQueue)
	conflicts := conflict.NewEngine(logger)
	eventRouter := router.NewEventRouter(logger, stateManager, conflicts, broadcaster)

	app := &App{
		logger:       logger,
		stateManager: stateManager,
		presence:     presenceTracker,
		queue:        offlineQueue,
		fabric:       fanout,
		broadcaster:  broadcaster,
		eventRouter:  eventRouter,
		config:       cfg,
		rdb:          rdb,
		ctx:          rootCtx,
	}

	validator := credential.NewJWTValidator(cfg.Server.Auth.JWTSecret)

	mux := http.NewServeMux()
	upgradeHandler := http.HandlerFunc(app.upgradeHandler)
	connCounter := middleware.UserConnectionCounter(stateManager.GetUserConnectionCount)
	// Create a cycler function that closes over the stateManager and logger.
	connCycler := func(userID string) {
		oldest, found := stateManager.FindOldestUserConnection(userID)
		if found {
			logger.Info("Cycling connection: closing oldest", "userID", userID, "connID", oldest.ID)
			oldest.Transport.Close(errors.New("connection cycled by new connection"))
		}
	}

	mux.Handle("/ws",
		middleware.Chain(upgradeHandler,
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewAuthMiddleware(logger, validator, cfg.Server.Auth.ValidateTimeout),
			middleware.NewConnectionLimiter(
				logger,
				connCounter,
				connCycler,
				app.config.Server.ConnectionLimit,
			),
		),
	)
	app.registerHealthRoutes(mux)

	app.http = &http.Server{Addr: app.config.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app
}

func (a *App) Run() error {
	// the fan-out fabric is load-bearing for correctness: an instance that
	// cannot reach it must not accept connections.
	if err := a.rdb.Ping(a.ctx).Err(); err != nil {
		return fmt.Errorf("shared store unreachable at startup: %w", err)
	}
	if err := a.fabric.Subscribe(a.ctx, a.deliver); err != nil {
		return err
	}

	go a.refreshPresence()

	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

// deliver hands a fan-out envelope to every local connection subscribed to
// its group. A send racing a close is dropped by the transport layer.
func (a *App) deliver(env fabric.Envelope) {
	conns := a.stateManager.GroupConnections(env.Group)
	if len(conns) == 0 {
		return
	}

	msg, err := json.Marshal(router.ClientMessage{Event: env.Event, Payload: env.Payload})
	if err != nil {
		a.logger.Error("Failed to marshal delivery frame", slog.Any("error", err))
		return
	}
	for _, conn := range conns {
		if env.Origin != "" && env.Origin == conn.ID.String() {
			continue
		}
		conn.Transport.Send(msg)
	}
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	ident := reqMeta.Identity
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("userID", ident.UserID),
	)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig{
			ReadTimeout:  a.config.Transport.ReadTimeout,
			PingInterval: a.config.Transport.PingInterval,
		},
		nil,
		nil,
		a.logger,
	)
	// register new connection
	stateConn, err := a.stateManager.RegisterConnection(conn, reqMeta.IP)
	if err != nil {
		connLogger.Error("Failed to register connection state", slog.Any("error", err))
		conn.Close(err)
		return
	}
	// associate the authenticated identity with the registered connection.
	// The registry decides whether this is the identity's first connection.
	user, first, err := a.stateManager.AssociateUser(stateConn.ID, ident)
	if err != nil {
		connLogger.Error("Failed to associate user with connection", slog.Any("error", err))
		conn.Close(err)
		return
	}

	// every connection joins exactly two groups: its identity group and its
	// tenant group.
	if err := a.stateManager.Join(user.ID, state.IdentityGroup(user.ID)); err != nil {
		connLogger.Error("Failed to join identity group", slog.Any("error", err))
	}
	if err := a.stateManager.Join(user.ID, state.TenantGroup(user.TenantID)); err != nil {
		connLogger.Error("Failed to join tenant group", slog.Any("error", err))
	}

	if first {
		a.markOnline(r.Context(), user)
	}

	conn.SetOnMessageHandler(a.eventRouter.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("Deregistering connection due to closure", slog.String("connID", id.String()))
		a.handleTeardown(id)
	})

	// Start the pumps before replaying the offline queue: the drain pushes
	// through the bounded send buffer, so a backlog larger than the buffer
	// needs the write side consuming while the drain produces.
	conn.Run()
	a.drainOfflineQueue(r.Context(), conn, user.ID, connLogger)

	connLogger.Info("User connection fully established")
	<-conn.Done()
}

type presenceNotice struct {
	UserID    string `json:"userId"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// markOnline records presence and announces the transition to the identity's
// tenant. Presence-store trouble degrades to "presence unknown"; it never
// blocks admission.
func (a *App) markOnline(ctx context.Context, user *state.User) {
	if err := a.presence.MarkOnline(ctx, user.ID); err != nil {
		a.logger.Warn("Presence mark-online failed; continuing admission", slog.String("userID", user.ID))
	}
	a.announcePresence(ctx, user.ID, user.TenantID, "online")
}

func (a *App) announcePresence(ctx context.Context, userID, tenantID, status string) {
	payload, err := json.Marshal(presenceNotice{
		UserID:    userID,
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	event := "user:" + status
	if err := a.broadcaster.ToGroup(ctx, state.TenantGroup(tenantID), event, payload, ""); err != nil {
		a.logger.Warn("Failed to announce presence transition",
			slog.String("userID", userID), slog.String("status", status), slog.Any("error", err))
	}
}

// drainOfflineQueue replays everything queued for the identity while it was
// offline, in enqueue order, to the newly admitted connection only.
func (a *App) drainOfflineQueue(ctx context.Context, conn *transport.Connection, userID string, logger *slog.Logger) {
	messages, err := a.queue.Drain(ctx, userID)
	if err != nil {
		logger.Warn("Offline queue drain failed; queued events remain pending", slog.Any("error", err))
		return
	}
	for _, msg := range messages {
		frame, err := json.Marshal(router.ClientMessage{Event: msg.Event, Payload: msg.Payload})
		if err != nil {
			logger.Error("Failed to marshal queued message", slog.Any("error", err))
			continue
		}
		conn.Send(frame)
	}
	if len(messages) > 0 {
		logger.Info("Delivered queued messages", slog.Int("count", len(messages)))
	}
}

func (a *App) handleTeardown(connID uuid.UUID) {
	departure, err := a.stateManager.DeregisterConnection(connID)
	if err != nil {
		a.logger.Error("Failed to deregister connection from state", slog.Any("error", err))
		return
	}
	if departure == nil || departure.Remaining > 0 {
		return
	}

	// last connection for this identity: flip presence immediately rather
	// than waiting out the TTL.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.presence.MarkOffline(ctx, departure.UserID); err != nil {
		a.logger.Warn("Presence mark-offline failed; record will lapse via TTL", slog.String("userID", departure.UserID))
	}
	a.announcePresence(ctx, departure.UserID, departure.TenantID, "offline")
}

// refreshPresence re-marks every locally-connected identity at a third of
// the presence TTL so healthy connections never lapse.
func (a *App) refreshPresence() {
	interval := a.config.Presence.TTL / 3
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			users, err := a.stateManager.GetAllUsers()
			if err != nil {
				continue
			}
			for _, user := range users {
				if err := a.presence.MarkOnline(a.ctx, user.ID); err != nil {
					// already logged by the tracker; TTL covers the gap.
					break
				}
			}
		}
	}
}

// Broadcaster exposes the send API consumed by upstream business services.
func (a *App) Broadcaster() *broadcast.Router {
	return a.broadcaster
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	allUsers, err := a.stateManager.GetAllUsers()
	if err != nil {
		a.logger.Error(err.Error())
		return err
	}
	for _, user := range allUsers {
		for _, conn := range user.Connections {
			conn.Transport.Close(errors.New("graceful shutdown"))
		}
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()

	if err := a.fabric.Close(); err != nil {
		a.logger.Warn("Fan-out fabric close failed", slog.Any("error", err))
	}
	if err := a.rdb.Close(); err != nil {
		a.logger.Warn("Shared store close failed", slog.Any("error", err))
	}
	a.logger.Info("Server shut down gracefully.")
	return nil
}
