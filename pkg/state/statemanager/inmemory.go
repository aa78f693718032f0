package statemanager

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lucky7slw/construction-erp-sub001/pkg/state"
	"github.com/lucky7slw/construction-erp-sub001/pkg/transport"

	"github.com/google/uuid"
)

type InMemoryManager struct {
	conns  map[uuid.UUID]*state.Connection
	users  map[string]*state.User
	groups map[string]*state.Group

	mu sync.RWMutex

	logger *slog.Logger
}

func NewInMemoryManager(logger *slog.Logger) *InMemoryManager {
	return &InMemoryManager{
		conns:  make(map[uuid.UUID]*state.Connection),
		users:  make(map[string]*state.User),
		groups: make(map[string]*state.Group),
		logger: logger.With(slog.String("component", "state_manager_inmemory")),
	}
}

// compile-time check to ensure InMemoryManager implements Manager.
var _ state.Manager = (*InMemoryManager)(nil)

func (m *InMemoryManager) RegisterConnection(conn *transport.Connection, ipAddr string) (*state.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	connID := conn.ID()
	if _, exists := m.conns[connID]; exists {
		return nil, errors.New("connection is already registered")
	}
	newConn := &state.Connection{
		ID:         connID,
		IPAddress:  ipAddr,
		Transport:  conn,
		AdmittedAt: time.Now(),
	}
	m.conns[connID] = newConn
	m.logger.Debug("Connection registered", slog.String("connID", connID.String()))
	return newConn, nil
}

func (m *InMemoryManager) DeregisterConnection(connID uuid.UUID) (*state.Departure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		// connection is already deregistered
		return nil, nil
	}
	delete(m.conns, connID)

	if conn.User == nil {
		m.logger.Debug("Connection deregistered", slog.String("connID", connID.String()))
		return nil, nil
	}

	user := conn.User
	delete(user.Connections, connID)
	departure := &state.Departure{
		UserID:    user.ID,
		TenantID:  user.TenantID,
		Remaining: len(user.Connections),
	}

	// last connection gone: drop the user from its groups and forget it.
	if departure.Remaining == 0 {
		for groupID := range user.Groups {
			m.removeFromGroupLocked(user, groupID)
		}
		delete(m.users, user.ID)
		m.logger.Debug("User went offline", slog.String("userID", user.ID))
	}

	m.logger.Debug("Connection deregistered", slog.String("connID", connID.String()), slog.String("userID", user.ID))
	return departure, nil
}

func (m *InMemoryManager) GetConnection(connID uuid.UUID) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[connID]
	return conn, ok
}

func (m *InMemoryManager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

func (m *InMemoryManager) GetUserConnectionCount(userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[userID]
	if !ok {
		return 0, nil // User doesn't exist yet, so they have 0 connections.
	}
	return len(user.Connections), nil
}

func (m *InMemoryManager) FindOldestUserConnection(userID string) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[userID]
	if !ok {
		return nil, false
	}

	var oldestConn *state.Connection
	var oldestTime time.Time

	for _, conn := range user.Connections {
		if oldestConn == nil || conn.AdmittedAt.Before(oldestTime) {
			oldestConn = conn
			oldestTime = conn.AdmittedAt
		}
	}

	if oldestConn == nil {
		return nil, false // User has no connections.
	}

	return oldestConn, true
}

// --- User Management ---

func (m *InMemoryManager) AssociateUser(connID uuid.UUID, ident state.Identity) (*state.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return nil, false, errors.New("cannot associate user with unknown connection")
	}

	// Find or create the user session. "First connection" is decided here,
	// under the lock, so concurrent admissions for the same identity report
	// it exactly once.
	user, exists := m.users[ident.UserID]
	if !exists {
		user = &state.User{
			ID:          ident.UserID,
			TenantID:    ident.TenantID,
			Connections: make(map[uuid.UUID]*state.Connection),
			Groups:      make(map[string]*state.Group),
		}
		m.users[ident.UserID] = user
		m.logger.Debug("Created new user session", slog.String("userID", ident.UserID))
	}

	user.Claims = ident.Claims
	conn.User = user
	user.Connections[connID] = conn

	m.logger.Debug("Associated connection with user", slog.String("connID", connID.String()), slog.String("userID", ident.UserID))
	return user, !exists, nil
}

func (m *InMemoryManager) FindUser(userID string) (*state.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[userID]
	return user, ok
}

func (m *InMemoryManager) GetUserConnections(userID string) ([]*transport.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[userID]
	if !ok {
		return nil, errors.New("user not found")
	}

	conns := make([]*transport.Connection, 0, len(user.Connections))
	for _, c := range user.Connections {
		conns = append(conns, c.Transport)
	}
	return conns, nil
}

func (m *InMemoryManager) GetAllUsers() ([]*state.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]*state.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	return users, nil
}

// --- Group Membership ---

func (m *InMemoryManager) Join(userID, groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return errors.New("cannot join group: user not found")
	}

	// Already a member; nothing to do.
	if _, exists := user.Groups[groupID]; exists {
		return nil
	}

	// Find or create the group.
	group, exists := m.groups[groupID]
	if !exists {
		group = &state.Group{
			ID:      groupID,
			Members: make(map[string]*state.User),
		}
		m.groups[groupID] = group
	}

	user.Groups[groupID] = group
	group.Members[userID] = user

	m.logger.Debug("User joined group", slog.String("userID", userID), slog.String("groupID", groupID))
	return nil
}

func (m *InMemoryManager) Leave(userID string, groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		m.logger.Warn("failed to leave group: user doesn't exist",
			slog.String("userID", userID),
			slog.String("groupID", groupID),
		)
		return nil // User doesn't exist, so they can't be in the group.
	}
	m.removeFromGroupLocked(user, groupID)
	m.logger.Debug("User left group", slog.String("userID", userID), slog.String("groupID", groupID))
	return nil
}

// caller must hold m.mu.
func (m *InMemoryManager) removeFromGroupLocked(user *state.User, groupID string) {
	group, ok := m.groups[groupID]
	if !ok {
		return
	}
	delete(user.Groups, groupID)
	delete(group.Members, user.ID)

	// For memory hygiene, remove the group if it's now empty.
	if len(group.Members) == 0 {
		delete(m.groups, groupID)
		m.logger.Debug("Removed empty group", slog.String("groupID", groupID))
	}
}

func (m *InMemoryManager) GroupMembers(groupID string) ([]*state.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	group, ok := m.groups[groupID]
	if !ok {
		return nil, errors.New("group not found")
	}

	members := make([]*state.User, 0, len(group.Members))
	for _, u := range group.Members {
		members = append(members, u)
	}
	return members, nil
}

func (m *InMemoryManager) GroupConnections(groupID string) []*state.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	group, ok := m.groups[groupID]
	if !ok {
		return nil
	}

	var conns []*state.Connection
	for _, u := range group.Members {
		for _, c := range u.Connections {
			conns = append(conns, c)
		}
	}
	return conns
}

func (m *InMemoryManager) IsMember(connID uuid.UUID, groupID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.conns[connID]
	if !ok || conn.User == nil {
		return false
	}
	_, ok = conn.User.Groups[groupID]
	return ok
}
