package statemanager_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/lucky7slw/construction-erp-sub001/pkg/state"
	"github.com/lucky7slw/construction-erp-sub001/pkg/state/statemanager"
	"github.com/lucky7slw/construction-erp-sub001/pkg/transport"
)

// --- Test Suite Setup ---

func newTestLogger() *slog.Logger {
	// Discard logger output during tests by setting a high level
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func newTestManager() *statemanager.InMemoryManager {
	return statemanager.NewInMemoryManager(newTestLogger())
}

func newTransportConn() *transport.Connection {
	// We don't use the actual websocket conn in these tests, so it can be nil.
	logger := newTestLogger()
	var wg sync.WaitGroup
	return transport.NewConnection(context.Background(), &wg, nil, transport.ConnectionConfig{}, nil, nil, logger)
}

func ident(userID, tenantID string) state.Identity {
	return state.Identity{UserID: userID, TenantID: tenantID}
}

// --- Connection and User Management Tests ---

func TestConnectionLifecycle(t *testing.T) {
	m := newTestManager()
	conn := newTransportConn()

	// 1. Register
	stateConn, err := m.RegisterConnection(conn, "127.0.0.1")
	if err != nil {
		t.Fatalf("RegisterConnection failed: %v", err)
	}
	if stateConn.ID != conn.ID() {
		t.Errorf("Registered connection ID mismatch")
	}
	if m.ConnectionCount() != 1 {
		t.Errorf("Expected connection count 1, got %d", m.ConnectionCount())
	}

	// 2. Get
	retrievedConn, found := m.GetConnection(conn.ID())
	if !found {
		t.Fatal("GetConnection failed to find registered connection")
	}
	if retrievedConn.ID != conn.ID() {
		t.Errorf("Retrieved connection ID mismatch")
	}

	// 3. Deregister
	departure, err := m.DeregisterConnection(conn.ID())
	if err != nil {
		t.Fatalf("DeregisterConnection failed: %v", err)
	}
	if departure != nil {
		t.Errorf("Expected nil departure for an unassociated connection, got %+v", departure)
	}
	_, found = m.GetConnection(conn.ID())
	if found {
		t.Error("Found connection after it should have been deregistered")
	}
	if m.ConnectionCount() != 0 {
		t.Errorf("Expected connection count 0, got %d", m.ConnectionCount())
	}
}

func TestUserAssociationAndConnectionCount(t *testing.T) {
	m := newTestManager()
	userID := "user-1"
	conn1 := newTransportConn()
	conn2 := newTransportConn()

	m.RegisterConnection(conn1, "1.1.1.1")
	m.RegisterConnection(conn2, "2.2.2.2")

	// Associate first connection
	user, first, err := m.AssociateUser(conn1.ID(), ident(userID, "tenant-1"))
	if err != nil {
		t.Fatalf("AssociateUser (1) failed: %v", err)
	}
	if user.ID != userID {
		t.Errorf("Expected user ID %s, got %s", userID, user.ID)
	}
	if user.TenantID != "tenant-1" {
		t.Errorf("Expected tenant ID tenant-1, got %s", user.TenantID)
	}
	if !first {
		t.Error("First association should report the user's first connection")
	}

	count, _ := m.GetUserConnectionCount(userID)
	if count != 1 {
		t.Errorf("Expected connection count 1, got %d", count)
	}

	// Associate second connection to the same user
	_, first, err = m.AssociateUser(conn2.ID(), ident(userID, "tenant-1"))
	if err != nil {
		t.Fatalf("AssociateUser (2) failed: %v", err)
	}
	if first {
		t.Error("Second association should not report a first connection")
	}

	count, _ = m.GetUserConnectionCount(userID)
	if count != 2 {
		t.Errorf("Expected connection count 2, got %d", count)
	}

	// Deregister one connection: user stays online
	departure, _ := m.DeregisterConnection(conn1.ID())
	if departure == nil || departure.Remaining != 1 {
		t.Fatalf("Expected departure with 1 remaining connection, got %+v", departure)
	}
	count, _ = m.GetUserConnectionCount(userID)
	if count != 1 {
		t.Errorf("Expected connection count 1 after deregister, got %d", count)
	}

	// Deregister the last connection: user goes away entirely
	departure, _ = m.DeregisterConnection(conn2.ID())
	if departure == nil || departure.Remaining != 0 {
		t.Fatalf("Expected departure with 0 remaining connections, got %+v", departure)
	}
	if departure.TenantID != "tenant-1" {
		t.Errorf("Departure should carry the tenant, got %q", departure.TenantID)
	}
	if _, found := m.FindUser(userID); found {
		t.Error("User should be removed after its last connection closes")
	}
}

func TestConcurrentAssociationsReportFirstExactlyOnce(t *testing.T) {
	m := newTestManager()
	userID := "user-racing"

	const admissions = 8
	conns := make([]*transport.Connection, admissions)
	for i := range conns {
		conns[i] = newTransportConn()
		m.RegisterConnection(conns[i], "1.1.1.1")
	}

	var wg sync.WaitGroup
	firsts := make(chan bool, admissions)
	for i := 0; i < admissions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, first, err := m.AssociateUser(conns[i].ID(), ident(userID, "t1"))
			if err != nil {
				t.Errorf("AssociateUser failed: %v", err)
				return
			}
			firsts <- first
		}(i)
	}
	wg.Wait()
	close(firsts)

	var firstCount int
	for first := range firsts {
		if first {
			firstCount++
		}
	}
	if firstCount != 1 {
		t.Errorf("Expected exactly one association to report the first connection, got %d", firstCount)
	}
}

func TestFirstConnectionResetsAfterTeardown(t *testing.T) {
	m := newTestManager()
	conn1 := newTransportConn()
	m.RegisterConnection(conn1, "1.1.1.1")
	if _, first, _ := m.AssociateUser(conn1.ID(), ident("u1", "t1")); !first {
		t.Fatal("Initial association should be the first connection")
	}
	m.DeregisterConnection(conn1.ID())

	// after the user's last connection goes, the next admission is a fresh
	// online transition
	conn2 := newTransportConn()
	m.RegisterConnection(conn2, "1.1.1.1")
	if _, first, _ := m.AssociateUser(conn2.ID(), ident("u1", "t1")); !first {
		t.Error("Post-teardown association should again be the first connection")
	}
}

func TestFindOldestUserConnection(t *testing.T) {
	m := newTestManager()
	userID := "user-cycle"
	conn1 := newTransportConn()
	time.Sleep(5 * time.Millisecond) // Ensure timestamps are different
	conn2 := newTransportConn()

	m.RegisterConnection(conn1, "1.1.1.1")
	m.RegisterConnection(conn2, "2.2.2.2")
	m.AssociateUser(conn1.ID(), ident(userID, "t1"))
	m.AssociateUser(conn2.ID(), ident(userID, "t1"))

	oldest, found := m.FindOldestUserConnection(userID)
	if !found {
		t.Fatal("FindOldestUserConnection found nothing")
	}
	if oldest.ID != conn1.ID() {
		t.Errorf("Expected oldest connection %s, got %s", conn1.ID(), oldest.ID)
	}
}

// --- Group Membership Tests ---

func TestGroupMembershipOnAdmission(t *testing.T) {
	m := newTestManager()
	conn := newTransportConn()
	m.RegisterConnection(conn, "1.1.1.1")
	m.AssociateUser(conn.ID(), ident("u1", "t1"))

	if err := m.Join("u1", state.IdentityGroup("u1")); err != nil {
		t.Fatalf("Join identity group failed: %v", err)
	}
	if err := m.Join("u1", state.TenantGroup("t1")); err != nil {
		t.Fatalf("Join tenant group failed: %v", err)
	}

	// member of exactly the two admission groups
	if !m.IsMember(conn.ID(), "identity:u1") {
		t.Error("Connection should be a member of identity:u1")
	}
	if !m.IsMember(conn.ID(), "tenant:t1") {
		t.Error("Connection should be a member of tenant:t1")
	}
	if m.IsMember(conn.ID(), "tenant:t2") {
		t.Error("Connection should not be a member of tenant:t2")
	}

	user, _ := m.FindUser("u1")
	if len(user.Groups) != 2 {
		t.Errorf("Expected membership in exactly 2 groups, got %d", len(user.Groups))
	}
}

func TestGroupConnectionsAndMembers(t *testing.T) {
	m := newTestManager()

	conns := make([]*transport.Connection, 3)
	for i, uid := range []string{"u1", "u2", "u3"} {
		conns[i] = newTransportConn()
		m.RegisterConnection(conns[i], "1.1.1.1")
		m.AssociateUser(conns[i].ID(), ident(uid, "t1"))
	}
	m.Join("u1", state.TenantGroup("t1"))
	m.Join("u2", state.TenantGroup("t1"))
	m.Join("u3", state.TenantGroup("t2"))

	members, err := m.GroupMembers("tenant:t1")
	if err != nil {
		t.Fatalf("GroupMembers failed: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("Expected 2 members in tenant:t1, got %d", len(members))
	}

	groupConns := m.GroupConnections("tenant:t1")
	if len(groupConns) != 2 {
		t.Errorf("Expected 2 connections in tenant:t1, got %d", len(groupConns))
	}

	if got := m.GroupConnections("tenant:missing"); got != nil {
		t.Errorf("Expected nil connections for unknown group, got %d", len(got))
	}
}

func TestLeaveAndGroupCleanup(t *testing.T) {
	m := newTestManager()
	conn := newTransportConn()
	m.RegisterConnection(conn, "1.1.1.1")
	m.AssociateUser(conn.ID(), ident("u1", "t1"))
	m.Join("u1", state.TenantGroup("t1"))

	if err := m.Leave("u1", "tenant:t1"); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	if m.IsMember(conn.ID(), "tenant:t1") {
		t.Error("Connection still a member after leave")
	}
	// empty group should be gone
	if _, err := m.GroupMembers("tenant:t1"); err == nil {
		t.Error("Expected error for removed empty group")
	}
}

func TestDeregisterLastConnectionLeavesGroups(t *testing.T) {
	m := newTestManager()
	conn := newTransportConn()
	m.RegisterConnection(conn, "1.1.1.1")
	m.AssociateUser(conn.ID(), ident("u1", "t1"))
	m.Join("u1", state.IdentityGroup("u1"))
	m.Join("u1", state.TenantGroup("t1"))

	m.DeregisterConnection(conn.ID())

	if _, err := m.GroupMembers("identity:u1"); err == nil {
		t.Error("Identity group should be removed with its only member")
	}
	if _, err := m.GroupMembers("tenant:t1"); err == nil {
		t.Error("Tenant group should be removed with its only member")
	}
}
