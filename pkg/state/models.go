package state

import (
	"time"

	"github.com/lucky7slw/construction-erp-sub001/pkg/transport"

	"github.com/google/uuid"
)

// Identity is the authenticated principal behind a connection. Claims are
// opaque to the gateway; they are carried for callers that make authorization
// decisions of their own.
type Identity struct {
	UserID   string
	TenantID string
	Claims   []string
}

// representation of a single transport-layer connection.
type Connection struct {
	ID         uuid.UUID
	IPAddress  string
	Transport  *transport.Connection // The actual connection for sending messages
	User       *User                 // Pointer to the owning user (nil until associated)
	AdmittedAt time.Time
}

// canonical representation of a user, aggregating all their connections.
type User struct {
	ID          string
	TenantID    string
	Claims      []string
	Connections map[uuid.UUID]*Connection // All active connections for this user
	Groups      map[string]*Group         // Broadcast groups this user belongs to, keyed by group ID
}

// Group is a named broadcast address. Every admitted connection belongs to
// exactly two: its identity group and its tenant group.
type Group struct {
	ID      string
	Members map[string]*User // All users who are members of this group, keyed by UserID
}

// Departure describes the outcome of a connection teardown. Remaining is the
// number of connections the owning user still holds; zero means the user just
// went offline.
type Departure struct {
	UserID    string
	TenantID  string
	Remaining int
}

func IdentityGroup(userID string) string {
	return "identity:" + userID
}

func TenantGroup(tenantID string) string {
	return "tenant:" + tenantID
}
