package state

import (
	"github.com/lucky7slw/construction-erp-sub001/pkg/transport"

	"github.com/google/uuid"
)

type Manager interface {
	// --- Connection Lifecycle ---
	RegisterConnection(conn *transport.Connection, ipAddr string) (*Connection, error)
	// DeregisterConnection removes the connection from every map it appears
	// in. When the connection belonged to a user, the returned Departure
	// reports how many connections that user still holds so the caller can
	// drive the presence transition. The user is dropped from all groups
	// when its last connection goes.
	DeregisterConnection(connID uuid.UUID) (*Departure, error)
	GetConnection(connID uuid.UUID) (*Connection, bool)
	FindOldestUserConnection(userID string) (*Connection, bool)
	ConnectionCount() int

	// --- User Management ---
	// AssociateUser links a connection to an identity, creating the user if
	// they don't exist. The returned bool reports whether this connection is
	// the identity's first, decided under the registry lock so exactly one
	// of several racing admissions sees it; the caller drives the online
	// presence transition off it, mirroring how Departure.Remaining drives
	// the offline side.
	AssociateUser(connID uuid.UUID, ident Identity) (*User, bool, error)
	FindUser(userID string) (*User, bool)
	GetUserConnections(userID string) ([]*transport.Connection, error)
	GetUserConnectionCount(userID string) (int, error)
	GetAllUsers() ([]*User, error)

	// --- Group Membership ---
	// adds a user to a group, creating the group if it doesn't exist.
	Join(userID, groupID string) error
	Leave(userID, groupID string) error
	GroupMembers(groupID string) ([]*User, error)
	// GroupConnections returns every local connection subscribed to the
	// group. Used by fan-out delivery.
	GroupConnections(groupID string) []*Connection
	// IsMember reports whether the given connection is currently subscribed
	// to the group. Diagnostic surface.
	IsMember(connID uuid.UUID, groupID string) bool
}
