// Package presence tracks live connections, their room memberships, and the
// migration of both when a room's access lists change. All mutable state is
// owned by a Manager constructed once per process; nothing here is a package
// singleton.
package presence

import (
	"github.com/google/uuid"

	"github.com/lunarhall/parley/internal/domain"
)

// Transport identifies the kind of channel a connection arrived on.
type Transport string

const TransportWebSocket Transport = "websocket"

// Channel is the transport-side handle for one live connection. Subscribe and
// Unsubscribe adjust the transport's broadcast-group membership; Send pushes
// one event to this connection only. Implementations must tolerate calls
// after the underlying transport has gone away.
type Channel interface {
	Subscribe(roomID uuid.UUID)
	Unsubscribe(roomID uuid.UUID)
	Send(event string, payload any)
}

// Connection wraps one live transport channel plus the resolved identity
// behind it. Created by the transport layer on connect, owned by the Manager
// until disconnect.
type Connection struct {
	ID        uuid.UUID
	Transport Transport
	UserID    uuid.UUID
	Channel   Channel

	// user is resolved through the directory cache during Connect; the
	// connection is not part of the system room before that happens.
	user *domain.PublicUser
}

// NewConnection creates a connection for an authenticated user.
func NewConnection(transport Transport, userID uuid.UUID, ch Channel) *Connection {
	return &Connection{
		ID:        uuid.New(),
		Transport: transport,
		UserID:    userID,
		Channel:   ch,
	}
}

// User returns the resolved user record, or nil before Connect completed.
func (c *Connection) User() *domain.PublicUser {
	return c.user
}
