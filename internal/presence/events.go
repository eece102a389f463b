package presence

import "github.com/google/uuid"

// Event names pushed directly to individual connections during an
// authorization migration.
const (
	// EventRoomRevoked tells a connection it lost access to a room.
	EventRoomRevoked = "room.revoked"
	// EventRoomGranted tells a connection it gained access to a room; the
	// payload carries the updated authorized roster.
	EventRoomGranted = "room.granted"
)

// RevokedPayload accompanies EventRoomRevoked.
type RevokedPayload struct {
	RoomID uuid.UUID `json:"room_id"`
}

// GrantedPayload accompanies EventRoomGranted.
type GrantedPayload struct {
	RoomID   uuid.UUID   `json:"room_id"`
	RoomSlug string      `json:"room_slug"`
	RoomName string      `json:"room_name"`
	Userlist []uuid.UUID `json:"userlist"`
}

// RoomEvent describes one presence change inside one room. Join and leave are
// voluntary; disconnected means the transport went away without the
// membership relationship changing.
type RoomEvent struct {
	UserID          uuid.UUID
	RoomID          uuid.UUID
	RoomHasPassword bool
}

// Notifier receives presence notifications. It replaces the loose event
// emitter of classic chat servers with a typed interface: the transport layer
// implements it to fan the events out to room-level broadcast groups.
type Notifier interface {
	UserJoined(ev RoomEvent)
	UserLeft(ev RoomEvent)
	UserDisconnected(ev RoomEvent)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) UserJoined(RoomEvent)       {}
func (NopNotifier) UserLeft(RoomEvent)         {}
func (NopNotifier) UserDisconnected(RoomEvent) {}
