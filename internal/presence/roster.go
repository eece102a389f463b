package presence

import (
	"sync"

	"github.com/google/uuid"

	"github.com/lunarhall/parley/internal/domain"
)

// roster is one room's live connection set.
type roster struct {
	roomID      uuid.UUID
	hasPassword bool
	conns       map[uuid.UUID]*Connection
}

// Index maps room IDs to the connections currently subscribed to that room's
// events. Entries are created lazily on first join and kept for reuse when
// they empty out. Only the Manager mutates the index.
type Index struct {
	mu     sync.RWMutex
	rooms  map[uuid.UUID]*roster
	notify Notifier
}

func NewIndex(notify Notifier) *Index {
	if notify == nil {
		notify = NopNotifier{}
	}
	return &Index{
		rooms:  make(map[uuid.UUID]*roster),
		notify: notify,
	}
}

func (ix *Index) getOrAdd(roomID uuid.UUID, hasPassword bool) *roster {
	if r, ok := ix.rooms[roomID]; ok {
		r.hasPassword = hasPassword
		return r
	}
	r := &roster{
		roomID:      roomID,
		hasPassword: hasPassword,
		conns:       make(map[uuid.UUID]*Connection),
	}
	ix.rooms[roomID] = r
	return r
}

// AddConnection subscribes a connection to a room's events. Re-adding a
// present connection is a no-op and never raises a duplicate notification.
// suppress skips the join notification; authorization-driven migrations use
// it so they are distinguishable downstream from voluntary joins.
func (ix *Index) AddConnection(room *domain.Room, c *Connection, suppress bool) {
	ix.mu.Lock()
	r := ix.getOrAdd(room.ID, room.HasPassword())
	_, present := r.conns[c.ID]
	r.conns[c.ID] = c
	ix.mu.Unlock()

	if !present && !suppress {
		ix.notify.UserJoined(RoomEvent{
			UserID:          c.UserID,
			RoomID:          room.ID,
			RoomHasPassword: room.HasPassword(),
		})
	}
}

// RemoveConnection unsubscribes a connection from a room's events. Removing
// an absent connection is a no-op.
func (ix *Index) RemoveConnection(roomID uuid.UUID, c *Connection, suppress bool) {
	ix.mu.Lock()
	r, ok := ix.rooms[roomID]
	var present bool
	var hasPassword bool
	if ok {
		_, present = r.conns[c.ID]
		delete(r.conns, c.ID)
		hasPassword = r.hasPassword
	}
	ix.mu.Unlock()

	if present && !suppress {
		ix.notify.UserLeft(RoomEvent{
			UserID:          c.UserID,
			RoomID:          roomID,
			RoomHasPassword: hasPassword,
		})
	}
}

// RemoveFromAllRooms drops a connection from every room's set, raising one
// disconnected notification per affected room, and returns the affected room
// IDs. Disconnected is semantically distinct from left: the user did not
// choose to go, and the membership relationship is unchanged.
func (ix *Index) RemoveFromAllRooms(c *Connection) []uuid.UUID {
	ix.mu.Lock()
	var affected []RoomEvent
	for _, r := range ix.rooms {
		if _, ok := r.conns[c.ID]; ok {
			delete(r.conns, c.ID)
			affected = append(affected, RoomEvent{
				UserID:          c.UserID,
				RoomID:          r.roomID,
				RoomHasPassword: r.hasPassword,
			})
		}
	}
	ix.mu.Unlock()

	roomIDs := make([]uuid.UUID, 0, len(affected))
	for _, ev := range affected {
		ix.notify.UserDisconnected(ev)
		roomIDs = append(roomIDs, ev.RoomID)
	}
	return roomIDs
}

// Connections returns a copy of a room's live connection set.
func (ix *Index) Connections(roomID uuid.UUID) []*Connection {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	r, ok := ix.rooms[roomID]
	if !ok {
		return nil
	}
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// Users returns the distinct resolved users present in a room.
func (ix *Index) Users(roomID uuid.UUID) []*domain.PublicUser {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	r, ok := ix.rooms[roomID]
	if !ok {
		return nil
	}
	seen := make(map[uuid.UUID]bool, len(r.conns))
	users := make([]*domain.PublicUser, 0, len(r.conns))
	for _, c := range r.conns {
		if c.user == nil || seen[c.UserID] {
			continue
		}
		seen[c.UserID] = true
		users = append(users, c.user)
	}
	return users
}

// UserCount returns the number of distinct users present in a room.
func (ix *Index) UserCount(roomID uuid.UUID) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	r, ok := ix.rooms[roomID]
	if !ok {
		return 0
	}
	seen := make(map[uuid.UUID]bool, len(r.conns))
	for _, c := range r.conns {
		seen[c.UserID] = true
	}
	return len(seen)
}
