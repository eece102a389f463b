package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lunarhall/parley/internal/domain"
)

// LastSeenStore records when a user was last connected. The database user
// repository satisfies this.
type LastSeenStore interface {
	UpdateLastSeen(ctx context.Context, userID uuid.UUID, at time.Time) error
}

// Manager orchestrates the connection registry, the room presence index, and
// the transport channel membership, keeping the three consistent under
// concurrent mutation. It is constructed once per process and handed to every
// component that needs presence; there is no ambient global.
type Manager struct {
	registry *Registry
	index    *Index
	users    *UserCache
	lastSeen LastSeenStore
	logger   *slog.Logger

	// system is the implicit room holding every live connection, used for
	// system-wide broadcasts. Membership changes raise no presence events.
	sysMu  sync.RWMutex
	system map[uuid.UUID]*Connection
}

// NewManager wires a presence manager. notify receives join/leave/disconnect
// notifications; lastSeen may be nil when last-seen tracking is not wanted.
func NewManager(dir Directory, lastSeen LastSeenStore, notify Notifier, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry: NewRegistry(),
		index:    NewIndex(notify),
		users:    NewUserCache(dir),
		lastSeen: lastSeen,
		logger:   logger.With("component", "presence"),
		system:   make(map[uuid.UUID]*Connection),
	}
}

// Registry exposes the live connection set for querying.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Connect resolves the connection's user through the directory cache, then
// admits it to the registry and the system room. The connection is not
// considered present before its identity resolves.
func (m *Manager) Connect(ctx context.Context, c *Connection) error {
	user, err := m.users.Lookup(ctx, c.UserID)
	if err != nil {
		return err
	}
	c.user = user

	m.registry.Add(c)
	m.sysMu.Lock()
	m.system[c.ID] = c
	m.sysMu.Unlock()

	m.logger.Debug("connection joined", "connection_id", c.ID, "user_id", c.UserID)
	return nil
}

// Disconnect removes the connection from the system room, from every room's
// presence set (raising per-room disconnected notifications), and from the
// registry. The user's last-seen timestamp is updated fire-and-forget; a
// store failure is logged and never blocks disconnect completion.
func (m *Manager) Disconnect(c *Connection) {
	m.sysMu.Lock()
	delete(m.system, c.ID)
	m.sysMu.Unlock()

	m.index.RemoveFromAllRooms(c)
	m.registry.Remove(c)

	m.logger.Debug("connection left", "connection_id", c.ID, "user_id", c.UserID)

	if m.lastSeen == nil {
		return
	}
	userID := c.UserID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.lastSeen.UpdateLastSeen(ctx, userID, time.Now()); err != nil {
			m.logger.Warn("last-seen update failed", "user_id", userID, "error", err)
		}
	}()
}

// Join subscribes a connection to a room's presence set. The caller is
// responsible for the matching transport-channel subscribe; the index and the
// transport stay independently testable that way.
func (m *Manager) Join(room *domain.Room, c *Connection, suppress bool) {
	m.index.AddConnection(room, c, suppress)
}

// Leave unsubscribes a connection from a room's presence set. Symmetric to
// Join; the caller handles the transport-channel unsubscribe.
func (m *Manager) Leave(roomID uuid.UUID, c *Connection, suppress bool) {
	m.index.RemoveConnection(roomID, c, suppress)
}

// Reconcile migrates already-connected sessions to match a freshly changed
// access list. Every live connection of a revoked user leaves the room
// (suppressed), unsubscribes its transport channel, and is told the room
// closed; every live connection of a newly authorized user joins (suppressed),
// subscribes, and receives the updated roster. Connections that disconnect
// mid-reconciliation simply no longer match the registry query - a no-op, not
// an error.
func (m *Manager) Reconcile(room *domain.Room, unauthorized, newlyAuthorized []domain.MemberRef) {
	for _, member := range unauthorized {
		for _, c := range m.registry.Find(Query{UserID: member.ID}) {
			m.Leave(room.ID, c, true)
			c.Channel.Unsubscribe(room.ID)
			c.Channel.Send(EventRoomRevoked, RevokedPayload{RoomID: room.ID})
		}
	}

	for _, member := range newlyAuthorized {
		conns := m.registry.Find(Query{UserID: member.ID})
		if len(conns) == 0 {
			continue
		}
		for _, c := range conns {
			m.Join(room, c, true)
			c.Channel.Subscribe(room.ID)
			c.Channel.Send(EventRoomGranted, GrantedPayload{
				RoomID:   room.ID,
				RoomSlug: room.Slug,
				RoomName: room.Name,
				Userlist: domain.MemberIDs(room.AccessList()),
			})
		}
	}

	m.logger.Info("authorization reconciled",
		"room_id", room.ID,
		"revoked", len(unauthorized),
		"granted", len(newlyAuthorized),
	)
}

// BroadcastRoomEvent pushes a room-scoped event to the correct recipient set:
// for a private room without a password, exactly the connections authorized
// right now (computed freshly, never cached); for every other room, all live
// connections. Getting this set wrong is the one bug this component exists to
// prevent.
func (m *Manager) BroadcastRoomEvent(room *domain.Room, event string, payload any) {
	if room.Private && !room.HasPassword() {
		for _, c := range m.registry.Find(Query{}) {
			if room.IsAuthorized(c.UserID) {
				c.Channel.Send(event, payload)
			}
		}
		return
	}

	m.sysMu.RLock()
	conns := make([]*Connection, 0, len(m.system))
	for _, c := range m.system {
		conns = append(conns, c)
	}
	m.sysMu.RUnlock()

	for _, c := range conns {
		c.Channel.Send(event, payload)
	}
}

// UsersForRoom returns the distinct users currently present in a room.
func (m *Manager) UsersForRoom(roomID uuid.UUID) []*domain.PublicUser {
	return m.index.Users(roomID)
}

// UserCountForRoom returns how many distinct users are present in a room.
func (m *Manager) UserCountForRoom(roomID uuid.UUID) int {
	return m.index.UserCount(roomID)
}

// ConnectionsForRoom returns the live connections present in a room.
func (m *Manager) ConnectionsForRoom(roomID uuid.UUID) []*Connection {
	return m.index.Connections(roomID)
}

// Users exposes the directory cache.
func (m *Manager) Users() *UserCache {
	return m.users
}

// Close tears down presence state, releasing every connection's transport
// subscriptions. Called once at shutdown.
func (m *Manager) Close() {
	for _, c := range m.registry.Find(Query{}) {
		for _, roomID := range m.index.RemoveFromAllRooms(c) {
			c.Channel.Unsubscribe(roomID)
		}
		m.registry.Remove(c)
	}
	m.sysMu.Lock()
	m.system = make(map[uuid.UUID]*Connection)
	m.sysMu.Unlock()
}
