package presence

import (
	"sync"

	"github.com/google/uuid"
)

// Query matches connections by field. Zero-valued fields match everything,
// so Query{} selects every live connection.
type Query struct {
	Transport Transport
	UserID    uuid.UUID
}

func (q Query) matches(c *Connection) bool {
	if q.Transport != "" && c.Transport != q.Transport {
		return false
	}
	if q.UserID != uuid.Nil && c.UserID != q.UserID {
		return false
	}
	return true
}

// Registry is the set of all live connections. Queries may run concurrently
// with adds and removes.
type Registry struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*Connection
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[uuid.UUID]*Connection)}
}

// Add registers a connection. Re-adding a present connection is a no-op.
func (r *Registry) Add(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID] = c
}

// Remove deregisters a connection. Removing an absent connection is a no-op;
// unreliable transports deliver duplicate disconnect notifications.
func (r *Registry) Remove(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, c.ID)
}

// Find returns all connections matching the query.
func (r *Registry) Find(q Query) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Connection
	for _, c := range r.conns {
		if q.matches(c) {
			matched = append(matched, c)
		}
	}
	return matched
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
