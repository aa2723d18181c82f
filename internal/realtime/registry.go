package realtime

import (
	"sync"
)

// Registry is the single source of truth for which users currently have a
// live connection. At most one connection is tracked per user; a new
// registration for the same user overwrites the prior mapping
// (last-connect-wins) without closing the superseded socket.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]*Connection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]*Connection),
	}
}

// Register maps the connection's user to the connection, replacing any
// prior mapping for that user. Returns the replaced connection, if any.
func (r *Registry) Register(id Identity, conn *Connection) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.byUser[id.UserID]
	r.byUser[id.UserID] = conn
	if prev == conn {
		return nil
	}
	return prev
}

// Unregister removes the mapping for the connection's user, but only when
// the stored connection is still the one that disconnected. This guards
// against a stale unregister racing a newer registration for the same user.
// Returns true when removal actually occurred.
func (r *Registry) Unregister(conn *Connection) bool {
	id := conn.Identity()
	if id == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byUser[id.UserID] != conn {
		return false
	}
	delete(r.byUser, id.UserID)
	return true
}

// IsOnline reports whether the user currently has a registered connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUser[userID]
	return ok
}

// Resolve returns the user's live connection, or nil when offline. Delivery
// over the returned handle is at-most-once; durability is the message
// store's concern.
func (r *Registry) Resolve(userID string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byUser[userID]
}

// OnlineCount returns the number of users with a live connection.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
