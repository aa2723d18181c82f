package realtime

import (
	"sync"
)

type typingKey struct {
	userID string
	roomID string
}

// TypingTracker handles ephemeral typing signals. State is purely
// transient, never persisted, and purely reactive: the tracker does not run
// timers — clients stop typing explicitly or after their own inactivity
// window. A user already marked typing in a room produces no further
// typing:started broadcasts until a stop is observed.
type TypingTracker struct {
	mu     sync.Mutex
	active map[typingKey]struct{}
	rooms  *Rooms
}

// NewTypingTracker creates a tracker broadcasting through the given rooms.
func NewTypingTracker(rooms *Rooms) *TypingTracker {
	return &TypingTracker{
		active: make(map[typingKey]struct{}),
		rooms:  rooms,
	}
}

// Start marks the user as typing in the room and notifies the other
// members. Repeated starts without an intervening stop are deduplicated.
func (t *TypingTracker) Start(conn *Connection, roomID string) error {
	id := conn.Identity()
	if id == nil {
		return ErrUnauthenticated
	}

	key := typingKey{userID: id.UserID, roomID: roomID}
	t.mu.Lock()
	_, already := t.active[key]
	if !already {
		t.active[key] = struct{}{}
	}
	t.mu.Unlock()

	if already {
		return nil
	}

	t.rooms.Broadcast(roomID, EventTypingStarted,
		TypingStartedPayload{UserID: id.UserID, Email: id.Email}, conn.ID)
	return nil
}

// Stop clears the user's typing state in the room and notifies the other
// members. A stop without a prior start is a silent no-op.
func (t *TypingTracker) Stop(conn *Connection, roomID string) error {
	id := conn.Identity()
	if id == nil {
		return ErrUnauthenticated
	}

	key := typingKey{userID: id.UserID, roomID: roomID}
	t.mu.Lock()
	_, was := t.active[key]
	delete(t.active, key)
	t.mu.Unlock()

	if !was {
		return nil
	}

	t.rooms.Broadcast(roomID, EventTypingStopped,
		TypingStoppedPayload{UserID: id.UserID}, conn.ID)
	return nil
}

// ClearConnection drops any typing entries held by the connection's user so
// the dedup set does not leak across reconnects. Peers learn of the
// disconnect through the presence broadcaster; typing state is cosmetic.
func (t *TypingTracker) ClearConnection(conn *Connection) {
	id := conn.Identity()
	if id == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.active {
		if key.userID == id.UserID {
			delete(t.active, key)
		}
	}
}
