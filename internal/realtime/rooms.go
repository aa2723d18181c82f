package realtime

import (
	"sync"

	"github.com/rs/zerolog"
)

// ChatRoomID derives the canonical room identifier for a (patient, doctor)
// conversation. The patient segment always comes first so both participants
// resolve to the same room regardless of who initiates.
func ChatRoomID(patientID, doctorID string) string {
	return "chat:" + patientID + ":" + doctorID
}

// RoleRoomID is the broadcast group for every connection holding a role,
// used for the emergency fan-out to clinicians.
func RoleRoomID(role Role) string {
	return "role:" + string(role)
}

// UserRoomID is the per-user room joined automatically on authentication so
// the surrounding application can target a single user.
func UserRoomID(userID string) string {
	return "user:" + userID
}

// Rooms manages broadcast-group membership. Membership mutation is guarded
// by a single mutex; delivery copies the member set out under the read lock
// and enqueues outside it so a slow client cannot stall unrelated traffic.
type Rooms struct {
	mu      sync.RWMutex
	members map[string]map[*Connection]struct{}
	joined  map[*Connection]map[string]struct{}
	log     zerolog.Logger
}

// NewRooms creates an empty room router.
func NewRooms(log zerolog.Logger) *Rooms {
	return &Rooms{
		members: make(map[string]map[*Connection]struct{}),
		joined:  make(map[*Connection]map[string]struct{}),
		log:     log,
	}
}

// Join adds the connection to the room. Idempotent.
func (r *Rooms) Join(conn *Connection, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.members[roomID] == nil {
		r.members[roomID] = make(map[*Connection]struct{})
	}
	r.members[roomID][conn] = struct{}{}

	if r.joined[conn] == nil {
		r.joined[conn] = make(map[string]struct{})
	}
	r.joined[conn][roomID] = struct{}{}
}

// Leave removes the connection from the room. Idempotent; a no-op when the
// connection is not a member.
func (r *Rooms) Leave(conn *Connection, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(conn, roomID)
}

// LeaveAll removes the connection from every room it joined. Called once on
// disconnect.
func (r *Rooms) LeaveAll(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for roomID := range r.joined[conn] {
		r.leaveLocked(conn, roomID)
	}
	delete(r.joined, conn)
}

func (r *Rooms) leaveLocked(conn *Connection, roomID string) {
	if members, ok := r.members[roomID]; ok {
		delete(members, conn)
		if len(members) == 0 {
			delete(r.members, roomID)
		}
	}
	if rooms, ok := r.joined[conn]; ok {
		delete(rooms, roomID)
	}
}

// IsMember reports whether the connection has joined the room.
func (r *Rooms) IsMember(conn *Connection, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.joined[conn][roomID]
	return ok
}

// MemberCount returns the number of live connections in the room.
func (r *Rooms) MemberCount(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members[roomID])
}

// Broadcast delivers an event to every live member of the room except the
// optionally excluded connection. Broadcasting to an empty room is a silent
// no-op: the counterpart may simply be offline and durability is the
// message store's concern. A member whose buffer is full misses this event.
func (r *Rooms) Broadcast(roomID, event string, payload interface{}, excludeConnID string) {
	data, err := NewEnvelope(event, payload)
	if err != nil {
		r.log.Error().Err(err).Str("event", event).Msg("marshal broadcast payload")
		return
	}

	r.mu.RLock()
	recipients := make([]*Connection, 0, len(r.members[roomID]))
	for conn := range r.members[roomID] {
		if excludeConnID != "" && conn.ID == excludeConnID {
			continue
		}
		recipients = append(recipients, conn)
	}
	r.mu.RUnlock()

	for _, conn := range recipients {
		if !conn.Enqueue(data) {
			r.log.Warn().
				Str("event", event).
				Str("room", roomID).
				Str("conn", conn.ID).
				Msg("dropped event for slow client")
		}
	}
}
