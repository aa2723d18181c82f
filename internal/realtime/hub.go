// Package realtime implements the portal's presence and messaging core: a
// registry of live connections, deterministic conversation rooms,
// patient/doctor chat relay with emergency fan-out to clinicians, global
// presence announcements, and ephemeral typing/read-receipt signaling.
// Everything here is process-local in-memory state; message durability and
// offline notification are external collaborators.
package realtime

import (
	"context"

	"github.com/rs/zerolog"
)

// Hub owns the realtime components and their lifecycle. It is constructed
// once, injected where needed, and carries no ambient global state so tests
// can build isolated instances.
type Hub struct {
	Registry *Registry
	Rooms    *Rooms
	Presence *Presence
	Typing   *TypingTracker
	Relay    *Relay

	log zerolog.Logger
}

// NewHub wires the realtime components around the given message store.
func NewHub(store MessageStore, log zerolog.Logger) *Hub {
	registry := NewRegistry()
	rooms := NewRooms(log)
	return &Hub{
		Registry: registry,
		Rooms:    rooms,
		Presence: NewPresence(log),
		Typing:   NewTypingTracker(rooms),
		Relay:    NewRelay(registry, rooms, store, log),
		log:      log,
	}
}

// Connect starts tracking a freshly opened, not yet authenticated
// connection. An unauthenticated connection is inert: every room and send
// operation rejects it.
func (h *Hub) Connect(conn *Connection) {
	h.Presence.Track(conn)
}

// Authenticate attaches the identity to the connection, registers it as the
// user's live connection, joins the role and per-user rooms, and announces
// the user online.
func (h *Hub) Authenticate(conn *Connection, id Identity) error {
	if id.UserID == "" || !id.Role.Valid() {
		return ErrInvalidPayload
	}
	if !conn.setIdentity(id) {
		// Already authenticated; the original identity stands.
		return ErrForbidden
	}

	h.Registry.Register(id, conn)
	h.Rooms.Join(conn, RoleRoomID(id.Role))
	h.Rooms.Join(conn, UserRoomID(id.UserID))
	h.Presence.AnnounceOnline(id)

	h.log.Info().
		Str("user", id.UserID).
		Str("role", string(id.Role)).
		Str("conn", conn.ID).
		Msg("connection authenticated")
	return nil
}

// JoinChat adds the connection to the conversation room for the given
// participant pair. Participants may only join rooms naming their own
// identity; admins may observe any room.
func (h *Hub) JoinChat(conn *Connection, patientID, doctorID string) error {
	id := conn.Identity()
	if id == nil {
		return ErrUnauthenticated
	}
	if patientID == "" || doctorID == "" {
		return ErrInvalidPayload
	}
	if id.Role != RoleAdmin && id.UserID != patientID && id.UserID != doctorID {
		return ErrForbidden
	}

	h.Rooms.Join(conn, ChatRoomID(patientID, doctorID))
	return nil
}

// LeaveChat removes the connection from the conversation room. A no-op when
// not a member.
func (h *Hub) LeaveChat(conn *Connection, patientID, doctorID string) error {
	id := conn.Identity()
	if id == nil {
		return ErrUnauthenticated
	}

	roomID := ChatRoomID(patientID, doctorID)
	h.Typing.Stop(conn, roomID)
	h.Rooms.Leave(conn, roomID)
	return nil
}

// Disconnect tears down a closed connection: typing state, room
// memberships, presence tracking, and the registry mapping. The offline
// announcement fires only when this connection still owned the user's
// registry entry — a superseded socket disconnecting later stays silent.
// Called exactly once per connection by the transport layer.
func (h *Hub) Disconnect(conn *Connection) {
	h.Typing.ClearConnection(conn)
	h.Rooms.LeaveAll(conn)
	h.Presence.Untrack(conn)

	removed := h.Registry.Unregister(conn)
	conn.Close()

	if id := conn.Identity(); id != nil && removed {
		h.Presence.AnnounceOffline(*id)
		h.log.Info().
			Str("user", id.UserID).
			Str("conn", conn.ID).
			Msg("connection closed")
	}
}

// Send relays a chat message from the connection.
func (h *Hub) Send(ctx context.Context, conn *Connection, msg *ChatMessage) (*ChatMessage, error) {
	return h.Relay.Send(ctx, conn, msg)
}

// MarkRead acknowledges messages as read by the connection's user.
func (h *Hub) MarkRead(ctx context.Context, conn *Connection, messageIDs []string, patientID, doctorID string) error {
	return h.Relay.MarkRead(ctx, conn, messageIDs, patientID, doctorID)
}

// StartTyping signals that the connection's user began typing in the
// conversation. The signal is cosmetic and never persisted.
func (h *Hub) StartTyping(conn *Connection, patientID, doctorID string) error {
	if err := h.checkParticipant(conn, patientID, doctorID); err != nil {
		return err
	}
	return h.Typing.Start(conn, ChatRoomID(patientID, doctorID))
}

// StopTyping clears the typing signal for the conversation.
func (h *Hub) StopTyping(conn *Connection, patientID, doctorID string) error {
	if err := h.checkParticipant(conn, patientID, doctorID); err != nil {
		return err
	}
	return h.Typing.Stop(conn, ChatRoomID(patientID, doctorID))
}

func (h *Hub) checkParticipant(conn *Connection, patientID, doctorID string) error {
	id := conn.Identity()
	if id == nil {
		return ErrUnauthenticated
	}
	if patientID == "" || doctorID == "" {
		return ErrInvalidPayload
	}
	if id.Role != RoleAdmin && id.UserID != patientID && id.UserID != doctorID {
		return ErrForbidden
	}
	return nil
}

// Shutdown closes every live connection's outbound queue. Read pumps then
// observe the transport close and run the usual Disconnect path.
func (h *Hub) Shutdown() {
	h.Presence.Shutdown()
}
