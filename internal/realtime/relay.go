package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Relay implements the send/receive protocol for chat content: it
// validates and stamps inbound messages, delivers them to the conversation
// room, fans out emergency alerts to clinicians, and delegates durability
// to the message store.
type Relay struct {
	// mu serializes stamping and room broadcast so every room member
	// observes messages in relay arrival order.
	mu sync.Mutex

	registry *Registry
	rooms    *Rooms
	store    MessageStore
	log      zerolog.Logger
	now      func() time.Time
}

// NewRelay creates a relay delivering through rooms and persisting through
// store.
func NewRelay(registry *Registry, rooms *Rooms, store MessageStore, log zerolog.Logger) *Relay {
	return &Relay{
		registry: registry,
		rooms:    rooms,
		store:    store,
		log:      log,
		now:      time.Now,
	}
}

// roomForMessage resolves which side of the conversation is the patient.
// Doctors and admins message patients; patients message doctors.
func roomForMessage(sender Identity, receiverID string) (patientID, doctorID string) {
	if sender.Role == RolePatient {
		return sender.UserID, receiverID
	}
	return receiverID, sender.UserID
}

// Send relays one chat message. The sender's own connection receives the
// room broadcast too — its client uses that echo as delivery confirmation.
// The store write happens after the broadcast; a failure there is logged
// and the live delivery stands (availability over durability on this path).
func (r *Relay) Send(ctx context.Context, conn *Connection, msg *ChatMessage) (*ChatMessage, error) {
	sender := conn.Identity()
	if sender == nil {
		return nil, ErrUnauthenticated
	}
	if msg == nil || (msg.Content == "" && msg.Attachment == nil) {
		return nil, ErrInvalidPayload
	}
	if msg.ReceiverID == "" {
		return nil, ErrInvalidPayload
	}

	// The socket identity is authoritative for the sender.
	msg.SenderID = sender.UserID

	patientID, doctorID := roomForMessage(*sender, msg.ReceiverID)
	roomID := ChatRoomID(patientID, doctorID)

	r.mu.Lock()
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.Timestamp = r.now()
	msg.Status = StatusSent

	r.rooms.Broadcast(roomID, EventMessageReceived, msg, "")

	if msg.IsEmergency {
		r.rooms.Broadcast(RoleRoomID(RoleDoctor), EventEmergencyAlert, EmergencyPayload{
			PatientID: patientID,
			Message:   msg.Content,
			Timestamp: msg.Timestamp,
		}, "")
	}
	r.mu.Unlock()

	if err := r.store.CreateMessage(ctx, msg); err != nil {
		r.log.Error().Err(err).
			Str("message_id", msg.ID).
			Str("room", roomID).
			Msg("persist message failed after live broadcast")
		return msg, nil
	}

	// The recipient had a live connection at broadcast time, so the live
	// copy was offered to it; record the delivery.
	if r.registry.IsOnline(msg.ReceiverID) {
		if err := r.store.UpdateMessageStatus(ctx, []string{msg.ID}, StatusDelivered); err != nil {
			r.log.Error().Err(err).Str("message_id", msg.ID).Msg("mark delivered failed")
		}
	}

	return msg, nil
}

// MarkRead acknowledges messages as read by the connection's user and tells
// the room so the original sender can update its local status. A message is
// eligible only when it belongs to the named conversation, was not authored
// by the reader, and (for non-admins) was addressed to the reader; naming a
// pair that contains the caller grants no reach into other conversations.
func (r *Relay) MarkRead(ctx context.Context, conn *Connection, messageIDs []string, patientID, doctorID string) error {
	reader := conn.Identity()
	if reader == nil {
		return ErrUnauthenticated
	}
	if len(messageIDs) == 0 {
		return ErrInvalidPayload
	}
	if reader.Role != RoleAdmin && reader.UserID != patientID && reader.UserID != doctorID {
		return ErrForbidden
	}

	msgs, err := r.store.GetMessagesByIDs(ctx, messageIDs)
	if err != nil {
		r.log.Error().Err(err).Msg("load messages for read receipt")
		return err
	}

	readAt := r.now()
	roomID := ChatRoomID(patientID, doctorID)

	var eligible []string
	for _, m := range msgs {
		inPair := (m.SenderID == patientID && m.ReceiverID == doctorID) ||
			(m.SenderID == doctorID && m.ReceiverID == patientID)
		if !inPair {
			continue
		}
		if m.SenderID == reader.UserID {
			continue
		}
		if reader.Role != RoleAdmin && m.ReceiverID != reader.UserID {
			continue
		}
		eligible = append(eligible, m.ID)
		r.rooms.Broadcast(roomID, EventMessageReadConfirmed, ReadConfirmedPayload{
			MessageID: m.ID,
			ReadBy:    reader.UserID,
			ReadAt:    readAt,
		}, "")
	}

	if len(eligible) == 0 {
		return ErrForbidden
	}

	if err := r.store.UpdateMessageStatus(ctx, eligible, StatusRead); err != nil {
		r.log.Error().Err(err).Strs("message_ids", eligible).Msg("persist read status failed")
	}
	return nil
}
