package realtime

import (
	"encoding/json"
	"time"
)

// Event names exchanged over the socket. Client-to-server events are handled
// by the Handler's dispatch loop; server-to-client events are produced by
// the relay, presence broadcaster, and typing tracker.
const (
	EventAuthenticate  = "authenticate"
	EventAuthenticated = "authenticated"

	EventJoinChat  = "join:chat"
	EventLeaveChat = "leave:chat"

	EventMessageSend          = "message:send"
	EventMessageReceived      = "message:received"
	EventMessageRead          = "message:read"
	EventMessageReadConfirmed = "message:read:confirmed"

	EventTypingStart   = "typing:start"
	EventTypingStop    = "typing:stop"
	EventTypingStarted = "typing:started"
	EventTypingStopped = "typing:stopped"

	EventUserOnline  = "user:online"
	EventUserOffline = "user:offline"

	EventEmergencyAlert = "emergency:alert"

	EventError = "error"
)

// Envelope is the wire frame for every socket event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an Envelope ready for transmission.
func NewEnvelope(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// AuthenticatePayload is the client's authentication request. Either a
// session token or a trusted identity triple is supplied; the surrounding
// application's identity collaborator is responsible for its correctness.
type AuthenticatePayload struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
	Email  string `json:"email"`
	Token  string `json:"token,omitempty"`
}

// AuthenticatedPayload is the server's reply to an authenticate request.
type AuthenticatedPayload struct {
	Success bool   `json:"success"`
	UserID  string `json:"userId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ChatRoomPayload identifies the (patient, doctor) conversation for
// join/leave, read receipts, and typing events.
type ChatRoomPayload struct {
	PatientID string `json:"patientId"`
	DoctorID  string `json:"doctorId"`
}

// ReadPayload is the client's read acknowledgement for delivered messages.
type ReadPayload struct {
	MessageIDs []string `json:"messageIds"`
	PatientID  string   `json:"patientId"`
	DoctorID   string   `json:"doctorId"`
}

// ReadConfirmedPayload propagates a read receipt to the message's room.
type ReadConfirmedPayload struct {
	MessageID string    `json:"messageId"`
	ReadBy    string    `json:"readBy"`
	ReadAt    time.Time `json:"readAt"`
}

// TypingStartedPayload tells room peers that a user began typing.
type TypingStartedPayload struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
}

// TypingStoppedPayload tells room peers that a user stopped typing.
type TypingStoppedPayload struct {
	UserID string `json:"userId"`
}

// PresencePayload announces an online/offline transition to every
// connection. Clients treat these as idempotent state-setters.
type PresencePayload struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

// EmergencyPayload is fanned out to the doctor role room when a message is
// flagged as an emergency, independent of per-room delivery.
type EmergencyPayload struct {
	PatientID string    `json:"patientId"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorPayload is sent to a connection whose request was rejected. The
// connection stays open.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
