package realtime

import (
	"context"
	"time"
)

// MessageStatus is the delivery state of a chat message. Transitions are
// monotonic: SENT on relay, DELIVERED once the live recipient was reachable,
// READ on explicit acknowledgement. The store rejects backward transitions.
type MessageStatus string

const (
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusRead      MessageStatus = "READ"
)

// Attachment references an uploaded file carried by a message. Upload
// storage itself is an external collaborator; the relay only forwards the
// reference.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// ChatMessage is the wire form of a chat message. The relay stamps ID,
// Timestamp, and Status on receipt; the copy handed to the message store is
// the durable record, while the broadcast copy is the live signal.
type ChatMessage struct {
	ID          string        `json:"id"`
	SenderID    string        `json:"senderId"`
	ReceiverID  string        `json:"receiverId"`
	Content     string        `json:"content"`
	Timestamp   time.Time     `json:"timestamp"`
	IsEmergency bool          `json:"isEmergency"`
	Attachment  *Attachment   `json:"attachment,omitempty"`
	Status      MessageStatus `json:"status"`
}

// MessageStore is the persistence collaborator the relay delegates
// durability to. The live broadcast is never rolled back on store failure.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *ChatMessage) error
	GetMessagesByIDs(ctx context.Context, ids []string) ([]*ChatMessage, error)
	UpdateMessageStatus(ctx context.Context, ids []string, status MessageStatus) error
}
