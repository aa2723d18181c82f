package chat

import (
	"time"
)

// Status is the delivery state of a stored message. The ordering is
// monotonic; a message never moves backward.
type Status string

const (
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusRead      Status = "READ"
)

var statusRank = map[Status]int{
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Valid reports whether s is a known delivery status.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanAdvance reports whether a message may move from one status to
// another. Only strictly forward transitions are allowed.
func CanAdvance(from, to Status) bool {
	return statusRank[to] > statusRank[from]
}

// Message is the durable record of a chat message between a patient and a
// doctor.
type Message struct {
	ID             string     `db:"id" json:"id"`
	SenderID       string     `db:"sender_id" json:"sender_id"`
	ReceiverID     string     `db:"receiver_id" json:"receiver_id"`
	Content        string     `db:"content" json:"content"`
	AttachmentURL  *string    `db:"attachment_url" json:"attachment_url,omitempty"`
	AttachmentName *string    `db:"attachment_name" json:"attachment_name,omitempty"`
	IsEmergency    bool       `db:"is_emergency" json:"is_emergency"`
	Status         Status     `db:"status" json:"status"`
	SentAt         time.Time  `db:"sent_at" json:"sent_at"`
	ReadAt         *time.Time `db:"read_at" json:"read_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}
