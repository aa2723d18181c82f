package chat

import (
	"context"

	"github.com/docplus/portal/internal/realtime"
)

// Store adapts the chat service to the realtime relay's persistence
// interface, translating between the wire form and the durable record.
type Store struct {
	svc *Service
}

func NewStore(svc *Service) *Store {
	return &Store{svc: svc}
}

var _ realtime.MessageStore = (*Store)(nil)

func (s *Store) CreateMessage(ctx context.Context, m *realtime.ChatMessage) error {
	return s.svc.RecordMessage(ctx, fromWire(m))
}

func (s *Store) GetMessagesByIDs(ctx context.Context, ids []string) ([]*realtime.ChatMessage, error) {
	stored, err := s.svc.GetMessages(ctx, ids)
	if err != nil {
		return nil, err
	}
	wire := make([]*realtime.ChatMessage, 0, len(stored))
	for _, m := range stored {
		wire = append(wire, toWire(m))
	}
	return wire, nil
}

func (s *Store) UpdateMessageStatus(ctx context.Context, ids []string, status realtime.MessageStatus) error {
	return s.svc.AdvanceStatus(ctx, ids, Status(status))
}

func fromWire(m *realtime.ChatMessage) *Message {
	stored := &Message{
		ID:          m.ID,
		SenderID:    m.SenderID,
		ReceiverID:  m.ReceiverID,
		Content:     m.Content,
		IsEmergency: m.IsEmergency,
		Status:      Status(m.Status),
		SentAt:      m.Timestamp,
	}
	if m.Attachment != nil {
		url, name := m.Attachment.URL, m.Attachment.Name
		stored.AttachmentURL = &url
		stored.AttachmentName = &name
	}
	return stored
}

func toWire(m *Message) *realtime.ChatMessage {
	wire := &realtime.ChatMessage{
		ID:          m.ID,
		SenderID:    m.SenderID,
		ReceiverID:  m.ReceiverID,
		Content:     m.Content,
		Timestamp:   m.SentAt,
		IsEmergency: m.IsEmergency,
		Status:      realtime.MessageStatus(m.Status),
	}
	if m.AttachmentURL != nil {
		wire.Attachment = &realtime.Attachment{URL: *m.AttachmentURL}
		if m.AttachmentName != nil {
			wire.Attachment.Name = *m.AttachmentName
		}
	}
	return wire
}
