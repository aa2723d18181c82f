package chat

import (
	"context"
	"fmt"
	"time"
)

// Service applies chat persistence rules on top of the repository: input
// validation, status defaults, and forward-only status transitions.
type Service struct {
	messages MessageRepository
}

func NewService(messages MessageRepository) *Service {
	return &Service{messages: messages}
}

// RecordMessage stores a relayed message. A message needs a sender, a
// receiver, and either text content or an attachment.
func (s *Service) RecordMessage(ctx context.Context, m *Message) error {
	if m.SenderID == "" {
		return fmt.Errorf("sender_id is required")
	}
	if m.ReceiverID == "" {
		return fmt.Errorf("receiver_id is required")
	}
	if m.Content == "" && m.AttachmentURL == nil {
		return fmt.Errorf("content or attachment is required")
	}
	if m.Status == "" {
		m.Status = StatusSent
	}
	if !m.Status.Valid() {
		return fmt.Errorf("invalid status: %s", m.Status)
	}
	if m.SentAt.IsZero() {
		m.SentAt = time.Now().UTC()
	}
	return s.messages.Create(ctx, m)
}

// GetMessage returns a single stored message.
func (s *Service) GetMessage(ctx context.Context, id string) (*Message, error) {
	return s.messages.GetByID(ctx, id)
}

// GetMessages returns the stored messages for the given ids. IDs with no
// stored message are skipped, not errors.
func (s *Service) GetMessages(ctx context.Context, ids []string) ([]*Message, error) {
	return s.messages.GetByIDs(ctx, ids)
}

// AdvanceStatus moves messages forward to the given status. Messages
// already at or past the target keep their current status and are not
// written at all; the repository applies the same forward-only guard under
// concurrent advances.
func (s *Service) AdvanceStatus(ctx context.Context, ids []string, to Status) error {
	if !to.Valid() {
		return fmt.Errorf("invalid status: %s", to)
	}

	msgs, err := s.messages.GetByIDs(ctx, ids)
	if err != nil {
		return err
	}
	eligible := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if CanAdvance(m.Status, to) {
			eligible = append(eligible, m.ID)
		}
	}
	if len(eligible) == 0 {
		return nil
	}
	return s.messages.UpdateStatus(ctx, eligible, to)
}

// History returns the conversation between a patient and a doctor, newest
// first.
func (s *Service) History(ctx context.Context, patientID, doctorID string, limit, offset int) ([]*Message, int, error) {
	if patientID == "" || doctorID == "" {
		return nil, 0, fmt.Errorf("patient and doctor ids are required")
	}
	return s.messages.ListByPair(ctx, patientID, doctorID, limit, offset)
}

// UnreadCount returns how many messages addressed to the user have not
// been read yet.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("user id is required")
	}
	return s.messages.CountUnread(ctx, userID)
}
