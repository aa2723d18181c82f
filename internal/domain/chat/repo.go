package chat

import "context"

// MessageRepository persists chat messages.
type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id string) (*Message, error)
	GetByIDs(ctx context.Context, ids []string) ([]*Message, error)
	UpdateStatus(ctx context.Context, ids []string, status Status) error
	ListByPair(ctx context.Context, patientID, doctorID string, limit, offset int) ([]*Message, int, error)
	CountUnread(ctx context.Context, receiverID string) (int, error)
}
