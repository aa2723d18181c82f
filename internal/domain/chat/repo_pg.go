package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type messageRepoPG struct{ pool *pgxpool.Pool }

// NewMessageRepoPG creates a Postgres-backed message repository.
func NewMessageRepoPG(pool *pgxpool.Pool) MessageRepository {
	return &messageRepoPG{pool: pool}
}

const messageCols = `id, sender_id, receiver_id, content, attachment_url, attachment_name,
	is_emergency, status, sent_at, read_at, created_at`

func (r *messageRepoPG) scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content,
		&m.AttachmentURL, &m.AttachmentName, &m.IsEmergency, &m.Status,
		&m.SentAt, &m.ReadAt, &m.CreatedAt)
	return &m, err
}

func (r *messageRepoPG) Create(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO chat_message (id, sender_id, receiver_id, content,
			attachment_url, attachment_name, is_emergency, status, sent_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		m.ID, m.SenderID, m.ReceiverID, m.Content,
		m.AttachmentURL, m.AttachmentName, m.IsEmergency, m.Status, m.SentAt)
	return err
}

func (r *messageRepoPG) GetByID(ctx context.Context, id string) (*Message, error) {
	return r.scanMessage(r.pool.QueryRow(ctx,
		`SELECT `+messageCols+` FROM chat_message WHERE id = $1`, id))
}

func (r *messageRepoPG) GetByIDs(ctx context.Context, ids []string) ([]*Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageCols+` FROM chat_message WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Message
	for rows.Next() {
		m, err := r.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

// UpdateStatus advances messages to the given status. The WHERE clause
// enforces the forward-only ordering at the database, so a racing DELIVERED
// can never undo a READ.
func (r *messageRepoPG) UpdateStatus(ctx context.Context, ids []string, status Status) error {
	if len(ids) == 0 {
		return nil
	}
	rank, ok := statusRank[status]
	if !ok {
		return fmt.Errorf("unknown status: %s", status)
	}

	_, err := r.pool.Exec(ctx, `
		UPDATE chat_message
		SET status = $2,
			read_at = CASE WHEN $2 = 'READ' THEN NOW() ELSE read_at END
		WHERE id = ANY($1)
		  AND CASE status WHEN 'SENT' THEN 1 WHEN 'DELIVERED' THEN 2 ELSE 3 END < $3`,
		ids, status, rank)
	return err
}

func (r *messageRepoPG) ListByPair(ctx context.Context, patientID, doctorID string, limit, offset int) ([]*Message, int, error) {
	const pairFilter = `(sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)`

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM chat_message WHERE `+pairFilter, patientID, doctorID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+messageCols+` FROM chat_message
		WHERE `+pairFilter+`
		ORDER BY sent_at DESC
		LIMIT $3 OFFSET $4`,
		patientID, doctorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Message
	for rows.Next() {
		m, err := r.scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

func (r *messageRepoPG) CountUnread(ctx context.Context, receiverID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM chat_message
		WHERE receiver_id = $1 AND status <> 'READ'`, receiverID).Scan(&count)
	return count, err
}
