package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const createMessage = `
INSERT INTO messages (id, sender_id, receiver_id, text, image, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, sender_id, receiver_id, text, image, created_at`

type CreateMessageParams struct {
	ID         pgtype.UUID
	SenderID   pgtype.UUID
	ReceiverID pgtype.UUID
	Text       string
	Image      string
	CreatedAt  pgtype.Timestamptz
}

func (q *Queries) CreateMessage(ctx context.Context, arg CreateMessageParams) (Message, error) {
	var m Message
	err := q.db.QueryRow(ctx, createMessage,
		arg.ID,
		arg.SenderID,
		arg.ReceiverID,
		arg.Text,
		arg.Image,
		arg.CreatedAt,
	).Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Text, &m.Image, &m.CreatedAt)
	return m, err
}

// Both directions of the pair, oldest first.
const listConversation = `
SELECT id, sender_id, receiver_id, text, image, created_at
FROM messages
WHERE (sender_id = $1 AND receiver_id = $2)
   OR (sender_id = $2 AND receiver_id = $1)
ORDER BY created_at ASC, id ASC`

type ListConversationParams struct {
	UserA pgtype.UUID
	UserB pgtype.UUID
}

func (q *Queries) ListConversation(ctx context.Context, arg ListConversationParams) ([]Message, error) {
	rows, err := q.db.Query(ctx, listConversation, arg.UserA, arg.UserB)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Text, &m.Image, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
