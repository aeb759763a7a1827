package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/courier/internal/domain"
)

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

func (r *MessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	// seq comes from the bigserial; it is the append order.
	query := `
		INSERT INTO messages (id, conversation_id, sender_id, receiver_id, body, status, type, attachments, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq`
	return r.pool.QueryRow(ctx, query,
		msg.ID, msg.ConversationID, msg.SenderID, msg.ReceiverID,
		msg.Body, msg.Status, msg.Type, msg.Attachments, msg.CreatedAt,
	).Scan(&msg.Seq)
}

func (r *MessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	query := `
		SELECT id, seq, conversation_id, sender_id, receiver_id, body, status, seen_at, type, attachments, created_at
		FROM messages
		WHERE id = $1`
	var msg domain.Message
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&msg.ID, &msg.Seq, &msg.ConversationID, &msg.SenderID, &msg.ReceiverID,
		&msg.Body, &msg.Status, &msg.SeenAt, &msg.Type, &msg.Attachments, &msg.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return &msg, err
}

func (r *MessageRepo) ListByConversation(ctx context.Context, conversationID uuid.UUID, beforeSeq int64, limit int) ([]domain.Message, error) {
	if limit < 1 {
		limit = 1
	} else if limit > 100 {
		limit = 100
	}

	var query string
	var args []any

	// Ordering and the cursor are on seq: created_at can collide under
	// concurrent inserts, and an exclusive timestamp cursor would then skip
	// one of the colliding messages at a page boundary.
	if beforeSeq > 0 {
		query = fmt.Sprintf(`
			SELECT id, seq, conversation_id, sender_id, receiver_id, body, status, seen_at, type, attachments, created_at
			FROM messages
			WHERE conversation_id = $1 AND seq < $2
			ORDER BY seq DESC
			LIMIT %d`, limit)
		args = []any{conversationID, beforeSeq}
	} else {
		query = fmt.Sprintf(`
			SELECT id, seq, conversation_id, sender_id, receiver_id, body, status, seen_at, type, attachments, created_at
			FROM messages
			WHERE conversation_id = $1
			ORDER BY seq DESC
			LIMIT %d`, limit)
		args = []any{conversationID}
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(
			&msg.ID, &msg.Seq, &msg.ConversationID, &msg.SenderID, &msg.ReceiverID,
			&msg.Body, &msg.Status, &msg.SeenAt, &msg.Type, &msg.Attachments, &msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	// Reverse to chronological order (query returns DESC)
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, rows.Err()
}

func (r *MessageRepo) MarkRead(ctx context.Context, messageID, readerID uuid.UUID, at time.Time) (*domain.Message, bool, error) {
	// Conditional update keeps the transition monotone; a reader who is not
	// the receiver simply matches zero rows and gets the unchanged message.
	query := `
		UPDATE messages
		SET status = 'read', seen_at = $2
		WHERE id = $1 AND receiver_id = $3 AND status <> 'read'`
	tag, err := r.pool.Exec(ctx, query, messageID, at, readerID)
	if err != nil {
		return nil, false, err
	}
	msg, err := r.GetByID(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	return msg, tag.RowsAffected() > 0, nil
}

func (r *MessageRepo) MarkDelivered(ctx context.Context, messageID uuid.UUID) (*domain.Message, error) {
	query := `
		UPDATE messages
		SET status = 'delivered'
		WHERE id = $1 AND status = 'sent'`
	if _, err := r.pool.Exec(ctx, query, messageID); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, messageID)
}
