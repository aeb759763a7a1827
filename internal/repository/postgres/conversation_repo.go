package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/courier/internal/domain"
	"github.com/vedran77/courier/internal/repository"
)

const pgUniqueViolation = "23505"

type ConversationRepo struct {
	pool *pgxpool.Pool
}

func NewConversationRepo(pool *pgxpool.Pool) *ConversationRepo {
	return &ConversationRepo{pool: pool}
}

func (r *ConversationRepo) Create(ctx context.Context, conv *domain.Conversation) error {
	query := `
		INSERT INTO conversations (id, user1_id, user2_id, created_at)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, conv.ID, conv.User1ID, conv.User2ID, conv.CreatedAt)

	// The unique index on (user1_id, user2_id) is what actually upholds
	// one-conversation-per-pair under concurrent writers.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return repository.ErrConversationExists
	}
	return err
}

func (r *ConversationRepo) GetByUsers(ctx context.Context, user1ID, user2ID uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT id, user1_id, user2_id, last_message_text, last_message_sender_id, last_message_at, created_at
		FROM conversations
		WHERE user1_id = $1 AND user2_id = $2`
	return r.scanConversation(ctx, query, user1ID, user2ID)
}

func (r *ConversationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT id, user1_id, user2_id, last_message_text, last_message_sender_id, last_message_at, created_at
		FROM conversations
		WHERE id = $1`
	return r.scanConversation(ctx, query, id)
}

func (r *ConversationRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	query := `
		SELECT c.id, c.user1_id, c.user2_id, c.last_message_text, c.last_message_sender_id, c.last_message_at, c.created_at,
			CASE WHEN c.user1_id = $1 THEN c.user2_id ELSE c.user1_id END AS peer_id,
			CASE WHEN c.user1_id = $1 THEN u2.name ELSE u1.name END AS peer_name,
			CASE WHEN c.user1_id = $1 THEN u2.email ELSE u1.email END AS peer_email
		FROM conversations c
		JOIN users u1 ON c.user1_id = u1.id
		JOIN users u2 ON c.user2_id = u2.id
		WHERE c.user1_id = $1 OR c.user2_id = $1
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		var conv domain.Conversation
		var text *string
		if err := rows.Scan(
			&conv.ID, &conv.User1ID, &conv.User2ID,
			&text, &conv.LastMessageSenderID, &conv.LastMessageAt, &conv.CreatedAt,
			&conv.PeerID, &conv.PeerName, &conv.PeerEmail,
		); err != nil {
			return nil, err
		}
		if text != nil {
			conv.LastMessageText = *text
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

func (r *ConversationRepo) UpdateLastMessage(ctx context.Context, id uuid.UUID, text string, senderID uuid.UUID, at time.Time) error {
	query := `
		UPDATE conversations
		SET last_message_text = $1, last_message_sender_id = $2, last_message_at = $3
		WHERE id = $4`
	_, err := r.pool.Exec(ctx, query, text, senderID, at, id)
	return err
}

func (r *ConversationRepo) scanConversation(ctx context.Context, query string, args ...any) (*domain.Conversation, error) {
	var conv domain.Conversation
	var text *string
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&conv.ID, &conv.User1ID, &conv.User2ID,
		&text, &conv.LastMessageSenderID, &conv.LastMessageAt, &conv.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if text != nil {
		conv.LastMessageText = *text
	}
	return &conv, err
}
