package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/courier/internal/domain"
)

// ErrConversationExists is returned by ConversationRepository.Create when the
// canonical participant pair already has a conversation. Callers recover by
// re-querying; the error never reaches a transport.
var ErrConversationExists = errors.New("conversation already exists for this pair")

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	// GetByEmail matches case-insensitively (emails are stored lower-cased).
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	List(ctx context.Context, exclude uuid.UUID) ([]domain.User, error)
}

type ConversationRepository interface {
	// Create inserts a conversation whose pair is already canonical.
	// Returns ErrConversationExists if another writer won the race.
	Create(ctx context.Context, conv *domain.Conversation) error
	// GetByUsers expects the canonical pair order. Returns nil, nil when absent.
	GetByUsers(ctx context.Context, user1ID, user2ID uuid.UUID) (*domain.Conversation, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	// ListByUser returns conversations with peer fields joined, ordered by
	// last message time descending (creation time for empty conversations).
	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error)
	UpdateLastMessage(ctx context.Context, id uuid.UUID, text string, senderID uuid.UUID, at time.Time) error
}

type MessageRepository interface {
	// Create appends the message and assigns msg.Seq, a strictly increasing
	// sequence number. Wall-clock created_at can collide under concurrent
	// appends and never defines order.
	Create(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	// ListByConversation pages backward with an exclusive seq < beforeSeq
	// cursor (beforeSeq <= 0 means the newest page) and returns messages
	// oldest-first.
	ListByConversation(ctx context.Context, conversationID uuid.UUID, beforeSeq int64, limit int) ([]domain.Message, error)
	// MarkRead sets status=read and seen_at only when readerID is the
	// receiver and the status is not already read; otherwise it returns the
	// stored message unchanged. The bool reports whether this call performed
	// the transition. Returns nil, false, nil when the message is absent.
	MarkRead(ctx context.Context, messageID, readerID uuid.UUID, at time.Time) (*domain.Message, bool, error)
	// MarkDelivered advances sent -> delivered and never touches read.
	MarkDelivered(ctx context.Context, messageID uuid.UUID) (*domain.Message, error)
}

// UnreadRepository holds per-conversation, per-user unread counters.
type UnreadRepository interface {
	Increment(ctx context.Context, conversationID, userID uuid.UUID) error
	Reset(ctx context.Context, conversationID, userID uuid.UUID) error
	Get(ctx context.Context, conversationID, userID uuid.UUID) (int64, error)
}
