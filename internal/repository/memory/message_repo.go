package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/courier/internal/domain"
)

type MessageRepo struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]domain.Message
	byConv  map[uuid.UUID][]uuid.UUID
	nextSeq int64
}

func NewMessageRepo() *MessageRepo {
	return &MessageRepo{
		byID:   make(map[uuid.UUID]domain.Message),
		byConv: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (r *MessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSeq++
	msg.Seq = r.nextSeq
	r.byID[msg.ID] = *msg
	r.byConv[msg.ConversationID] = append(r.byConv[msg.ConversationID], msg.ID)
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	msg, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return &msg, nil
}

func (r *MessageRepo) ListByConversation(ctx context.Context, conversationID uuid.UUID, beforeSeq int64, limit int) ([]domain.Message, error) {
	if limit < 1 {
		limit = 1
	} else if limit > 100 {
		limit = 100
	}

	r.mu.RLock()
	var messages []domain.Message
	for _, id := range r.byConv[conversationID] {
		msg := r.byID[id]
		if beforeSeq > 0 && msg.Seq >= beforeSeq {
			continue
		}
		messages = append(messages, msg)
	}
	r.mu.RUnlock()

	// Newest first by seq, trim to limit, then back to chronological order.
	// created_at is not consulted: equal timestamps are legal.
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].Seq > messages[j].Seq
	})
	if len(messages) > limit {
		messages = messages[:limit]
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *MessageRepo) MarkRead(ctx context.Context, messageID, readerID uuid.UUID, at time.Time) (*domain.Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.byID[messageID]
	if !ok {
		return nil, false, nil
	}
	changed := false
	if msg.ReceiverID == readerID && msg.Status.Rank() < domain.StatusRead.Rank() {
		msg.Status = domain.StatusRead
		seen := at
		msg.SeenAt = &seen
		r.byID[messageID] = msg
		changed = true
	}
	return &msg, changed, nil
}

func (r *MessageRepo) MarkDelivered(ctx context.Context, messageID uuid.UUID) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.byID[messageID]
	if !ok {
		return nil, nil
	}
	if msg.Status == domain.StatusSent {
		msg.Status = domain.StatusDelivered
		r.byID[messageID] = msg
	}
	return &msg, nil
}
