package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type UnreadRepo struct {
	mu       sync.Mutex
	counters map[string]int64
}

func NewUnreadRepo() *UnreadRepo {
	return &UnreadRepo{counters: make(map[string]int64)}
}

func unreadKey(conversationID, userID uuid.UUID) string {
	return conversationID.String() + ":" + userID.String()
}

func (r *UnreadRepo) Increment(ctx context.Context, conversationID, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[unreadKey(conversationID, userID)]++
	return nil
}

func (r *UnreadRepo) Reset(ctx context.Context, conversationID, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[unreadKey(conversationID, userID)] = 0
	return nil
}

func (r *UnreadRepo) Get(ctx context.Context, conversationID, userID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[unreadKey(conversationID, userID)], nil
}
