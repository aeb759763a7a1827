package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/courier/internal/domain"
	"github.com/vedran77/courier/internal/repository"
)

type ConversationRepo struct {
	users *UserRepo

	mu     sync.RWMutex
	byID   map[uuid.UUID]domain.Conversation
	byPair map[string]uuid.UUID
}

func NewConversationRepo(users *UserRepo) *ConversationRepo {
	return &ConversationRepo{
		users:  users,
		byID:   make(map[uuid.UUID]domain.Conversation),
		byPair: make(map[string]uuid.UUID),
	}
}

func pairKey(user1ID, user2ID uuid.UUID) string {
	return user1ID.String() + ":" + user2ID.String()
}

func (r *ConversationRepo) Create(ctx context.Context, conv *domain.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := pairKey(conv.User1ID, conv.User2ID)
	if _, exists := r.byPair[key]; exists {
		return repository.ErrConversationExists
	}
	r.byPair[key] = conv.ID
	r.byID[conv.ID] = *conv
	return nil
}

func (r *ConversationRepo) GetByUsers(ctx context.Context, user1ID, user2ID uuid.UUID) (*domain.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPair[pairKey(user1ID, user2ID)]
	if !ok {
		return nil, nil
	}
	conv := r.byID[id]
	return &conv, nil
}

func (r *ConversationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return &conv, nil
}

func (r *ConversationRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	r.mu.RLock()
	var convs []domain.Conversation
	for _, conv := range r.byID {
		if !conv.HasParticipant(userID) {
			continue
		}
		convs = append(convs, conv)
	}
	r.mu.RUnlock()

	for i := range convs {
		peerID := convs[i].PeerOf(userID)
		convs[i].PeerID = peerID
		if peer, _ := r.users.GetByID(ctx, peerID); peer != nil {
			convs[i].PeerName = peer.Name
			convs[i].PeerEmail = peer.Email
		}
	}

	sort.Slice(convs, func(i, j int) bool {
		return lastActivity(convs[i]).After(lastActivity(convs[j]))
	})
	return convs, nil
}

func lastActivity(c domain.Conversation) time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

func (r *ConversationRepo) UpdateLastMessage(ctx context.Context, id uuid.UUID, text string, senderID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.byID[id]
	if !ok {
		return nil
	}
	conv.LastMessageText = text
	conv.LastMessageSenderID = &senderID
	conv.LastMessageAt = &at
	r.byID[id] = conv
	return nil
}
