package service

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/vedran77/courier/internal/domain"
	"github.com/vedran77/courier/internal/presence"
	"github.com/vedran77/courier/internal/repository"
	"golang.org/x/sync/singleflight"
)

const MaxBodyLen = 2000

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrPeerNotFound         = errors.New("peer not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrCannotMessageSelf    = errors.New("cannot send a message to yourself")
	ErrEmptyMessage         = errors.New("message body is empty and has no attachments")
	ErrMessageTooLong       = errors.New("message body exceeds 2000 characters")
	ErrInvalidMessageType   = errors.New("invalid message type")
)

// EventRouter pushes real-time events to connected sessions.
// Implemented by delivery.Router; faked in tests.
type EventRouter interface {
	MessageNew(msg *domain.Message)
	ThreadUpdate(conversationID, senderID, receiverID uuid.UUID)
	Typing(fromID, toID uuid.UUID, starting bool)
	MessageRead(msg *domain.Message)
}

// ChatService is the coordination core: it owns the send pipeline and is the
// single place invariants like "no self-messages" are checked, regardless of
// which transport the request came in on.
type ChatService struct {
	userRepo repository.UserRepository
	convRepo repository.ConversationRepository
	msgRepo  repository.MessageRepository
	unread   repository.UnreadRepository
	registry *presence.Registry
	router   EventRouter

	// pairFlight collapses in-process get-or-create racers for the same pair;
	// the store's uniqueness constraint covers everything else.
	pairFlight singleflight.Group
}

func NewChatService(
	userRepo repository.UserRepository,
	convRepo repository.ConversationRepository,
	msgRepo repository.MessageRepository,
	unread repository.UnreadRepository,
	registry *presence.Registry,
	router EventRouter,
) *ChatService {
	return &ChatService{
		userRepo: userRepo,
		convRepo: convRepo,
		msgRepo:  msgRepo,
		unread:   unread,
		registry: registry,
		router:   router,
	}
}

type SendMessageInput struct {
	ToID        *uuid.UUID          `json:"to_id,omitempty"`
	ToEmail     string              `json:"to_email,omitempty"`
	Body        string              `json:"body"`
	Type        domain.MessageType  `json:"type,omitempty"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
}

type SendResult struct {
	Message        *domain.Message `json:"message"`
	ConversationID uuid.UUID       `json:"conversation_id"`
}

// SendMessage runs the full pipeline: resolve peer, get-or-create the
// conversation, append the message, update the thread snapshot and unread
// counter, then fan out live events. The message is durable after the append;
// later steps are never retried so a send can not be silently duplicated.
func (s *ChatService) SendMessage(ctx context.Context, senderID uuid.UUID, input SendMessageInput) (*SendResult, error) {
	sender, err := s.userRepo.GetByID(ctx, senderID)
	if err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, ErrUserNotFound
	}

	receiver, err := s.resolvePeer(ctx, input.ToID, input.ToEmail)
	if err != nil {
		return nil, err
	}
	if receiver.ID == senderID {
		return nil, ErrCannotMessageSelf
	}

	msgType := input.Type
	if msgType == "" {
		msgType = domain.TypeText
	}
	if !msgType.Valid() {
		return nil, ErrInvalidMessageType
	}
	if input.Body == "" && len(input.Attachments) == 0 {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(input.Body) > MaxBodyLen {
		return nil, ErrMessageTooLong
	}

	conv, err := s.getOrCreateConversation(ctx, senderID, receiver.ID)
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		ReceiverID:     receiver.ID,
		Body:           input.Body,
		Status:         domain.StatusSent,
		Type:           msgType,
		Attachments:    input.Attachments,
		CreatedAt:      time.Now(),
	}
	if err := s.msgRepo.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}

	// Denormalized snapshot and unread counter are updated outside any
	// transaction; a miss here leaves a recomputable gap, never a lost message.
	if err := s.convRepo.UpdateLastMessage(ctx, conv.ID, msg.Preview(), senderID, msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("updating last message: %w", err)
	}
	if err := s.unread.Increment(ctx, conv.ID, receiver.ID); err != nil {
		return nil, fmt.Errorf("incrementing unread: %w", err)
	}

	s.router.MessageNew(msg)
	s.router.ThreadUpdate(conv.ID, senderID, receiver.ID)

	return &SendResult{Message: msg, ConversationID: conv.ID}, nil
}

// getOrCreateConversation is safe under unbounded concurrent callers for the
// same pair: the loser of an insert race re-queries and returns the winner's
// record.
func (s *ChatService) getOrCreateConversation(ctx context.Context, a, b uuid.UUID) (*domain.Conversation, error) {
	u1, u2 := domain.CanonicalPair(a, b)
	key := u1.String() + ":" + u2.String()

	v, err, _ := s.pairFlight.Do(key, func() (any, error) {
		// Collapsed callers share this one execution; detach it from the
		// first caller's cancellation so one canceled request does not fail
		// everyone who piled onto the flight.
		fctx := context.WithoutCancel(ctx)

		conv, err := s.convRepo.GetByUsers(fctx, u1, u2)
		if err != nil {
			return nil, err
		}
		if conv != nil {
			return conv, nil
		}

		conv = &domain.Conversation{
			ID:        uuid.New(),
			User1ID:   u1,
			User2ID:   u2,
			CreatedAt: time.Now(),
		}
		err = s.convRepo.Create(fctx, conv)
		if errors.Is(err, repository.ErrConversationExists) {
			existing, gerr := s.convRepo.GetByUsers(fctx, u1, u2)
			if gerr != nil {
				return nil, gerr
			}
			if existing == nil {
				return nil, fmt.Errorf("conversation conflict for pair %s but winner not found", key)
			}
			return existing, nil
		}
		if err != nil {
			return nil, fmt.Errorf("creating conversation: %w", err)
		}
		return conv, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Conversation), nil
}

// GetThreads returns the user's conversation list, newest activity first,
// with unread counters attached.
func (s *ChatService) GetThreads(ctx context.Context, userID uuid.UUID) ([]domain.Thread, error) {
	convs, err := s.convRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	threads := make([]domain.Thread, 0, len(convs))
	for _, conv := range convs {
		count, err := s.unread.Get(ctx, conv.ID, userID)
		if err != nil {
			return nil, fmt.Errorf("reading unread count: %w", err)
		}
		threads = append(threads, domain.Thread{
			ConversationID:  conv.ID,
			PeerID:          conv.PeerID,
			PeerName:        conv.PeerName,
			PeerEmail:       conv.PeerEmail,
			LastMessageText: conv.LastMessageText,
			LastAt:          conv.LastMessageAt,
			UnreadCount:     count,
		})
	}
	return threads, nil
}

// MessagesTarget identifies a conversation either directly or by peer.
type MessagesTarget struct {
	ConversationID *uuid.UUID
	PeerID         *uuid.UUID
	PeerEmail      string
}

type MessageHistory struct {
	Peer           *domain.User     `json:"peer"`
	ConversationID uuid.UUID        `json:"conversation_id"`
	Messages       []domain.Message `json:"messages"`
}

// GetMessages returns a page of history and, as a side effect, zeroes the
// caller's unread counter for the conversation (viewing implies reading, not
// a read receipt).
func (s *ChatService) GetMessages(ctx context.Context, userID uuid.UUID, target MessagesTarget, limit int, beforeSeq int64) (*MessageHistory, error) {
	var conv *domain.Conversation
	var err error

	switch {
	case target.ConversationID != nil:
		conv, err = s.convRepo.GetByID(ctx, *target.ConversationID)
		if err != nil {
			return nil, err
		}
		// A non-participant is told "not found" so existence does not leak.
		if conv == nil || !conv.HasParticipant(userID) {
			return nil, ErrConversationNotFound
		}
	default:
		peer, perr := s.resolvePeer(ctx, target.PeerID, target.PeerEmail)
		if perr != nil {
			return nil, perr
		}
		if peer.ID == userID {
			return nil, ErrCannotMessageSelf
		}
		// Opening a chat screen starts the conversation lazily.
		conv, err = s.getOrCreateConversation(ctx, userID, peer.ID)
		if err != nil {
			return nil, err
		}
	}

	messages, err := s.msgRepo.ListByConversation(ctx, conv.ID, beforeSeq, limit)
	if err != nil {
		return nil, err
	}

	if err := s.unread.Reset(ctx, conv.ID, userID); err != nil {
		return nil, fmt.Errorf("resetting unread: %w", err)
	}

	peer, err := s.userRepo.GetByID(ctx, conv.PeerOf(userID))
	if err != nil {
		return nil, err
	}

	return &MessageHistory{
		Peer:           peer,
		ConversationID: conv.ID,
		Messages:       messages,
	}, nil
}

// MarkRead advances a message to read and notifies the sender's live session.
// Calling it as someone other than the receiver is a silent no-op: it can
// legitimately race another client's view.
func (s *ChatService) MarkRead(ctx context.Context, messageID, readerID uuid.UUID) (*domain.Message, error) {
	msg, changed, err := s.msgRepo.MarkRead(ctx, messageID, readerID, time.Now())
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrMessageNotFound
	}
	// Notify only on the actual transition: a repeated call must not re-emit.
	if changed {
		s.router.MessageRead(msg)
	}
	return msg, nil
}

// MarkDelivered records a live-push acknowledgment (sent -> delivered).
func (s *ChatService) MarkDelivered(ctx context.Context, messageID uuid.UUID) (*domain.Message, error) {
	msg, err := s.msgRepo.MarkDelivered(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrMessageNotFound
	}
	return msg, nil
}

// SendTyping routes a typing indicator to the peer. No persistence, no error
// when the peer is offline.
func (s *ChatService) SendTyping(fromID, toID uuid.UUID, starting bool) {
	s.router.Typing(fromID, toID, starting)
}

// ListUsers backs the contacts screen.
func (s *ChatService) ListUsers(ctx context.Context, exclude uuid.UUID) ([]domain.User, error) {
	return s.userRepo.List(ctx, exclude)
}

// RegisterSession wires a connected transport session into event routing.
func (s *ChatService) RegisterSession(userID uuid.UUID, route presence.Route) {
	s.registry.Register(userID, route)
}

// UnregisterSession removes the session only if it is still the active one.
func (s *ChatService) UnregisterSession(userID uuid.UUID, route presence.Route) {
	s.registry.Unregister(userID, route)
}

// OnlineUsers answers online/offline queries from the presence registry.
func (s *ChatService) OnlineUsers() []uuid.UUID {
	entries := s.registry.List()
	ids := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.UserID)
	}
	return ids
}

func (s *ChatService) resolvePeer(ctx context.Context, id *uuid.UUID, email string) (*domain.User, error) {
	if id != nil {
		peer, err := s.userRepo.GetByID(ctx, *id)
		if err != nil {
			return nil, err
		}
		if peer == nil {
			return nil, ErrPeerNotFound
		}
		return peer, nil
	}
	if email != "" {
		peer, err := s.userRepo.GetByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if peer == nil {
			return nil, ErrPeerNotFound
		}
		return peer, nil
	}
	return nil, ErrPeerNotFound
}
