package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/courier/internal/delivery"
	"github.com/vedran77/courier/internal/domain"
	"github.com/vedran77/courier/internal/presence"
	"github.com/vedran77/courier/internal/repository"
	"github.com/vedran77/courier/internal/repository/memory"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// fakeRoute records every event delivered to one user's session.
type fakeRoute struct {
	mu     sync.Mutex
	events []delivery.Event
}

func (r *fakeRoute) Deliver(data []byte) bool {
	var e delivery.Event
	if err := json.Unmarshal(data, &e); err != nil {
		return false
	}
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return true
}

func (r *fakeRoute) byType(t string) []delivery.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []delivery.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	svc      *ChatService
	users    *memory.UserRepo
	convs    *memory.ConversationRepo
	msgs     *memory.MessageRepo
	unread   *memory.UnreadRepo
	registry *presence.Registry

	alice, bob domain.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	users := memory.NewUserRepo()
	convs := memory.NewConversationRepo(users)
	msgs := memory.NewMessageRepo()
	unread := memory.NewUnreadRepo()
	registry := presence.NewRegistry()
	router := delivery.NewRouter(registry, zap.NewNop().Sugar())

	env := &testEnv{
		svc:      NewChatService(users, convs, msgs, unread, registry, router),
		users:    users,
		convs:    convs,
		msgs:     msgs,
		unread:   unread,
		registry: registry,
		alice:    domain.User{ID: uuid.New(), Email: "alice@example.com", Name: "Alice"},
		bob:      domain.User{ID: uuid.New(), Email: "bob@example.com", Name: "Bob"},
	}

	ctx := context.Background()
	require.NoError(t, users.Create(ctx, &env.alice))
	require.NoError(t, users.Create(ctx, &env.bob))
	return env
}

func (e *testEnv) connect(userID uuid.UUID) *fakeRoute {
	route := &fakeRoute{}
	e.svc.RegisterSession(userID, route)
	return route
}

func TestSendMessage_FirstContact(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	aliceRoute := env.connect(env.alice.ID)
	bobRoute := env.connect(env.bob.ID)

	res, err := env.svc.SendMessage(ctx, env.alice.ID, SendMessageInput{
		ToID: &env.bob.ID,
		Body: "hello",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Message)

	// Exactly one conversation, participants in canonical order.
	u1, u2 := domain.CanonicalPair(env.alice.ID, env.bob.ID)
	conv, err := env.convs.GetByUsers(ctx, u1, u2)
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, res.ConversationID, conv.ID)
	assert.True(t, conv.User1ID.String() < conv.User2ID.String())

	assert.Equal(t, "hello", res.Message.Body)
	assert.Equal(t, domain.StatusSent, res.Message.Status)
	assert.Equal(t, env.alice.ID, res.Message.SenderID)
	assert.Equal(t, env.bob.ID, res.Message.ReceiverID)

	// Receiver's unread is 1, sender's stays 0.
	n, err := env.unread.Get(ctx, conv.ID, env.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = env.unread.Get(ctx, conv.ID, env.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// Denormalized snapshot.
	assert.Equal(t, "hello", conv.LastMessageText)
	require.NotNil(t, conv.LastMessageAt)

	// Live push reached both sessions.
	assert.Len(t, aliceRoute.byType(delivery.EventMessageNew), 1)
	assert.Len(t, bobRoute.byType(delivery.EventMessageNew), 1)
	assert.Len(t, aliceRoute.byType(delivery.EventThreadUpdate), 1)
	assert.Len(t, bobRoute.byType(delivery.EventThreadUpdate), 1)
}

func TestSendMessage_OfflineReceiverStillPersists(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Nobody is connected; send must still succeed.
	res, err := env.svc.SendMessage(ctx, env.alice.ID, SendMessageInput{ToID: &env.bob.ID, Body: "hi"})
	require.NoError(t, err)

	msg, err := env.msgs.GetByID(ctx, res.Message.ID)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, domain.StatusSent, msg.Status)
}

func TestSendMessage_SelfRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.SendMessage(ctx, env.alice.ID, SendMessageInput{ToID: &env.alice.ID, Body: "me"})
	assert.ErrorIs(t, err, ErrCannotMessageSelf)

	// No conversation or message was created.
	threads, err := env.svc.GetThreads(ctx, env.alice.ID)
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func TestSendMessage_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.SendMessage(ctx, env.alice.ID, SendMessageInput{ToID: &env.bob.ID})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = env.svc.SendMessage(ctx, env.alice.ID, SendMessageInput{
		ToID: &env.bob.ID,
		Body: strings.Repeat("x", 2001),
	})
	assert.ErrorIs(t, err, ErrMessageTooLong)

	_, err = env.svc.SendMessage(ctx, env.alice.ID, SendMessageInput{
		ToID: &env.bob.ID,
		Body: "ok",
		Type: domain.MessageType("carrier_pigeon"),
	})
	assert.ErrorIs(t, err, ErrInvalidMessageType)

	unknown := uuid.New()
	_, err = env.svc.SendMessage(ctx, env.alice.ID, SendMessageInput{ToID: &unknown, Body: "hi"})
	assert.ErrorIs(t, err, ErrPeerNotFound)

	_, err = env.svc.SendMessage(ctx, env.alice.ID, SendMessageInput{ToEmail: "ghost@example.com", Body: "hi"})
	assert.ErrorIs(t, err, ErrPeerNotFound)
}

func TestSendMessage_ResolveByEmailAndAttachmentPreviews(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.svc.SendMessage(ctx, env.alice.ID, SendMessageInput{
		ToEmail: "Bob@Example.com", // case-insensitive resolution
		Type:    domain.TypeImage,
		Attachments: []domain.Attachment{
			{Filename: "cat.jpg", Path: "/u/cat.jpg", Size: 1024, MimeType: "image/jpeg"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, env.bob.ID, res.Message.ReceiverID)

	conv, err := env.convs.GetByID(ctx, res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "Photo", conv.LastMessageText)

	res, err = env.svc.SendMessage(ctx, env.alice.ID, SendMessageInput{
		ToID: &env.bob.ID,
		Type: domain.TypeMultiImage,
		Attachments: []domain.Attachment{
			{Filename: "a.jpg"}, {Filename: "b.jpg"}, {Filename: "c.jpg"},
		},
	})
	require.NoError(t, err)

	conv, err = env.convs.GetByID(ctx, res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "3 Photos", conv.LastMessageText)
}

func TestGetOrCreate_ConcurrentCallersOneConversation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const callers = 32
	ids := make([]uuid.UUID, callers)

	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			res, err := env.svc.SendMessage(ctx, env.alice.ID, SendMessageInput{ToID: &env.bob.ID, Body: "ping"})
			if err != nil {
				return err
			}
			ids[i] = res.ConversationID
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for _, id := range ids {
		assert.Equal(t, ids[0], id, "all callers must land in the same conversation")
	}

	threads, err := env.svc.GetThreads(ctx, env.bob.ID)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, int64(callers), threads[0].UnreadCount)
}

// ctxAwareConvRepo fails store calls when the caller's context is done, the
// way a real driver would.
type ctxAwareConvRepo struct {
	repository.ConversationRepository
}

func (r *ctxAwareConvRepo) Create(ctx context.Context, conv *domain.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.ConversationRepository.Create(ctx, conv)
}

func (r *ctxAwareConvRepo) GetByUsers(ctx context.Context, user1ID, user2ID uuid.UUID) (*domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.ConversationRepository.GetByUsers(ctx, user1ID, user2ID)
}

func TestGetOrCreate_DetachedFromCallerCancellation(t *testing.T) {
	env := newTestEnv(t)
	svc := NewChatService(
		env.users,
		&ctxAwareConvRepo{ConversationRepository: env.convs},
		env.msgs,
		env.unread,
		env.registry,
		delivery.NewRouter(env.registry, zap.NewNop().Sugar()),
	)

	// A canceled caller may be one of many collapsed onto a single
	// get-or-create; its cancellation must not decide the shared outcome.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := svc.SendMessage(ctx, env.alice.ID, SendMessageInput{ToID: &env.bob.ID, Body: "hi"})
	require.NoError(t, err)

	u1, u2 := domain.CanonicalPair(env.alice.ID, env.bob.ID)
	conv, err := env.convs.GetByUsers(context.Background(), u1, u2)
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, res.ConversationID, conv.ID)
}

func TestConcurrentOpposingSends(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var g errgroup.Group
	var fromAlice, fromBob *SendResult
	g.Go(func() error {
		var err error
		fromAlice, err = env.svc.SendMessage(ctx, env.alice.ID, SendMessageInput{ToID: &env.bob.ID, Body: "hi bob"})
		return err
	})
	g.Go(func() error {
		var err error
		fromBob, err = env.svc.SendMessage(ctx, env.bob.ID, SendMessageInput{ToID: &env.alice.ID, Body: "hi alice"})
		return err
	})
	require.NoError(t, g.Wait())

	// One conversation, two messages, correct direction on each.
	require.Equal(t, fromAlice.ConversationID, fromBob.ConversationID)
	assert.Equal(t, env.bob.ID, fromAlice.Message.ReceiverID)
	assert.Equal(t, env.alice.ID, fromBob.Message.ReceiverID)

	convID := fromAlice.ConversationID
	n, err := env.unread.Get(ctx, convID, env.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = env.unread.Get(ctx, convID, env.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestGetMessages_ResetsUnreadButNotStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.svc.SendMessage(ctx, env.alice.ID, SendMessageInput{ToID: &env.bob.ID, Body: "hello"})
	require.NoError(t, err)

	history, err := env.svc.GetMessages(ctx, env.bob.ID, MessagesTarget{ConversationID: &res.ConversationID}, 50, 0)
	require.NoError(t, err)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "hello", history.Messages[0].Body)
	// Viewing is not a read receipt.
	assert.Equal(t, domain.StatusSent, history.Messages[0].Status)
	require.NotNil(t, history.Peer)
	assert.Equal(t, env.alice.ID, history.Peer.ID)

	n, err := env.unread.Get(ctx, res.ConversationID, env.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestGetMessages_NonParticipantSeesNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	eve := domain.User{ID: uuid.New(), Email: "eve@example.com", Name: "Eve"}
	require.NoError(t, env.users.Create(ctx, &eve))

	res, err := env.svc.SendMessage(ctx, env.alice.ID, SendMessageInput{ToID: &env.bob.ID, Body: "secret"})
	require.NoError(t, err)

	_, err = env.svc.GetMessages(ctx, eve.ID, MessagesTarget{ConversationID: &res.ConversationID}, 50, 0)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestGetMessages_ByPeerStartsConversation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	history, err := env.svc.GetMessages(ctx, env.alice.ID, MessagesTarget{PeerID: &env.bob.ID}, 50, 0)
	require.NoError(t, err)
	assert.Empty(t, history.Messages)
	assert.NotEqual(t, uuid.Nil, history.ConversationID)

	// Sending afterwards lands in the same conversation.
	res, err := env.svc.SendMessage(ctx, env.alice.ID, SendMessageInput{ToID: &env.bob.ID, Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, history.ConversationID, res.ConversationID)
}

func TestMarkRead_MonotoneAndRouted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	aliceRoute := env.connect(env.alice.ID)
	bobRoute := env.connect(env.bob.ID)

	res, err := env.svc.SendMessage(ctx, env.alice.ID, SendMessageInput{ToID: &env.bob.ID, Body: "hello"})
	require.NoError(t, err)

	// Sender marking their own message is a silent no-op.
	msg, err := env.svc.MarkRead(ctx, res.Message.ID, env.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, msg.Status)
	assert.Empty(t, aliceRoute.byType(delivery.EventMessageRead))

	// Receiver marks read: status advances, sender is notified.
	msg, err = env.svc.MarkRead(ctx, res.Message.ID, env.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRead, msg.Status)
	require.NotNil(t, msg.SeenAt)
	assert.Len(t, aliceRoute.byType(delivery.EventMessageRead), 1)
	assert.Empty(t, bobRoute.byType(delivery.EventMessageRead))

	// Second call neither errors, downgrades, nor re-notifies the sender.
	first := *msg.SeenAt
	msg, err = env.svc.MarkRead(ctx, res.Message.ID, env.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRead, msg.Status)
	assert.Equal(t, first, *msg.SeenAt)
	assert.Len(t, aliceRoute.byType(delivery.EventMessageRead), 1)
}

func TestMarkRead_NotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.MarkRead(context.Background(), uuid.New(), env.alice.ID)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestMarkDelivered_NeverDowngradesRead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.svc.SendMessage(ctx, env.alice.ID, SendMessageInput{ToID: &env.bob.ID, Body: "hello"})
	require.NoError(t, err)

	msg, err := env.svc.MarkDelivered(ctx, res.Message.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, msg.Status)

	_, err = env.svc.MarkRead(ctx, res.Message.ID, env.bob.ID)
	require.NoError(t, err)

	msg, err = env.svc.MarkDelivered(ctx, res.Message.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRead, msg.Status)
}

func TestPagination_WalkBackwardNoRepeatsNoSkips(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u1, u2 := domain.CanonicalPair(env.alice.ID, env.bob.ID)
	conv := &domain.Conversation{ID: uuid.New(), User1ID: u1, User2ID: u2, CreatedAt: time.Now()}
	require.NoError(t, env.convs.Create(ctx, conv))

	// Every second message shares a created_at with its neighbor: wall-clock
	// collisions are legal and must not make the walk skip or repeat.
	base := time.Now().Add(-time.Hour)
	const total = 10
	for i := 0; i < total; i++ {
		require.NoError(t, env.msgs.Create(ctx, &domain.Message{
			ID:             uuid.New(),
			ConversationID: conv.ID,
			SenderID:       env.alice.ID,
			ReceiverID:     env.bob.ID,
			Body:           string(rune('a' + i)),
			Status:         domain.StatusSent,
			Type:           domain.TypeText,
			CreatedAt:      base.Add(time.Duration(i/2) * time.Second),
		}))
	}

	seen := make(map[uuid.UUID]bool)
	var cursor int64
	pages := 0
	for {
		history, err := env.svc.GetMessages(ctx, env.bob.ID, MessagesTarget{ConversationID: &conv.ID}, 3, cursor)
		require.NoError(t, err)
		if len(history.Messages) == 0 {
			break
		}
		for _, m := range history.Messages {
			assert.False(t, seen[m.ID], "message repeated during walk")
			seen[m.ID] = true
			if cursor > 0 {
				assert.Less(t, m.Seq, cursor, "cursor must be exclusive")
			}
		}
		cursor = history.Messages[0].Seq
		pages++
		require.LessOrEqual(t, pages, total, "walk did not terminate")
	}
	assert.Len(t, seen, total, "walk skipped messages")
}

func TestThreads_OrderedByLastActivity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	carol := domain.User{ID: uuid.New(), Email: "carol@example.com", Name: "Carol"}
	require.NoError(t, env.users.Create(ctx, &carol))

	_, err := env.svc.SendMessage(ctx, env.bob.ID, SendMessageInput{ToID: &env.alice.ID, Body: "older"})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = env.svc.SendMessage(ctx, carol.ID, SendMessageInput{ToID: &env.alice.ID, Body: "newer"})
	require.NoError(t, err)

	threads, err := env.svc.GetThreads(ctx, env.alice.ID)
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, carol.ID, threads[0].PeerID)
	assert.Equal(t, "newer", threads[0].LastMessageText)
	assert.Equal(t, int64(1), threads[0].UnreadCount)
	assert.Equal(t, env.bob.ID, threads[1].PeerID)
}

func TestTyping_RoutedToPeerOnly(t *testing.T) {
	env := newTestEnv(t)

	aliceRoute := env.connect(env.alice.ID)
	bobRoute := env.connect(env.bob.ID)

	env.svc.SendTyping(env.alice.ID, env.bob.ID, true)
	env.svc.SendTyping(env.alice.ID, env.bob.ID, false)

	assert.Len(t, bobRoute.byType(delivery.EventTypingStart), 1)
	assert.Len(t, bobRoute.byType(delivery.EventTypingStop), 1)
	assert.Empty(t, aliceRoute.byType(delivery.EventTypingStart))
	assert.Empty(t, aliceRoute.byType(delivery.EventTypingStop))
}

func TestOnlineUsers(t *testing.T) {
	env := newTestEnv(t)

	route := env.connect(env.alice.ID)
	assert.ElementsMatch(t, []uuid.UUID{env.alice.ID}, env.svc.OnlineUsers())

	env.svc.UnregisterSession(env.alice.ID, route)
	assert.Empty(t, env.svc.OnlineUsers())
}
