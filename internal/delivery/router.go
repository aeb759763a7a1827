// Package delivery fans persisted state changes out to live sessions.
// Delivery is best-effort: the message is already durable by the time the
// router runs, so a missing or slow route only costs the real-time ping.
package delivery

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/vedran77/courier/internal/domain"
	"github.com/vedran77/courier/internal/presence"
	"go.uber.org/zap"
)

type Router struct {
	registry *presence.Registry
	log      *zap.SugaredLogger
}

func NewRouter(registry *presence.Registry, log *zap.SugaredLogger) *Router {
	return &Router{registry: registry, log: log}
}

// MessageNew pushes a persisted message to both parties' live routes.
func (r *Router) MessageNew(msg *domain.Message) {
	r.emit(msg.SenderID, EventMessageNew, MessagePayload{Message: *msg})
	r.emit(msg.ReceiverID, EventMessageNew, MessagePayload{Message: *msg})
}

// ThreadUpdate tells both parties to refresh their thread list. Each side
// gets the other as peer.
func (r *Router) ThreadUpdate(conversationID, senderID, receiverID uuid.UUID) {
	r.emit(senderID, EventThreadUpdate, ThreadUpdatePayload{ConversationID: conversationID, PeerID: receiverID})
	r.emit(receiverID, EventThreadUpdate, ThreadUpdatePayload{ConversationID: conversationID, PeerID: senderID})
}

// Typing routes a typing indicator straight to the peer, no persistence.
func (r *Router) Typing(fromID, toID uuid.UUID, starting bool) {
	eventType := EventTypingStop
	if starting {
		eventType = EventTypingStart
	}
	r.emit(toID, eventType, TypingPayload{FromID: fromID})
}

// MessageRead notifies the original sender only.
func (r *Router) MessageRead(msg *domain.Message) {
	r.emit(msg.SenderID, EventMessageRead, MessageReadPayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		ReaderID:       msg.ReceiverID,
		SeenAt:         msg.SeenAt,
	})
}

func (r *Router) emit(userID uuid.UUID, eventType string, payload any) {
	route, ok := r.registry.Lookup(userID)
	if !ok {
		return // not connected, nothing to do
	}

	evt, err := NewEvent(eventType, payload)
	if err != nil {
		r.log.Errorw("marshal event payload", "type", eventType, "err", err)
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		r.log.Errorw("marshal event", "type", eventType, "err", err)
		return
	}

	if !route.Deliver(data) {
		r.log.Debugw("dropped event, route buffer full", "type", eventType, "user", userID)
	}
}
