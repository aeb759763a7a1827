package delivery

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/courier/internal/domain"
)

// Event names are fixed for client compatibility.
const (
	EventMessageNew   = "message:new"
	EventThreadUpdate = "thread:update"
	EventTypingStart  = "typing:start"
	EventTypingStop   = "typing:stop"
	EventMessageRead  = "message:read"
)

// Event is the envelope for all pushed real-time events.
type Event struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"ts,omitempty"`
}

type MessagePayload struct {
	domain.Message
}

type ThreadUpdatePayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	PeerID         uuid.UUID `json:"peer_id"`
}

type TypingPayload struct {
	FromID uuid.UUID `json:"from_id"`
}

type MessageReadPayload struct {
	MessageID      uuid.UUID  `json:"message_id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	ReaderID       uuid.UUID  `json:"reader_id"`
	SeenAt         *time.Time `json:"seen_at,omitempty"`
}

func NewEvent(eventType string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:      eventType,
		Payload:   data,
		Timestamp: time.Now().Unix(),
	}, nil
}
