package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Rank orders statuses so transitions can be kept monotone
// (sent -> delivered -> read, never backward).
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	}
	return -1
}

type MessageType string

const (
	TypeText       MessageType = "text"
	TypeImage      MessageType = "image"
	TypeFile       MessageType = "file"
	TypeMultiImage MessageType = "multi_image"
)

func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeFile, TypeMultiImage:
		return true
	}
	return false
}

type Attachment struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

// Message.Seq is assigned by the store at append time and is strictly
// increasing; pagination orders and cursors on it. CreatedAt is wall-clock
// metadata and can collide under concurrent sends.
type Message struct {
	ID             uuid.UUID     `json:"id"`
	ConversationID uuid.UUID     `json:"conversation_id"`
	Seq            int64         `json:"seq"`
	SenderID       uuid.UUID     `json:"sender_id"`
	ReceiverID     uuid.UUID     `json:"receiver_id"`
	Body           string        `json:"body"`
	Status         MessageStatus `json:"status"`
	SeenAt         *time.Time    `json:"seen_at,omitempty"`
	Type           MessageType   `json:"type"`
	Attachments    []Attachment  `json:"attachments,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Preview is the denormalized lastMessage text shown in thread lists.
// Pure function of message type and attachment metadata.
func (m *Message) Preview() string {
	switch m.Type {
	case TypeImage:
		return "Photo"
	case TypeFile:
		return "File"
	case TypeMultiImage:
		return fmt.Sprintf("%d Photos", len(m.Attachments))
	}
	return m.Body
}
