package domain

import (
	"time"

	"github.com/google/uuid"
)

// Conversation is the unique thread between a pair of users.
// User1ID/User2ID are stored in canonical order (User1ID < User2ID) so the
// pair can carry a uniqueness constraint regardless of who messaged first.
type Conversation struct {
	ID                  uuid.UUID  `json:"id"`
	User1ID             uuid.UUID  `json:"user1_id"`
	User2ID             uuid.UUID  `json:"user2_id"`
	LastMessageText     string     `json:"last_message_text,omitempty"`
	LastMessageSenderID *uuid.UUID `json:"last_message_sender_id,omitempty"`
	LastMessageAt       *time.Time `json:"last_message_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	// Joined fields for frontend
	PeerID    uuid.UUID `json:"peer_id,omitempty"`
	PeerName  string    `json:"peer_name,omitempty"`
	PeerEmail string    `json:"peer_email,omitempty"`
}

// CanonicalPair orders two user IDs so that the first compares less than the
// second. Every read and write touching a participant pair goes through this.
func CanonicalPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() > b.String() {
		return b, a
	}
	return a, b
}

func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	return c.User1ID == userID || c.User2ID == userID
}

// PeerOf returns the other participant.
func (c *Conversation) PeerOf(userID uuid.UUID) uuid.UUID {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}

// Thread is the conversation-list view for one user.
type Thread struct {
	ConversationID  uuid.UUID  `json:"conversation_id"`
	PeerID          uuid.UUID  `json:"peer_id"`
	PeerName        string     `json:"peer_name"`
	PeerEmail       string     `json:"peer_email"`
	LastMessageText string     `json:"last_message_text,omitempty"`
	LastAt          *time.Time `json:"last_at,omitempty"`
	UnreadCount     int64      `json:"unread_count"`
}
