package models

import (
	"time"

	"github.com/google/uuid"
)

// Message types
const (
	MessageTypeText   = "text"
	MessageTypeSystem = "system"
)

// MaxContentLength bounds message content size in characters.
const MaxContentLength = 2000

// Message represents a single message inside a conversation
type Message struct {
	ID             uuid.UUID  `json:"id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	SenderID       uuid.UUID  `json:"sender_id"`
	RecipientID    uuid.UUID  `json:"recipient_id"`
	Content        string     `json:"content"`
	MessageType    string     `json:"message_type"`
	IsRead         bool       `json:"is_read"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	ReplyToID      *uuid.UUID `json:"reply_to_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Deleted reports whether the message has been soft-deleted.
func (m *Message) Deleted() bool {
	return m.DeletedAt != nil
}

// SendMessageRequest is the structure for message creation requests.
// ConversationID is optional; when absent, the conversation for the
// sender/recipient pair is found or created.
type SendMessageRequest struct {
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
	RecipientID    uuid.UUID  `json:"recipient_id" binding:"required"`
	Content        string     `json:"content" binding:"required,min=1,max=2000"`
	ReplyToID      *uuid.UUID `json:"reply_to_id,omitempty"`
}

// EditMessageRequest carries the replacement content for a message edit
type EditMessageRequest struct {
	Content string `json:"content" binding:"required,min=1,max=2000"`
}

// MessageResponse is what we return to clients
type MessageResponse struct {
	*Message
	Sender *DisplayProfile `json:"sender,omitempty"`
}

// UnreadCountResponse reports the caller's total unread message count
type UnreadCountResponse struct {
	UnreadCount int `json:"unread_count"`
}
