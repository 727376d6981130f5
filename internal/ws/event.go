package ws

import (
	"time"

	"github.com/google/uuid"

	"github.com/givebridge/messaging/internal/models"
)

// Event types carried over the delivery channel, both directions
const (
	EventConversationJoin  = "conversation:join"
	EventConversationLeave = "conversation:leave"
	EventTypingStart       = "typing:start"
	EventTypingStop        = "typing:stop"
	EventMessageNew        = "message:new"
	EventMessageEdited     = "message:edited"
	EventMessageDeleted    = "message:deleted"
	EventMessageRead       = "message:read"
	EventUserOnline        = "user:online"
	EventUserOffline       = "user:offline"
	EventPresenceSnapshot  = "presence:snapshot"
	EventError             = "error"
)

// Event is the wire format for channel traffic. Fields are a union over
// all event types; unused ones are omitted.
type Event struct {
	Type           string          `json:"type"`
	ConversationID *uuid.UUID      `json:"conversation_id,omitempty"`
	UserID         *uuid.UUID      `json:"user_id,omitempty"`
	RecipientID    *uuid.UUID      `json:"recipient_id,omitempty"`
	MessageID      *uuid.UUID      `json:"message_id,omitempty"`
	MessageIDs     []uuid.UUID     `json:"message_ids,omitempty"`
	Content        string          `json:"content,omitempty"`
	ReplyToID      *uuid.UUID      `json:"reply_to_id,omitempty"`
	Message        *models.Message `json:"message,omitempty"`
	LastSeen       *time.Time      `json:"last_seen,omitempty"`
	Presence       []PresenceEntry `json:"presence,omitempty"`
	Error          string          `json:"error,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

func uuidPtr(id uuid.UUID) *uuid.UUID { return &id }

func errorEvent(msg string) Event {
	return Event{Type: EventError, Error: msg, Timestamp: time.Now().UTC()}
}
