package models

import (
	"time"

	"github.com/google/uuid"
)

// Participant is one side of a two-party conversation
type Participant struct {
	UserID     uuid.UUID       `json:"user_id"`
	LastReadAt *time.Time      `json:"last_read_at,omitempty"`
	IsTyping   bool            `json:"is_typing"`
	Profile    *DisplayProfile `json:"profile,omitempty"`
}

// Conversation represents a two-party messaging thread.
// Participants always holds exactly two distinct users; the pair is stored
// canonically (sorted) so that at most one active conversation can exist
// per pair.
type Conversation struct {
	ID                uuid.UUID     `json:"id"`
	Participants      []Participant `json:"participants"`
	LastMessage       *Message      `json:"last_message,omitempty"`
	RelatedDonationID *uuid.UUID    `json:"related_donation_id,omitempty"`
	RelatedCauseID    *uuid.UUID    `json:"related_cause_id,omitempty"`
	IsActive          bool          `json:"is_active"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// HasParticipant reports whether the user is a member of the conversation.
func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the counterpart of the given user, or uuid.Nil
// if the user is not a member.
func (c *Conversation) OtherParticipant(userID uuid.UUID) uuid.UUID {
	for _, p := range c.Participants {
		if p.UserID != userID {
			return p.UserID
		}
	}
	return uuid.Nil
}

// CanonicalPair returns the two user IDs sorted so that the pair is
// order-independent. Used as the uniqueness key for active conversations.
func CanonicalPair(a, b uuid.UUID) (low, high uuid.UUID) {
	if a.String() < b.String() {
		return a, b
	}
	return b, a
}

// CreateConversationRequest starts a conversation with an initial message
type CreateConversationRequest struct {
	ParticipantID     uuid.UUID  `json:"participant_id" binding:"required"`
	InitialMessage    string     `json:"initial_message" binding:"required,min=1,max=2000"`
	RelatedDonationID *uuid.UUID `json:"related_donation_id,omitempty"`
	RelatedCauseID    *uuid.UUID `json:"related_cause_id,omitempty"`
}

// ConversationListResponse is a page of conversation summaries
type ConversationListResponse struct {
	Conversations []*Conversation `json:"conversations"`
	Page          int             `json:"page"`
	PageSize      int             `json:"page_size"`
}
