// Package service orchestrates the conversation directory, message
// store and delivery channel. Validation and persistence always happen
// before any broadcast; a broadcast failure never rolls a write back.
package service

import (
	"github.com/google/uuid"

	"github.com/givebridge/messaging/internal/database"
	"github.com/givebridge/messaging/internal/logger"
	"github.com/givebridge/messaging/internal/models"
	"github.com/givebridge/messaging/internal/ws"
)

var log = logger.New("service")

// Broadcaster is the fan-out side of the delivery channel.
type Broadcaster interface {
	ToUser(userID uuid.UUID, event ws.Event)
	ToRoom(conversationID uuid.UUID, event ws.Event)
	ToAll(event ws.Event)
}

// ChannelState exposes the ephemeral per-process state used to
// decorate responses and to decide whether to notify.
type ChannelState interface {
	IsOnline(userID uuid.UUID) bool
	IsTyping(conversationID, userID uuid.UUID) bool
}

// Notifier is the external push/email collaborator. Emit is
// fire-and-forget; failures are logged and never fail the operation.
type Notifier interface {
	Emit(recipient uuid.UUID, notifType, title, message string, data map[string]string) error
}

// ProfileLookup resolves a user identity to its display decoration.
type ProfileLookup interface {
	Lookup(userID uuid.UUID) (*models.DisplayProfile, error)
}

// ConversationService composes the stores, the channel and the
// external collaborators behind every public messaging operation.
type ConversationService struct {
	db       database.DBInterface
	channel  Broadcaster
	state    ChannelState
	notifier Notifier
	profiles ProfileLookup
}

func New(db database.DBInterface, channel Broadcaster, state ChannelState, notifier Notifier, profiles ProfileLookup) *ConversationService {
	return &ConversationService{
		db:       db,
		channel:  channel,
		state:    state,
		notifier: notifier,
		profiles: profiles,
	}
}

// decorateConversation fills display profiles and typing flags. One
// profile lookup per distinct user; failures degrade to undecorated
// participants.
func (s *ConversationService) decorateConversation(conv *models.Conversation) {
	for i := range conv.Participants {
		p := &conv.Participants[i]
		if s.state != nil {
			p.IsTyping = s.state.IsTyping(conv.ID, p.UserID)
		}
		p.Profile = s.lookupProfile(p.UserID)
	}
}

func (s *ConversationService) decorateConversations(convs []*models.Conversation) {
	profiles := make(map[uuid.UUID]*models.DisplayProfile)
	for _, conv := range convs {
		for i := range conv.Participants {
			p := &conv.Participants[i]
			if s.state != nil {
				p.IsTyping = s.state.IsTyping(conv.ID, p.UserID)
			}
			profile, ok := profiles[p.UserID]
			if !ok {
				profile = s.lookupProfile(p.UserID)
				profiles[p.UserID] = profile
			}
			p.Profile = profile
		}
	}
}

func (s *ConversationService) lookupProfile(userID uuid.UUID) *models.DisplayProfile {
	if s.profiles == nil {
		return nil
	}
	profile, err := s.profiles.Lookup(userID)
	if err != nil {
		log.Warn("Profile lookup failed for %s: %v", userID, err)
		return nil
	}
	return profile
}

// notifyOffline asks the external notifier to alert a recipient with no
// live connection. Runs in its own goroutine; a degraded notification
// path must never block or fail messaging.
func (s *ConversationService) notifyOffline(msg *models.Message) {
	if s.notifier == nil {
		return
	}
	if s.state != nil && s.state.IsOnline(msg.RecipientID) {
		return
	}

	title := "New message"
	if profile := s.lookupProfile(msg.SenderID); profile != nil && profile.Name != "" {
		title = "New message from " + profile.Name
	}

	go func() {
		data := map[string]string{
			"conversation_id": msg.ConversationID.String(),
			"message_id":      msg.ID.String(),
		}
		if err := s.notifier.Emit(msg.RecipientID, "message:new", title, preview(msg.Content), data); err != nil {
			log.Warn("Notification emit failed for %s: %v", msg.RecipientID, err)
		}
	}()
}

func preview(content string) string {
	const max = 120
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max]) + "…"
}
