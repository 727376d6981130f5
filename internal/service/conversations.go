package service

import (
	"time"

	"github.com/google/uuid"

	"github.com/givebridge/messaging/internal/apperr"
	"github.com/givebridge/messaging/internal/models"
	"github.com/givebridge/messaging/internal/ws"
)

// CreateConversation explicitly starts a conversation with an initial
// message. If an active conversation already exists for the pair, the
// call fails with Conflict and returns the existing conversation so
// callers get an idempotency signal rather than a silent success.
func (s *ConversationService) CreateConversation(callerID uuid.UUID, req models.CreateConversationRequest) (*models.Conversation, *models.Message, error) {
	if req.ParticipantID == callerID {
		return nil, nil, apperr.InvalidArg("cannot start a conversation with yourself")
	}

	conv, created, err := s.db.FindOrCreateConversation(callerID, req.ParticipantID, req.RelatedDonationID, req.RelatedCauseID)
	if err != nil {
		return nil, nil, err
	}
	if !created {
		s.decorateConversation(conv)
		return conv, nil, apperr.Conflict("an active conversation already exists for this pair")
	}

	msg, err := s.db.CreateMessage(conv.ID, callerID, req.ParticipantID, req.InitialMessage, models.MessageTypeText, nil)
	if err != nil {
		return nil, nil, err
	}
	conv.LastMessage = msg
	conv.UpdatedAt = msg.CreatedAt

	s.broadcastNewMessage(msg)
	s.notifyOffline(msg)
	s.decorateConversation(conv)
	return conv, msg, nil
}

// GetConversation returns a decorated conversation for an active
// participant; anyone else gets NotFound.
func (s *ConversationService) GetConversation(requesterID, conversationID uuid.UUID) (*models.Conversation, error) {
	conv, err := s.db.GetConversation(conversationID, requesterID)
	if err != nil {
		return nil, err
	}
	s.decorateConversation(conv)
	return conv, nil
}

// ListConversations pages through the caller's active conversations,
// most recently updated first.
func (s *ConversationService) ListConversations(userID uuid.UUID, page, pageSize int, unreadOnly bool) ([]*models.Conversation, error) {
	convs, err := s.db.ListConversations(userID, page, pageSize, unreadOnly)
	if err != nil {
		return nil, err
	}
	s.decorateConversations(convs)
	return convs, nil
}

// MarkConversationRead transitions every unread message addressed to
// the reader to read and broadcasts the read receipt to the room.
func (s *ConversationService) MarkConversationRead(readerID, conversationID uuid.UUID) (int, error) {
	readIDs, err := s.db.MarkConversationRead(conversationID, readerID)
	if err != nil {
		return 0, err
	}

	if len(readIDs) > 0 {
		s.channel.ToRoom(conversationID, ws.Event{
			Type:           ws.EventMessageRead,
			ConversationID: &conversationID,
			UserID:         &readerID,
			MessageIDs:     readIDs,
			Timestamp:      time.Now().UTC(),
		})
	}
	return len(readIDs), nil
}

// DeactivateConversation archives a conversation without deleting its
// history.
func (s *ConversationService) DeactivateConversation(requesterID, conversationID uuid.UUID) error {
	return s.db.DeactivateConversation(conversationID, requesterID)
}
