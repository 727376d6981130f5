package service

import (
	"time"

	"github.com/google/uuid"

	"github.com/givebridge/messaging/internal/apperr"
	"github.com/givebridge/messaging/internal/models"
	"github.com/givebridge/messaging/internal/ws"
)

// SendMessage appends a message, finding or creating the pair's
// conversation when no conversation id is supplied. The broadcast goes
// out only after the write has committed.
func (s *ConversationService) SendMessage(senderID uuid.UUID, req models.SendMessageRequest) (*models.Message, error) {
	if req.RecipientID == senderID {
		return nil, apperr.InvalidArg("cannot message yourself")
	}

	conversationID := uuid.Nil
	if req.ConversationID != nil {
		conversationID = *req.ConversationID
	} else {
		conv, _, err := s.db.FindOrCreateConversation(senderID, req.RecipientID, nil, nil)
		if err != nil {
			return nil, err
		}
		conversationID = conv.ID
	}

	msg, err := s.db.CreateMessage(conversationID, senderID, req.RecipientID, req.Content, models.MessageTypeText, req.ReplyToID)
	if err != nil {
		return nil, err
	}

	s.broadcastNewMessage(msg)
	s.notifyOffline(msg)
	return msg, nil
}

// EditMessage is sender-only; the edited state is re-broadcast to the
// room after persisting.
func (s *ConversationService) EditMessage(editorID, messageID uuid.UUID, content string) (*models.Message, error) {
	msg, err := s.db.EditMessage(messageID, editorID, content)
	if err != nil {
		return nil, err
	}

	s.channel.ToRoom(msg.ConversationID, ws.Event{
		Type:           ws.EventMessageEdited,
		ConversationID: &msg.ConversationID,
		MessageID:      &msg.ID,
		Message:        msg,
		Timestamp:      time.Now().UTC(),
	})
	return msg, nil
}

// DeleteMessage soft-deletes a message (sender-only) and broadcasts the
// deletion to the room.
func (s *ConversationService) DeleteMessage(requesterID, messageID uuid.UUID) (*models.Message, error) {
	msg, err := s.db.SoftDeleteMessage(messageID, requesterID)
	if err != nil {
		return nil, err
	}

	s.channel.ToRoom(msg.ConversationID, ws.Event{
		Type:           ws.EventMessageDeleted,
		ConversationID: &msg.ConversationID,
		MessageID:      &msg.ID,
		Timestamp:      time.Now().UTC(),
	})
	return msg, nil
}

// MarkMessageRead is recipient-only; the read receipt is broadcast to
// the room after persisting. Re-marking a read message succeeds without
// re-broadcasting the receipt.
func (s *ConversationService) MarkMessageRead(readerID, messageID uuid.UUID) (*models.Message, error) {
	msg, transitioned, err := s.db.MarkMessageRead(messageID, readerID)
	if err != nil {
		return nil, err
	}
	if !transitioned {
		return msg, nil
	}

	s.channel.ToRoom(msg.ConversationID, ws.Event{
		Type:           ws.EventMessageRead,
		ConversationID: &msg.ConversationID,
		UserID:         &readerID,
		MessageID:      &msg.ID,
		MessageIDs:     []uuid.UUID{msg.ID},
		Timestamp:      time.Now().UTC(),
	})
	return msg, nil
}

// ListMessages returns a chronological page of non-deleted messages
// with sender profiles attached.
func (s *ConversationService) ListMessages(requesterID, conversationID uuid.UUID, before *uuid.UUID, limit int) ([]*models.MessageResponse, error) {
	messages, err := s.db.ListMessages(conversationID, requesterID, before, limit)
	if err != nil {
		return nil, err
	}

	profiles := make(map[uuid.UUID]*models.DisplayProfile)
	responses := make([]*models.MessageResponse, 0, len(messages))
	for _, msg := range messages {
		profile, ok := profiles[msg.SenderID]
		if !ok {
			profile = s.lookupProfile(msg.SenderID)
			profiles[msg.SenderID] = profile
		}
		responses = append(responses, &models.MessageResponse{Message: msg, Sender: profile})
	}
	return responses, nil
}

// UnreadCount reports the caller's unread messages across active
// conversations.
func (s *ConversationService) UnreadCount(userID uuid.UUID) (int, error) {
	return s.db.CountUnread(userID)
}

// broadcastNewMessage fans a committed message out to the room and
// directly to the recipient's connections, which may not have joined
// the room yet for a brand-new conversation.
func (s *ConversationService) broadcastNewMessage(msg *models.Message) {
	event := ws.Event{
		Type:           ws.EventMessageNew,
		ConversationID: &msg.ConversationID,
		MessageID:      &msg.ID,
		Message:        msg,
		Timestamp:      time.Now().UTC(),
	}
	s.channel.ToRoom(msg.ConversationID, event)
	s.channel.ToUser(msg.RecipientID, event)
}
