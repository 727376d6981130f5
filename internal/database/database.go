package database

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/givebridge/messaging/internal/models"
)

// DBInterface is the storage boundary for the conversation directory and
// the message store. All authorization that depends on stored state
// (participant membership, sender/recipient ownership) is enforced here,
// on every path.
//
// CreateMessage updates the owning conversation's last-message pointer in
// the same transaction as the insert; readers should still treat the
// pointer as a cache of the message log, which is the source of truth.
type DBInterface interface {
	// Conversation directory
	FindOrCreateConversation(userA, userB uuid.UUID, relatedDonation, relatedCause *uuid.UUID) (conv *models.Conversation, created bool, err error)
	GetConversation(conversationID, requesterID uuid.UUID) (*models.Conversation, error)
	ListConversations(userID uuid.UUID, page, pageSize int, unreadOnly bool) ([]*models.Conversation, error)
	MarkConversationRead(conversationID, readerID uuid.UUID) (readMessageIDs []uuid.UUID, err error)
	DeactivateConversation(conversationID, requesterID uuid.UUID) error
	IsParticipant(conversationID, userID uuid.UUID) (bool, error)

	// Message store
	CreateMessage(conversationID, senderID, recipientID uuid.UUID, content, messageType string, replyTo *uuid.UUID) (*models.Message, error)
	GetMessageByID(messageID uuid.UUID) (*models.Message, error)
	EditMessage(messageID, editorID uuid.UUID, content string) (*models.Message, error)
	SoftDeleteMessage(messageID, requesterID uuid.UUID) (*models.Message, error)
	MarkMessageRead(messageID, readerID uuid.UUID) (*models.Message, bool, error)
	ListMessages(conversationID, requesterID uuid.UUID, beforeMessageID *uuid.UUID, limit int) ([]*models.Message, error)
	CountUnread(userID uuid.UUID) (int, error)

	Close() error
}

type DatabaseType string

const (
	PostgreSQL DatabaseType = "postgres"
)

func NewDatabase(dbType DatabaseType, connStr string) (DBInterface, error) {
	switch dbType {
	case PostgreSQL:
		return NewPostgresDB(connStr)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}
