package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/givebridge/messaging/internal/apperr"
	"github.com/givebridge/messaging/internal/models"
)

const messageColumns = "id, conversation_id, sender_id, recipient_id, content, message_type, is_read, read_at, edited_at, deleted_at, reply_to_id, created_at"

type PostgresDB struct {
	*sql.DB
}

func NewPostgresDB(connStr string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PostgresDB{db}, nil
}

func (db *PostgresDB) Close() error {
	return db.DB.Close()
}

// FindOrCreateConversation returns the unique active conversation for the
// pair, creating it when absent. Creation races are resolved by the
// partial unique index on the canonical pair: the insert is ON CONFLICT
// DO NOTHING, and the loser of the race refetches the winner's row.
func (db *PostgresDB) FindOrCreateConversation(userA, userB uuid.UUID, relatedDonation, relatedCause *uuid.UUID) (*models.Conversation, bool, error) {
	if userA == userB {
		return nil, false, apperr.InvalidArg("conversation requires two distinct participants")
	}

	low, high := models.CanonicalPair(userA, userB)
	now := time.Now().UTC()
	newID := uuid.New()

	tx, err := db.Begin()
	if err != nil {
		return nil, false, apperr.Unavailable("failed to begin transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO conversations (id, participant_low, participant_high, related_donation_id, related_cause_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6)
		ON CONFLICT (participant_low, participant_high) WHERE is_active DO NOTHING`,
		newID, low, high, uuidOrNil(relatedDonation), uuidOrNil(relatedCause), now)
	if err != nil {
		return nil, false, apperr.Unavailable("failed to create conversation", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, apperr.Unavailable("failed to create conversation", err)
	}

	created := inserted > 0
	if created {
		for _, userID := range []uuid.UUID{low, high} {
			if _, err := tx.Exec(
				"INSERT INTO conversation_participants (conversation_id, user_id, joined_at) VALUES ($1, $2, $3)",
				newID, userID, now); err != nil {
				return nil, false, apperr.Unavailable("failed to add participant", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, apperr.Unavailable("failed to commit conversation", err)
	}

	convID := newID
	if !created {
		err = db.QueryRow(
			"SELECT id FROM conversations WHERE participant_low = $1 AND participant_high = $2 AND is_active",
			low, high).Scan(&convID)
		if err != nil {
			return nil, false, apperr.Unavailable("failed to find existing conversation", err)
		}
	}

	conv, err := db.loadConversation(convID)
	if err != nil {
		return nil, false, err
	}
	return conv, created, nil
}

// GetConversation returns the conversation iff the requester is an active
// participant. Non-participants get NotFound, never Forbidden, so the
// existence of a conversation is not revealed.
func (db *PostgresDB) GetConversation(conversationID, requesterID uuid.UUID) (*models.Conversation, error) {
	ok, err := db.IsParticipant(conversationID, requesterID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("conversation not found")
	}
	return db.loadConversation(conversationID)
}

func (db *PostgresDB) ListConversations(userID uuid.UUID, page, pageSize int, unreadOnly bool) ([]*models.Conversation, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	rows, err := db.Query(`
		SELECT c.id
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id AND p.user_id = $1
		WHERE c.is_active
		  AND ($2 = FALSE OR EXISTS (
			SELECT 1 FROM messages m
			WHERE m.conversation_id = c.id
			  AND m.deleted_at IS NULL
			  AND m.recipient_id = $1
			  AND m.created_at > COALESCE(p.last_read_at, 'epoch'::timestamptz)))
		ORDER BY c.updated_at DESC
		LIMIT $3 OFFSET $4`,
		userID, unreadOnly, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, apperr.Unavailable("failed to list conversations", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Unavailable("failed to scan conversation row", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, apperr.Unavailable("error iterating conversation rows", err)
	}

	conversations := make([]*models.Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := db.loadConversation(id)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, nil
}

// MarkConversationRead transitions every unread message addressed to the
// reader in this conversation to read and advances the reader's
// last-read watermark, in one transaction. Returns the IDs of messages
// that were newly marked; already-read messages are left untouched.
func (db *PostgresDB) MarkConversationRead(conversationID, readerID uuid.UUID) ([]uuid.UUID, error) {
	ok, err := db.IsParticipant(conversationID, readerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("conversation not found")
	}

	now := time.Now().UTC()

	tx, err := db.Begin()
	if err != nil {
		return nil, apperr.Unavailable("failed to begin transaction", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		UPDATE messages SET is_read = TRUE, read_at = $1
		WHERE conversation_id = $2 AND recipient_id = $3 AND is_read = FALSE AND deleted_at IS NULL
		RETURNING id`,
		now, conversationID, readerID)
	if err != nil {
		return nil, apperr.Unavailable("failed to mark messages read", err)
	}

	var readIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, apperr.Unavailable("failed to scan message id", err)
		}
		readIDs = append(readIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, apperr.Unavailable("error iterating read messages", err)
	}
	rows.Close()

	// last_read_at only moves forward
	if _, err := tx.Exec(`
		UPDATE conversation_participants SET last_read_at = $1
		WHERE conversation_id = $2 AND user_id = $3
		  AND (last_read_at IS NULL OR last_read_at < $1)`,
		now, conversationID, readerID); err != nil {
		return nil, apperr.Unavailable("failed to update read watermark", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Unavailable("failed to commit read state", err)
	}

	return readIDs, nil
}

func (db *PostgresDB) DeactivateConversation(conversationID, requesterID uuid.UUID) error {
	ok, err := db.IsParticipant(conversationID, requesterID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("conversation not found")
	}

	_, err = db.Exec(
		"UPDATE conversations SET is_active = FALSE, updated_at = $1 WHERE id = $2 AND is_active",
		time.Now().UTC(), conversationID)
	if err != nil {
		return apperr.Unavailable("failed to deactivate conversation", err)
	}
	return nil
}

// IsParticipant reports whether the user is a member of an active
// conversation. This is the membership gate shared by the REST handlers
// and the delivery channel's room joins.
func (db *PostgresDB) IsParticipant(conversationID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := db.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM conversation_participants p
			JOIN conversations c ON c.id = p.conversation_id
			WHERE p.conversation_id = $1 AND p.user_id = $2 AND c.is_active)`,
		conversationID, userID).Scan(&exists)
	if err != nil {
		return false, apperr.Unavailable("failed to check membership", err)
	}
	return exists, nil
}

// CreateMessage appends a message and updates the owning conversation's
// last-message pointer and updated_at in the same transaction.
func (db *PostgresDB) CreateMessage(conversationID, senderID, recipientID uuid.UUID, content, messageType string, replyTo *uuid.UUID) (*models.Message, error) {
	if content == "" {
		return nil, apperr.InvalidArg("message content cannot be empty")
	}
	if len([]rune(content)) > models.MaxContentLength {
		return nil, apperr.InvalidArg("message content exceeds maximum length")
	}
	if messageType == "" {
		messageType = models.MessageTypeText
	}

	conv, err := db.loadConversation(conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsActive {
		return nil, apperr.NotFound("conversation not found")
	}
	if !conv.HasParticipant(senderID) {
		return nil, apperr.NotFound("conversation not found")
	}
	if !conv.HasParticipant(recipientID) || senderID == recipientID {
		return nil, apperr.InvalidArg("recipient is not the counterpart of this conversation")
	}

	if replyTo != nil {
		parent, err := db.GetMessageByID(*replyTo)
		if err != nil {
			return nil, err
		}
		if parent.ConversationID != conversationID {
			return nil, apperr.InvalidArg("reply target belongs to another conversation")
		}
	}

	msg := &models.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		RecipientID:    recipientID,
		Content:        content,
		MessageType:    messageType,
		IsRead:         false,
		ReplyToID:      replyTo,
		CreatedAt:      time.Now().UTC(),
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, apperr.Unavailable("failed to begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, NULL, NULL, $8, $9)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.RecipientID, msg.Content,
		msg.MessageType, msg.IsRead, uuidOrNil(msg.ReplyToID), msg.CreatedAt)
	if err != nil {
		return nil, apperr.Unavailable("failed to insert message", err)
	}

	_, err = tx.Exec(
		"UPDATE conversations SET last_message_id = $1, updated_at = $2 WHERE id = $3",
		msg.ID, msg.CreatedAt, conversationID)
	if err != nil {
		return nil, apperr.Unavailable("failed to update conversation", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Unavailable("failed to commit message", err)
	}

	return msg, nil
}

func (db *PostgresDB) GetMessageByID(messageID uuid.UUID) (*models.Message, error) {
	row := db.QueryRow("SELECT "+messageColumns+" FROM messages WHERE id = $1", messageID)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("message not found")
	}
	if err != nil {
		return nil, apperr.Unavailable("failed to load message", err)
	}
	return msg, nil
}

// EditMessage replaces the content of a message. Only the sender may
// edit, and a soft-deleted message can no longer be edited.
func (db *PostgresDB) EditMessage(messageID, editorID uuid.UUID, content string) (*models.Message, error) {
	if content == "" {
		return nil, apperr.InvalidArg("message content cannot be empty")
	}
	if len([]rune(content)) > models.MaxContentLength {
		return nil, apperr.InvalidArg("message content exceeds maximum length")
	}

	msg, err := db.GetMessageByID(messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != editorID {
		return nil, apperr.Forbidden("only the sender may edit a message")
	}
	if msg.Deleted() {
		return nil, apperr.Gone("message has been deleted")
	}

	now := time.Now().UTC()
	_, err = db.Exec(
		"UPDATE messages SET content = $1, edited_at = $2 WHERE id = $3 AND deleted_at IS NULL",
		content, now, messageID)
	if err != nil {
		return nil, apperr.Unavailable("failed to edit message", err)
	}

	msg.Content = content
	msg.EditedAt = &now
	return msg, nil
}

// SoftDeleteMessage marks the message deleted while retaining the row.
// If the deleted message was the conversation's last message, the
// last-message pointer is recomputed from the remaining log.
func (db *PostgresDB) SoftDeleteMessage(messageID, requesterID uuid.UUID) (*models.Message, error) {
	msg, err := db.GetMessageByID(messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != requesterID {
		return nil, apperr.Forbidden("only the sender may delete a message")
	}
	if msg.Deleted() {
		return nil, apperr.Gone("message has already been deleted")
	}

	now := time.Now().UTC()

	tx, err := db.Begin()
	if err != nil {
		return nil, apperr.Unavailable("failed to begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec("UPDATE messages SET deleted_at = $1 WHERE id = $2", now, messageID)
	if err != nil {
		return nil, apperr.Unavailable("failed to delete message", err)
	}

	_, err = tx.Exec(`
		UPDATE conversations SET last_message_id = (
			SELECT id FROM messages
			WHERE conversation_id = $1 AND deleted_at IS NULL
			ORDER BY created_at DESC, id DESC LIMIT 1)
		WHERE id = $1 AND last_message_id = $2`,
		msg.ConversationID, messageID)
	if err != nil {
		return nil, apperr.Unavailable("failed to recompute last message", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Unavailable("failed to commit delete", err)
	}

	msg.DeletedAt = &now
	return msg, nil
}

// MarkMessageRead is recipient-only and monotonic: a read message stays
// read, and re-marking is a no-op that keeps the original read_at. The
// bool reports whether the unread->read transition happened on this call.
func (db *PostgresDB) MarkMessageRead(messageID, readerID uuid.UUID) (*models.Message, bool, error) {
	msg, err := db.GetMessageByID(messageID)
	if err != nil {
		return nil, false, err
	}
	if msg.RecipientID != readerID {
		return nil, false, apperr.Forbidden("only the recipient may mark a message read")
	}
	if msg.IsRead {
		return msg, false, nil
	}

	now := time.Now().UTC()
	_, err = db.Exec(
		"UPDATE messages SET is_read = TRUE, read_at = $1 WHERE id = $2 AND is_read = FALSE",
		now, messageID)
	if err != nil {
		return nil, false, apperr.Unavailable("failed to mark message read", err)
	}

	msg.IsRead = true
	msg.ReadAt = &now
	return msg, true, nil
}

// ListMessages returns non-deleted messages in chronological order.
// The cursor restricts to messages created strictly before the cursor
// message, so paging stays gapless while new messages keep arriving.
func (db *PostgresDB) ListMessages(conversationID, requesterID uuid.UUID, beforeMessageID *uuid.UUID, limit int) ([]*models.Message, error) {
	ok, err := db.IsParticipant(conversationID, requesterID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("conversation not found")
	}

	if limit < 1 || limit > 100 {
		limit = 50
	}

	var rows *sql.Rows
	if beforeMessageID != nil {
		cursor, err := db.GetMessageByID(*beforeMessageID)
		if err != nil {
			return nil, err
		}
		if cursor.ConversationID != conversationID {
			return nil, apperr.InvalidArg("cursor message belongs to another conversation")
		}
		rows, err = db.Query(`
			SELECT `+messageColumns+` FROM messages
			WHERE conversation_id = $1 AND deleted_at IS NULL AND created_at < $2
			ORDER BY created_at DESC, id DESC LIMIT $3`,
			conversationID, cursor.CreatedAt, limit)
		if err != nil {
			return nil, apperr.Unavailable("failed to list messages", err)
		}
	} else {
		rows, err = db.Query(`
			SELECT `+messageColumns+` FROM messages
			WHERE conversation_id = $1 AND deleted_at IS NULL
			ORDER BY created_at DESC, id DESC LIMIT $2`,
			conversationID, limit)
		if err != nil {
			return nil, apperr.Unavailable("failed to list messages", err)
		}
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, apperr.Unavailable("failed to scan message row", err)
		}
		messages = append(messages, msg)
	}
	if err = rows.Err(); err != nil {
		return nil, apperr.Unavailable("error iterating message rows", err)
	}

	// fetched newest-first, returned chronological
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (db *PostgresDB) CountUnread(userID uuid.UUID) (int, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE m.recipient_id = $1 AND m.is_read = FALSE AND m.deleted_at IS NULL AND c.is_active`,
		userID).Scan(&count)
	if err != nil {
		return 0, apperr.Unavailable("failed to count unread messages", err)
	}
	return count, nil
}

// loadConversation assembles a conversation with its participants and
// most recent non-deleted message. The last message is read from the
// message log rather than the cached pointer.
func (db *PostgresDB) loadConversation(conversationID uuid.UUID) (*models.Conversation, error) {
	conv := &models.Conversation{ID: conversationID}
	var relatedDonation, relatedCause sql.NullString

	err := db.QueryRow(`
		SELECT related_donation_id, related_cause_id, is_active, created_at, updated_at
		FROM conversations WHERE id = $1`,
		conversationID).Scan(&relatedDonation, &relatedCause, &conv.IsActive, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("conversation not found")
	}
	if err != nil {
		return nil, apperr.Unavailable("failed to load conversation", err)
	}

	conv.RelatedDonationID = parseNullUUID(relatedDonation)
	conv.RelatedCauseID = parseNullUUID(relatedCause)

	rows, err := db.Query(`
		SELECT user_id, last_read_at FROM conversation_participants
		WHERE conversation_id = $1 ORDER BY user_id`,
		conversationID)
	if err != nil {
		return nil, apperr.Unavailable("failed to load participants", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.Participant
		var lastReadAt sql.NullTime
		if err := rows.Scan(&p.UserID, &lastReadAt); err != nil {
			return nil, apperr.Unavailable("failed to scan participant row", err)
		}
		if lastReadAt.Valid {
			p.LastReadAt = &lastReadAt.Time
		}
		conv.Participants = append(conv.Participants, p)
	}
	if err = rows.Err(); err != nil {
		return nil, apperr.Unavailable("error iterating participant rows", err)
	}

	row := db.QueryRow(`
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		conversationID)
	last, err := scanMessage(row)
	if err != nil && err != sql.ErrNoRows {
		return nil, apperr.Unavailable("failed to load last message", err)
	}
	if err == nil {
		conv.LastMessage = last
	}

	return conv, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var msg models.Message
	var readAt, editedAt, deletedAt sql.NullTime
	var replyTo sql.NullString

	err := row.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.RecipientID,
		&msg.Content, &msg.MessageType, &msg.IsRead, &readAt, &editedAt, &deletedAt,
		&replyTo, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}

	if readAt.Valid {
		msg.ReadAt = &readAt.Time
	}
	if editedAt.Valid {
		msg.EditedAt = &editedAt.Time
	}
	if deletedAt.Valid {
		msg.DeletedAt = &deletedAt.Time
	}
	msg.ReplyToID = parseNullUUID(replyTo)

	return &msg, nil
}

func uuidOrNil(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

func parseNullUUID(s sql.NullString) *uuid.UUID {
	if !s.Valid {
		return nil
	}
	id, err := uuid.Parse(s.String)
	if err != nil {
		return nil
	}
	return &id
}
