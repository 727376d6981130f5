package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/givebridge/messaging/internal/apperr"
	"github.com/givebridge/messaging/internal/models"
	"github.com/givebridge/messaging/internal/service"
)

// ConversationHandler handles conversation-related routes
type ConversationHandler struct {
	Service *service.ConversationService
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(svc *service.ConversationService) *ConversationHandler {
	return &ConversationHandler{Service: svc}
}

// CreateConversation starts a conversation with an initial message.
// Returns 201 with the conversation and message, or 409 carrying the
// existing conversation id when the pair already has an active one.
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, msg, err := h.Service.CreateConversation(userID, req)
	if apperr.Is(err, apperr.CodeConflict) {
		c.JSON(http.StatusConflict, gin.H{
			"error":           "Conversation already exists",
			"code":            apperr.CodeConflict,
			"conversation_id": conv.ID,
		})
		return
	}
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"conversation": conv, "message": msg})
}

// ListConversations returns the caller's conversations, most recently
// updated first.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	unreadOnly := c.Query("unread_only") == "true"

	convs, err := h.Service.ListConversations(userID, page, limit, unreadOnly)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.ConversationListResponse{
		Conversations: convs,
		Page:          page,
		PageSize:      limit,
	})
}

// GetConversation returns one conversation for an active participant.
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(c, "conversationID")
	if !ok {
		return
	}

	conv, err := h.Service.GetConversation(userID, conversationID)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, conv)
}

// ListMessages returns a chronological page of the conversation's
// messages; ?before= sets the pagination cursor.
func (h *ConversationHandler) ListMessages(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(c, "conversationID")
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	var before *uuid.UUID
	if cursor := c.Query("before"); cursor != "" {
		id, err := uuid.Parse(cursor)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cursor"})
			return
		}
		before = &id
	}

	messages, err := h.Service.ListMessages(userID, conversationID, before, limit)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// MarkConversationRead bulk-reads every unread message addressed to the
// caller in the conversation.
func (h *ConversationHandler) MarkConversationRead(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(c, "conversationID")
	if !ok {
		return
	}

	count, err := h.Service.MarkConversationRead(userID, conversationID)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages_read": count})
}

// DeactivateConversation archives the conversation without deleting
// history.
func (h *ConversationHandler) DeactivateConversation(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(c, "conversationID")
	if !ok {
		return
	}

	if err := h.Service.DeactivateConversation(userID, conversationID); err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Conversation deactivated"})
}
