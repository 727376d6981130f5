package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/givebridge/messaging/internal/models"
	"github.com/givebridge/messaging/internal/service"
)

// MessageHandler handles message-related routes
type MessageHandler struct {
	Service *service.ConversationService
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(svc *service.ConversationService) *MessageHandler {
	return &MessageHandler{Service: svc}
}

// SendMessage appends a message; the conversation is found or created
// when no conversation_id is supplied.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.Service.SendMessage(userID, req)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// EditMessage replaces a message's content, sender-only.
func (h *MessageHandler) EditMessage(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	messageID, ok := pathUUID(c, "messageID")
	if !ok {
		return
	}

	var req models.EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.Service.EditMessage(userID, messageID, req.Content)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, msg)
}

// DeleteMessage soft-deletes a message, sender-only.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	messageID, ok := pathUUID(c, "messageID")
	if !ok {
		return
	}

	if _, err := h.Service.DeleteMessage(userID, messageID); err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Message deleted"})
}

// MarkMessageRead marks one message as read, recipient-only.
func (h *MessageHandler) MarkMessageRead(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	messageID, ok := pathUUID(c, "messageID")
	if !ok {
		return
	}

	msg, err := h.Service.MarkMessageRead(userID, messageID)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, msg)
}

// UnreadCount reports the caller's total unread messages.
func (h *MessageHandler) UnreadCount(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	count, err := h.Service.UnreadCount(userID)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.UnreadCountResponse{UnreadCount: count})
}
