package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HandleWebSocket upgrades an authenticated request to a channel
// connection. Authentication happens before the upgrade (middleware
// resolves the credential to a user identity); an unauthenticated
// request is rejected without processing any event.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		log.Warn("No userID in context, rejecting connection from %s", c.Request.RemoteAddr)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	userUUID, ok := userID.(uuid.UUID)
	if !ok {
		log.Error("Invalid user identity in context from %s", c.Request.RemoteAddr)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Invalid user identification"})
		return
	}

	upgrader := websocketUpgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("Failed to upgrade connection: %v", err)
		return
	}

	client := newClient(h, userUUID, conn)
	h.register <- client

	go client.readPump()
	go client.writePump()
	log.Debug("Connection %s ready for user %s", client.ConnID, client.UserID)
}
