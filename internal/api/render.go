package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/givebridge/messaging/internal/apperr"
)

// renderError maps an application error to its HTTP status. Unknown
// errors are reported as internal without leaking detail.
func renderError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)

	var ae *apperr.AppError
	if errors.As(err, &ae) {
		c.JSON(status, gin.H{"error": ae.Message, "code": ae.Code})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

// currentUser pulls the authenticated identity placed by the auth
// middleware. A missing identity aborts with 401.
func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return uuid.Nil, false
	}
	userUUID, ok := userID.(uuid.UUID)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return uuid.Nil, false
	}
	return userUUID, true
}

func pathUUID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + param})
		return uuid.Nil, false
	}
	return id, true
}
