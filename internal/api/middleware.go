package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/givebridge/messaging/internal/auth"
)

// AuthMiddleware resolves the session credential to a user identity and
// sets it in the request context. Websocket clients cannot set headers,
// so a ?token= query parameter is accepted as a fallback.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ""

		authHeader := c.GetHeader("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		} else if token := c.Query("token"); token != "" {
			tokenString = token
		}

		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
			c.Abort()
			return
		}

		userID, claims, err := auth.VerifyCredential(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		c.Set("userID", userID)
		c.Set("userName", claims.Name)

		c.Next()
	}
}
