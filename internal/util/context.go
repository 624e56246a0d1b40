package util

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetUserIDFromContext extracts the authenticated author id from the Gin
// context, as set by the JWT auth middleware. Returns the id and true if
// found, or empty string and false if not authenticated. If the author is
// not authenticated, it automatically responds with 401 Unauthorized.
func GetUserIDFromContext(c *gin.Context) (string, bool) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	userIDStr, ok := userID.(string)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid user ID in context"})
		return "", false
	}
	return userIDStr, true
}
