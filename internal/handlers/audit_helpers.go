package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"room-chat/internal/middleware"
	"room-chat/internal/observability"
)

// requestIDFromContext prefers the id assigned by middleware.RequestLogger and
// only mints one for routes mounted without it.
func requestIDFromContext(c *gin.Context) string {
	if id := c.GetString(middleware.RequestIDKey); id != "" {
		return id
	}
	requestID := observability.RequestIDFromRequest(c.Request)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(middleware.RequestIDKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) *string {
	if userID := c.GetString("userID"); userID != "" {
		return &userID
	}
	return nil
}
