package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"booking-chat/internal/middleware"
)

func requestIDFromContext(c *gin.Context) string {
	if id := c.GetString(middleware.RequestIDKey); id != "" {
		return id
	}
	requestID := c.GetHeader(middleware.RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(middleware.RequestIDKey, requestID)
	return requestID
}

// userIDFromContext returns the authenticated user, or the user named by
// an internal caller in X-User-ID.
func userIDFromContext(c *gin.Context) *int64 {
	if userID := c.GetInt64(middleware.UserIDKey); userID != 0 {
		return &userID
	}
	if header := c.GetHeader("X-User-ID"); header != "" {
		if parsed, err := strconv.ParseInt(header, 10, 64); err == nil && parsed > 0 {
			return &parsed
		}
	}
	return nil
}
