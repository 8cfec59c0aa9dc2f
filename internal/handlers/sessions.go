package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"booking-chat/internal/chat"
	"booking-chat/internal/middleware"
	"booking-chat/internal/models"
)

// SessionService is what the session endpoints need from the chat service.
type SessionService interface {
	ListSessions(ctx context.Context, principalID int64) ([]models.ChatSession, error)
	History(ctx context.Context, principalID int64, req models.HistoryRequest) (models.HistoryPayload, error)
}

// SessionHandler serves the authenticated session endpoints.
type SessionHandler struct {
	chat SessionService
}

// NewSessionHandler builds a SessionHandler.
func NewSessionHandler(svc SessionService) *SessionHandler {
	return &SessionHandler{chat: svc}
}

// ListSessions returns the sessions the authenticated user belongs to.
func (h *SessionHandler) ListSessions(c *gin.Context) {
	userID := c.GetInt64(middleware.UserIDKey)

	sessions, err := h.chat.ListSessions(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load sessions"})
		return
	}
	if sessions == nil {
		sessions = []models.ChatSession{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// GetMessages returns a page of history, oldest first.
func (h *SessionHandler) GetMessages(c *gin.Context) {
	sessionID, err := strconv.ParseInt(c.Param("session_id"), 10, 64)
	if err != nil || sessionID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	limit, err := intQuery(c, "limit")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	offset, err := intQuery(c, "offset")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
		return
	}

	page, err := h.chat.History(c.Request.Context(), c.GetInt64(middleware.UserIDKey), models.HistoryRequest{
		SessionID: sessionID,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": chat.ClientMessage(err)})
		return
	}
	c.JSON(http.StatusOK, page)
}

func intQuery(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, errors.New("invalid " + key)
	}
	return value, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrMissingFields):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
