package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"booking-chat/internal/chat"
	"booking-chat/internal/models"
	"booking-chat/internal/repositories"
)

// LifecycleService opens, ends and deletes chat sessions.
type LifecycleService interface {
	OpenSession(ctx context.Context, bookingID, requesterID int64, fulfillerID *int64, actor chat.Actor) (models.ChatSession, error)
	EndSession(ctx context.Context, sessionID int64, actor chat.Actor) (bool, error)
	DeleteSession(ctx context.Context, sessionID int64, actor chat.Actor) error
}

// LifecycleHandler serves the internal lifecycle triggers used by the
// booking platform.
type LifecycleHandler struct {
	chat LifecycleService
}

// NewLifecycleHandler builds a LifecycleHandler.
func NewLifecycleHandler(svc LifecycleService) *LifecycleHandler {
	return &LifecycleHandler{chat: svc}
}

// OpenChat creates the chat for an accepted booking. Repeating it returns
// the existing session.
func (h *LifecycleHandler) OpenChat(c *gin.Context) {
	bookingID, err := strconv.ParseInt(c.Param("booking_id"), 10, 64)
	if err != nil || bookingID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid booking id"})
		return
	}
	var req struct {
		RequesterID int64  `json:"requester_id" binding:"required,gt=0"`
		FulfillerID *int64 `json:"fulfiller_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.chat.OpenSession(c.Request.Context(), bookingID, req.RequesterID, req.FulfillerID, actorFromContext(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not open chat"})
		return
	}
	c.JSON(http.StatusOK, session)
}

// EndChat ends a session.
func (h *LifecycleHandler) EndChat(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	changed, err := h.chat.EndSession(c.Request.Context(), sessionID, actorFromContext(c))
	if errors.Is(err, repositories.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not end chat"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "ended": changed})
}

// DeleteChat purges a session and its messages.
func (h *LifecycleHandler) DeleteChat(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	err := h.chat.DeleteSession(c.Request.Context(), sessionID, actorFromContext(c))
	if errors.Is(err, repositories.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete chat"})
		return
	}
	c.Status(http.StatusNoContent)
}

func sessionParam(c *gin.Context) (int64, bool) {
	sessionID, err := strconv.ParseInt(c.Param("session_id"), 10, 64)
	if err != nil || sessionID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return 0, false
	}
	return sessionID, true
}

func actorFromContext(c *gin.Context) chat.Actor {
	return chat.Actor{RequestID: requestIDFromContext(c), UserID: userIDFromContext(c)}
}
