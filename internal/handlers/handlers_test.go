package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"booking-chat/internal/chat"
	"booking-chat/internal/mocks"
	"booking-chat/internal/models"
	"booking-chat/internal/presence"
	"booking-chat/internal/repositories"
	"booking-chat/internal/telemetry"
	"booking-chat/internal/ws"
)

type testDeps struct {
	sessions *mocks.SessionRepositoryMock
	messages *mocks.MessageRepositoryMock
	hub      *ws.Hub
	svc      *chat.Service
}

func newTestDeps(audit chat.Auditor) *testDeps {
	d := &testDeps{
		sessions: new(mocks.SessionRepositoryMock),
		messages: new(mocks.MessageRepositoryMock),
		hub:      ws.NewHub(),
	}
	d.svc = chat.NewService(chat.Deps{
		Sessions:      d.sessions,
		Messages:      d.messages,
		Notifications: new(mocks.NotificationRepositoryMock),
		Hub:           d.hub,
		Registry:      ws.NewRegistry(),
		Typing:        presence.NewTracker(0, nil),
		Audit:         audit,
	}, chat.Options{StoreTimeout: time.Second})
	return d
}

func setupRouter(d *testDeps) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	sessions := NewSessionHandler(d.svc)
	lifecycle := NewLifecycleHandler(d.svc)
	authed := r.Group("/", func(c *gin.Context) {
		c.Set("userID", int64(1))
		c.Next()
	})
	authed.GET("/sessions", sessions.ListSessions)
	authed.GET("/sessions/:session_id/messages", sessions.GetMessages)
	r.POST("/internal/bookings/:booking_id/chat", lifecycle.OpenChat)
	r.POST("/internal/chats/:session_id/end", lifecycle.EndChat)
	r.DELETE("/internal/chats/:session_id", lifecycle.DeleteChat)
	return r
}

func activeMembership(id int64) models.Membership {
	fulfillerID := int64(2)
	return models.Membership{Session: models.ChatSession{ID: id, BookingID: 70, RequesterID: 1, FulfillerID: &fulfillerID, Status: models.SessionActive}}
}

func serve(router *gin.Engine, method, path string, body string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestListSessionsSuccess(t *testing.T) {
	d := newTestDeps(nil)
	router := setupRouter(d)
	d.sessions.On("ListSessionsForUser", mock.Anything, int64(1)).Return([]models.ChatSession{{ID: 7, BookingID: 70}}, nil).Once()

	rec := serve(router, http.MethodGet, "/sessions", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Sessions []models.ChatSession `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Sessions, 1)
	assert.Equal(t, int64(7), resp.Sessions[0].ID)
	d.sessions.AssertExpectations(t)
}

func TestListSessionsRepoError(t *testing.T) {
	d := newTestDeps(nil)
	router := setupRouter(d)
	d.sessions.On("ListSessionsForUser", mock.Anything, int64(1)).Return(([]models.ChatSession)(nil), assert.AnError).Once()

	rec := serve(router, http.MethodGet, "/sessions", "")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	d.sessions.AssertExpectations(t)
}

func TestGetMessagesReturnsAscendingPage(t *testing.T) {
	d := newTestDeps(nil)
	router := setupRouter(d)
	name := "Rita"
	d.sessions.On("GetMembership", mock.Anything, int64(7)).Return(activeMembership(7), nil).Once()
	d.messages.On("ListRecent", mock.Anything, int64(7), 2, 4).Return([]models.MessageView{
		{Message: models.Message{ID: 6, SessionID: 7, SenderID: 1, Content: "newer"}, SenderName: &name},
		{Message: models.Message{ID: 5, SessionID: 7, SenderID: 2, Content: "older"}},
	}, nil).Once()

	rec := serve(router, http.MethodGet, "/sessions/7/messages?limit=2&offset=4", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var page models.HistoryPayload
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "older", page.Messages[0].Content)
	assert.Equal(t, "newer", page.Messages[1].Content)
	assert.Equal(t, "Rita", page.Messages[1].SenderName)
	assert.True(t, page.HasMore)
	d.sessions.AssertExpectations(t)
	d.messages.AssertExpectations(t)
}

func TestGetMessagesForbidden(t *testing.T) {
	d := newTestDeps(nil)
	router := setupRouter(d)
	membership := activeMembership(8)
	membership.Session.RequesterID = 5
	d.sessions.On("GetMembership", mock.Anything, int64(8)).Return(membership, nil).Once()

	rec := serve(router, http.MethodGet, "/sessions/8/messages", "")

	require.Equal(t, http.StatusForbidden, rec.Code)
	d.messages.AssertNotCalled(t, "ListRecent", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGetMessagesBadInput(t *testing.T) {
	d := newTestDeps(nil)
	router := setupRouter(d)

	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodGet, "/sessions/abc/messages", "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodGet, "/sessions/7/messages?limit=x", "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodGet, "/sessions/7/messages?offset=-1", "").Code)
}

type auditRecorder struct {
	audits []telemetry.SessionAudit
}

func (a *auditRecorder) EmitSession(_ context.Context, audit telemetry.SessionAudit) {
	a.audits = append(a.audits, audit)
}

func TestOpenChat(t *testing.T) {
	audit := &auditRecorder{}
	d := newTestDeps(audit)
	router := setupRouter(d)
	fulfillerID := int64(2)
	d.sessions.On("CreateOrGet", mock.Anything, int64(70), int64(1), &fulfillerID).
		Return(models.ChatSession{ID: 7, BookingID: 70, RequesterID: 1, FulfillerID: &fulfillerID, Status: models.SessionActive}, nil).Once()
	d.sessions.On("GetMembership", mock.Anything, int64(7)).Return(activeMembership(7), nil).Once()

	rec := serve(router, http.MethodPost, "/internal/bookings/70/chat", `{"requester_id":1,"fulfiller_id":2}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var session models.ChatSession
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&session))
	assert.Equal(t, int64(7), session.ID)
	require.Len(t, audit.audits, 1)
	assert.Equal(t, "opened", audit.audits[0].Action)
	assert.NotEmpty(t, audit.audits[0].RequestID)
	d.sessions.AssertExpectations(t)

	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodPost, "/internal/bookings/70/chat", `{}`).Code)
}

func TestEndChat(t *testing.T) {
	d := newTestDeps(nil)
	router := setupRouter(d)
	session := activeMembership(7).Session
	d.sessions.On("GetSession", mock.Anything, int64(7)).Return(session, nil).Once()
	d.sessions.On("End", mock.Anything, int64(7)).Return(true, nil).Once()
	d.sessions.On("GetSession", mock.Anything, int64(9)).Return(models.ChatSession{}, repositories.ErrSessionNotFound).Once()

	rec := serve(router, http.MethodPost, "/internal/chats/7/end", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, true, resp["ended"])

	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodPost, "/internal/chats/9/end", "").Code)
	d.sessions.AssertExpectations(t)
}

func TestDeleteChat(t *testing.T) {
	d := newTestDeps(nil)
	router := setupRouter(d)
	session := activeMembership(7).Session
	d.sessions.On("GetSession", mock.Anything, int64(7)).Return(session, nil).Once()
	d.sessions.On("Delete", mock.Anything, int64(7)).Return(nil).Once()
	d.sessions.On("GetSession", mock.Anything, int64(8)).Return(session, nil).Once()
	d.sessions.On("Delete", mock.Anything, int64(8)).Return(assert.AnError).Once()

	assert.Equal(t, http.StatusNoContent, serve(router, http.MethodDelete, "/internal/chats/7", "").Code)
	assert.Equal(t, http.StatusInternalServerError, serve(router, http.MethodDelete, "/internal/chats/8", "").Code)
	d.sessions.AssertExpectations(t)
}

type capturePublisher struct {
	events []any
}

func (p *capturePublisher) Publish(_ context.Context, _ string, event any) error {
	p.events = append(p.events, event)
	return nil
}

type fixedCounter int

func (n fixedCounter) Count() int { return int(n) }

func TestDebugRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	pub := &capturePublisher{}
	r := gin.New()
	RegisterDebugRoutes(r, DebugDeps{
		Audit:       telemetry.NewAuditEmitter(pub, "audit.chat", "booking-chat", "test"),
		Connections: fixedCounter(3),
	}, true)

	req := httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil)
	req.Header.Set("X-User-ID", "42")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, pub.events, 1)
	envelope := pub.events[0].(telemetry.AuditEnvelope)
	require.NotNil(t, envelope.UserID)
	assert.Equal(t, "42", *envelope.UserID)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/connections", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"online_principals":3}`, rec.Body.String())

	disabled := gin.New()
	RegisterDebugRoutes(disabled, DebugDeps{}, false)
	rec = httptest.NewRecorder()
	disabled.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
