package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"booking-chat/internal/models"
	"booking-chat/internal/repositories"
)

type SessionRepositoryMock struct {
	mock.Mock
}

func (m *SessionRepositoryMock) CreateOrGet(ctx context.Context, bookingID, requesterID int64, fulfillerID *int64) (models.ChatSession, error) {
	args := m.Called(ctx, bookingID, requesterID, fulfillerID)
	var session models.ChatSession
	if val := args.Get(0); val != nil {
		session = val.(models.ChatSession)
	}
	return session, args.Error(1)
}

func (m *SessionRepositoryMock) GetSession(ctx context.Context, sessionID int64) (models.ChatSession, error) {
	args := m.Called(ctx, sessionID)
	var session models.ChatSession
	if val := args.Get(0); val != nil {
		session = val.(models.ChatSession)
	}
	return session, args.Error(1)
}

func (m *SessionRepositoryMock) GetByBooking(ctx context.Context, bookingID int64) (models.ChatSession, error) {
	args := m.Called(ctx, bookingID)
	var session models.ChatSession
	if val := args.Get(0); val != nil {
		session = val.(models.ChatSession)
	}
	return session, args.Error(1)
}

func (m *SessionRepositoryMock) GetMembership(ctx context.Context, sessionID int64) (models.Membership, error) {
	args := m.Called(ctx, sessionID)
	var membership models.Membership
	if val := args.Get(0); val != nil {
		membership = val.(models.Membership)
	}
	return membership, args.Error(1)
}

func (m *SessionRepositoryMock) ListAuthorizedSessionIDs(ctx context.Context, userID int64) ([]int64, error) {
	args := m.Called(ctx, userID)
	var ids []int64
	if val := args.Get(0); val != nil {
		ids = val.([]int64)
	}
	return ids, args.Error(1)
}

func (m *SessionRepositoryMock) ListSessionsForUser(ctx context.Context, userID int64) ([]models.ChatSession, error) {
	args := m.Called(ctx, userID)
	var sessions []models.ChatSession
	if val := args.Get(0); val != nil {
		sessions = val.([]models.ChatSession)
	}
	return sessions, args.Error(1)
}

func (m *SessionRepositoryMock) End(ctx context.Context, sessionID int64) (bool, error) {
	args := m.Called(ctx, sessionID)
	return args.Bool(0), args.Error(1)
}

func (m *SessionRepositoryMock) Delete(ctx context.Context, sessionID int64) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Create(ctx context.Context, msg models.NewMessage) (models.Message, error) {
	args := m.Called(ctx, msg)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, sessionID, readerID int64, messageIDs []int64) ([]int64, error) {
	args := m.Called(ctx, sessionID, readerID, messageIDs)
	var ids []int64
	if val := args.Get(0); val != nil {
		ids = val.([]int64)
	}
	return ids, args.Error(1)
}

func (m *MessageRepositoryMock) ListRecent(ctx context.Context, sessionID int64, limit, offset int) ([]models.MessageView, error) {
	args := m.Called(ctx, sessionID, limit, offset)
	var msgs []models.MessageView
	if val := args.Get(0); val != nil {
		msgs = val.([]models.MessageView)
	}
	return msgs, args.Error(1)
}

type NotificationRepositoryMock struct {
	mock.Mock
}

func (m *NotificationRepositoryMock) Create(ctx context.Context, n models.Notification) (models.Notification, error) {
	args := m.Called(ctx, n)
	var out models.Notification
	if val := args.Get(0); val != nil {
		out = val.(models.Notification)
	}
	return out, args.Error(1)
}

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) FindActiveByID(ctx context.Context, userID int64) (models.Principal, error) {
	args := m.Called(ctx, userID)
	var p models.Principal
	if val := args.Get(0); val != nil {
		p = val.(models.Principal)
	}
	return p, args.Error(1)
}

func (m *UserRepositoryMock) SetOnline(ctx context.Context, userID int64, online bool) error {
	args := m.Called(ctx, userID, online)
	return args.Error(0)
}

var _ repositories.SessionRepository = (*SessionRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.NotificationRepository = (*NotificationRepositoryMock)(nil)
var _ repositories.UserRepository = (*UserRepositoryMock)(nil)
