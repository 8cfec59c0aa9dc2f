package chat

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"booking-chat/internal/models"
	"booking-chat/internal/observability"
	"booking-chat/internal/presence"
	"booking-chat/internal/repositories"
	"booking-chat/internal/telemetry"
	"booking-chat/internal/ws"
)

const (
	DefaultHistoryLimit = 50
	DefaultHistoryMax   = 100
)

// PushSink receives notifications for recipients that are offline.
type PushSink interface {
	EnqueuePush(ctx context.Context, push models.PushNotification) error
}

// Auditor records session lifecycle changes.
type Auditor interface {
	EmitSession(ctx context.Context, audit telemetry.SessionAudit)
}

// Deps are the collaborators of the chat service.
type Deps struct {
	Sessions      repositories.SessionRepository
	Messages      repositories.MessageRepository
	Notifications repositories.NotificationRepository
	Users         repositories.UserRepository
	Hub           *ws.Hub
	Registry      *ws.Registry
	Typing        *presence.Tracker
	Push          PushSink
	Audit         Auditor
}

// Options tune timeouts and paging.
type Options struct {
	StoreTimeout    time.Duration
	NotifyTimeout   time.Duration
	HistoryMaxLimit int
}

// Service implements the chat operations shared by the websocket gateway
// and the REST handlers. Authorization is re-derived from storage on every
// call.
type Service struct {
	sessions      repositories.SessionRepository
	messages      repositories.MessageRepository
	notifications repositories.NotificationRepository
	users         repositories.UserRepository
	hub           *ws.Hub
	registry      *ws.Registry
	typing        *presence.Tracker
	push          PushSink
	audit         Auditor
	opts          Options
	validate      *validator.Validate

	tasksMu sync.Mutex
	closed  bool
	tasks   sync.WaitGroup

	onlineMu    sync.Mutex
	onlineRerun map[int64]bool
}

// NewService builds the service and takes over the tracker's expiry callback.
func NewService(deps Deps, opts Options) *Service {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 5 * time.Second
	}
	if opts.HistoryMaxLimit <= 0 {
		opts.HistoryMaxLimit = DefaultHistoryMax
	}
	s := &Service{
		sessions:      deps.Sessions,
		messages:      deps.Messages,
		notifications: deps.Notifications,
		users:         deps.Users,
		hub:           deps.Hub,
		registry:      deps.Registry,
		typing:        deps.Typing,
		push:          deps.Push,
		audit:         deps.Audit,
		opts:          opts,
		validate:      validator.New(),
		onlineRerun:   make(map[int64]bool),
	}
	if s.typing != nil {
		s.typing.SetExpireFunc(s.typingExpired)
	}
	return s
}

// Wait blocks until background tasks (notifications, online flag updates) finish.
func (s *Service) Wait() {
	s.tasks.Wait()
}

// Close stops accepting background tasks and waits for the running ones.
// Side effects requested afterwards are dropped.
func (s *Service) Close() {
	s.tasksMu.Lock()
	s.closed = true
	s.tasksMu.Unlock()
	s.tasks.Wait()
}

// Join subscribes the peer to a session room.
func (s *Service) Join(ctx context.Context, peer ws.Peer, p models.Principal, sessionID int64) error {
	const op = "join"
	if err := s.validate.Struct(models.SessionRef{SessionID: sessionID}); err != nil {
		return s.fail(op, KindMissingFields, err)
	}
	if _, _, err := s.authorize(ctx, op, p.ID, sessionID); err != nil {
		return err
	}

	s.hub.Subscribe(sessionID, peer)
	s.sendTo(peer, models.EventJoinedChat, models.JoinedPayload{SessionID: sessionID})
	s.broadcast(sessionID, models.EventUserJoined, models.ParticipantPayload{
		SessionID:   sessionID,
		PrincipalID: p.ID,
		Name:        p.Name,
	}, peer)
	return nil
}

// Leave unsubscribes the peer. Leaving is not access controlled.
func (s *Service) Leave(_ context.Context, peer ws.Peer, p models.Principal, sessionID int64) error {
	const op = "leave"
	if err := s.validate.Struct(models.SessionRef{SessionID: sessionID}); err != nil {
		return s.fail(op, KindMissingFields, err)
	}

	s.hub.Unsubscribe(sessionID, peer)
	s.sendTo(peer, models.EventLeftChat, models.JoinedPayload{SessionID: sessionID})
	s.broadcast(sessionID, models.EventUserLeft, models.ParticipantPayload{
		SessionID:   sessionID,
		PrincipalID: p.ID,
		Name:        p.Name,
	}, peer)
	return nil
}

// Send persists a message, echoes it to the whole room including the sender,
// acknowledges it to the sender and schedules the notification record.
func (s *Service) Send(ctx context.Context, peer ws.Peer, p models.Principal, req models.SendMessageRequest) (models.Message, error) {
	const op = "send"
	if err := s.validate.Struct(req); err != nil {
		return models.Message{}, s.fail(op, KindMissingFields, err)
	}
	_, role, err := s.authorize(ctx, op, p.ID, req.SessionID)
	if err != nil {
		return models.Message{}, err
	}

	messageType := req.MessageType
	if messageType == "" {
		messageType = models.MessageText
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	msg, err := s.messages.Create(storeCtx, models.NewMessage{
		SessionID:   req.SessionID,
		SenderID:    p.ID,
		SenderType:  role,
		MessageType: messageType,
		Content:     req.Content,
		FileURL:     req.FileURL,
		FileName:    req.FileName,
		FileSize:    req.FileSize.Value,
	})
	if err != nil {
		return models.Message{}, s.failErr(storeFailure(op, err))
	}
	observability.IncMessageSent(string(role), string(messageType))

	s.broadcast(req.SessionID, models.EventNewMessage, models.NewMessagePayload(msg, p.Name, p.Phone), nil)
	s.sendTo(peer, models.EventMessageSent, models.SentPayload{MessageID: msg.ID, SessionID: msg.SessionID})

	s.spawn(func() { s.notify(msg, p.Name) })
	return msg, nil
}

// StartTyping marks the principal as typing. Unauthorized calls are ignored.
func (s *Service) StartTyping(ctx context.Context, peer ws.Peer, p models.Principal, sessionID int64) {
	if sessionID <= 0 {
		return
	}
	if _, _, err := s.authorize(ctx, "typing_start", p.ID, sessionID); err != nil {
		return
	}
	s.typing.Start(sessionID, p.ID)
	s.broadcast(sessionID, models.EventUserTyping, models.TypingPayload{
		SessionID:   sessionID,
		PrincipalID: p.ID,
		Name:        p.Name,
		IsTyping:    true,
	}, peer)
}

// StopTyping clears the principal's marker. Removing an absent marker is a no-op.
func (s *Service) StopTyping(peer ws.Peer, p models.Principal, sessionID int64) {
	if sessionID <= 0 {
		return
	}
	s.typing.Stop(sessionID, p.ID)
	s.broadcast(sessionID, models.EventUserTyping, models.TypingPayload{
		SessionID:   sessionID,
		PrincipalID: p.ID,
		Name:        p.Name,
		IsTyping:    false,
	}, peer)
}

func (s *Service) typingExpired(sessionID, userID int64) {
	var exclude ws.Peer
	if peer, ok := s.registry.Lookup(userID); ok {
		exclude = peer
	}
	observability.IncWSEvent("chat", "typing_expired")
	s.broadcast(sessionID, models.EventUserTyping, models.TypingPayload{
		SessionID:   sessionID,
		PrincipalID: userID,
		IsTyping:    false,
	}, exclude)
}

// MarkRead flags messages of other participants as read and tells the rest
// of the room. The store never flips the caller's own messages.
func (s *Service) MarkRead(ctx context.Context, peer ws.Peer, p models.Principal, req models.MarkReadRequest) ([]int64, error) {
	const op = "mark_read"
	if err := s.validate.Struct(req); err != nil {
		return nil, s.fail(op, KindMissingFields, err)
	}
	if _, _, err := s.authorize(ctx, op, p.ID, req.SessionID); err != nil {
		return nil, err
	}

	ids := lo.Uniq(lo.Filter(req.MessageIDs, func(id int64, _ int) bool { return id > 0 }))
	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	updated, err := s.messages.MarkRead(storeCtx, req.SessionID, p.ID, ids)
	if err != nil {
		return nil, s.failErr(storeFailure(op, err))
	}

	s.broadcast(req.SessionID, models.EventMessagesRead, models.ReadPayload{
		SessionID:  req.SessionID,
		ReaderID:   p.ID,
		MessageIDs: ids,
	}, peer)
	return updated, nil
}

// FetchHistory sends a page of history to the caller.
func (s *Service) FetchHistory(ctx context.Context, peer ws.Peer, p models.Principal, req models.HistoryRequest) (models.HistoryPayload, error) {
	page, err := s.History(ctx, p.ID, req)
	if err != nil {
		return models.HistoryPayload{}, err
	}
	s.sendTo(peer, models.EventChatHistory, page)
	return page, nil
}

// History returns the most recent messages of a session in ascending order.
// HasMore is set when the page is full.
func (s *Service) History(ctx context.Context, principalID int64, req models.HistoryRequest) (models.HistoryPayload, error) {
	const op = "history"
	if req.Limit <= 0 {
		req.Limit = DefaultHistoryLimit
	}
	if req.Limit > s.opts.HistoryMaxLimit {
		req.Limit = s.opts.HistoryMaxLimit
	}
	if req.Offset < 0 {
		req.Offset = 0
	}
	if err := s.validate.Struct(req); err != nil {
		return models.HistoryPayload{}, s.fail(op, KindMissingFields, err)
	}
	if _, _, err := s.authorize(ctx, op, principalID, req.SessionID); err != nil {
		return models.HistoryPayload{}, err
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	views, err := s.messages.ListRecent(storeCtx, req.SessionID, req.Limit, req.Offset)
	if err != nil {
		return models.HistoryPayload{}, s.failErr(storeFailure(op, err))
	}

	// fetched newest first, delivered oldest first
	messages := lo.Map(views, func(_ models.MessageView, i int) models.MessagePayload {
		v := views[len(views)-1-i]
		return models.NewMessagePayload(v.Message, lo.FromPtr(v.SenderName), lo.FromPtr(v.SenderPhone))
	})
	return models.HistoryPayload{
		SessionID: req.SessionID,
		Messages:  messages,
		HasMore:   len(views) == req.Limit,
	}, nil
}

// ListSessions returns every session the principal belongs to.
func (s *Service) ListSessions(ctx context.Context, principalID int64) ([]models.ChatSession, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	sessions, err := s.sessions.ListSessionsForUser(storeCtx, principalID)
	if err != nil {
		return nil, s.failErr(storeFailure("list_sessions", err))
	}
	return sessions, nil
}

// authorize loads the membership and derives the principal's role.
func (s *Service) authorize(ctx context.Context, op string, principalID, sessionID int64) (models.Membership, models.Role, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	membership, err := s.sessions.GetMembership(storeCtx, sessionID)
	if errors.Is(err, repositories.ErrSessionNotFound) {
		return models.Membership{}, "", s.fail(op, KindAccessDenied, err)
	}
	if err != nil {
		return models.Membership{}, "", s.failErr(storeFailure(op, err))
	}
	role, ok := RoleOf(principalID, membership)
	if !ok {
		return models.Membership{}, "", s.fail(op, KindAccessDenied, nil)
	}
	return membership, role, nil
}

func (s *Service) fail(op string, kind Kind, err error) *OpError {
	return s.failErr(&OpError{Op: op, Kind: kind, Err: err})
}

func (s *Service) failErr(e *OpError) *OpError {
	observability.IncOperationError(e.Op, string(e.Kind))
	if e.Kind == KindInternal || e.Kind == KindTimeout {
		log.Printf("chat %s failed kind=%s: %v", e.Op, e.Kind, e.Err)
	}
	return e
}

func (s *Service) sendTo(peer ws.Peer, eventType string, payload any) {
	if peer == nil {
		return
	}
	frame, err := models.NewFrame(eventType, payload)
	if err != nil {
		log.Printf("chat encode %s: %v", eventType, err)
		return
	}
	peer.Send(frame)
}

func (s *Service) broadcast(sessionID int64, eventType string, payload any, exclude ws.Peer) int {
	frame, err := models.NewFrame(eventType, payload)
	if err != nil {
		log.Printf("chat encode %s: %v", eventType, err)
		return 0
	}
	return s.hub.Broadcast(sessionID, frame, exclude)
}

// spawn runs a best-effort side effect off the caller's path. It reports
// false once the service is closed.
func (s *Service) spawn(fn func()) bool {
	s.tasksMu.Lock()
	if s.closed {
		s.tasksMu.Unlock()
		return false
	}
	s.tasks.Add(1)
	s.tasksMu.Unlock()

	go func() {
		defer s.tasks.Done()
		fn()
	}()
	return true
}
