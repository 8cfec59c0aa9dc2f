package chat

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"booking-chat/internal/models"
	"booking-chat/internal/presence"
	"booking-chat/internal/repositories"
	"booking-chat/internal/telemetry"
	"booking-chat/internal/ws"
)

// memStore is an in-memory stand-in for the sqlx repositories with the same
// query semantics.
type memStore struct {
	mu            sync.Mutex
	sessions      map[int64]models.ChatSession
	assigned      map[int64][]int64 // booking id -> user ids
	messages      []models.Message
	notifications []models.Notification
	users         map[int64]models.Principal
	online        map[int64]bool
	nextSession   int64
	nextMessage   int64
	createErr     error
	membershipErr error
	notifyErr     error
	createDelay   time.Duration
}

func newMemStore() *memStore {
	return &memStore{
		sessions: map[int64]models.ChatSession{},
		assigned: map[int64][]int64{},
		users:    map[int64]models.Principal{},
		online:   map[int64]bool{},
	}
}

func (m *memStore) addSession(s models.ChatSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.Status == "" {
		s.Status = models.SessionActive
	}
	m.sessions[s.ID] = s
	if s.ID > m.nextSession {
		m.nextSession = s.ID
	}
}

func (m *memStore) CreateOrGet(_ context.Context, bookingID, requesterID int64, fulfillerID *int64) (models.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.BookingID == bookingID {
			if fulfillerID != nil {
				s.FulfillerID = fulfillerID
				m.sessions[id] = s
			}
			return s, nil
		}
	}
	m.nextSession++
	s := models.ChatSession{ID: m.nextSession, BookingID: bookingID, RequesterID: requesterID, FulfillerID: fulfillerID, Status: models.SessionActive, CreatedAt: time.Now()}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *memStore) GetSession(_ context.Context, id int64) (models.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return models.ChatSession{}, repositories.ErrSessionNotFound
	}
	return s, nil
}

func (m *memStore) GetByBooking(_ context.Context, bookingID int64) (models.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.BookingID == bookingID {
			return s, nil
		}
	}
	return models.ChatSession{}, repositories.ErrSessionNotFound
}

func (m *memStore) GetMembership(ctx context.Context, id int64) (models.Membership, error) {
	if m.membershipErr != nil {
		return models.Membership{}, m.membershipErr
	}
	s, err := m.GetSession(ctx, id)
	if err != nil {
		return models.Membership{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.Membership{Session: s, AssignedUserIDs: append([]int64(nil), m.assigned[s.BookingID]...)}, nil
}

func (m *memStore) ListAuthorizedSessionIDs(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	for _, s := range m.allSessions() {
		membership, _ := m.GetMembership(ctx, s.ID)
		if _, ok := RoleOf(userID, membership); ok {
			ids = append(ids, s.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *memStore) ListSessionsForUser(ctx context.Context, userID int64) ([]models.ChatSession, error) {
	var out []models.ChatSession
	for _, s := range m.allSessions() {
		membership, _ := m.GetMembership(ctx, s.ID)
		membership.Session.Status = models.SessionActive
		if _, ok := RoleOf(userID, membership); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) allSessions() []models.ChatSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ChatSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) End(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false, repositories.ErrSessionNotFound
	}
	if s.Status == models.SessionEnded {
		return false, nil
	}
	now := time.Now()
	s.Status = models.SessionEnded
	s.EndedAt = &now
	m.sessions[id] = s
	return true, nil
}

func (m *memStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return repositories.ErrSessionNotFound
	}
	delete(m.sessions, id)
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if msg.SessionID != id {
			kept = append(kept, msg)
		}
	}
	m.messages = kept
	return nil
}

func (m *memStore) Create(ctx context.Context, in models.NewMessage) (models.Message, error) {
	if m.createDelay > 0 {
		select {
		case <-time.After(m.createDelay):
		case <-ctx.Done():
			return models.Message{}, ctx.Err()
		}
	}
	if m.createErr != nil {
		return models.Message{}, m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextMessage++
	msg := models.Message{
		ID:          m.nextMessage,
		SessionID:   in.SessionID,
		SenderID:    in.SenderID,
		SenderType:  in.SenderType,
		MessageType: in.MessageType,
		Content:     in.Content,
		FileURL:     in.FileURL,
		FileName:    in.FileName,
		FileSize:    in.FileSize,
		CreatedAt:   time.Unix(0, 0).Add(time.Duration(m.nextMessage) * time.Second),
	}
	m.messages = append(m.messages, msg)
	s := m.sessions[in.SessionID]
	s.MessageCount++
	s.LastMessageAt = &msg.CreatedAt
	m.sessions[in.SessionID] = s
	return msg, nil
}

func (m *memStore) MarkRead(_ context.Context, sessionID, readerID int64, ids []int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[int64]bool{}
	for _, id := range ids {
		want[id] = true
	}
	now := time.Now()
	var updated []int64
	for i, msg := range m.messages {
		if msg.SessionID == sessionID && msg.SenderID != readerID && want[msg.ID] && !msg.IsRead {
			m.messages[i].IsRead = true
			m.messages[i].ReadAt = &now
			updated = append(updated, msg.ID)
		}
	}
	return updated, nil
}

func (m *memStore) ListRecent(_ context.Context, sessionID int64, limit, offset int) ([]models.MessageView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var views []models.MessageView
	for i := len(m.messages) - 1; i >= 0; i-- {
		msg := m.messages[i]
		if msg.SessionID != sessionID {
			continue
		}
		view := models.MessageView{Message: msg}
		if u, ok := m.users[msg.SenderID]; ok {
			name, phone := u.Name, u.Phone
			view.SenderName, view.SenderPhone = &name, &phone
		}
		views = append(views, view)
	}
	if offset >= len(views) {
		return nil, nil
	}
	views = views[offset:]
	if len(views) > limit {
		views = views[:limit]
	}
	return views, nil
}

func (m *memStore) messagesIn(sessionID int64) []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Message
	for _, msg := range m.messages {
		if msg.SessionID == sessionID {
			out = append(out, msg)
		}
	}
	return out
}

func (m *memStore) notificationList() []models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Notification(nil), m.notifications...)
}

type notificationStore struct{ *memStore }

func (n notificationStore) Create(_ context.Context, rec models.Notification) (models.Notification, error) {
	if n.notifyErr != nil {
		return models.Notification{}, n.notifyErr
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	rec.ID = int64(len(n.notifications) + 1)
	n.notifications = append(n.notifications, rec)
	return rec, nil
}

type userStore struct{ *memStore }

func (u userStore) FindActiveByID(_ context.Context, id int64) (models.Principal, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	p, ok := u.users[id]
	if !ok {
		return models.Principal{}, repositories.ErrUserNotFound
	}
	return p, nil
}

func (u userStore) SetOnline(_ context.Context, id int64, online bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.online[id] = online
	return nil
}

type pushRecorder struct {
	mu     sync.Mutex
	pushes []models.PushNotification
}

func (r *pushRecorder) EnqueuePush(_ context.Context, push models.PushNotification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, push)
	return nil
}

func (r *pushRecorder) list() []models.PushNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.PushNotification(nil), r.pushes...)
}

type testPeer struct {
	id     string
	userID int64
	mu     sync.Mutex
	frames []models.Frame
	closed bool
}

func newTestPeer(id string, userID int64) *testPeer {
	return &testPeer{id: id, userID: userID}
}

func (p *testPeer) ID() string    { return p.id }
func (p *testPeer) UserID() int64 { return p.userID }

func (p *testPeer) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *testPeer) Send(frame models.Frame) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.frames = append(p.frames, frame)
	return true
}

func (p *testPeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// framesOf returns the frames of the given type received so far.
func (p *testPeer) framesOf(eventType string) []models.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.Frame
	for _, f := range p.frames {
		if f.Type == eventType {
			out = append(out, f)
		}
	}
	return out
}

func (p *testPeer) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

func decode[T any](t *testing.T, frame models.Frame) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(frame.Payload, &out))
	return out
}

type fixture struct {
	store    *memStore
	push     *pushRecorder
	hub      *ws.Hub
	registry *ws.Registry
	typing   *presence.Tracker
	svc      *Service
}

var (
	requester = models.Principal{ID: 1, Role: models.RoleRequester, Name: "Rita", Phone: "+100"}
	fulfiller = models.Principal{ID: 2, Role: models.RoleFulfiller, Name: "Fred", Phone: "+200"}
	outsider  = models.Principal{ID: 3, Role: models.RoleFulfiller, Name: "Olga"}
	assignee  = models.Principal{ID: 4, Role: models.RoleFulfiller, Name: "Ann"}
)

// newFixture seeds session 7 (booking 70) between requester and fulfiller,
// plus session 8 (booking 80) whose fulfiller is only bound by assignment.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithTyping(t, 0)
}

func newFixtureWithTyping(t *testing.T, typingTTL time.Duration) *fixture {
	t.Helper()
	store := newMemStore()
	fulfillerID := fulfiller.ID
	store.addSession(models.ChatSession{ID: 7, BookingID: 70, RequesterID: requester.ID, FulfillerID: &fulfillerID})
	store.addSession(models.ChatSession{ID: 8, BookingID: 80, RequesterID: requester.ID})
	store.assigned[80] = []int64{assignee.ID}
	for _, p := range []models.Principal{requester, fulfiller, outsider, assignee} {
		store.users[p.ID] = p
	}

	f := &fixture{
		store:    store,
		push:     &pushRecorder{},
		hub:      ws.NewHub(),
		registry: ws.NewRegistry(),
		typing:   presence.NewTracker(typingTTL, nil),
	}
	f.svc = NewService(Deps{
		Sessions:      store,
		Messages:      store,
		Notifications: notificationStore{store},
		Users:         userStore{store},
		Hub:           f.hub,
		Registry:      f.registry,
		Typing:        f.typing,
		Push:          f.push,
	}, Options{StoreTimeout: time.Second, NotifyTimeout: time.Second, HistoryMaxLimit: DefaultHistoryMax})
	t.Cleanup(f.svc.Wait)
	return f
}

// connect registers and hydrates a peer for p.
func (f *fixture) connect(t *testing.T, p models.Principal, connID string) *testPeer {
	t.Helper()
	peer := newTestPeer(connID, p.ID)
	_, err := f.svc.Connect(context.Background(), peer, p)
	require.NoError(t, err)
	return peer
}

func jsonUnmarshal(raw string, v any) error {
	return json.Unmarshal([]byte(raw), v)
}

type auditRecorder struct {
	mu     sync.Mutex
	audits []telemetry.SessionAudit
}

func (a *auditRecorder) EmitSession(_ context.Context, audit telemetry.SessionAudit) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.audits = append(a.audits, audit)
}

func (a *auditRecorder) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.audits))
	for _, audit := range a.audits {
		out = append(out, audit.Action)
	}
	return out
}
