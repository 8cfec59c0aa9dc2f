// Package presence tracks which principals are composing a message in each
// chat session. State is in memory only.
package presence

import (
	"sort"
	"sync"
	"time"
)

// ExpireFunc is called, outside the tracker lock, when a typing marker
// times out.
type ExpireFunc func(sessionID, userID int64)

type marker struct {
	timer *time.Timer
	gen   uint64
}

// Tracker holds the per-session typing sets.
type Tracker struct {
	mu       sync.Mutex
	sessions map[int64]map[int64]*marker
	ttl      time.Duration
	onExpire ExpireFunc
	gen      uint64
}

// NewTracker creates a tracker whose markers expire after ttl. A zero ttl
// disables expiry.
func NewTracker(ttl time.Duration, onExpire ExpireFunc) *Tracker {
	return &Tracker{
		sessions: make(map[int64]map[int64]*marker),
		ttl:      ttl,
		onExpire: onExpire,
	}
}

// SetExpireFunc replaces the expiry callback.
func (t *Tracker) SetExpireFunc(fn ExpireFunc) {
	t.mu.Lock()
	t.onExpire = fn
	t.mu.Unlock()
}

// Start marks userID as typing in sessionID and re-arms its timer. It
// reports whether the marker is new.
func (t *Tracker) Start(sessionID, userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.sessions[sessionID]
	if !ok {
		set = make(map[int64]*marker)
		t.sessions[sessionID] = set
	}
	m, exists := set[userID]
	if exists && m.timer != nil {
		m.timer.Stop()
	}
	if !exists {
		m = &marker{}
		set[userID] = m
	}
	t.gen++
	m.gen = t.gen
	if t.ttl > 0 {
		gen := m.gen
		m.timer = time.AfterFunc(t.ttl, func() { t.expire(sessionID, userID, gen) })
	}
	return !exists
}

// Stop removes the marker. It reports whether one was present.
func (t *Tracker) Stop(sessionID, userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(sessionID, userID)
}

// ClearUser removes the user from every typing set and returns the
// sessions it was removed from.
func (t *Tracker) ClearUser(userID int64) []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var cleared []int64
	for sessionID := range t.sessions {
		if t.removeLocked(sessionID, userID) {
			cleared = append(cleared, sessionID)
		}
	}
	sort.Slice(cleared, func(i, j int) bool { return cleared[i] < cleared[j] })
	return cleared
}

// ClearSession drops the whole typing set of a session.
func (t *Tracker) ClearSession(sessionID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.sessions[sessionID] {
		if m.timer != nil {
			m.timer.Stop()
		}
	}
	delete(t.sessions, sessionID)
}

// Typing returns the users currently typing in a session, sorted.
func (t *Tracker) Typing(sessionID int64) []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.sessions[sessionID]
	users := make([]int64, 0, len(set))
	for userID := range set {
		users = append(users, userID)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// IsTyping reports whether the user has a marker in the session.
func (t *Tracker) IsTyping(sessionID, userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sessions[sessionID][userID]
	return ok
}

func (t *Tracker) removeLocked(sessionID, userID int64) bool {
	set, ok := t.sessions[sessionID]
	if !ok {
		return false
	}
	m, ok := set[userID]
	if !ok {
		return false
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(t.sessions, sessionID)
	}
	return true
}

func (t *Tracker) expire(sessionID, userID int64, gen uint64) {
	t.mu.Lock()
	m, ok := t.sessions[sessionID][userID]
	// a re-armed or replaced marker carries a newer generation
	if !ok || m.gen != gen {
		t.mu.Unlock()
		return
	}
	t.removeLocked(sessionID, userID)
	fn := t.onExpire
	t.mu.Unlock()

	if fn != nil {
		fn(sessionID, userID)
	}
}
