package ws

import (
	"sync"

	"booking-chat/internal/models"
	"booking-chat/internal/observability"
)

// Hub maps chat sessions to the peers subscribed to them.
type Hub struct {
	rooms map[int64]map[Peer]struct{}
	mu    sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[int64]map[Peer]struct{})}
}

// Subscribe adds a peer to a session room. It reports false when the peer
// was already subscribed.
func (h *Hub) Subscribe(sessionID int64, peer Peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[Peer]struct{})
		h.rooms[sessionID] = room
	}
	if _, exists := room[peer]; exists {
		return false
	}
	room[peer] = struct{}{}
	return true
}

// Unsubscribe removes a peer from a session room.
func (h *Hub) Unsubscribe(sessionID int64, peer Peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeLocked(sessionID, peer)
}

// UnsubscribeAll removes a peer from every room and returns the sessions it left.
func (h *Hub) UnsubscribeAll(peer Peer) []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	var left []int64
	for sessionID, room := range h.rooms {
		if _, ok := room[peer]; ok {
			h.removeLocked(sessionID, peer)
			left = append(left, sessionID)
		}
	}
	return left
}

func (h *Hub) removeLocked(sessionID int64, peer Peer) bool {
	room, ok := h.rooms[sessionID]
	if !ok {
		return false
	}
	if _, exists := room[peer]; !exists {
		return false
	}
	delete(room, peer)
	if len(room) == 0 {
		delete(h.rooms, sessionID)
	}
	return true
}

// CloseRoom drops a room and returns the peers that were in it.
func (h *Hub) CloseRoom(sessionID int64) []Peer {
	h.mu.Lock()
	room := h.rooms[sessionID]
	delete(h.rooms, sessionID)
	h.mu.Unlock()

	peers := make([]Peer, 0, len(room))
	for p := range room {
		peers = append(peers, p)
	}
	return peers
}

// IsSubscribed reports whether the peer is in the session room.
func (h *Hub) IsSubscribed(sessionID int64, peer Peer) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[sessionID][peer]
	return ok
}

// Members returns a snapshot of the peers in a session room.
func (h *Hub) Members(sessionID int64) []Peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room := h.rooms[sessionID]
	peers := make([]Peer, 0, len(room))
	for p := range room {
		peers = append(peers, p)
	}
	return peers
}

// Broadcast sends a frame to every peer in the room except exclude, which
// may be nil. A missing room is a no-op. It returns the number of peers the
// frame was queued for.
func (h *Hub) Broadcast(sessionID int64, frame models.Frame, exclude Peer) int {
	delivered := 0
	for _, peer := range h.Members(sessionID) {
		if exclude != nil && peer == exclude {
			continue
		}
		if peer.Send(frame) {
			delivered++
			continue
		}
		// peer is gone or too slow; it cleans itself up on close
		observability.IncWSEvent("chat", "ws_send_dropped")
	}
	return delivered
}
