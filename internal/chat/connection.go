package chat

import (
	"context"
	"log"

	"booking-chat/internal/models"
	"booking-chat/internal/observability"
	"booking-chat/internal/ws"
)

// Connect binds the peer to its principal, closing any connection it
// supersedes, flips the online flag in the background and subscribes the
// peer to every session the principal may take part in.
func (s *Service) Connect(ctx context.Context, peer ws.Peer, p models.Principal) ([]int64, error) {
	if previous := s.registry.Register(peer); previous != nil {
		log.Printf("ws: user=%d superseded conn=%s by conn=%s", p.ID, previous.ID(), peer.ID())
		s.hub.UnsubscribeAll(previous)
		previous.Close()
	}
	s.syncOnline(p.ID)
	return s.Hydrate(ctx, peer, p)
}

// Hydrate subscribes the peer to all authorized sessions. It is safe to run
// again after a reconnect.
func (s *Service) Hydrate(ctx context.Context, peer ws.Peer, p models.Principal) ([]int64, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	ids, err := s.sessions.ListAuthorizedSessionIDs(storeCtx, p.ID)
	if err != nil {
		return nil, s.failErr(storeFailure("hydrate", err))
	}
	for _, id := range ids {
		s.hub.Subscribe(id, peer)
	}
	return ids, nil
}

// Disconnect tears down the peer's state. Calling it more than once, or for
// a peer that was already superseded, is safe.
func (s *Service) Disconnect(peer ws.Peer, p models.Principal) {
	s.hub.UnsubscribeAll(peer)
	if !s.registry.Unregister(peer) {
		return
	}
	for _, sessionID := range s.typing.ClearUser(p.ID) {
		s.broadcast(sessionID, models.EventUserTyping, models.TypingPayload{
			SessionID:   sessionID,
			PrincipalID: p.ID,
			Name:        p.Name,
			IsTyping:    false,
		}, peer)
	}
	s.syncOnline(p.ID)
}

// syncOnline brings users.is_online in line with the registry. Writes for
// one user run on a single worker that reads the registry at write time, so
// a late write can never undo a newer connect or disconnect.
func (s *Service) syncOnline(userID int64) {
	if s.users == nil {
		return
	}
	s.onlineMu.Lock()
	if _, running := s.onlineRerun[userID]; running {
		s.onlineRerun[userID] = true
		s.onlineMu.Unlock()
		return
	}
	s.onlineRerun[userID] = false
	s.onlineMu.Unlock()

	if !s.spawn(func() { s.flushOnline(userID) }) {
		s.onlineMu.Lock()
		delete(s.onlineRerun, userID)
		s.onlineMu.Unlock()
	}
}

func (s *Service) flushOnline(userID int64) {
	for {
		online := s.registry.IsOnline(userID)
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.StoreTimeout)
		if err := s.users.SetOnline(ctx, userID, online); err != nil {
			observability.IncSideEffectError("set_online")
			log.Printf("ws: set online=%t user=%d: %v", online, userID, err)
		}
		cancel()

		s.onlineMu.Lock()
		if !s.onlineRerun[userID] {
			delete(s.onlineRerun, userID)
			s.onlineMu.Unlock()
			return
		}
		s.onlineRerun[userID] = false
		s.onlineMu.Unlock()
	}
}
