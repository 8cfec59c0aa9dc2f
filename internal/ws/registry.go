package ws

import "sync"

const registryShards = 32

type registryShard struct {
	mu    sync.RWMutex
	peers map[int64]Peer
}

// Registry binds each principal to its single live connection. Bindings are
// spread over independently locked shards.
type Registry struct {
	shards [registryShards]*registryShard
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &registryShard{peers: make(map[int64]Peer)}
	}
	return r
}

func (r *Registry) shard(userID int64) *registryShard {
	idx := userID % registryShards
	if idx < 0 {
		idx = -idx
	}
	return r.shards[idx]
}

// Register binds the peer to its principal and returns the binding it
// replaced, if any.
func (r *Registry) Register(peer Peer) Peer {
	s := r.shard(peer.UserID())
	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.peers[peer.UserID()]
	s.peers[peer.UserID()] = peer
	if previous == peer {
		return nil
	}
	return previous
}

// Unregister removes the binding only while it still points at peer, so a
// late disconnect of a superseded connection never evicts its replacement.
func (r *Registry) Unregister(peer Peer) bool {
	s := r.shard(peer.UserID())
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.peers[peer.UserID()]
	if !ok || current != peer {
		return false
	}
	delete(s.peers, peer.UserID())
	return true
}

// Lookup returns the live connection of a principal.
func (r *Registry) Lookup(userID int64) (Peer, bool) {
	s := r.shard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	peer, ok := s.peers[userID]
	return peer, ok
}

// IsOnline reports whether the principal has a live connection.
func (r *Registry) IsOnline(userID int64) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Count returns the number of bound principals.
func (r *Registry) Count() int {
	total := 0
	for _, s := range r.shards {
		s.mu.RLock()
		total += len(s.peers)
		s.mu.RUnlock()
	}
	return total
}
