package ws

import "booking-chat/internal/models"

// Peer is a live connection that can receive frames.
type Peer interface {
	ID() string
	UserID() int64
	// Send queues a frame without blocking. It reports false when the
	// peer is closed or cannot keep up.
	Send(frame models.Frame) bool
	Close()
}
