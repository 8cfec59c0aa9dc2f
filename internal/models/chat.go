package models

import "time"

// SessionStatus is the lifecycle state of a chat session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// ChatSession is the messaging channel bound 1:1 to a booking.
type ChatSession struct {
	ID            int64         `db:"id" json:"id"`
	BookingID     int64         `db:"booking_id" json:"booking_id"`
	RequesterID   int64         `db:"requester_id" json:"requester_id"`
	FulfillerID   *int64        `db:"fulfiller_id" json:"fulfiller_id,omitempty"`
	Status        SessionStatus `db:"status" json:"status"`
	LastMessageAt *time.Time    `db:"last_message_at" json:"last_message_at,omitempty"`
	MessageCount  int           `db:"message_count" json:"message_count"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	EndedAt       *time.Time    `db:"ended_at" json:"ended_at,omitempty"`
}

// IsActive reports whether the session still accepts messages.
func (s ChatSession) IsActive() bool {
	return s.Status == SessionActive
}

// Membership is a session together with the users bound to it through
// the booking's worker assignment.
type Membership struct {
	Session         ChatSession
	AssignedUserIDs []int64
}

// Participants returns the requester and the resolved fulfiller, if any.
func (m Membership) Participants() (requesterID int64, fulfillerID int64, ok bool) {
	requesterID = m.Session.RequesterID
	if m.Session.FulfillerID != nil {
		return requesterID, *m.Session.FulfillerID, true
	}
	if len(m.AssignedUserIDs) > 0 {
		return requesterID, m.AssignedUserIDs[0], true
	}
	return requesterID, 0, false
}
