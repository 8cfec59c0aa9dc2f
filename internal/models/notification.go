package models

import "time"

// Notification records whether a message's recipient was reachable when it was sent.
type Notification struct {
	ID          int64     `db:"id" json:"id"`
	SessionID   int64     `db:"session_id" json:"session_id"`
	MessageID   int64     `db:"message_id" json:"message_id"`
	RecipientID int64     `db:"recipient_id" json:"recipient_id"`
	SenderID    int64     `db:"sender_id" json:"sender_id"`
	Delivered   bool      `db:"delivered" json:"delivered"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// PushNotification is handed to the push delivery pipeline when a
// message's recipient is offline.
type PushNotification struct {
	RecipientID int64     `json:"recipient_id"`
	SenderID    int64     `json:"sender_id"`
	SenderName  string    `json:"sender_name,omitempty"`
	SessionID   int64     `json:"session_id"`
	MessageID   int64     `json:"message_id"`
	Preview     string    `json:"preview"`
	SentAt      time.Time `json:"sent_at"`
}
