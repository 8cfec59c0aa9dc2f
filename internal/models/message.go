package models

import "time"

// MessageType distinguishes plain text from file attachments.
type MessageType string

const (
	MessageText MessageType = "text"
	MessageFile MessageType = "file"
)

// Message represents a persisted chat message.
type Message struct {
	ID          int64       `db:"id" json:"id"`
	SessionID   int64       `db:"session_id" json:"session_id"`
	SenderID    int64       `db:"sender_id" json:"sender_id"`
	SenderType  Role        `db:"sender_type" json:"sender_type"`
	MessageType MessageType `db:"message_type" json:"message_type"`
	Content     string      `db:"content" json:"content"`
	FileURL     *string     `db:"file_url" json:"file_url,omitempty"`
	FileName    *string     `db:"file_name" json:"file_name,omitempty"`
	FileSize    *int64      `db:"file_size" json:"file_size,omitempty"`
	IsRead      bool        `db:"is_read" json:"is_read"`
	ReadAt      *time.Time  `db:"read_at" json:"read_at,omitempty"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
}

// NewMessage is the input for persisting a message.
type NewMessage struct {
	SessionID   int64
	SenderID    int64
	SenderType  Role
	MessageType MessageType
	Content     string
	FileURL     *string
	FileName    *string
	FileSize    *int64
}

// MessageView is a message joined with the sender's display attributes.
type MessageView struct {
	Message
	SenderName  *string `db:"sender_name" json:"sender_name,omitempty"`
	SenderPhone *string `db:"sender_phone" json:"sender_phone,omitempty"`
}
