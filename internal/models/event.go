package models

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Inbound event types.
const (
	EventJoinChat    = "join_chat"
	EventLeaveChat   = "leave_chat"
	EventSendMessage = "send_message"
	EventTypingStart = "typing_start"
	EventTypingStop  = "typing_stop"
	EventMarkRead    = "mark_read"
	EventGetHistory  = "get_chat_history"
)

// Outbound event types.
const (
	EventJoinedChat   = "joined_chat"
	EventLeftChat     = "left_chat"
	EventUserJoined   = "user_joined"
	EventUserLeft     = "user_left"
	EventNewMessage   = "new_message"
	EventMessageSent  = "message_sent"
	EventUserTyping   = "user_typing"
	EventMessagesRead = "messages_read"
	EventChatHistory  = "chat_history"
	EventChatEnded    = "chat_ended"
	EventError        = "error"
)

// Frame is the envelope exchanged over the websocket in both directions.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewFrame marshals payload into a frame of the given type.
func NewFrame(eventType string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: eventType, Payload: raw}, nil
}

// SessionRef is the payload of join_chat, leave_chat and typing events.
type SessionRef struct {
	SessionID int64 `json:"sessionId" validate:"required,gt=0"`
}

// SendMessageRequest is the payload of send_message.
type SendMessageRequest struct {
	SessionID   int64        `json:"sessionId" validate:"required,gt=0"`
	Content     string       `json:"content" validate:"required"`
	MessageType MessageType  `json:"messageType,omitempty" validate:"omitempty,oneof=text file"`
	FileURL     *string      `json:"fileUrl,omitempty"`
	FileName    *string      `json:"fileName,omitempty"`
	FileSize    OptionalSize `json:"fileSize,omitempty"`
}

// MarkReadRequest is the payload of mark_read.
type MarkReadRequest struct {
	SessionID  int64   `json:"sessionId" validate:"required,gt=0"`
	MessageIDs []int64 `json:"messageIds" validate:"required,min=1"`
}

// HistoryRequest is the payload of get_chat_history.
type HistoryRequest struct {
	SessionID int64 `json:"sessionId" validate:"required,gt=0"`
	Limit     int   `json:"limit,omitempty" validate:"gte=0"`
	Offset    int   `json:"offset,omitempty" validate:"gte=0"`
}

// OptionalSize accepts a JSON number or numeric string. Non-integral numbers
// are rounded down. Anything that is not a valid non-negative number decodes
// to nil instead of failing the frame.
type OptionalSize struct {
	Value *int64
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *OptionalSize) UnmarshalJSON(data []byte) error {
	s.Value = nil
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	raw := string(data)
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unquoted)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// fractional or exponent forms are still numbers; round down
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 {
			return nil
		}
		n = int64(math.Floor(f))
	}
	if n < 0 {
		return nil
	}
	s.Value = &n
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s OptionalSize) MarshalJSON() ([]byte, error) {
	if s.Value == nil {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(*s.Value, 10)), nil
}

// MessagePayload is the client view of a persisted message.
type MessagePayload struct {
	ID          int64       `json:"id"`
	SessionID   int64       `json:"sessionId"`
	SenderID    int64       `json:"senderId"`
	SenderType  Role        `json:"senderType"`
	SenderName  string      `json:"senderName,omitempty"`
	SenderPhone string      `json:"senderPhone,omitempty"`
	MessageType MessageType `json:"messageType"`
	Content     string      `json:"content"`
	FileURL     *string     `json:"fileUrl,omitempty"`
	FileName    *string     `json:"fileName,omitempty"`
	FileSize    *int64      `json:"fileSize,omitempty"`
	IsRead      bool        `json:"isRead"`
	ReadAt      *time.Time  `json:"readAt,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// NewMessagePayload builds the client view of a message.
func NewMessagePayload(msg Message, senderName, senderPhone string) MessagePayload {
	return MessagePayload{
		ID:          msg.ID,
		SessionID:   msg.SessionID,
		SenderID:    msg.SenderID,
		SenderType:  msg.SenderType,
		SenderName:  senderName,
		SenderPhone: senderPhone,
		MessageType: msg.MessageType,
		Content:     msg.Content,
		FileURL:     msg.FileURL,
		FileName:    msg.FileName,
		FileSize:    msg.FileSize,
		IsRead:      msg.IsRead,
		ReadAt:      msg.ReadAt,
		CreatedAt:   msg.CreatedAt,
	}
}

// JoinedPayload acknowledges a join to the caller.
type JoinedPayload struct {
	SessionID int64 `json:"sessionId"`
}

// ParticipantPayload announces a participant entering or leaving a room.
type ParticipantPayload struct {
	SessionID   int64  `json:"sessionId"`
	PrincipalID int64  `json:"userId"`
	Name        string `json:"name,omitempty"`
}

// SentPayload acknowledges a persisted message to its sender.
type SentPayload struct {
	MessageID int64 `json:"messageId"`
	SessionID int64 `json:"sessionId"`
}

// TypingPayload signals a participant starting or stopping to type.
type TypingPayload struct {
	SessionID   int64  `json:"sessionId"`
	PrincipalID int64  `json:"userId"`
	Name        string `json:"name,omitempty"`
	IsTyping    bool   `json:"isTyping"`
}

// ReadPayload tells the room which messages a participant has read.
type ReadPayload struct {
	SessionID  int64   `json:"sessionId"`
	ReaderID   int64   `json:"readerId"`
	MessageIDs []int64 `json:"messageIds"`
}

// HistoryPayload carries a page of history to the caller.
type HistoryPayload struct {
	SessionID int64            `json:"sessionId"`
	Messages  []MessagePayload `json:"messages"`
	HasMore   bool             `json:"hasMore"`
}

// EndedPayload tells a room its session no longer accepts messages.
type EndedPayload struct {
	SessionID int64 `json:"sessionId"`
}

// ErrorPayload is the body of an error event.
type ErrorPayload struct {
	Message string `json:"message"`
}
