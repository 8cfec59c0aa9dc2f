package telemetry

import (
	"context"
	"log"
	"strconv"
	"time"
)

// Publisher is the subset of the broker publisher audit emission needs.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level     string `json:"level"`
	Text      string `json:"text"`
	Action    string `json:"action,omitempty"`
	SessionID int64  `json:"session_id,omitempty"`
	BookingID int64  `json:"booking_id,omitempty"`
}

// SessionAudit describes a chat session lifecycle change.
type SessionAudit struct {
	Action    string
	SessionID int64
	BookingID int64
	RequestID string
	ActorID   *int64
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
	}
}

// Emit publishes a free-form audit line.
func (e *AuditEmitter) Emit(ctx context.Context, level, text, requestID string, userID *int64) {
	e.emit(ctx, requestID, userID, AuditPayload{Level: level, Text: text})
}

// EmitSession publishes a session lifecycle audit record.
func (e *AuditEmitter) EmitSession(ctx context.Context, audit SessionAudit) {
	e.emit(ctx, audit.RequestID, audit.ActorID, AuditPayload{
		Level:     "INFO",
		Text:      "chat session " + audit.Action,
		Action:    audit.Action,
		SessionID: audit.SessionID,
		BookingID: audit.BookingID,
	})
}

func (e *AuditEmitter) emit(ctx context.Context, requestID string, userID *int64, payload AuditPayload) {
	if e == nil || e.publisher == nil {
		return
	}

	var actor *string
	if userID != nil {
		value := strconv.FormatInt(*userID, 10)
		actor = &value
	}

	log.Printf("audit emit: level=%s request_id=%s user_id=%v text=%q", payload.Level, requestID, userID, payload.Text)
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        actor,
		Payload:       payload,
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		log.Printf("audit publish failed: %v", err)
	}
}
