package observability

import (
	"context"
	"time"
)

// Publisher is the sink ws lifecycle events are published to.
type Publisher interface {
	PublishWithHeaders(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// WSIdentity identifies the connection a ws event belongs to.
type WSIdentity struct {
	ConnID      string
	UserID      int64
	DeviceID    string
	IP          string
	ConnectedAt time.Time
}

// WSEnvelope builds the ws_events envelope for a connection lifecycle event.
func WSEnvelope(event string, id WSIdentity, reason string) EventEnvelope {
	duration := int64(0)
	if !id.ConnectedAt.IsZero() && event != "ws_connect" {
		duration = time.Since(id.ConnectedAt).Milliseconds()
	}
	return EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        "chat",
				"event":       event,
				"conn_id":     id.ConnID,
				"duration_ms": duration,
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   id.UserID,
				"device_id": id.DeviceID,
				"ip":        id.IP,
			},
		},
	}
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

var defaultPublisher Publisher

func SetPublisher(publisher Publisher) {
	defaultPublisher = publisher
}

func PublishEvent(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	if defaultPublisher == nil {
		return nil
	}

	err := defaultPublisher.PublishWithHeaders(ctx, routingKey, message, headers)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}
