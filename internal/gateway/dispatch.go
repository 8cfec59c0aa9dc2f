package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"booking-chat/internal/chat"
	"booking-chat/internal/models"
	"booking-chat/internal/observability"
	"booking-chat/internal/telemetry"
	"booking-chat/internal/ws"
)

var (
	errInvalidPayload = errors.New("invalid payload")
	errUnknownEvent   = errors.New("unknown event type")
)

func decodeFrame(data []byte) (models.Frame, error) {
	var frame models.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return models.Frame{}, err
	}
	if frame.Type == "" {
		return models.Frame{}, errors.New("frame without type")
	}
	return frame, nil
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errInvalidPayload
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errInvalidPayload
	}
	return nil
}

// dispatch runs one inbound event. Failures become a single error frame to
// the caller; the connection stays open.
func (h *Handler) dispatch(ctx context.Context, client ws.Peer, p models.Principal, frame models.Frame) {
	ctx, span := telemetry.Tracer().Start(ctx, "ws.event "+frame.Type,
		trace.WithAttributes(
			attribute.String("ws.event", frame.Type),
			attribute.Int64("chat.user_id", p.ID),
			attribute.String("ws.conn_id", client.ID()),
		))
	defer span.End()
	started := time.Now()

	err := h.route(ctx, client, p, frame)
	observability.ObserveDispatch(frame.Type, time.Since(started))
	observability.IncWSEvent("chat", frame.Type)
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	sendError(client, err)
}

func (h *Handler) route(ctx context.Context, client ws.Peer, p models.Principal, frame models.Frame) error {
	switch frame.Type {
	case models.EventJoinChat:
		var ref models.SessionRef
		if err := decodePayload(frame.Payload, &ref); err != nil {
			return err
		}
		return h.chat.Join(ctx, client, p, ref.SessionID)
	case models.EventLeaveChat:
		var ref models.SessionRef
		if err := decodePayload(frame.Payload, &ref); err != nil {
			return err
		}
		return h.chat.Leave(ctx, client, p, ref.SessionID)
	case models.EventSendMessage:
		var req models.SendMessageRequest
		if err := decodePayload(frame.Payload, &req); err != nil {
			return err
		}
		_, err := h.chat.Send(ctx, client, p, req)
		return err
	case models.EventTypingStart:
		var ref models.SessionRef
		if err := decodePayload(frame.Payload, &ref); err != nil {
			return nil
		}
		h.chat.StartTyping(ctx, client, p, ref.SessionID)
		return nil
	case models.EventTypingStop:
		var ref models.SessionRef
		if err := decodePayload(frame.Payload, &ref); err != nil {
			return nil
		}
		h.chat.StopTyping(client, p, ref.SessionID)
		return nil
	case models.EventMarkRead:
		var req models.MarkReadRequest
		if err := decodePayload(frame.Payload, &req); err != nil {
			return err
		}
		_, err := h.chat.MarkRead(ctx, client, p, req)
		return err
	case models.EventGetHistory:
		var req models.HistoryRequest
		if err := decodePayload(frame.Payload, &req); err != nil {
			return err
		}
		_, err := h.chat.FetchHistory(ctx, client, p, req)
		return err
	default:
		return errUnknownEvent
	}
}

func clientMessage(err error) string {
	if errors.Is(err, errUnknownEvent) || errors.Is(err, errInvalidPayload) {
		return err.Error()
	}
	return chat.ClientMessage(err)
}
