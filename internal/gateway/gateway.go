package gateway

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	"booking-chat/internal/auth"
	"booking-chat/internal/models"
	"booking-chat/internal/observability"
	"booking-chat/internal/telemetry"
	"booking-chat/internal/ws"
)

const wsEventsRoutingKey = "ws_events.chats"

// Authenticator resolves a credential to an active principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (models.Principal, error)
}

// ChatService is the set of chat operations the gateway dispatches to.
type ChatService interface {
	Connect(ctx context.Context, peer ws.Peer, p models.Principal) ([]int64, error)
	Disconnect(peer ws.Peer, p models.Principal)
	Join(ctx context.Context, peer ws.Peer, p models.Principal, sessionID int64) error
	Leave(ctx context.Context, peer ws.Peer, p models.Principal, sessionID int64) error
	Send(ctx context.Context, peer ws.Peer, p models.Principal, req models.SendMessageRequest) (models.Message, error)
	StartTyping(ctx context.Context, peer ws.Peer, p models.Principal, sessionID int64)
	StopTyping(peer ws.Peer, p models.Principal, sessionID int64)
	MarkRead(ctx context.Context, peer ws.Peer, p models.Principal, req models.MarkReadRequest) ([]int64, error)
	FetchHistory(ctx context.Context, peer ws.Peer, p models.Principal, req models.HistoryRequest) (models.HistoryPayload, error)
}

// Options size the per-connection queues.
type Options struct {
	SendBuffer    int
	InboundBuffer int
}

// Handler is the websocket entry point.
type Handler struct {
	auth     Authenticator
	chat     ChatService
	opts     Options
	upgrader websocket.Upgrader
}

// NewHandler constructs a Handler.
func NewHandler(authenticator Authenticator, svc ChatService, opts Options) *Handler {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.InboundBuffer <= 0 {
		opts.InboundBuffer = 32
	}
	return &Handler{
		auth: authenticator,
		chat: svc,
		opts: opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handle authenticates the handshake, upgrades and serves the connection.
// Authentication failures are answered before the upgrade.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := telemetry.Tracer().Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	token, err := auth.CredentialFromRequest(c.Request)
	if err != nil {
		observability.IncWSEvent("chat", "ws_auth_rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": auth.Reason(err)})
		return
	}
	principal, err := h.auth.Authenticate(ctx, token)
	if err != nil {
		reason := auth.Reason(err)
		status := http.StatusUnauthorized
		if reason == "AuthUnavailable" {
			status = http.StatusServiceUnavailable
			log.Printf("ws: authenticate: %v", err)
		}
		observability.IncWSEvent("chat", "ws_auth_rejected")
		c.JSON(status, gin.H{"error": reason})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ws.ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      principal.ID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     telemetry.TraceIDFromContext(ctx),
		ConnectedAt: time.Now(),
	}
	span.SetAttributes(attribute.Int64("chat.user_id", principal.ID), attribute.String("ws.conn_id", info.ConnID))

	client := ws.NewClient(conn, info, h.opts.SendBuffer)
	go client.WritePump()
	// the request context ends when Handle returns
	go h.serve(context.WithoutCancel(ctx), client, principal)
}

func (h *Handler) serve(parent context.Context, client *ws.Client, p models.Principal) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	info := client.Info()
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	identity := observability.WSIdentity{
		ConnID:      info.ConnID,
		UserID:      info.UserID,
		DeviceID:    info.DeviceID,
		IP:          info.IP,
		ConnectedAt: info.ConnectedAt,
	}

	observability.IncWSActive("chat")
	observability.IncWSEvent("chat", "ws_connect")
	_ = observability.PublishEvent(ctx, wsEventsRoutingKey, observability.WSEnvelope("ws_connect", identity, ""), headers)

	if _, err := h.chat.Connect(ctx, client, p); err != nil {
		log.Printf("ws: hydrate user=%d conn=%s: %v", p.ID, info.ConnID, err)
		sendError(client, err)
	}

	inbound := make(chan models.Frame, h.opts.InboundBuffer)
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		for frame := range inbound {
			h.dispatch(ctx, client, p, frame)
		}
	}()

	readErr := client.ReadPump(func(data []byte) {
		frame, err := decodeFrame(data)
		if err != nil {
			sendMessage(client, "invalid frame")
			return
		}
		select {
		case inbound <- frame:
		default:
			observability.IncWSEvent("chat", "ws_inbound_dropped")
			sendMessage(client, "too many pending events")
		}
	})
	close(inbound)
	<-dispatched

	closedByServer := isClosedByServer(client)
	client.Close()
	h.chat.Disconnect(client, p)

	reason := ""
	if readErr != nil {
		reason = readErr.Error()
	}
	if readErr != nil && !websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !closedByServer {
		observability.IncWSEvent("chat", "ws_error")
		_ = observability.PublishEvent(ctx, wsEventsRoutingKey, observability.WSEnvelope("ws_error", identity, reason), headers)
	}
	observability.DecWSActive("chat")
	observability.IncWSEvent("chat", "ws_disconnect")
	_ = observability.PublishEvent(ctx, wsEventsRoutingKey, observability.WSEnvelope("ws_disconnect", identity, reason), headers)
}

func isClosedByServer(client *ws.Client) bool {
	select {
	case <-client.Done():
		return true
	default:
		return false
	}
}

func sendError(peer ws.Peer, err error) {
	sendMessage(peer, clientMessage(err))
}

func sendMessage(peer ws.Peer, msg string) {
	frame, err := models.NewFrame(models.EventError, models.ErrorPayload{Message: msg})
	if err != nil {
		return
	}
	peer.Send(frame)
}
