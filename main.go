package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"booking-chat/internal/auth"
	"booking-chat/internal/chat"
	"booking-chat/internal/config"
	"booking-chat/internal/db"
	"booking-chat/internal/gateway"
	"booking-chat/internal/grpcserver"
	"booking-chat/internal/handlers"
	"booking-chat/internal/middleware"
	"booking-chat/internal/observability"
	"booking-chat/internal/presence"
	"booking-chat/internal/rabbitmq"
	"booking-chat/internal/repositories"
	"booking-chat/internal/telemetry"
	"booking-chat/internal/ws"
)

const auditRoutingKey = "audit.booking-chat"

func main() {
	if err := run(); err != nil {
		log.Fatalf("booking-chat: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.Environment)
	if err != nil {
		log.Printf("tracing disabled: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(flushCtx)
	}()

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		return err
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	log.Printf("rabbitmq publisher mode=%s %s", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))
	observability.SetPublisher(publisher)
	auditEmitter := telemetry.NewAuditEmitter(publisher, auditRoutingKey, cfg.ServiceName, cfg.Environment)

	sessionRepo := repositories.NewSessionRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	notificationRepo := repositories.NewNotificationRepo(database)
	userRepo := repositories.NewUserRepo(database)

	hub := ws.NewHub()
	registry := ws.NewRegistry()
	typing := presence.NewTracker(cfg.TypingTimeout, nil)

	chatService := chat.NewService(chat.Deps{
		Sessions:      sessionRepo,
		Messages:      messageRepo,
		Notifications: notificationRepo,
		Users:         userRepo,
		Hub:           hub,
		Registry:      registry,
		Typing:        typing,
		Push:          rabbitmq.NewPushSink(publisher),
		Audit:         auditEmitter,
	}, chat.Options{
		StoreTimeout:    cfg.StoreTimeout,
		NotifyTimeout:   cfg.NotifyTimeout,
		HistoryMaxLimit: cfg.HistoryMaxLimit,
	})
	defer chatService.Close()

	authenticator := auth.NewAuthenticator(auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer), userRepo)
	wsHandler := gateway.NewHandler(authenticator, chatService, gateway.Options{
		SendBuffer:    cfg.WSSendBuffer,
		InboundBuffer: cfg.WSInboundBuffer,
	})
	sessionHandler := handlers.NewSessionHandler(chatService)
	lifecycleHandler := handlers.NewLifecycleHandler(chatService)

	router := gin.New()

	// middlewares
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.RequestID())
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(authenticator)

	router.GET("/sessions", authMiddleware, sessionHandler.ListSessions)
	router.GET("/sessions/:session_id/messages", authMiddleware, sessionHandler.GetMessages)

	router.POST("/internal/bookings/:booking_id/chat", lifecycleHandler.OpenChat)
	router.POST("/internal/chats/:session_id/end", lifecycleHandler.EndChat)
	router.DELETE("/internal/chats/:session_id", lifecycleHandler.DeleteChat)

	router.GET("/ws", wsHandler.Handle)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", healthz(database))
	handlers.RegisterDebugRoutes(router, handlers.DebugDeps{Audit: auditEmitter, Connections: registry}, cfg.DebugRoutes)

	if cfg.AMQPURL != "" {
		consumer, err := rabbitmq.NewBookingConsumer(cfg.AMQPURL, cfg.BookingExchange, cfg.BookingQueue, chatService)
		if err != nil {
			log.Printf("booking consumer disabled: %v", err)
		} else {
			defer consumer.Close()
			go func() {
				if err := consumer.Run(ctx); err != nil {
					log.Printf("booking consumer stopped: %v", err)
				}
			}()
		}
	}

	grpcServer, err := grpcserver.New(net.JoinHostPort("", cfg.GRPCPort), func(ctx context.Context) error {
		return db.Ping(ctx, database)
	}, 10*time.Second)
	if err != nil {
		return err
	}
	grpcErr := make(chan error, 1)
	go func() { grpcErr <- grpcServer.Serve(ctx) }()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpErr := make(chan error, 1)
	go func() {
		log.Printf("http listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
		close(httpErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-httpErr:
		if err != nil {
			return err
		}
	case err := <-grpcErr:
		if err != nil {
			return err
		}
	}

	log.Printf("shutting down")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	return nil
}

func healthz(database *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx, database); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
