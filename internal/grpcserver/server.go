package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"booking-chat/internal/observability"
)

// ServiceName is the health service name reported for the chat service.
const ServiceName = "booking.chat.v1.Chat"

// CheckFunc reports whether a dependency is usable.
type CheckFunc func(ctx context.Context) error

// Server exposes gRPC health for orchestration probes.
type Server struct {
	listener net.Listener
	grpc     *grpc.Server
	health   *health.Server
	check    CheckFunc
	interval time.Duration
}

// New listens on addr. check is polled every interval to flip the serving status.
func New(addr string, check CheckFunc, interval time.Duration) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	return &Server{
		listener: listener,
		grpc:     grpcServer,
		health:   healthServer,
		check:    check,
		interval: interval,
	}, nil
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks until ctx ends or the server fails.
func (s *Server) Serve(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpc.Serve(s.listener)
	}()
	log.Printf("grpc health listening at %v", s.listener.Addr())

	s.probe(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			s.grpc.GracefulStop()
			return ignoreStopped(<-serveErr)
		case err := <-serveErr:
			return ignoreStopped(err)
		case <-ticker.C:
			s.probe(ctx)
		}
	}
}

func (s *Server) probe(ctx context.Context) {
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if s.check != nil {
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := s.check(checkCtx)
		cancel()
		if err != nil {
			log.Printf("grpc health: dependency check failed: %v", err)
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus(ServiceName, status)
}

func ignoreStopped(err error) error {
	if err == nil || errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return fmt.Errorf("serve gRPC: %w", err)
}
