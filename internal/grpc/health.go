package grpc

import (
	"context"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"room-chat/internal/observability"
)

// CheckFunc probes one backend dependency.
type CheckFunc func(ctx context.Context) error

// HealthServer exposes the standard gRPC health service. Each named check is
// reported as its own service; the overall status is SERVING only when every
// check passes.
type HealthServer struct {
	server  *grpc.Server
	health  *health.Server
	checks  map[string]CheckFunc
	timeout time.Duration
	logger  zerolog.Logger
}

// NewHealthServer builds the gRPC server and registers the health service on it.
func NewHealthServer(checks map[string]CheckFunc, timeout time.Duration, logger zerolog.Logger) *HealthServer {
	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)

	h := &HealthServer{
		server:  server,
		health:  hs,
		checks:  checks,
		timeout: timeout,
		logger:  logger.With().Str("component", "grpc").Logger(),
	}
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	for name := range checks {
		hs.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return h
}

// Server returns the underlying gRPC server.
func (h *HealthServer) Server() *grpc.Server {
	return h.server
}

// Refresh runs every check and publishes the results.
func (h *HealthServer) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	overall := healthpb.HealthCheckResponse_SERVING
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
		err := h.checks[name](checkCtx)
		cancel()

		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = status
			h.logger.Warn().Err(err).Str("check", name).Msg("health check failed")
		}
		h.health.SetServingStatus(name, status)
	}
	h.health.SetServingStatus("", overall)
	return overall
}

// Run serves on addr and refreshes health every interval until ctx is done.
func (h *HealthServer) Run(ctx context.Context, addr string, interval time.Duration) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return h.Serve(ctx, lis, interval)
}

// Serve is Run on an existing listener.
func (h *HealthServer) Serve(ctx context.Context, lis net.Listener, interval time.Duration) error {
	h.Refresh(ctx)

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info().Str("addr", lis.Addr().String()).Msg("grpc server listening")
		errCh <- h.server.Serve(lis)
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.health.Shutdown()
			h.server.GracefulStop()
			return nil
		case err := <-errCh:
			return fmt.Errorf("grpc serve: %w", err)
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}
