package main

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/conversationai/pipeline/internal/infra"
)

// healthServer exposes the standard gRPC health-checking protocol on
// cfg.Server.GRPCPort, fed by an infra.HealthCheckRegistry running
// Postgres/Redis/job-queue probes in the background. Kubernetes (or any
// other orchestrator) points a gRPC liveness/readiness probe at this port
// instead of needing a bespoke HTTP health endpoint.
type healthServer struct {
	registry *infra.HealthCheckRegistry
	grpcHealth *health.Server
	server   *grpc.Server
	addr     string
	logger   *slog.Logger
}

func newHealthServer(addr string, registry *infra.HealthCheckRegistry, logger *slog.Logger) *healthServer {
	grpcHealth := health.NewServer()
	s := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(s, grpcHealth)

	return &healthServer{registry: registry, grpcHealth: grpcHealth, server: s, addr: addr, logger: logger}
}

// Start implements infra.Lifecycle: it begins serving gRPC health checks
// and starts translating the registry's aggregate report into the
// SERVING/NOT_SERVING status the protocol expects.
func (h *healthServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}

	go h.reflectStatus(ctx)
	go func() {
		if err := h.server.Serve(lis); err != nil {
			h.logger.Error("health server stopped", "error", err)
		}
	}()
	return nil
}

func (h *healthServer) Stop(ctx context.Context) error {
	h.server.GracefulStop()
	return nil
}

func (h *healthServer) Name() string { return "health_server" }

func (h *healthServer) Health(ctx context.Context) infra.ComponentHealth {
	report := h.registry.GetAllCached()
	if report.IsHealthy() {
		return infra.ComponentHealth{State: infra.ServiceHealthHealthy}
	}
	return infra.ComponentHealth{State: report.Status, Message: "one or more dependency checks failing"}
}

func (h *healthServer) reflectStatus(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	set := func() {
		report := h.registry.CheckAll(ctx)
		status := grpc_health_v1.HealthCheckResponse_SERVING
		if report.Status == infra.ServiceHealthUnhealthy {
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
		h.grpcHealth.SetServingStatus("", status)
	}
	set()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			set()
		}
	}
}

var _ infra.FullLifecycleComponent = (*healthServer)(nil)
