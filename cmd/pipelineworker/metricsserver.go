package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conversationai/pipeline/internal/infra"
)

// metricsServer exposes the Prometheus registry internal/observability.Metrics
// registers against, on cfg.Server.MetricsPort.
type metricsServer struct {
	*infra.BaseComponent
	addr   string
	server *http.Server
}

func newMetricsServer(addr string, logger *slog.Logger) *metricsServer {
	return &metricsServer{BaseComponent: infra.NewBaseComponent("metrics_server", logger), addr: addr}
}

func (m *metricsServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	m.server = &http.Server{Addr: m.addr, Handler: mux}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.Logger().Error("metrics server stopped", "error", err)
		}
	}()
	m.MarkStarted()
	return nil
}

func (m *metricsServer) Stop(ctx context.Context) error {
	err := m.server.Shutdown(ctx)
	m.MarkStopped()
	return err
}

func (m *metricsServer) Health(ctx context.Context) infra.ComponentHealth {
	if m.IsRunning() {
		return infra.ComponentHealth{State: infra.ServiceHealthHealthy}
	}
	return infra.ComponentHealth{State: infra.ServiceHealthUnknown}
}

func metricsAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

var _ infra.FullLifecycleComponent = (*metricsServer)(nil)
