package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/conversationai/pipeline/internal/coalesce"
	"github.com/conversationai/pipeline/internal/config"
	"github.com/conversationai/pipeline/internal/db"
	"github.com/conversationai/pipeline/internal/db/postgres"
	"github.com/conversationai/pipeline/internal/dedup"
	"github.com/conversationai/pipeline/internal/drain"
	"github.com/conversationai/pipeline/internal/emitter"
	"github.com/conversationai/pipeline/internal/infra"
	"github.com/conversationai/pipeline/internal/jobq"
	"github.com/conversationai/pipeline/internal/killswitch"
	"github.com/conversationai/pipeline/internal/llmprovider"
	"github.com/conversationai/pipeline/internal/llmprovider/anthropic"
	"github.com/conversationai/pipeline/internal/llmprovider/openai"
	"github.com/conversationai/pipeline/internal/observability"
	"github.com/conversationai/pipeline/internal/pipeline"
	"github.com/conversationai/pipeline/internal/produce"
	"github.com/conversationai/pipeline/internal/queue"
	"github.com/conversationai/pipeline/internal/store"
	"github.com/conversationai/pipeline/internal/toolrt"
	"github.com/conversationai/pipeline/pkg/convmodel"
)

const drainConsumerGroup = "pipelineworker"

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	metrics := observability.NewMetrics()
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "pipelineworker",
		ServiceVersion: version,
		Environment:    cfg.Observability.Tracing.Environment,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		EnableInsecure: cfg.Observability.Tracing.Insecure,
		Attributes:     cfg.Observability.Tracing.Attributes,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "tracer shutdown failed", "error", err)
		}
	}()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "configuration loaded",
		"grpc_port", cfg.Server.GRPCPort, "http_port", cfg.Server.HTTPPort,
		"llm_provider", cfg.LLM.DefaultProvider, "concurrency", cfg.Drain.Concurrency)

	observability.SetDiagnosticsEnabled(cfg.Observability.Diagnostics)
	unsubscribeDiagnostics := observability.OnDiagnosticEvent(func(event observability.DiagnosticEventPayload) {
		logger.Debug(ctx, "diagnostic event", "event_type", string(event.EventType()), "seq", event.Sequence())
	})
	defer unsubscribeDiagnostics()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})

	repo, err := postgres.NewFromDSN(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}

	llmModel, err := buildLLMProvider(cfg.LLM, metrics)
	if err != nil {
		return fmt.Errorf("build llm provider: %w", err)
	}

	sink, sinkComponent, err := buildRealtimeSink(cfg.Realtime, logger)
	if err != nil {
		return fmt.Errorf("build realtime sink: %w", err)
	}

	redisStore := store.NewRedisStore(redisClient)
	convQueue := queue.New(redisStore)
	dedupReg := dedup.New(redisStore)
	jobs := jobq.New(redisClient)
	producer := produce.New(convQueue, jobs, dedupReg)

	globalPause := killswitch.NewGlobalPause()
	ks := killswitch.New(redisStore, db.DurableAIPause{Repo: repo})
	ks.Global = globalPause

	coalescePolicy := coalesce.New(convQueue, repo, cfg.Drain.VisitorDebounce, coalesce.DefaultBatchLimit)

	tools := toolrt.NewRegistry()
	toolrt.RegisterDefaults(tools)

	pl := pipeline.New(repo, dedupReg, tools, llmModel, sink, logger)
	pl.Config.LLMTimeout = 30 * time.Second
	pl.Events = observability.NewEventRecorder(observability.NewMemoryEventStore(cfg.Observability.EventStoreSize), logger)
	pl.Metrics = metrics

	worker := drain.New(redisStore, convQueue, repo, ks, dedupReg, coalescePolicy, pl, sink, producer, newULIDGenerator())
	worker.Config = drainConfigFrom(cfg.Drain)
	worker.Metrics = metrics

	pool := drain.NewPool(worker, jobs, drain.PoolConfig{
		Concurrency: int64(cfg.Drain.Concurrency),
		Group:       drainConsumerGroup,
		Consumer:    hostnameOrDefault(),
	}, nil)

	registry := infra.NewHealthCheckRegistry()
	registry.RegisterSimple("redis", true, func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	registry.RegisterSimple("postgres", true, func(ctx context.Context) error {
		// A lookup for a nonexistent id round-trips the connection without
		// depending on any table having rows; postgres.Repository reports a
		// miss as (nil, nil) rather than an error.
		_, err := repo.GetConversationByID(ctx, "00000000-0000-0000-0000-000000000000")
		return err
	})
	registry.StartBackgroundChecks(ctx)
	defer registry.Stop()

	manager := infra.NewComponentManager(slog.Default())
	manager.Register(infra.NewSimpleComponent("redis_client", nil, nil, func(context.Context) error { return redisClient.Close() }))
	manager.Register(infra.NewSimpleComponent("postgres_repo", nil, nil, func(context.Context) error { repo.Close(); return nil }))
	if sinkComponent != nil {
		manager.Register(sinkComponent)
	}
	manager.Register(newPauseWatcher(cfg.GlobalPause.SentinelPath, globalPause, slog.Default()))
	manager.Register(newMetricsServer(metricsAddr(cfg.Server.Host, cfg.Server.MetricsPort), slog.Default()))
	manager.Register(newHealthServer(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort), registry, slog.Default()))

	startCtx, startSpan := tracer.Start(ctx, "pipelineworker.startup")
	startErr := manager.Start(startCtx)
	startSpan.End()
	if startErr != nil {
		return fmt.Errorf("start components: %w", startErr)
	}

	poolErrCh := make(chan error, 1)
	go func() { poolErrCh <- pool.Run(ctx) }()

	logger.Info(ctx, "pipelineworker started", "grpc_addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort))

	select {
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
	case err := <-poolErrCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error(ctx, "drain pool stopped unexpectedly", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := manager.Stop(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "error during shutdown", "error", err)
		return err
	}
	return nil
}

func buildLLMProvider(cfg config.LLMConfig, metrics *observability.Metrics) (llmprovider.LanguageModel, error) {
	name := cfg.DefaultProvider
	providerCfg := cfg.Providers[name]

	var model llmprovider.LanguageModel
	var err error
	switch name {
	case "anthropic":
		model, err = anthropic.New(anthropic.Config{
			APIKey: providerCfg.APIKey, BaseURL: providerCfg.BaseURL, DefaultModel: providerCfg.DefaultModel,
		})
	case "openai":
		model, err = openai.New(openai.Config{
			APIKey: providerCfg.APIKey, BaseURL: providerCfg.BaseURL, DefaultModel: providerCfg.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", name)
	}
	if err != nil {
		return nil, err
	}

	model = llmprovider.WithMetrics(model, metrics)
	model = llmprovider.WithConcurrencyLimit(model, 10)
	model = llmprovider.WithCircuitBreaker(model, llmprovider.BreakerConfig{})
	return model, nil
}

// buildRealtimeSink returns a NATS-backed sink when a URL is configured, or
// an in-process channel sink for local development, along with the
// lifecycle component that owns the underlying connection (nil for the
// channel sink, which owns nothing that needs closing beyond its channel).
func buildRealtimeSink(cfg config.RealtimeConfig, logger *observability.Logger) (emitter.Sink, infra.FullLifecycleComponent, error) {
	if cfg.NATSURL == "" {
		return emitter.NewChannelSink(256, logger), nil, nil
	}

	conn, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	sink := emitter.NewNATSSink(conn, logger)
	component := infra.NewSimpleComponent("realtime_sink", nil, nil, func(context.Context) error {
		conn.Close()
		return nil
	})
	return sink, component, nil
}

func drainConfigFrom(cfg config.DrainConfig) drain.Config {
	return drain.Config{
		MaxMessages:      cfg.MaxMessages,
		MaxRuntime:       cfg.MaxRuntime,
		LockTTL:          cfg.LockTTL,
		FailureThreshold: int64(cfg.FailureThresholdOrDefault()),
		RetryBackoff:     drain.DefaultConfig().RetryBackoff,
	}
}

func newULIDGenerator() drain.IDGenerator {
	return convmodel.NewULID
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "pipelineworker"
	}
	return h
}
