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

	"github.com/bloodlink/allocator/internal/allocation"
	"github.com/bloodlink/allocator/internal/api"
	"github.com/bloodlink/allocator/internal/api/handler"
	"github.com/bloodlink/allocator/internal/cache"
	"github.com/bloodlink/allocator/internal/config"
	"github.com/bloodlink/allocator/internal/db"
	"github.com/bloodlink/allocator/internal/hub"
	"github.com/bloodlink/allocator/internal/metrics"
	"github.com/bloodlink/allocator/internal/notify"
	"github.com/bloodlink/allocator/internal/publisher"
	"github.com/bloodlink/allocator/internal/stats"
	"github.com/bloodlink/allocator/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	// Setup logging
	logger := setupLogging(cfg.LogLevel)
	defer logger.Sync()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("allocator error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// run wires every component and blocks until ctx is cancelled or one of them
// fails. Cancellation of ctx is a clean shutdown and returns nil.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting allocator",
		zap.String("ledger", cfg.LedgerDriver),
		zap.String("cache", cfg.CacheDriver),
		zap.String("events_topic", cfg.EventsTopic),
	)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New()
	m.Register(registry)

	// Ledger
	store, err := db.OpenLedger(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer store.Close()

	// Connect to Redis
	var redisClient redis.UniversalClient
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(redisOpts)
		defer redisClient.Close()
	}

	cacheStore, err := cache.Open(cfg.CacheDriver, redisClient, cfg.DashboardKeyPrefix)
	if err != nil {
		return fmt.Errorf("open dashboard cache: %w", err)
	}

	// Live event delivery
	eventHub := hub.New(hub.Config{}, logger)
	defer eventHub.Close()

	var (
		sink notify.Sink = eventHub
		wrk  *worker.Worker
	)
	if cfg.EventsTopic != "" {
		pub, err := publisher.New(redisClient, cfg.EventsTopic, logger)
		if err != nil {
			return fmt.Errorf("create publisher: %w", err)
		}
		defer pub.Close()
		sink = pub

		wrk, err = worker.New(worker.Config{
			RedisClient:   redisClient,
			Sink:          eventHub,
			Topic:         cfg.EventsTopic,
			ConsumerGroup: cfg.ConsumerGroup,
			Timeout:       cfg.NotifyTimeout,
			Logger:        logger,
		})
		if err != nil {
			return fmt.Errorf("create worker: %w", err)
		}
		defer wrk.Close()
	}

	dispatcher := notify.NewDispatcher(sink, logger, m, notify.DispatcherConfig{
		Buffer:  cfg.NotifyBuffer,
		Workers: cfg.NotifyWorkers,
		Timeout: cfg.NotifyTimeout,
	})

	coordinator := allocation.New(store, cache.NewMutator(cacheStore), dispatcher, logger, m, allocation.Config{
		SideEffectTimeout: cfg.SideEffectTimeout,
	})
	aggregator := stats.New(store, cacheStore, logger, m, stats.Config{
		Concurrency: cfg.RebuildConcurrency,
	})

	server, err := api.NewServer(handler.Deps{
		Coordinator: coordinator,
		Aggregator:  aggregator,
		Ledger:      store,
		Cache:       cacheStore,
		Events:      eventHub.ServeWS,
		Metrics:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	}, logger, cfg.HTTPAddr, cfg.AdminToken)
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}

	// Run all components
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Run(gctx)
	})

	g.Go(func() error {
		return dispatcher.Run(gctx)
	})

	if wrk != nil {
		g.Go(func() error {
			logger.Info("starting event relay worker", zap.String("topic", cfg.EventsTopic))
			return wrk.Run(gctx)
		})
		g.Go(func() error {
			return logQueueStats(gctx, wrk, time.Minute)
		})
	}

	// Optional: periodic dashboard reconciliation
	if cfg.RebuildInterval > 0 {
		g.Go(func() error {
			return aggregator.RunPeriodic(gctx, cfg.RebuildInterval)
		})
	}

	// gctx is cancelled by the first failure too, so only the parent tells a
	// shutdown apart from a crash.
	if err := g.Wait(); err != nil && !(ctx.Err() != nil && errors.Is(err, context.Canceled)) {
		return err
	}
	return nil
}

// setupLogging builds the zap logger and points slog, which watermill logs
// through, at the same level.
func setupLogging(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := zcfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}

	var slvl slog.Level
	switch lvl {
	case zapcore.DebugLevel:
		slvl = slog.LevelDebug
	case zapcore.WarnLevel:
		slvl = slog.LevelWarn
	case zapcore.ErrorLevel:
		slvl = slog.LevelError
	default:
		slvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slvl})))

	return logger
}

func logQueueStats(ctx context.Context, wrk *worker.Worker, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			wrk.LogQueueStats(ctx)
		}
	}
}
