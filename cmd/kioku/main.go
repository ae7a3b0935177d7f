// Command kioku runs the namespaced object-store engine: a WAL-durable,
// versioned object store with watch fan-out, leases, and idempotency.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/kioku-io/kioku/internal/config"
	"github.com/kioku-io/kioku/internal/engine"
	"github.com/kioku-io/kioku/internal/mirror"
	"github.com/kioku-io/kioku/internal/telemetry"
	"github.com/kioku-io/kioku/internal/wal"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// .env is optional; production deployments won't have one.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		return 1
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func newLogger(cfg config.Config) *slog.Logger {
	level := parseLogLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("kioku starting", "version", version, "data_dir", cfg.DataDir)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	eng, err := engine.OpenPersistent(cfg.DataDir, wal.Config{
		SegmentBytes:  cfg.WALSegmentBytes,
		BatchMaxBytes: cfg.WALBatchMaxBytes,
		BatchMaxWait:  cfg.WALBatchMaxMs,
	}, logger)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	eng.SetWatchDefaults(engine.WatchConfig{
		MaxEvents:  cfg.WatchBufferEvents,
		MaxBytes:   cfg.WatchBufferBytes,
		RetryMinMs: cfg.WatchRetryMinMs,
		RetryMaxMs: cfg.WatchRetryMaxMs,
	})

	var mirrorWorker *mirror.Worker
	if cfg.MirrorQdrantURL != "" {
		idx, err := mirror.NewIndex(mirror.Config{
			URL:        cfg.MirrorQdrantURL,
			APIKey:     cfg.MirrorQdrantAPIKey,
			Collection: cfg.MirrorQdrantCollection,
			Dims:       cfg.MirrorVectorDims,
		}, logger)
		if err != nil {
			return fmt.Errorf("mirror: %w", err)
		}
		defer func() { _ = idx.Close() }()

		if err := idx.EnsureCollection(ctx); err != nil {
			return fmt.Errorf("mirror ensure collection: %w", err)
		}

		mirrorWorker = mirror.NewWorker(idx, mirror.Config{
			VectorField:  cfg.MirrorVectorField,
			Dims:         cfg.MirrorVectorDims,
			PollInterval: cfg.MirrorPollIntervalMs,
			BatchSize:    cfg.MirrorBatchSize,
		}, logger)
		eng.SetMirrorHooks(mirrorWorker.EnqueuePut, mirrorWorker.EnqueueDelete)
		mirrorWorker.Start(ctx)
		logger.Info("mirror: enabled", "collection", cfg.MirrorQdrantCollection)
	} else {
		logger.Info("mirror: disabled (no MIRROR_QDRANT_URL)")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		eng.RunTTLSweeper(gctx, cfg.TTLSweepIntervalMs)
		return nil
	})

	<-ctx.Done()
	logger.Info("kioku shutting down")

	_ = g.Wait()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()
	if err := eng.Drain(drainCtx); err != nil {
		logger.Error("wal drain error", "error", err)
	}

	if mirrorWorker != nil {
		mirrorDrainCtx, mirrorDrainCancel := context.WithTimeout(context.Background(), 30*time.Second)
		mirrorWorker.Drain(mirrorDrainCtx)
		mirrorDrainCancel()
	}

	logger.Info("kioku stopped")
	return nil
}
