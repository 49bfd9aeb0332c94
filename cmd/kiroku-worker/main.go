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

	"github.com/joho/godotenv"

	"github.com/kirokuhq/kiroku/internal/config"
	"github.com/kirokuhq/kiroku/internal/jobs"
	"github.com/kirokuhq/kiroku/internal/runs"
	"github.com/kirokuhq/kiroku/internal/status"
	"github.com/kirokuhq/kiroku/internal/storage"
	"github.com/kirokuhq/kiroku/internal/telemetry"
	"github.com/kirokuhq/kiroku/internal/worker"
	"github.com/kirokuhq/kiroku/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("KIROKU_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	code, err := run(logger)
	if err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return code
}

func run(logger *slog.Logger) (int, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return 1, fmt.Errorf("load config: %w", err)
	}

	slog.Info("kiroku worker starting",
		"version", version,
		"queue", cfg.QueueName,
		"concurrency", cfg.WorkerConcurrency,
	)

	// The claim loop gets its own cancellable context so shutdown can stop
	// new claims while in-flight jobs keep running.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return 1, fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := storage.New(ctx, cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		return 1, fmt.Errorf("storage: %w", err)
	}
	// Bounded close: an abandoned job's in-flight query must not keep
	// the process alive after the shutdown timeout already expired.
	defer db.CloseWithTimeout(context.Background(), 5*time.Second)

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return 1, fmt.Errorf("migrations: %w", err)
	}

	store := runs.New(db, logger)
	publisher := status.NewPublisher(db, logger)

	dispatcher := worker.NewDispatcher(logger)
	jobs.NewService(store, publisher, logger).Register(dispatcher)

	runtime := worker.New(worker.Config{
		DB:           db,
		Dispatcher:   dispatcher,
		Publisher:    publisher,
		Logger:       logger,
		Queue:        cfg.QueueName,
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.PollInterval,
	})

	done := make(chan error, 1)
	go func() {
		done <- runtime.Run(ctx)
	}()

	// First signal starts a graceful drain; further signals are ignored so
	// an impatient Ctrl-C cannot cut off in-flight jobs before the
	// shutdown timeout.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-done:
		// Worker stopped on its own (startup failure or fatal loop error).
		if err != nil {
			return 1, err
		}
		return 0, nil
	case sig := <-sigCh:
		slog.Info("shutdown signal received, draining",
			"signal", sig.String(),
			"timeout", cfg.ShutdownTimeout.String(),
		)
	}

	cancel()
	timeout := time.NewTimer(cfg.ShutdownTimeout)
	defer timeout.Stop()

	for {
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("worker stopped with error", "error", err)
				return 1, nil
			}
			slog.Info("worker drained, exiting")
			return 0, nil
		case <-timeout.C:
			slog.Error("shutdown timeout exceeded, exiting with in-flight jobs abandoned")
			return 1, nil
		case sig := <-sigCh:
			slog.Info("already draining, signal ignored", "signal", sig.String())
		}
	}
}
