// Command processor runs one batch invocation and exits. It is meant for an
// external scheduler (cron, a Kubernetes CronJob) when the API server runs
// with SCHEDULER_ENABLED=false.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nyashahama/email-sequence-backend/internal/app"
	"github.com/nyashahama/email-sequence-backend/internal/config"
	"github.com/nyashahama/email-sequence-backend/internal/metrics"
	"github.com/nyashahama/email-sequence-backend/internal/store"
)

func main() {
	logger := app.NewLogger(os.Getenv("ENV"))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.LoadProcessor()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	pool, queries, err := app.OpenDB(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()

	proc, err := app.NewProcessor(ctx, cfg, store.New(pool, queries), logger)
	if err != nil {
		return fmt.Errorf("processor: %w", err)
	}

	// ── Sweep orders that ran out of attempts ─────────────────────────────────
	if ids, err := proc.Sweep(ctx); err != nil {
		logger.Error("sweep failed", "error", err)
	} else if len(ids) > 0 {
		logger.Info("exhausted orders failed", "count", len(ids))
	}

	// ── One invocation ────────────────────────────────────────────────────────
	jobCtx, cancel := context.WithTimeout(ctx, cfg.JobTimeout)
	defer cancel()

	out, err := proc.RunOnce(jobCtx)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	if !out.Claimed {
		logger.Info("no pending orders")
		return nil
	}
	logger.Info("order processed",
		"order_id", out.OrderID,
		"status", out.Status,
		"success", out.SuccessCount,
		"failed", out.ErrorCount,
		"delivered", out.Delivered,
	)
	return nil
}
