package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nyashahama/email-sequence-backend/internal/api"
	"github.com/nyashahama/email-sequence-backend/internal/app"
	"github.com/nyashahama/email-sequence-backend/internal/config"
	"github.com/nyashahama/email-sequence-backend/internal/db"
	"github.com/nyashahama/email-sequence-backend/internal/metrics"
	"github.com/nyashahama/email-sequence-backend/internal/payment"
	"github.com/nyashahama/email-sequence-backend/internal/store"
	stripeinternal "github.com/nyashahama/email-sequence-backend/internal/stripe"
	"github.com/nyashahama/email-sequence-backend/internal/worker"
)

func main() {
	// ── Logger ────────────────────────────────────────────────────────────────
	// JSON in production, pretty text in development.
	logger := app.NewLogger(os.Getenv("ENV"))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// ── Config ────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger.Info("config loaded", "env", cfg.Env, "port", cfg.Port)

	// Root context cancelled by OS signal. Worker and HTTP server both respect it.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	// ── Database ──────────────────────────────────────────────────────────────
	if cfg.RunMigrations {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied")
	}

	pool, queries, err := app.OpenDB(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()
	logger.Info("database connected")

	// ── Store (atomic multi-step writes) ──────────────────────────────────────
	st := store.New(pool, queries)

	// ── Payments ──────────────────────────────────────────────────────────────
	gateway := payment.NewGateway(
		queries,
		st,
		stripeinternal.NewClient(cfg.StripeSecretKey),
		payment.Config{
			WebhookSecret:      cfg.StripeWebhookSecret,
			Currency:           cfg.Currency,
			PricePerEmailCents: cfg.PricePerEmailCents,
			SuccessURL:         cfg.CheckoutSuccessURL,
			CancelURL:          cfg.CheckoutCancelURL,
		},
		logger,
	)

	// ── Worker ────────────────────────────────────────────────────────────────
	// With the scheduler off an external cron runs cmd/processor, and the
	// manual trigger endpoint answers 503.
	var trigger worker.Trigger
	var runner *worker.Runner
	if cfg.SchedulerEnabled {
		proc, err := app.NewProcessor(ctx, cfg, st, logger)
		if err != nil {
			return fmt.Errorf("processor: %w", err)
		}
		runner = worker.NewRunner(proc, worker.RunnerConfig{
			Workers:      cfg.WorkerCount,
			PollInterval: cfg.PollInterval,
			JobTimeout:   cfg.JobTimeout,
		}, logger)
		trigger = runner
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	handler := api.NewServer(
		gateway,
		trigger,
		app.NewGenerator(cfg),
		api.Config{
			Env:              cfg.Env,
			AllowedOrigins:   cfg.AllowedOrigins,
			ProcessorToken:   cfg.ProcessorToken,
			PreviewPerMinute: cfg.PreviewPerMinute,
			Credential:       cfg.GenerationCredential(),
		},
		logger,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // preview waits on a model call
		IdleTimeout:  120 * time.Second,
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	runnerDone := make(chan struct{})
	if runner != nil {
		go func() {
			runner.Start(ctx)
			close(runnerDone)
		}()
	} else {
		close(runnerDone)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Block until either a signal arrives or the server dies unexpectedly.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	// Give in-flight HTTP requests up to 20 seconds to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// An interrupted invocation leaves its order in processing; the next
	// claim after STALE_AFTER takes it over.
	<-runnerDone
	logger.Info("shutdown complete")
	return nil
}
