// Package app builds the shared runtime pieces both binaries need from a
// loaded config: the logger, the database pool and the batch processor with
// its generation, delivery and archive backends.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq" // postgres driver

	"github.com/nyashahama/email-sequence-backend/internal/ai"
	"github.com/nyashahama/email-sequence-backend/internal/artifact"
	"github.com/nyashahama/email-sequence-backend/internal/config"
	"github.com/nyashahama/email-sequence-backend/internal/db"
	"github.com/nyashahama/email-sequence-backend/internal/email"
	"github.com/nyashahama/email-sequence-backend/internal/store"
	"github.com/nyashahama/email-sequence-backend/internal/worker"
)

// NewLogger returns JSON logs in production and debug-level text otherwise.
func NewLogger(env string) *slog.Logger {
	if env == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// OpenDB opens the connection pool and waits for the database to answer a
// ping, retrying with exponential backoff for up to a minute. Containers
// often start before their database does.
func OpenDB(ctx context.Context, dsn string, logger *slog.Logger) (*sql.DB, *db.Queries, error) {
	pool, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open: %w", err)
	}

	// Tune the connection pool.
	pool.SetMaxOpenConns(25)
	pool.SetMaxIdleConns(10)
	pool.SetConnMaxLifetime(5 * time.Minute)
	pool.SetConnMaxIdleTime(2 * time.Minute)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = time.Minute

	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return pool.PingContext(pingCtx)
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("database not ready, retrying", "error", err, "retry_in", wait)
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(b, ctx), notify); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}

	return pool, db.New(pool), nil
}

// NewGenerator returns the generation client for the configured provider.
func NewGenerator(cfg *config.Config) ai.Generator {
	if cfg.GenerationProvider == "deepseek" {
		return ai.NewDeepSeekClient(cfg.DeepSeekModel, cfg.DeepSeekBaseURL, cfg.GenerationTimeout)
	}
	return ai.NewGeminiClient(cfg.GeminiModel, cfg.GeminiBaseURL, cfg.GenerationTimeout)
}

// NewMailer returns the delivery sender for the configured provider.
func NewMailer(cfg *config.Config, logger *slog.Logger) email.Sender {
	if cfg.EmailProvider == "smtp" {
		return email.NewSMTPClient(
			cfg.SMTPHost,
			cfg.SMTPPort,
			cfg.SMTPUser,
			cfg.SMTPPassword,
			cfg.EmailFromAddr,
			cfg.EmailFromName,
			logger,
		)
	}
	return email.NewPostmarkClient(
		cfg.PostmarkServerToken,
		cfg.EmailFromAddr,
		cfg.EmailFromName,
		cfg.PostmarkBaseURL,
		logger,
	)
}

// NewArchiver returns the S3 archiver, or nil when archiving is off.
func NewArchiver(ctx context.Context, cfg *config.Config) (artifact.Archiver, error) {
	if !cfg.ArchiveEnabled() {
		return nil, nil
	}
	a, err := artifact.NewS3Archiver(ctx, artifact.Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		Prefix:          cfg.S3Prefix,
		LinkTTL:         cfg.S3LinkTTL,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// NewProcessor wires the batch processor against st.
func NewProcessor(ctx context.Context, cfg *config.Config, st *store.Store, logger *slog.Logger) (*worker.Processor, error) {
	archiver, err := NewArchiver(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	if archiver != nil {
		logger.Info("artifacts archived to s3", "bucket", cfg.S3Bucket)
	}

	logger.Info("generation provider", "provider", cfg.GenerationProvider, "concurrency", cfg.GenerationConcurrency)
	logger.Info("delivery provider", "provider", cfg.EmailProvider)

	return worker.NewProcessor(
		st,
		NewGenerator(cfg),
		NewMailer(cfg, logger),
		archiver,
		worker.ProcessorConfig{
			Credential:  cfg.GenerationCredential(),
			Concurrency: cfg.GenerationConcurrency,
			RatePerSec:  cfg.GenerationRatePerSec,
			CallTimeout: cfg.GenerationTimeout,
			Claim: store.ClaimParams{
				StaleAfter:  cfg.StaleAfter,
				MaxAttempts: cfg.MaxAttempts,
			},
		},
		logger,
	), nil
}
