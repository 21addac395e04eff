// Package worker contains the batch pipeline that claims a paid order,
// generates a sequence per contact, builds the CSV, delivers it and finalizes
// the order. It is decoupled from the HTTP layer: the api package holds a
// worker.Trigger interface and never imports the concrete Runner.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ─── TRIGGER INTERFACE ────────────────────────────────────────────────────────

// Trigger is the narrow interface the api package uses to request an
// out-of-band invocation (the manual processor endpoint).
//
// The concrete implementation is *Runner. In tests, any struct with a Trigger
// method satisfies the interface.
type Trigger interface {
	Trigger(ctx context.Context) error
}

// ─── RUNNER ───────────────────────────────────────────────────────────────────

// RunnerConfig holds tuning parameters for the Runner. Zero fields fall back
// to DefaultRunnerConfig().
type RunnerConfig struct {
	// Workers is the number of goroutines invoking RunOnce. Invocations from
	// different workers overlap; the claim keeps them on different orders.
	// Default: 2.
	Workers int

	// PollInterval is how often each worker invokes RunOnce. Default: 60s.
	PollInterval time.Duration

	// JobTimeout is the per-invocation deadline. It must be shorter than the
	// stale-claim threshold so a live invocation is cancelled before its order
	// can be reclaimed. Default: 20 minutes.
	JobTimeout time.Duration
}

// DefaultRunnerConfig returns safe production defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Workers:      2,
		PollInterval: 60 * time.Second,
		JobTimeout:   20 * time.Minute,
	}
}

// Invoker runs one pipeline invocation. *Processor satisfies it.
type Invoker interface {
	RunOnce(ctx context.Context) (Outcome, error)
	Sweep(ctx context.Context) ([]uuid.UUID, error)
}

// Runner schedules invocations: each worker goroutine calls RunOnce on every
// tick, and Trigger wakes one worker immediately.
type Runner struct {
	proc   Invoker
	cfg    RunnerConfig
	logger *slog.Logger

	kick chan struct{}
	wg   sync.WaitGroup
}

// NewRunner constructs a Runner. Call Start() to begin processing.
func NewRunner(proc Invoker, cfg RunnerConfig, logger *slog.Logger) *Runner {
	def := DefaultRunnerConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}

	return &Runner{
		proc:   proc,
		cfg:    cfg,
		logger: logger,
		// One pending kick is enough: a worker woken by it claims whatever is
		// pending at that moment.
		kick: make(chan struct{}, 1),
	}
}

// Trigger requests an immediate invocation. It never blocks; a trigger that
// arrives while another is still pending is merged with it.
func (r *Runner) Trigger(_ context.Context) error {
	select {
	case r.kick <- struct{}{}:
		r.logger.Info("worker: manual invocation requested")
	default:
		r.logger.Debug("worker: invocation already pending")
	}
	return nil
}

// Start launches the workers and the sweeper. It blocks until ctx is
// cancelled and every in-flight invocation has returned. Call it in a
// goroutine from main:
//
//	go runner.Start(ctx)
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("worker: starting", "workers", r.cfg.Workers, "poll_interval", r.cfg.PollInterval)

	for i := range r.cfg.Workers {
		r.wg.Add(1)
		go r.work(ctx, i)
	}

	r.wg.Add(1)
	go r.sweep(ctx)

	r.wg.Wait()
	r.logger.Info("worker: stopped")
}

// work is the loop for each worker goroutine.
func (r *Runner) work(ctx context.Context, id int) {
	defer r.wg.Done()
	log := r.logger.With("worker_id", id)
	log.Info("worker: goroutine started")

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("worker: goroutine stopping")
			return
		case <-ticker.C:
			r.invoke(ctx, log)
		case <-r.kick:
			r.invoke(ctx, log)
		}
	}
}

// invoke runs one RunOnce under JobTimeout.
func (r *Runner) invoke(ctx context.Context, log *slog.Logger) {
	jobCtx, cancel := context.WithTimeout(ctx, r.cfg.JobTimeout)
	defer cancel()

	out, err := r.proc.RunOnce(jobCtx)
	if err != nil {
		log.Error("worker: invocation failed", "order_id", out.OrderID, "error", err)
		return
	}
	if !out.Claimed {
		log.Debug("worker: no pending orders")
		return
	}
	log.Info("worker: invocation finished",
		"order_id", out.OrderID,
		"status", out.Status,
		"success", out.SuccessCount,
		"failed", out.ErrorCount,
		"delivered", out.Delivered,
	)
}

// sweep fails exhausted orders once per PollInterval.
func (r *Runner) sweep(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.proc.Sweep(ctx); err != nil {
				r.logger.Error("worker: sweep failed", "error", err)
			}
		}
	}
}
