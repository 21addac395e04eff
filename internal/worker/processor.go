package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nyashahama/email-sequence-backend/internal/ai"
	"github.com/nyashahama/email-sequence-backend/internal/artifact"
	"github.com/nyashahama/email-sequence-backend/internal/contacts"
	"github.com/nyashahama/email-sequence-backend/internal/csvexport"
	"github.com/nyashahama/email-sequence-backend/internal/email"
	"github.com/nyashahama/email-sequence-backend/internal/metrics"
	"github.com/nyashahama/email-sequence-backend/internal/order"
	"github.com/nyashahama/email-sequence-backend/internal/prompt"
	"github.com/nyashahama/email-sequence-backend/internal/store"
)

// OrderStore is the part of *store.Store the processor drives.
type OrderStore interface {
	ClaimNextOrder(ctx context.Context, p store.ClaimParams) (order.Order, error)
	FinalizeOrder(ctx context.Context, p store.FinalizeParams) (order.Order, error)
	FailOrder(ctx context.Context, id uuid.UUID, attempts int, reason string) (order.Order, error)
	FailExhaustedOrders(ctx context.Context, p store.ClaimParams) ([]uuid.UUID, error)
}

// finishTimeout bounds archive, delivery and the final status write together.
const finishTimeout = 2 * time.Minute

// ProcessorConfig holds the generation settings for one invocation.
type ProcessorConfig struct {
	// Credential is the generation provider key used for every row.
	Credential string

	// Concurrency bounds in-flight generation calls per order. Default: 1,
	// which processes rows strictly in order.
	Concurrency int

	// RatePerSec throttles generation calls across all orders handled by this
	// Processor. Zero disables throttling.
	RatePerSec float64

	// CallTimeout bounds each generation call. Default: 60s.
	CallTimeout time.Duration

	// Claim decides which orders are claimable.
	Claim store.ClaimParams
}

// Processor runs the claim → generate → export → deliver → finalize pipeline
// for one order per invocation. Every step is a separate method so RunOnce
// reads top to bottom.
type Processor struct {
	store    OrderStore
	gen      ai.Generator
	mailer   email.Sender
	archiver artifact.Archiver // nil disables archiving
	limiter  *rate.Limiter     // nil disables throttling
	cfg      ProcessorConfig
	logger   *slog.Logger
}

// NewProcessor constructs a Processor. archiver may be nil.
func NewProcessor(
	st OrderStore,
	gen ai.Generator,
	mailer email.Sender,
	archiver artifact.Archiver,
	cfg ProcessorConfig,
	logger *slog.Logger,
) *Processor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	if cfg.Claim.StaleAfter <= 0 {
		cfg.Claim.StaleAfter = 30 * time.Minute
	}
	if cfg.Claim.MaxAttempts <= 0 {
		cfg.Claim.MaxAttempts = 3
	}

	var limiter *rate.Limiter
	if cfg.RatePerSec > 0 {
		burst := max(int(cfg.RatePerSec), 1)
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}

	return &Processor{
		store:    st,
		gen:      gen,
		mailer:   mailer,
		archiver: archiver,
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger,
	}
}

// Outcome describes what one invocation did.
type Outcome struct {
	// Claimed is false when there was nothing to do.
	Claimed      bool
	OrderID      uuid.UUID
	Status       order.Status
	SuccessCount int
	ErrorCount   int
	Delivered    bool
}

// RunOnce processes at most one order:
//
//  1. Claim the oldest pending (or stale processing) order.
//  2. Generate a sequence per contact row; a failed row gets the sentinel.
//  3. Tally successes and failures.
//  4. Build the CSV artifact.
//  5. Archive it (optional) and email it to the customer (best-effort).
//  6. Finalize the order, fenced on the claim.
//
// An idle store is not an error. A row failure never aborts the order; only
// an order with no rows, or a store error, ends it early.
func (p *Processor) RunOnce(ctx context.Context) (Outcome, error) {
	// ── 1. Claim ──────────────────────────────────────────────────────────────
	o, err := p.store.ClaimNextOrder(ctx, p.cfg.Claim)
	if errors.Is(err, store.ErrNoPendingOrder) {
		return Outcome{}, nil
	}
	if errors.Is(err, store.ErrUndecodableOrder) {
		p.logger.Error("processor: claimed order is unreadable", "order_id", o.ID, "error", err)
		return p.fail(ctx, o, "stored order data could not be read")
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("processor: claim: %w", err)
	}

	log := p.logger.With("order_id", o.ID, "attempt", o.Attempts)
	if !o.Status.CanTransitionTo(order.StatusCompleted) {
		log.Error("processor: claimed order in unexpected state", "status", o.Status)
		return p.fail(ctx, o, "order was not in a processable state")
	}
	log.Info("processor: order claimed", "contacts", len(o.Rows))

	// ── 2. Generate ───────────────────────────────────────────────────────────
	results := p.generate(ctx, o, log)

	// ── 3. Tally ──────────────────────────────────────────────────────────────
	success, failed := order.Tally(results)
	metrics.RowsGenerated.WithLabelValues("success").Add(float64(success))
	metrics.RowsGenerated.WithLabelValues("failed").Add(float64(failed))
	log.Info("processor: generation finished", "success", success, "failed", failed)

	// Steps 4-6 run past the invocation deadline. Rows cut off by it are
	// already sentinels; the claim fence still rejects a late finalize.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	// ── 4. Artifact ───────────────────────────────────────────────────────────
	csv, err := csvexport.Build(o.Headers, o.Rows, results)
	if errors.Is(err, csvexport.ErrEmptyInput) {
		log.Warn("processor: order has no contacts")
		return p.fail(ctx, o, "order has no contacts")
	}
	if err != nil {
		return p.fail(ctx, o, "could not build results file")
	}
	filename := csvexport.Filename(o.ID.String())

	// ── 5. Archive and deliver ────────────────────────────────────────────────
	url := p.archive(ctx, o, csv, log)

	delivered := p.mailer.SendResultsReady(ctx, email.ResultsReadyParams{
		To:              o.Email,
		OrderID:         o.ID.String(),
		ContactCount:    len(o.Rows),
		EmailsGenerated: order.EmailCount(results),
		ErrorCount:      failed,
		CSV:             csv,
		Filename:        filename,
		DownloadURL:     url,
	})
	if !delivered {
		// The results stay downloadable; a mail outage does not fail the order.
		metrics.DeliveryFailures.Inc()
		log.Warn("processor: results email not delivered")
	}

	// ── 6. Finalize ───────────────────────────────────────────────────────────
	_, err = p.store.FinalizeOrder(ctx, store.FinalizeParams{
		ID:           o.ID,
		Attempts:     o.Attempts,
		Results:      results,
		SuccessCount: success,
		ErrorCount:   failed,
		Artifact:     csv,
		ArtifactURL:  url,
		Delivered:    delivered,
	})
	if errors.Is(err, store.ErrClaimLost) {
		log.Warn("processor: claim lost before finalize, result discarded")
		return Outcome{Claimed: true, OrderID: o.ID, Status: order.StatusProcessing}, err
	}
	if err != nil {
		return Outcome{Claimed: true, OrderID: o.ID, Status: order.StatusProcessing},
			fmt.Errorf("processor: finalize %s: %w", o.ID, err)
	}

	metrics.OrdersFinished.WithLabelValues(string(order.StatusCompleted)).Inc()
	log.Info("processor: order completed", "delivered", delivered)

	return Outcome{
		Claimed:      true,
		OrderID:      o.ID,
		Status:       order.StatusCompleted,
		SuccessCount: success,
		ErrorCount:   failed,
		Delivered:    delivered,
	}, nil
}

// Sweep fails stale processing orders that have used all their attempts.
func (p *Processor) Sweep(ctx context.Context) ([]uuid.UUID, error) {
	ids, err := p.store.FailExhaustedOrders(ctx, p.cfg.Claim)
	if err != nil {
		return nil, fmt.Errorf("processor: sweep: %w", err)
	}
	for _, id := range ids {
		metrics.OrdersFinished.WithLabelValues(string(order.StatusFailed)).Inc()
		p.logger.Error("processor: order abandoned after max attempts", "order_id", id)
	}
	return ids, nil
}

// ─── STEPS ────────────────────────────────────────────────────────────────────

// generate fills results[i] for row i. Calls run with at most Concurrency in
// flight; every slot is written exactly once, by the goroutine for that row.
func (p *Processor) generate(ctx context.Context, o order.Order, log *slog.Logger) []order.Sequence {
	list := contacts.List{Headers: o.Headers, Rows: o.Rows}
	variables := prompt.Variables(o.Template)
	results := make([]order.Sequence, list.Len())

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for i := range list.Len() {
		g.Go(func() error {
			seq, err := p.generateRow(ctx, o.Template, list.Fields(i), variables)
			if err != nil {
				log.Warn("processor: row generation failed", "row", i, "error", err)
				results[i] = order.FailedSequence()
				return nil
			}
			results[i] = seq
			return nil
		})
	}
	_ = g.Wait() // rows never return errors

	return results
}

func (p *Processor) generateRow(ctx context.Context, template string, fields []contacts.Field, variables []string) (order.Sequence, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	seq, err := p.gen.Generate(callCtx, p.cfg.Credential, ai.GenerateParams{
		Template:  template,
		Contact:   fields,
		Variables: variables,
	})
	metrics.GenerationSeconds.Observe(time.Since(start).Seconds())
	return seq, err
}

func (p *Processor) archive(ctx context.Context, o order.Order, csv []byte, log *slog.Logger) string {
	if p.archiver == nil {
		return ""
	}
	url, err := p.archiver.Archive(ctx, o.ID.String(), csv)
	if err != nil {
		log.Warn("processor: archive failed, continuing without link", "error", err)
		return ""
	}
	return url
}

// fail marks a held order failed. Losing the claim here is logged, not
// returned: another invocation owns the order now.
func (p *Processor) fail(ctx context.Context, o order.Order, reason string) (Outcome, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	out := Outcome{Claimed: true, OrderID: o.ID, Status: order.StatusFailed}
	_, err := p.store.FailOrder(ctx, o.ID, o.Attempts, reason)
	if errors.Is(err, store.ErrClaimLost) {
		p.logger.Warn("processor: claim lost before failing order", "order_id", o.ID)
		out.Status = order.StatusProcessing
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("processor: fail order %s: %w", o.ID, err)
	}
	metrics.OrdersFinished.WithLabelValues(string(order.StatusFailed)).Inc()
	return out, nil
}
