// Package api implements the HTTP layer of the email sequence service.
// Handlers are methods on *Server. Each handler file is responsible for one
// resource group and only imports the dependencies it actually uses.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nyashahama/email-sequence-backend/internal/ai"
	"github.com/nyashahama/email-sequence-backend/internal/order"
	"github.com/nyashahama/email-sequence-backend/internal/payment"
	"github.com/nyashahama/email-sequence-backend/internal/worker"
)

// Config holds values read from environment variables at startup.
type Config struct {
	// Env is "production", "staging", or "development".
	Env string

	// AllowedOrigins is the CORS allow-list. A browser request from any
	// other origin is rejected.
	AllowedOrigins []string

	// ProcessorToken guards the manual processor trigger. Empty disables
	// the check.
	ProcessorToken string

	// PreviewPerMinute caps preview generations per client IP. Zero means
	// the default of 10.
	PreviewPerMinute int

	// Credential is the server's generation API key, used by the preview
	// when the request carries none.
	Credential string
}

// Payments is the part of *payment.Gateway the handlers call.
type Payments interface {
	CreateIntent(ctx context.Context, p payment.CreateIntentParams) (payment.Intent, error)
	Reconcile(ctx context.Context, payload []byte, signature string) (payment.ReconcileResult, error)
	Lookup(ctx context.Context, sessionID string) (order.Summary, error)
	Artifact(ctx context.Context, sessionID string) (payment.Artifact, error)
}

// Server holds all shared dependencies. Each handler file attaches methods to
// this type and uses only the fields it needs.
type Server struct {
	payments Payments

	// trigger wakes the batch processor after a payment or a manual run.
	trigger worker.Trigger

	// generator serves the synchronous single-row preview.
	generator ai.Generator

	previews *ipLimiter

	cfg    Config
	logger *slog.Logger
}

// NewServer constructs the Server and wires the chi router. The returned
// http.Handler is ready to pass to http.ListenAndServe.
func NewServer(
	payments Payments,
	trigger worker.Trigger,
	generator ai.Generator,
	cfg Config,
	logger *slog.Logger,
) http.Handler {
	if cfg.PreviewPerMinute <= 0 {
		cfg.PreviewPerMinute = 10
	}
	s := &Server{
		payments:  payments,
		trigger:   trigger,
		generator: generator,
		previews:  newIPLimiter(cfg.PreviewPerMinute, time.Minute),
		cfg:       cfg,
		logger:    logger,
	}

	return s.routes()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// ── Global middleware ─────────────────────────────────────────────────────
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggerMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	// ── Health + metrics ──────────────────────────────────────────────────────
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// ── API ───────────────────────────────────────────────────────────────────
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Post("/checkout", s.handleCreateCheckout)

			// Stripe webhook. No auth; the signature is verified inside.
			r.Post("/webhooks/stripe", s.handleStripeWebhook)

			// Order access. The checkout session id is the bearer secret.
			r.Get("/orders/{sessionID}", s.handleGetOrder)
			r.Get("/orders/{sessionID}/artifact", s.handleGetArtifact)

			r.Post("/processor/run", s.handleRunProcessor)
		})

		// Preview waits on one model call, which has its own timeout.
		r.With(s.previewLimit).Post("/preview", s.handlePreview)
	})

	return r
}
