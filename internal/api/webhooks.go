package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/nyashahama/email-sequence-backend/internal/payment"
)

// ─── POST /api/webhooks/stripe ────────────────────────────────────────────────

// handleStripeWebhook is the entry point for all Stripe webhook deliveries.
//
// Stripe delivers events at-least-once and retries on non-2xx responses.
// Reconcile is idempotent, so a 500 here is always safe to retry.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	// ── 1. Read and size-limit the body ───────────────────────────────────────
	// The signature check runs against the exact bytes Stripe signed.
	r.Body = http.MaxBytesReader(w, r.Body, 65536)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		respondErr(w, http.StatusBadRequest, "could not read request body")
		return
	}

	// ── 2. Verify and apply ───────────────────────────────────────────────────
	res, err := s.payments.Reconcile(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if errors.Is(err, payment.ErrInvalidSignature) {
		s.logger.Warn("webhook: invalid signature", "error", err, logField(r))
		respondErr(w, http.StatusBadRequest, "invalid webhook signature")
		return
	}
	if err != nil {
		// Already logged and recorded against the event by Reconcile.
		respondErr(w, http.StatusInternalServerError, "webhook handler failed")
		return
	}

	// ── 3. Wake the processor for a freshly paid order ────────────────────────
	// The periodic poll picks the order up anyway; this only shortens the wait.
	if res.Applied && s.trigger != nil {
		if err := s.trigger.Trigger(r.Context()); err != nil {
			s.logger.Warn("webhook: processor trigger failed", "order_id", res.OrderID, "error", err, logField(r))
		}
	}

	w.WriteHeader(http.StatusOK)
}
