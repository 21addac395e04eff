package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nyashahama/email-sequence-backend/internal/metrics"
	"github.com/nyashahama/email-sequence-backend/internal/store"
	stripeinternal "github.com/nyashahama/email-sequence-backend/internal/stripe"
)

// ReconcileResult reports what a webhook delivery did.
type ReconcileResult struct {
	EventID string
	Type    string
	// Duplicate is true when the event had already been processed.
	Duplicate bool
	// Applied is true when the delivery moved an order to pending.
	Applied bool
	OrderID uuid.UUID
}

// Reconcile verifies a Stripe webhook delivery and applies it.
//
// Stripe delivers events at-least-once and retries on errors. Every effect is
// conditioned on the order's current status, so replays are safe. A non-nil
// error other than ErrInvalidSignature means the delivery should be retried.
func (g *Gateway) Reconcile(ctx context.Context, payload []byte, signature string) (ReconcileResult, error) {
	// ── 1. Verify the Stripe-Signature header ─────────────────────────────────
	event, err := g.stripe.VerifyWebhook(payload, signature, g.cfg.WebhookSecret)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("invalid_signature").Inc()
		return ReconcileResult{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	res := ReconcileResult{EventID: event.ID, Type: event.Type}

	// ── 2. Idempotency: record the event, skip if already processed ───────────
	// UpsertStripeEvent returns no row when the event id is already marked
	// processed; a previously failed event is recorded again and retried.
	_, err = g.q.UpsertStripeEvent(ctx, stripeinternal.ToUpsertParams(event, payload))
	if errors.Is(err, sql.ErrNoRows) {
		g.logger.Debug("webhook: duplicate event, skipping", "event_id", event.ID)
		metrics.WebhookEvents.WithLabelValues("duplicate").Inc()
		res.Duplicate = true
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("payment: record event %s: %w", event.ID, err)
	}

	// ── 3. Dispatch by event type ─────────────────────────────────────────────
	var handlerErr error
	switch event.Type {
	case stripeinternal.EventCheckoutCompleted, stripeinternal.EventCheckoutAsyncSucceeded:
		handlerErr = g.onSessionPaid(ctx, event, &res)

	case stripeinternal.EventCheckoutExpired:
		handlerErr = g.onSessionExpired(ctx, event, &res)

	default:
		g.logger.Debug("webhook: unhandled event type", "type", event.Type)
		handlerErr = g.markProcessed(ctx, event.ID)
	}

	// ── 4. Record the failure so the next delivery retries ────────────────────
	if handlerErr != nil {
		g.logger.Error("webhook: handler error",
			"event_id", event.ID,
			"type", event.Type,
			"error", handlerErr,
		)
		metrics.WebhookEvents.WithLabelValues("failed").Inc()
		_, _ = g.q.MarkStripeEventFailed(ctx, stripeinternal.ToMarkFailedParams(event.ID, handlerErr))
		return res, handlerErr
	}

	metrics.WebhookEvents.WithLabelValues("processed").Inc()
	return res, nil
}

// ─── EVENT HANDLERS ───────────────────────────────────────────────────────────

func (g *Gateway) onSessionPaid(ctx context.Context, event stripeinternal.Event, res *ReconcileResult) error {
	sess, orderID, err := sessionOrder(event)
	if err != nil {
		return fmt.Errorf("onSessionPaid: %w", err)
	}
	res.OrderID = orderID

	// Delayed payment methods complete unpaid; the async_payment_succeeded
	// event for the same session carries the money.
	if event.Type == stripeinternal.EventCheckoutCompleted && !sess.Paid() {
		g.logger.Info("webhook: checkout completed without funds, awaiting async payment",
			"order_id", orderID,
			"payment_status", sess.PaymentStatus,
		)
		return g.markProcessed(ctx, event.ID)
	}

	// ApplyPayment marks the event processed in the same transaction.
	applied, err := g.orders.ApplyPayment(ctx, store.ApplyPaymentParams{
		OrderID:       orderID,
		PaymentIntent: sess.PaymentIntent,
		EventID:       event.ID,
	})
	if err != nil {
		return fmt.Errorf("onSessionPaid: apply payment: %w", err)
	}
	res.Applied = applied
	if applied {
		metrics.PaymentsApplied.Inc()
		g.logger.Info("webhook: order paid, queued for processing", "order_id", orderID)
	} else {
		g.logger.Debug("webhook: order already past pending_payment", "order_id", orderID)
	}
	return nil
}

func (g *Gateway) onSessionExpired(ctx context.Context, event stripeinternal.Event, res *ReconcileResult) error {
	_, orderID, err := sessionOrder(event)
	if err != nil {
		return fmt.Errorf("onSessionExpired: %w", err)
	}
	res.OrderID = orderID

	n, err := g.q.DeletePendingPaymentOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("onSessionExpired: delete order: %w", err)
	}
	if n > 0 {
		g.logger.Info("webhook: checkout expired, unpaid order removed", "order_id", orderID)
	}
	return g.markProcessed(ctx, event.ID)
}

func (g *Gateway) markProcessed(ctx context.Context, eventID string) error {
	if _, err := g.q.MarkStripeEventProcessed(ctx, eventID); err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}

func sessionOrder(event stripeinternal.Event) (stripeinternal.SessionObject, uuid.UUID, error) {
	sess, err := stripeinternal.ExtractCheckoutSession(event)
	if err != nil {
		return sess, uuid.Nil, err
	}
	id, err := uuid.Parse(sess.OrderID())
	if err != nil {
		return sess, uuid.Nil, fmt.Errorf("order id %q on session %s: %w", sess.OrderID(), sess.ID, err)
	}
	return sess, id, nil
}
