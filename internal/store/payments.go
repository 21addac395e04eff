package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nyashahama/email-sequence-backend/internal/db"
)

// ─── INPUT TYPES ─────────────────────────────────────────────────────────────

// ApplyPaymentParams identifies a completed checkout and the webhook event
// that reported it.
type ApplyPaymentParams struct {
	OrderID       uuid.UUID
	PaymentIntent string // may be empty for no-cost sessions
	EventID       string
}

// ─── METHODS ─────────────────────────────────────────────────────────────────

// ApplyPayment is called by the payment gateway on a completed checkout. In
// one transaction it:
//
//  1. Moves the order from pending_payment to pending, if it is still there.
//  2. Marks the webhook event processed.
//
// The status move is conditioned on the current status, so a replayed event
// or a second completion event for the same session changes nothing and
// applied is false. If step 2 fails the status move is rolled back and the
// next delivery retries both.
func (s *Store) ApplyPayment(ctx context.Context, p ApplyPaymentParams) (applied bool, err error) {
	err = s.withTx(ctx, func(ctx context.Context, q db.Querier) error {
		_, err := q.MarkOrderPaid(ctx, db.MarkOrderPaidParams{
			ID: p.OrderID,
			StripePaymentIntent: sql.NullString{
				String: p.PaymentIntent,
				Valid:  p.PaymentIntent != "",
			},
		})
		switch {
		case err == nil:
			applied = true
		case errors.Is(err, sql.ErrNoRows):
			applied = false
		default:
			return fmt.Errorf("ApplyPayment: mark order paid: %w", err)
		}

		if _, err := q.MarkStripeEventProcessed(ctx, p.EventID); err != nil {
			return fmt.Errorf("ApplyPayment: mark event processed: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}
