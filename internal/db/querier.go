package db

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

type Querier interface {
	AttachCheckoutSession(ctx context.Context, arg AttachCheckoutSessionParams) (Order, error)
	// ClaimNextOrder returns sql.ErrNoRows when nothing is claimable.
	ClaimNextOrder(ctx context.Context, arg ClaimNextOrderParams) (Order, error)
	CompleteOrder(ctx context.Context, arg CompleteOrderParams) (Order, error)
	CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error)
	DeletePendingPaymentOrder(ctx context.Context, id uuid.UUID) (int64, error)
	FailExhaustedOrders(ctx context.Context, arg FailExhaustedOrdersParams) ([]uuid.UUID, error)
	FailOrder(ctx context.Context, arg FailOrderParams) (Order, error)
	GetOrderByID(ctx context.Context, id uuid.UUID) (Order, error)
	GetOrderBySessionID(ctx context.Context, stripeSessionID sql.NullString) (Order, error)
	MarkOrderPaid(ctx context.Context, arg MarkOrderPaidParams) (Order, error)
	MarkStripeEventFailed(ctx context.Context, arg MarkStripeEventFailedParams) (StripeEvent, error)
	MarkStripeEventProcessed(ctx context.Context, stripeEventID string) (StripeEvent, error)
	UpsertStripeEvent(ctx context.Context, arg UpsertStripeEventParams) (StripeEvent, error)
}

var _ Querier = (*Queries)(nil)
