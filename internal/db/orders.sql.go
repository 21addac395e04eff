package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// scanOrder reads one full orders row, columns in table order.
func scanOrder(row interface{ Scan(dest ...any) error }) (Order, error) {
	var i Order
	err := row.Scan(
		&i.ID,
		&i.Email,
		&i.Template,
		&i.CsvHeaders,
		&i.CsvRows,
		&i.EmailsPerContact,
		&i.ContactCount,
		&i.TotalEmails,
		&i.AmountCents,
		&i.Status,
		&i.StripeSessionID,
		&i.StripePaymentIntent,
		&i.Results,
		&i.SuccessCount,
		&i.ErrorCount,
		&i.ArtifactCsv,
		&i.ArtifactUrl,
		&i.Delivered,
		&i.ErrorMessage,
		&i.Attempts,
		&i.CreatedAt,
		&i.PaidAt,
		&i.StartedAt,
		&i.ClaimedAt,
		&i.CompletedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const attachCheckoutSession = `-- name: AttachCheckoutSession :one
UPDATE orders
SET stripe_session_id = $2, updated_at = NOW()
WHERE id = $1 AND status = 'pending_payment'
RETURNING id, email, template, csv_headers, csv_rows, emails_per_contact, contact_count,
    total_emails, amount_cents, status, stripe_session_id, stripe_payment_intent, results,
    success_count, error_count, artifact_csv, artifact_url, delivered, error_message, attempts,
    created_at, paid_at, started_at, claimed_at, completed_at, updated_at
`

type AttachCheckoutSessionParams struct {
	ID              uuid.UUID
	StripeSessionID sql.NullString
}

func (q *Queries) AttachCheckoutSession(ctx context.Context, arg AttachCheckoutSessionParams) (Order, error) {
	row := q.db.QueryRowContext(ctx, attachCheckoutSession, arg.ID, arg.StripeSessionID)
	return scanOrder(row)
}

const claimNextOrder = `-- name: ClaimNextOrder :one
UPDATE orders
SET status = 'processing',
    started_at = COALESCE(started_at, NOW()),
    claimed_at = NOW(),
    attempts = attempts + 1,
    updated_at = NOW()
WHERE id = (
    SELECT o.id FROM orders o
    WHERE o.status = 'pending'
       OR (o.status = 'processing' AND o.claimed_at < $1 AND o.attempts < $2)
    ORDER BY o.created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING id, email, template, csv_headers, csv_rows, emails_per_contact, contact_count,
    total_emails, amount_cents, status, stripe_session_id, stripe_payment_intent, results,
    success_count, error_count, artifact_csv, artifact_url, delivered, error_message, attempts,
    created_at, paid_at, started_at, claimed_at, completed_at, updated_at
`

type ClaimNextOrderParams struct {
	StaleBefore time.Time
	MaxAttempts int32
}

func (q *Queries) ClaimNextOrder(ctx context.Context, arg ClaimNextOrderParams) (Order, error) {
	row := q.db.QueryRowContext(ctx, claimNextOrder, arg.StaleBefore, arg.MaxAttempts)
	return scanOrder(row)
}

const completeOrder = `-- name: CompleteOrder :one
UPDATE orders
SET status = 'completed',
    results = $3,
    success_count = $4,
    error_count = $5,
    artifact_csv = $6,
    artifact_url = $7,
    delivered = $8,
    completed_at = NOW(),
    updated_at = NOW()
WHERE id = $1 AND status = 'processing' AND attempts = $2
RETURNING id, email, template, csv_headers, csv_rows, emails_per_contact, contact_count,
    total_emails, amount_cents, status, stripe_session_id, stripe_payment_intent, results,
    success_count, error_count, artifact_csv, artifact_url, delivered, error_message, attempts,
    created_at, paid_at, started_at, claimed_at, completed_at, updated_at
`

type CompleteOrderParams struct {
	ID           uuid.UUID
	Attempts     int32
	Results      pqtype.NullRawMessage
	SuccessCount int32
	ErrorCount   int32
	ArtifactCsv  sql.NullString
	ArtifactUrl  sql.NullString
	Delivered    bool
}

func (q *Queries) CompleteOrder(ctx context.Context, arg CompleteOrderParams) (Order, error) {
	row := q.db.QueryRowContext(ctx, completeOrder,
		arg.ID,
		arg.Attempts,
		arg.Results,
		arg.SuccessCount,
		arg.ErrorCount,
		arg.ArtifactCsv,
		arg.ArtifactUrl,
		arg.Delivered,
	)
	return scanOrder(row)
}

const createOrder = `-- name: CreateOrder :one
INSERT INTO orders (
    email, template, csv_headers, csv_rows,
    emails_per_contact, contact_count, total_emails, amount_cents
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, email, template, csv_headers, csv_rows, emails_per_contact, contact_count,
    total_emails, amount_cents, status, stripe_session_id, stripe_payment_intent, results,
    success_count, error_count, artifact_csv, artifact_url, delivered, error_message, attempts,
    created_at, paid_at, started_at, claimed_at, completed_at, updated_at
`

type CreateOrderParams struct {
	Email            string
	Template         string
	CsvHeaders       json.RawMessage
	CsvRows          json.RawMessage
	EmailsPerContact int32
	ContactCount     int32
	TotalEmails      int32
	AmountCents      int64
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	row := q.db.QueryRowContext(ctx, createOrder,
		arg.Email,
		arg.Template,
		arg.CsvHeaders,
		arg.CsvRows,
		arg.EmailsPerContact,
		arg.ContactCount,
		arg.TotalEmails,
		arg.AmountCents,
	)
	return scanOrder(row)
}

const deletePendingPaymentOrder = `-- name: DeletePendingPaymentOrder :execrows
DELETE FROM orders
WHERE id = $1 AND status = 'pending_payment'
`

func (q *Queries) DeletePendingPaymentOrder(ctx context.Context, id uuid.UUID) (int64, error) {
	result, err := q.db.ExecContext(ctx, deletePendingPaymentOrder, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const failExhaustedOrders = `-- name: FailExhaustedOrders :many
UPDATE orders
SET status = 'failed',
    error_message = 'processing abandoned after ' || attempts || ' attempts',
    updated_at = NOW()
WHERE status = 'processing' AND claimed_at < $1 AND attempts >= $2
RETURNING id
`

type FailExhaustedOrdersParams struct {
	StaleBefore time.Time
	MaxAttempts int32
}

func (q *Queries) FailExhaustedOrders(ctx context.Context, arg FailExhaustedOrdersParams) ([]uuid.UUID, error) {
	rows, err := q.db.QueryContext(ctx, failExhaustedOrders, arg.StaleBefore, arg.MaxAttempts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const failOrder = `-- name: FailOrder :one
UPDATE orders
SET status = 'failed', error_message = $3, updated_at = NOW()
WHERE id = $1 AND status = 'processing' AND attempts = $2
RETURNING id, email, template, csv_headers, csv_rows, emails_per_contact, contact_count,
    total_emails, amount_cents, status, stripe_session_id, stripe_payment_intent, results,
    success_count, error_count, artifact_csv, artifact_url, delivered, error_message, attempts,
    created_at, paid_at, started_at, claimed_at, completed_at, updated_at
`

type FailOrderParams struct {
	ID           uuid.UUID
	Attempts     int32
	ErrorMessage sql.NullString
}

func (q *Queries) FailOrder(ctx context.Context, arg FailOrderParams) (Order, error) {
	row := q.db.QueryRowContext(ctx, failOrder, arg.ID, arg.Attempts, arg.ErrorMessage)
	return scanOrder(row)
}

const getOrderByID = `-- name: GetOrderByID :one
SELECT id, email, template, csv_headers, csv_rows, emails_per_contact, contact_count,
    total_emails, amount_cents, status, stripe_session_id, stripe_payment_intent, results,
    success_count, error_count, artifact_csv, artifact_url, delivered, error_message, attempts,
    created_at, paid_at, started_at, claimed_at, completed_at, updated_at
FROM orders WHERE id = $1
`

func (q *Queries) GetOrderByID(ctx context.Context, id uuid.UUID) (Order, error) {
	row := q.db.QueryRowContext(ctx, getOrderByID, id)
	return scanOrder(row)
}

const getOrderBySessionID = `-- name: GetOrderBySessionID :one
SELECT id, email, template, csv_headers, csv_rows, emails_per_contact, contact_count,
    total_emails, amount_cents, status, stripe_session_id, stripe_payment_intent, results,
    success_count, error_count, artifact_csv, artifact_url, delivered, error_message, attempts,
    created_at, paid_at, started_at, claimed_at, completed_at, updated_at
FROM orders WHERE stripe_session_id = $1
`

func (q *Queries) GetOrderBySessionID(ctx context.Context, stripeSessionID sql.NullString) (Order, error) {
	row := q.db.QueryRowContext(ctx, getOrderBySessionID, stripeSessionID)
	return scanOrder(row)
}

const markOrderPaid = `-- name: MarkOrderPaid :one
UPDATE orders
SET status = 'pending',
    paid_at = NOW(),
    stripe_payment_intent = $2,
    updated_at = NOW()
WHERE id = $1 AND status = 'pending_payment'
RETURNING id, email, template, csv_headers, csv_rows, emails_per_contact, contact_count,
    total_emails, amount_cents, status, stripe_session_id, stripe_payment_intent, results,
    success_count, error_count, artifact_csv, artifact_url, delivered, error_message, attempts,
    created_at, paid_at, started_at, claimed_at, completed_at, updated_at
`

type MarkOrderPaidParams struct {
	ID                  uuid.UUID
	StripePaymentIntent sql.NullString
}

func (q *Queries) MarkOrderPaid(ctx context.Context, arg MarkOrderPaidParams) (Order, error) {
	row := q.db.QueryRowContext(ctx, markOrderPaid, arg.ID, arg.StripePaymentIntent)
	return scanOrder(row)
}
