package db

import (
	"context"
	"database/sql"
	"encoding/json"
)

const upsertStripeEvent = `-- name: UpsertStripeEvent :one
INSERT INTO stripe_events (stripe_event_id, type, payload)
VALUES ($1, $2, $3)
ON CONFLICT (stripe_event_id) DO UPDATE
    SET type = EXCLUDED.type
    WHERE stripe_events.processed_at IS NULL
RETURNING stripe_event_id, type, payload, processed_at, error, created_at
`

type UpsertStripeEventParams struct {
	StripeEventID string
	Type          string
	Payload       json.RawMessage
}

// UpsertStripeEvent records a delivery. It returns sql.ErrNoRows when the
// event was already processed, so the caller can ack without acting again.
func (q *Queries) UpsertStripeEvent(ctx context.Context, arg UpsertStripeEventParams) (StripeEvent, error) {
	row := q.db.QueryRowContext(ctx, upsertStripeEvent, arg.StripeEventID, arg.Type, arg.Payload)
	var i StripeEvent
	err := row.Scan(
		&i.StripeEventID,
		&i.Type,
		&i.Payload,
		&i.ProcessedAt,
		&i.Error,
		&i.CreatedAt,
	)
	return i, err
}

const markStripeEventProcessed = `-- name: MarkStripeEventProcessed :one
UPDATE stripe_events
SET processed_at = NOW(), error = NULL
WHERE stripe_event_id = $1
RETURNING stripe_event_id, type, payload, processed_at, error, created_at
`

func (q *Queries) MarkStripeEventProcessed(ctx context.Context, stripeEventID string) (StripeEvent, error) {
	row := q.db.QueryRowContext(ctx, markStripeEventProcessed, stripeEventID)
	var i StripeEvent
	err := row.Scan(
		&i.StripeEventID,
		&i.Type,
		&i.Payload,
		&i.ProcessedAt,
		&i.Error,
		&i.CreatedAt,
	)
	return i, err
}

const markStripeEventFailed = `-- name: MarkStripeEventFailed :one
UPDATE stripe_events
SET error = $2
WHERE stripe_event_id = $1
RETURNING stripe_event_id, type, payload, processed_at, error, created_at
`

type MarkStripeEventFailedParams struct {
	StripeEventID string
	Error         sql.NullString
}

func (q *Queries) MarkStripeEventFailed(ctx context.Context, arg MarkStripeEventFailedParams) (StripeEvent, error) {
	row := q.db.QueryRowContext(ctx, markStripeEventFailed, arg.StripeEventID, arg.Error)
	var i StripeEvent
	err := row.Scan(
		&i.StripeEventID,
		&i.Type,
		&i.Payload,
		&i.ProcessedAt,
		&i.Error,
		&i.CreatedAt,
	)
	return i, err
}
