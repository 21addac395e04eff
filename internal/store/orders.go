package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/nyashahama/email-sequence-backend/internal/contacts"
	"github.com/nyashahama/email-sequence-backend/internal/db"
	"github.com/nyashahama/email-sequence-backend/internal/order"
)

// ─── INPUT TYPES ─────────────────────────────────────────────────────────────

// CreateOrderParams is a validated checkout request.
type CreateOrderParams struct {
	Email            string
	Template         string
	Contacts         contacts.List
	EmailsPerContact int
	AmountCents      int64
}

// ClaimParams controls which processing orders count as abandoned.
type ClaimParams struct {
	// StaleAfter is how long a claim may go without finishing before another
	// invocation may take the order over.
	StaleAfter time.Duration
	// MaxAttempts caps the number of claims per order.
	MaxAttempts int
}

// FinalizeParams is the outcome of one processing run.
type FinalizeParams struct {
	ID uuid.UUID
	// Attempts is the claim counter returned by ClaimNextOrder. Finalize only
	// succeeds if no later claim has taken the order over.
	Attempts     int
	Results      []order.Sequence
	SuccessCount int
	ErrorCount   int
	Artifact     []byte
	ArtifactURL  string
	Delivered    bool
}

// ─── ERRORS ──────────────────────────────────────────────────────────────────

// ErrNoPendingOrder is returned by ClaimNextOrder when nothing is claimable.
// It is the normal idle outcome, not a failure.
var ErrNoPendingOrder = errors.New("store: no claimable order")

// ErrClaimLost is returned by FinalizeOrder and FailOrder when the order is
// no longer held by the caller's claim (reclaimed after going stale, or
// already finalized).
var ErrClaimLost = errors.New("store: claim no longer held")

// ErrUndecodableOrder is returned by ClaimNextOrder when the claimed row's
// JSON columns cannot be decoded. The returned order still carries ID and
// Attempts so the caller can fail it.
var ErrUndecodableOrder = errors.New("store: claimed order cannot be decoded")

// ─── METHODS ─────────────────────────────────────────────────────────────────

// CreateOrder inserts a new order in pending_payment.
func (s *Store) CreateOrder(ctx context.Context, p CreateOrderParams) (order.Order, error) {
	headers, err := json.Marshal(p.Contacts.Headers)
	if err != nil {
		return order.Order{}, fmt.Errorf("CreateOrder: marshal headers: %w", err)
	}
	rows := p.Contacts.Rows
	if rows == nil {
		rows = [][]string{}
	}
	rowsJSON, err := json.Marshal(rows)
	if err != nil {
		return order.Order{}, fmt.Errorf("CreateOrder: marshal rows: %w", err)
	}

	n := p.Contacts.Len()
	row, err := s.q.CreateOrder(ctx, db.CreateOrderParams{
		Email:            p.Email,
		Template:         p.Template,
		CsvHeaders:       headers,
		CsvRows:          rowsJSON,
		EmailsPerContact: int32(p.EmailsPerContact),
		ContactCount:     int32(n),
		TotalEmails:      int32(order.TotalEmails(n, p.EmailsPerContact)),
		AmountCents:      p.AmountCents,
	})
	if err != nil {
		return order.Order{}, fmt.Errorf("CreateOrder: %w", err)
	}
	return DecodeOrder(row)
}

// ClaimNextOrder atomically moves the oldest pending order to processing and
// returns it. An order stuck in processing for longer than StaleAfter with
// attempts left is taken over instead; it stays in processing and its
// attempts counter moves on, which fences out the earlier holder.
//
// Concurrent callers never block on each other: a row locked by another
// claim is skipped.
func (s *Store) ClaimNextOrder(ctx context.Context, p ClaimParams) (order.Order, error) {
	row, err := s.q.ClaimNextOrder(ctx, db.ClaimNextOrderParams{
		StaleBefore: time.Now().Add(-p.StaleAfter),
		MaxAttempts: int32(p.MaxAttempts),
	})
	if errors.Is(err, sql.ErrNoRows) {
		return order.Order{}, ErrNoPendingOrder
	}
	if err != nil {
		return order.Order{}, fmt.Errorf("ClaimNextOrder: %w", err)
	}
	o, err := DecodeOrder(row)
	if err != nil {
		return order.Order{ID: row.ID, Attempts: int(row.Attempts)}, fmt.Errorf("%w: %v", ErrUndecodableOrder, err)
	}
	return o, nil
}

// FinalizeOrder writes the results and marks the order completed in one
// update, conditioned on the caller still holding the claim.
func (s *Store) FinalizeOrder(ctx context.Context, p FinalizeParams) (order.Order, error) {
	results, err := json.Marshal(p.Results)
	if err != nil {
		return order.Order{}, fmt.Errorf("FinalizeOrder: marshal results: %w", err)
	}

	row, err := s.q.CompleteOrder(ctx, db.CompleteOrderParams{
		ID:           p.ID,
		Attempts:     int32(p.Attempts),
		Results:      pqtype.NullRawMessage{RawMessage: results, Valid: true},
		SuccessCount: int32(p.SuccessCount),
		ErrorCount:   int32(p.ErrorCount),
		ArtifactCsv:  sql.NullString{String: string(p.Artifact), Valid: len(p.Artifact) > 0},
		ArtifactUrl:  sql.NullString{String: p.ArtifactURL, Valid: p.ArtifactURL != ""},
		Delivered:    p.Delivered,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return order.Order{}, ErrClaimLost
	}
	if err != nil {
		return order.Order{}, fmt.Errorf("FinalizeOrder: %w", err)
	}
	return DecodeOrder(row)
}

// FailOrder marks a held order failed with a reason.
func (s *Store) FailOrder(ctx context.Context, id uuid.UUID, attempts int, reason string) (order.Order, error) {
	row, err := s.q.FailOrder(ctx, db.FailOrderParams{
		ID:           id,
		Attempts:     int32(attempts),
		ErrorMessage: sql.NullString{String: reason, Valid: reason != ""},
	})
	if errors.Is(err, sql.ErrNoRows) {
		return order.Order{}, ErrClaimLost
	}
	if err != nil {
		return order.Order{}, fmt.Errorf("FailOrder: %w", err)
	}
	return DecodeOrder(row)
}

// FailExhaustedOrders marks failed every stale processing order that has no
// claim attempts left, and returns their ids.
func (s *Store) FailExhaustedOrders(ctx context.Context, p ClaimParams) ([]uuid.UUID, error) {
	ids, err := s.q.FailExhaustedOrders(ctx, db.FailExhaustedOrdersParams{
		StaleBefore: time.Now().Add(-p.StaleAfter),
		MaxAttempts: int32(p.MaxAttempts),
	})
	if err != nil {
		return nil, fmt.Errorf("FailExhaustedOrders: %w", err)
	}
	return ids, nil
}

// ─── DECODING ────────────────────────────────────────────────────────────────

// DecodeOrder converts a db row into the domain order.
func DecodeOrder(row db.Order) (order.Order, error) {
	o := order.Order{
		ID:               row.ID,
		Email:            row.Email,
		Template:         row.Template,
		EmailsPerContact: int(row.EmailsPerContact),
		AmountCents:      row.AmountCents,
		Status:           order.Status(row.Status),
		PaymentReference: row.StripeSessionID.String,
		SuccessCount:     int(row.SuccessCount),
		ErrorCount:       int(row.ErrorCount),
		Attempts:         int(row.Attempts),
		CreatedAt:        row.CreatedAt,
		PaidAt:           nullTime(row.PaidAt),
		StartedAt:        nullTime(row.StartedAt),
		CompletedAt:      nullTime(row.CompletedAt),
	}
	if !o.Status.Valid() {
		return order.Order{}, fmt.Errorf("store: order %s has unknown status %q", row.ID, row.Status)
	}

	if err := json.Unmarshal(row.CsvHeaders, &o.Headers); err != nil {
		return order.Order{}, fmt.Errorf("store: decode headers of %s: %w", row.ID, err)
	}
	if err := json.Unmarshal(row.CsvRows, &o.Rows); err != nil {
		return order.Order{}, fmt.Errorf("store: decode rows of %s: %w", row.ID, err)
	}
	if row.Results.Valid {
		if err := json.Unmarshal(row.Results.RawMessage, &o.Results); err != nil {
			return order.Order{}, fmt.Errorf("store: decode results of %s: %w", row.ID, err)
		}
	}
	return o, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
