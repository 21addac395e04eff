// Package payment turns checkout requests into orders awaiting payment and
// reconciles Stripe webhook deliveries back into the order lifecycle.
package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/nyashahama/email-sequence-backend/internal/contacts"
	"github.com/nyashahama/email-sequence-backend/internal/csvexport"
	"github.com/nyashahama/email-sequence-backend/internal/db"
	"github.com/nyashahama/email-sequence-backend/internal/metrics"
	"github.com/nyashahama/email-sequence-backend/internal/order"
	"github.com/nyashahama/email-sequence-backend/internal/store"
	stripeinternal "github.com/nyashahama/email-sequence-backend/internal/stripe"
)

// ─── ERRORS ───────────────────────────────────────────────────────────────────

var (
	// ErrInvalidOrder wraps every input problem found by CreateIntent. The
	// wrapped message is safe to show to the caller.
	ErrInvalidOrder = errors.New("invalid order")

	// ErrPaymentSession means Stripe refused to create a checkout session.
	// The order inserted for it has been removed.
	ErrPaymentSession = errors.New("payment: could not create checkout session")

	// ErrInvalidSignature means the webhook payload was not signed with the
	// configured secret, or the signature is outside the tolerance window.
	ErrInvalidSignature = errors.New("payment: invalid webhook signature")

	// ErrOrderNotFound means no order carries the given checkout session.
	ErrOrderNotFound = errors.New("payment: order not found")

	// ErrArtifactNotReady means the order exists but has no CSV yet.
	ErrArtifactNotReady = errors.New("payment: artifact not ready")
)

// ─── DEPENDENCIES ─────────────────────────────────────────────────────────────

// Orders is the part of *store.Store the gateway writes through.
type Orders interface {
	CreateOrder(ctx context.Context, p store.CreateOrderParams) (order.Order, error)
	ApplyPayment(ctx context.Context, p store.ApplyPaymentParams) (bool, error)
}

// Config holds the checkout settings read at startup.
type Config struct {
	WebhookSecret string
	Currency      string
	// PricePerEmailCents, when positive, makes CreateIntent reject an amount
	// other than contacts × emailsPerContact × price.
	PricePerEmailCents int64
	// SuccessURL and CancelURL are handed to Stripe as-is and may contain
	// the {CHECKOUT_SESSION_ID} placeholder.
	SuccessURL string
	CancelURL  string
}

// Gateway is the payment side of the order pipeline.
type Gateway struct {
	q        db.Querier
	orders   Orders
	stripe   stripeinternal.Client
	validate *validator.Validate
	cfg      Config
	logger   *slog.Logger
}

// NewGateway wires a Gateway. q serves the single-query reads and the event
// ledger; orders serves the multi-step writes.
func NewGateway(q db.Querier, orders Orders, sc stripeinternal.Client, cfg Config, logger *slog.Logger) *Gateway {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &Gateway{
		q:        q,
		orders:   orders,
		stripe:   sc,
		validate: validator.New(),
		cfg:      cfg,
		logger:   logger,
	}
}

// ─── CREATE INTENT ────────────────────────────────────────────────────────────

// CreateIntentParams is a checkout request as received from the client.
type CreateIntentParams struct {
	Email            string     `validate:"required,email,max=320"`
	Template         string     `validate:"required"`
	Headers          []string   `validate:"required,min=1,dive,required"`
	Rows             [][]string `validate:"required,min=1"`
	EmailsPerContact int        `validate:"gt=0"`
	AmountCents      int64      `validate:"gte=0"`
}

// Intent is what the client needs to redirect to the hosted payment page.
type Intent struct {
	CheckoutURL string
	SessionID   string
	OrderID     uuid.UUID
}

// CreateIntent validates the request, stores the order in pending_payment and
// opens a Stripe Checkout Session for it.
func (g *Gateway) CreateIntent(ctx context.Context, p CreateIntentParams) (Intent, error) {
	// ── 1. Validate ───────────────────────────────────────────────────────────
	if err := g.validate.Struct(p); err != nil {
		return Intent{}, fmt.Errorf("%w: %s", ErrInvalidOrder, describe(err))
	}
	list, err := contacts.New(p.Headers, p.Rows)
	if err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	if g.cfg.PricePerEmailCents > 0 {
		want := int64(order.TotalEmails(list.Len(), p.EmailsPerContact)) * g.cfg.PricePerEmailCents
		if p.AmountCents != want {
			return Intent{}, fmt.Errorf("%w: amount %d does not match price %d", ErrInvalidOrder, p.AmountCents, want)
		}
	}

	// ── 2. Insert the order ───────────────────────────────────────────────────
	o, err := g.orders.CreateOrder(ctx, store.CreateOrderParams{
		Email:            p.Email,
		Template:         p.Template,
		Contacts:         list,
		EmailsPerContact: p.EmailsPerContact,
		AmountCents:      p.AmountCents,
	})
	if err != nil {
		return Intent{}, fmt.Errorf("payment: create order: %w", err)
	}
	metrics.OrdersCreated.Inc()

	// ── 3. Open the checkout session ──────────────────────────────────────────
	session, err := g.stripe.CreateCheckoutSession(ctx, stripeinternal.CheckoutParams{
		OrderID:     o.ID.String(),
		Email:       p.Email,
		AmountCents: p.AmountCents,
		Currency:    g.cfg.Currency,
		ProductName: fmt.Sprintf("%d contacts × %d emails", list.Len(), p.EmailsPerContact),
		Description: "AI-generated personalised email sequences",
		SuccessURL:  g.cfg.SuccessURL,
		CancelURL:   g.cfg.CancelURL,
	})
	if err != nil {
		g.logger.Error("payment: checkout session failed, removing order",
			"order_id", o.ID,
			"error", err,
		)
		// A provider timeout usually means ctx is already done.
		cleanupCtx, cancel := detached(ctx)
		defer cancel()
		if _, delErr := g.q.DeletePendingPaymentOrder(cleanupCtx, o.ID); delErr != nil {
			g.logger.Error("payment: remove unpaid order", "order_id", o.ID, "error", delErr)
		}
		return Intent{}, fmt.Errorf("%w: %v", ErrPaymentSession, err)
	}

	// ── 4. Attach the session id for lookup and reconciliation ────────────────
	// The Stripe session exists now, so the row must learn its id even if the
	// caller has gone away. An unpaid session later expires and removes it.
	attachCtx, cancel := detached(ctx)
	defer cancel()
	_, err = g.q.AttachCheckoutSession(attachCtx, db.AttachCheckoutSessionParams{
		ID:              o.ID,
		StripeSessionID: sql.NullString{String: session.ID, Valid: true},
	})
	if err != nil {
		return Intent{}, fmt.Errorf("payment: attach session %s: %w", session.ID, err)
	}

	g.logger.Info("payment: checkout created",
		"order_id", o.ID,
		"session_id", session.ID,
		"contacts", list.Len(),
		"amount_cents", p.AmountCents,
	)
	return Intent{CheckoutURL: session.URL, SessionID: session.ID, OrderID: o.ID}, nil
}

// cleanupTimeout bounds the writes that must land after the caller's context
// has ended.
const cleanupTimeout = 5 * time.Second

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
}

// describe flattens validator errors into one caller-facing sentence.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required", "min":
			msgs = append(msgs, field+" is required")
		case "email":
			msgs = append(msgs, field+" must be a valid address")
		case "gt":
			msgs = append(msgs, field+" must be greater than "+fe.Param())
		case "gte":
			msgs = append(msgs, field+" must not be negative")
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}

// ─── LOOKUP ───────────────────────────────────────────────────────────────────

// Lookup returns the public summary of the order behind a checkout session.
func (g *Gateway) Lookup(ctx context.Context, sessionID string) (order.Summary, error) {
	row, err := g.orderBySession(ctx, sessionID)
	if err != nil {
		return order.Summary{}, err
	}
	return order.Summary{
		ID:           row.ID,
		Email:        row.Email,
		ContactCount: int(row.ContactCount),
		TotalEmails:  int(row.TotalEmails),
		Status:       order.Status(row.Status),
	}, nil
}

// Artifact is a downloadable results file.
type Artifact struct {
	Filename string
	CSV      []byte
	URL      string // archive link, empty when archiving is off
}

// Artifact returns the CSV persisted for a completed order.
func (g *Gateway) Artifact(ctx context.Context, sessionID string) (Artifact, error) {
	row, err := g.orderBySession(ctx, sessionID)
	if err != nil {
		return Artifact{}, err
	}
	if row.Status != db.OrderStatusCompleted || !row.ArtifactCsv.Valid {
		return Artifact{}, ErrArtifactNotReady
	}
	return Artifact{
		Filename: csvexport.Filename(row.ID.String()),
		CSV:      []byte(row.ArtifactCsv.String),
		URL:      row.ArtifactUrl.String,
	}, nil
}

func (g *Gateway) orderBySession(ctx context.Context, sessionID string) (db.Order, error) {
	if sessionID == "" {
		return db.Order{}, ErrOrderNotFound
	}
	row, err := g.q.GetOrderBySessionID(ctx, sql.NullString{String: sessionID, Valid: true})
	if errors.Is(err, sql.ErrNoRows) {
		return db.Order{}, ErrOrderNotFound
	}
	if err != nil {
		return db.Order{}, fmt.Errorf("payment: get order by session: %w", err)
	}
	return row, nil
}
