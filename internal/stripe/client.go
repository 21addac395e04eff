// Package stripe defines the interface for Stripe API calls and webhook
// verification, and provides helpers used by the payment package.
package stripe

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/nyashahama/email-sequence-backend/internal/db"
)

// Event types the payment gateway acts on.
const (
	EventCheckoutCompleted      = "checkout.session.completed"
	EventCheckoutAsyncSucceeded = "checkout.session.async_payment_succeeded"
	EventCheckoutExpired        = "checkout.session.expired"
)

// ─── TYPES ────────────────────────────────────────────────────────────────────

// CheckoutParams holds the inputs for creating a hosted Checkout Session.
type CheckoutParams struct {
	OrderID     string
	Email       string
	AmountCents int64
	Currency    string
	ProductName string
	Description string
	// SuccessURL and CancelURL may contain the {CHECKOUT_SESSION_ID}
	// placeholder, which Stripe fills in on redirect.
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is the subset of a Stripe Checkout Session callers need.
type CheckoutSession struct {
	ID  string
	URL string
}

// Event is a parsed Stripe webhook event. DataRaw contains the raw JSON of the
// event's data.object so handlers can unmarshal only what they need.
type Event struct {
	ID      string
	Type    string
	DataRaw json.RawMessage
}

// SessionObject is the data.object of a checkout.session.* event.
type SessionObject struct {
	ID                string            `json:"id"`
	ClientReferenceID string            `json:"client_reference_id"`
	PaymentIntent     string            `json:"payment_intent"`
	PaymentStatus     string            `json:"payment_status"`
	Metadata          map[string]string `json:"metadata"`
}

// OrderID returns the order id stamped on the session at creation, preferring
// metadata over client_reference_id.
func (o SessionObject) OrderID() string {
	if id := o.Metadata["order_id"]; id != "" {
		return id
	}
	return o.ClientReferenceID
}

// Paid reports whether the session's funds are available. Delayed payment
// methods complete with payment_status unpaid and settle later with an
// async_payment_succeeded event.
func (o SessionObject) Paid() bool {
	return o.PaymentStatus == "paid" || o.PaymentStatus == "no_payment_required"
}

// ─── CLIENT INTERFACE ─────────────────────────────────────────────────────────

// Client is the interface the payment package uses for all Stripe calls.
// The concrete implementation wraps the official stripe-go SDK.
// Tests inject a stub.
type Client interface {
	// CreateCheckoutSession creates a hosted payment page for one order.
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (CheckoutSession, error)

	// VerifyWebhook validates the Stripe-Signature header and returns the
	// parsed event. Returns an error if the signature is invalid or expired.
	VerifyWebhook(payload []byte, sigHeader string, secret string) (Event, error)
}

// ─── HELPERS ──────────────────────────────────────────────────────────────────

// ToUpsertParams converts a parsed Event and its raw payload into the params
// needed by db.Querier.UpsertStripeEvent.
func ToUpsertParams(event Event, rawPayload []byte) db.UpsertStripeEventParams {
	return db.UpsertStripeEventParams{
		StripeEventID: event.ID,
		Type:          event.Type,
		Payload:       json.RawMessage(rawPayload),
	}
}

// ToMarkFailedParams builds the params for db.Querier.MarkStripeEventFailed.
func ToMarkFailedParams(eventID string, err error) db.MarkStripeEventFailedParams {
	return db.MarkStripeEventFailedParams{
		StripeEventID: eventID,
		Error:         sql.NullString{String: err.Error(), Valid: true},
	}
}

// ExtractCheckoutSession decodes the session object of a checkout.session.*
// event. The session must carry an order id.
func ExtractCheckoutSession(event Event) (SessionObject, error) {
	var obj SessionObject
	if err := json.Unmarshal(event.DataRaw, &obj); err != nil {
		return SessionObject{}, fmt.Errorf("stripe: unmarshal checkout session: %w", err)
	}
	if obj.ID == "" {
		return SessionObject{}, fmt.Errorf("stripe: checkout session id is empty in event %s", event.ID)
	}
	if obj.OrderID() == "" {
		return SessionObject{}, fmt.Errorf("stripe: no order id on checkout session %s", obj.ID)
	}
	return obj, nil
}
