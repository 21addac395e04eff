package stripe_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	stripeinternal "github.com/nyashahama/email-sequence-backend/internal/stripe"
)

const testSecret = "whsec_test_secret"

func sessionEvent(t *testing.T, obj map[string]any) stripeinternal.Event {
	t.Helper()
	raw, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return stripeinternal.Event{
		ID:      "evt_test",
		Type:    stripeinternal.EventCheckoutCompleted,
		DataRaw: json.RawMessage(raw),
	}
}

// ─── ExtractCheckoutSession ───────────────────────────────────────────────────

func TestExtractCheckoutSession_Success(t *testing.T) {
	event := sessionEvent(t, map[string]any{
		"id":                  "cs_test_123",
		"object":              "checkout.session",
		"payment_intent":      "pi_abc",
		"payment_status":      "paid",
		"client_reference_id": "ref-order",
		"metadata":            map[string]string{"order_id": "meta-order"},
	})

	obj, err := stripeinternal.ExtractCheckoutSession(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj.ID != "cs_test_123" || obj.PaymentIntent != "pi_abc" {
		t.Errorf("got %+v", obj)
	}
	if obj.OrderID() != "meta-order" {
		t.Errorf("metadata order id should win, got %q", obj.OrderID())
	}
	if !obj.Paid() {
		t.Error("expected Paid()=true for payment_status=paid")
	}
}

func TestExtractCheckoutSession_FallsBackToClientReference(t *testing.T) {
	event := sessionEvent(t, map[string]any{
		"id":                  "cs_test_123",
		"payment_intent":      nil,
		"payment_status":      "no_payment_required",
		"client_reference_id": "ref-order",
	})

	obj, err := stripeinternal.ExtractCheckoutSession(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj.OrderID() != "ref-order" {
		t.Errorf("order id: got %q", obj.OrderID())
	}
	if obj.PaymentIntent != "" {
		t.Errorf("null payment_intent should decode empty, got %q", obj.PaymentIntent)
	}
	if !obj.Paid() {
		t.Error("no_payment_required counts as paid")
	}
}

func TestExtractCheckoutSession_UnpaidIsNotPaid(t *testing.T) {
	event := sessionEvent(t, map[string]any{
		"id":                  "cs_test_123",
		"payment_status":      "unpaid",
		"client_reference_id": "ref-order",
	})

	obj, err := stripeinternal.ExtractCheckoutSession(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj.Paid() {
		t.Error("unpaid session reported as paid")
	}
}

func TestExtractCheckoutSession_MissingOrderIDReturnsError(t *testing.T) {
	event := sessionEvent(t, map[string]any{"id": "cs_test_123", "payment_status": "paid"})

	if _, err := stripeinternal.ExtractCheckoutSession(event); err == nil {
		t.Error("expected error when session carries no order id")
	}
}

func TestExtractCheckoutSession_MalformedJSONReturnsError(t *testing.T) {
	event := stripeinternal.Event{DataRaw: json.RawMessage(`{bad json`)}

	if _, err := stripeinternal.ExtractCheckoutSession(event); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

// ─── VerifyWebhook ────────────────────────────────────────────────────────────

var webhookPayload = []byte(`{
  "id": "evt_signed",
  "object": "event",
  "type": "checkout.session.completed",
  "data": {"object": {"id": "cs_signed", "payment_status": "paid", "metadata": {"order_id": "o-1"}}}
}`)

func TestVerifyWebhook_ValidSignature(t *testing.T) {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   webhookPayload,
		Secret:    testSecret,
		Timestamp: time.Now(),
	})

	c := stripeinternal.NewClient("sk_test_unused")
	event, err := c.VerifyWebhook(webhookPayload, signed.Header, testSecret)
	if err != nil {
		t.Fatalf("VerifyWebhook: %v", err)
	}
	if event.ID != "evt_signed" || event.Type != stripeinternal.EventCheckoutCompleted {
		t.Errorf("got %+v", event)
	}

	obj, err := stripeinternal.ExtractCheckoutSession(event)
	if err != nil {
		t.Fatalf("ExtractCheckoutSession: %v", err)
	}
	if obj.OrderID() != "o-1" {
		t.Errorf("order id: got %q", obj.OrderID())
	}
}

func TestVerifyWebhook_Rejections(t *testing.T) {
	c := stripeinternal.NewClient("sk_test_unused")
	valid := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: webhookPayload, Secret: testSecret, Timestamp: time.Now(),
	})
	stale := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: webhookPayload, Secret: testSecret, Timestamp: time.Now().Add(-10 * time.Minute),
	})

	tampered := append([]byte{}, webhookPayload...)
	tampered[len(tampered)-3] = ' '

	tests := []struct {
		name    string
		payload []byte
		header  string
		secret  string
	}{
		{"tampered body", tampered, valid.Header, testSecret},
		{"wrong secret", webhookPayload, valid.Header, "whsec_other"},
		{"missing header", webhookPayload, "", testSecret},
		{"outside tolerance", webhookPayload, stale.Header, testSecret},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := c.VerifyWebhook(tc.payload, tc.header, tc.secret); err == nil {
				t.Error("expected verification error")
			}
		})
	}
}

// ─── ToUpsertParams ───────────────────────────────────────────────────────────

func TestToUpsertParams_SetsAllFields(t *testing.T) {
	payload := []byte(`{"id":"evt_123","type":"checkout.session.completed"}`)
	event := stripeinternal.Event{
		ID:   "evt_123",
		Type: "checkout.session.completed",
	}

	params := stripeinternal.ToUpsertParams(event, payload)

	if params.StripeEventID != "evt_123" {
		t.Errorf("StripeEventID: got %q", params.StripeEventID)
	}
	if params.Type != "checkout.session.completed" {
		t.Errorf("Type: got %q", params.Type)
	}
	if string(params.Payload) != string(payload) {
		t.Errorf("Payload mismatch")
	}
}

// ─── ToMarkFailedParams ───────────────────────────────────────────────────────

func TestToMarkFailedParams_SetsErrorMessage(t *testing.T) {
	params := stripeinternal.ToMarkFailedParams("evt_456", errors.New("something went wrong"))

	if params.StripeEventID != "evt_456" {
		t.Errorf("StripeEventID: got %q", params.StripeEventID)
	}
	if !params.Error.Valid {
		t.Error("expected Error.Valid=true")
	}
	if params.Error.String != "something went wrong" {
		t.Errorf("error message: got %q", params.Error.String)
	}
}
