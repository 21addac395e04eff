// Package ai defines the generation client that turns one contact and a
// template into an email sequence, with a Gemini-backed implementation and
// an OpenAI-compatible DeepSeek implementation.
package ai

import (
	"context"
	"errors"

	"github.com/nyashahama/email-sequence-backend/internal/contacts"
	"github.com/nyashahama/email-sequence-backend/internal/order"
)

// ─── ERRORS ──────────────────────────────────────────────────────────────────

var (
	// ErrCredentialMissing is returned before any network call when the caller
	// passes an empty credential.
	ErrCredentialMissing = errors.New("ai: credential missing")

	// ErrUpstream covers transport failures, timeouts and non-success statuses
	// from the provider.
	ErrUpstream = errors.New("ai: upstream error")

	// ErrMalformedResponse means the provider answered but the payload was not
	// a non-empty JSON array of {subject, body}.
	ErrMalformedResponse = errors.New("ai: malformed response")
)

// ─── TYPES ───────────────────────────────────────────────────────────────────

// GenerateParams is the per-contact input to Generate.
type GenerateParams struct {
	Template string
	// Contact is the contact's fields in header order.
	Contact []contacts.Field
	// Variables are the placeholder names detected in Template.
	Variables []string
}

// Generator is the interface the processor and preview handler use.
// Tests inject a stub that returns canned sequences.
type Generator interface {
	// Generate makes exactly one outbound call and returns the sequence in
	// the order the model produced it. It never retries; the length of the
	// sequence is whatever the model chose.
	//
	// Implementations must be safe to call concurrently.
	Generate(ctx context.Context, credential string, p GenerateParams) (order.Sequence, error)
}
