// Package order holds the domain types of a batch generation order: its
// status machine, generated email sequences, the failure sentinel and the
// customer-facing summary. It has no I/O and imports nothing from the rest of
// the module.
package order

import (
	"time"

	"github.com/google/uuid"
)

// ─── STATUS ──────────────────────────────────────────────────────────────────

// Status is the lifecycle stage of an order. Values match the Postgres enum.
type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusPending        Status = "pending"
	StatusProcessing     Status = "processing"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
)

// rank orders the stages; completed and failed share the final rank.
var rank = map[Status]int{
	StatusPendingPayment: 0,
	StatusPending:        1,
	StatusProcessing:     2,
	StatusCompleted:      3,
	StatusFailed:         3,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := rank[s]
	return ok
}

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next is a forward move.
// Processing may re-enter processing (a stale reclaim); nothing moves back.
func (s Status) CanTransitionTo(next Status) bool {
	if !s.Valid() || !next.Valid() || s.Terminal() {
		return false
	}
	if s == StatusProcessing && next == StatusProcessing {
		return true
	}
	// failed is reachable from any live stage.
	if next == StatusFailed {
		return true
	}
	return rank[next] == rank[s]+1
}

// ─── GENERATED EMAILS ────────────────────────────────────────────────────────

// Email is one generated message of a sequence.
type Email struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Sequence is the ordered list of emails generated for one contact.
type Sequence []Email

// Sentinel is the placeholder stored for a contact whose generation failed.
var Sentinel = Email{Subject: "ERROR", Body: "Failed to generate"}

// FailedSequence returns a fresh single-element sentinel sequence.
func FailedSequence() Sequence {
	return Sequence{Sentinel}
}

// IsSentinel reports whether seq is exactly the failure placeholder.
func IsSentinel(seq Sequence) bool {
	return len(seq) == 1 && seq[0] == Sentinel
}

// Tally counts successful and failed rows in results. The two counts always
// sum to len(results).
func Tally(results []Sequence) (success, failed int) {
	for _, seq := range results {
		if IsSentinel(seq) {
			failed++
			continue
		}
		success++
	}
	return success, failed
}

// EmailCount returns the number of generated emails across all successful
// rows. Sentinel entries do not count.
func EmailCount(results []Sequence) int {
	n := 0
	for _, seq := range results {
		if !IsSentinel(seq) {
			n += len(seq)
		}
	}
	return n
}

// ─── ORDER ───────────────────────────────────────────────────────────────────

// Order is a decoded order row.
type Order struct {
	ID               uuid.UUID
	Email            string
	Template         string
	Headers          []string
	Rows             [][]string
	EmailsPerContact int
	AmountCents      int64
	Status           Status
	PaymentReference string
	Results          []Sequence
	SuccessCount     int
	ErrorCount       int
	Attempts         int

	CreatedAt   time.Time
	PaidAt      *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Summary is the read-only view returned to the customer after checkout.
type Summary struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	ContactCount int       `json:"contactCount"`
	TotalEmails  int       `json:"totalEmails"`
	Status       Status    `json:"status"`
}

// TotalEmails is the advisory size of an order: contacts × emails per
// contact. It prices the order; actual generated counts may differ.
func TotalEmails(contacts, emailsPerContact int) int {
	return contacts * emailsPerContact
}
