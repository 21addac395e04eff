// Package email delivers the finished results to the customer. Delivery is
// best-effort: a Sender reports success as a bool and logs the reason for a
// failure, so a mail outage never fails an order whose work is already done.
package email

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ResultsReadyParams holds the data for the "your sequences are ready" email.
type ResultsReadyParams struct {
	To              string
	OrderID         string
	ContactCount    int
	EmailsGenerated int
	ErrorCount      int
	// CSV is attached as Filename.
	CSV      []byte
	Filename string
	// DownloadURL is an optional link to the archived artifact.
	DownloadURL string
}

// Sender is the interface the processor uses to deliver results.
// Tests inject a stub that records calls without hitting the network.
type Sender interface {
	// SendResultsReady makes exactly one delivery attempt and reports whether
	// the provider accepted the message. An invalid recipient address makes
	// no attempt and returns false.
	SendResultsReady(ctx context.Context, p ResultsReadyParams) bool
}

const resultsSubject = "Your email sequences are ready"

var validate = validator.New()

// checkAddress rejects a recipient the provider would bounce anyway.
func checkAddress(to string) error {
	if err := validate.Var(to, "required,email"); err != nil {
		return fmt.Errorf("email: invalid recipient %q", to)
	}
	return nil
}
