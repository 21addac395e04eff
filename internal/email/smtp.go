package email

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"gopkg.in/gomail.v2"
)

// smtpTimeout bounds one whole send, dial through QUIT.
const smtpTimeout = 30 * time.Second

// smtpClient is a Sender that relays through an SMTP server.
type smtpClient struct {
	dialer  *gomail.Dialer
	from    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewSMTPClient returns a Sender that delivers through host:port. Empty
// credentials skip authentication.
func NewSMTPClient(host string, port int, username, password, fromAddr, fromName string, logger *slog.Logger) Sender {
	m := gomail.NewMessage()
	return &smtpClient{
		dialer:  gomail.NewDialer(host, port, username, password),
		from:    m.FormatAddress(fromAddr, fromName),
		timeout: smtpTimeout,
		logger:  logger,
	}
}

// SendResultsReady sends the results email with the CSV attached.
func (c *smtpClient) SendResultsReady(ctx context.Context, p ResultsReadyParams) bool {
	if err := c.sendResults(ctx, p); err != nil {
		c.logger.Error("email: results delivery failed",
			"order_id", p.OrderID,
			"provider", "smtp",
			"error", err,
		)
		return false
	}
	c.logger.Info("email: results delivered", "order_id", p.OrderID, "provider", "smtp")
	return true
}

func (c *smtpClient) sendResults(ctx context.Context, p ResultsReadyParams) error {
	if err := checkAddress(p.To); err != nil {
		return err
	}
	html, err := resultsHTML(p)
	if err != nil {
		return fmt.Errorf("email: render body: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", c.from)
	m.SetHeader("To", p.To)
	m.SetHeader("Subject", resultsSubject)
	m.SetBody("text/html", html)
	if len(p.CSV) > 0 {
		csv := p.CSV
		m.Attach(p.Filename,
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(csv)
				return err
			}),
			gomail.SetHeader(map[string][]string{"Content-Type": {"text/csv"}}),
		)
	}

	// gomail has no context support; the send is abandoned, not cancelled,
	// when ctx ends first.
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.dialer.DialAndSend(m) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("email: smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("email: smtp send: %w", ctx.Err())
	}
}
