package email

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultPostmarkURL = "https://api.postmarkapp.com"

// postmarkClient is the concrete Sender backed by the Postmark API.
type postmarkClient struct {
	serverToken string
	from        string
	baseURL     string
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewPostmarkClient returns a Sender that delivers email via Postmark.
// baseURL may be empty for the public API.
func NewPostmarkClient(serverToken, fromAddr, fromName, baseURL string, logger *slog.Logger) Sender {
	if baseURL == "" {
		baseURL = defaultPostmarkURL
	}
	from := fromAddr
	if fromName != "" {
		from = fmt.Sprintf("%s <%s>", fromName, fromAddr)
	}
	return &postmarkClient{
		serverToken: serverToken,
		from:        from,
		baseURL:     baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// ─── POSTMARK API SHAPES ──────────────────────────────────────────────────────

type postmarkAttachment struct {
	Name        string `json:"Name"`
	Content     string `json:"Content"`
	ContentType string `json:"ContentType"`
}

type postmarkRequest struct {
	From          string               `json:"From"`
	To            string               `json:"To"`
	Subject       string               `json:"Subject"`
	HTMLBody      string               `json:"HtmlBody"`
	Attachments   []postmarkAttachment `json:"Attachments,omitempty"`
	MessageStream string               `json:"MessageStream"`
}

type postmarkResponse struct {
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
	MessageID string `json:"MessageID"`
}

// ─── SENDER IMPLEMENTATION ────────────────────────────────────────────────────

// SendResultsReady sends the results email with the CSV attached.
func (c *postmarkClient) SendResultsReady(ctx context.Context, p ResultsReadyParams) bool {
	if err := c.sendResults(ctx, p); err != nil {
		c.logger.Error("email: results delivery failed",
			"order_id", p.OrderID,
			"provider", "postmark",
			"error", err,
		)
		return false
	}
	c.logger.Info("email: results delivered", "order_id", p.OrderID, "provider", "postmark")
	return true
}

func (c *postmarkClient) sendResults(ctx context.Context, p ResultsReadyParams) error {
	if err := checkAddress(p.To); err != nil {
		return err
	}
	html, err := resultsHTML(p)
	if err != nil {
		return fmt.Errorf("email: render body: %w", err)
	}

	req := postmarkRequest{
		From:          c.from,
		To:            p.To,
		Subject:       resultsSubject,
		HTMLBody:      html,
		MessageStream: "outbound",
	}
	if len(p.CSV) > 0 {
		req.Attachments = []postmarkAttachment{{
			Name:        p.Filename,
			Content:     base64.StdEncoding.EncodeToString(p.CSV),
			ContentType: "text/csv",
		}}
	}
	return c.send(ctx, req)
}

// ─── HTTP SEND ────────────────────────────────────────────────────────────────

func (c *postmarkClient) send(ctx context.Context, reqBody postmarkRequest) error {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("email: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/email",
		bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return fmt.Errorf("email: build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("email: http request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("email: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var parsed postmarkResponse
		if json.Unmarshal(respBytes, &parsed) == nil && parsed.Message != "" {
			return fmt.Errorf("email: Postmark error %d: %s", parsed.ErrorCode, parsed.Message)
		}
		return fmt.Errorf("email: unexpected status %d: %.200s", resp.StatusCode, string(respBytes))
	}

	return nil
}
