package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nyashahama/email-sequence-backend/internal/order"
	"github.com/nyashahama/email-sequence-backend/internal/prompt"
)

const deepseekDefaultBaseURL = "https://api.deepseek.com"

// deepseekClient is the Generator backed by the DeepSeek API.
// DeepSeek exposes an OpenAI-compatible /v1/chat/completions endpoint.
type deepseekClient struct {
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewDeepSeekClient returns a Generator that calls the DeepSeek API.
//   - model:   e.g. "deepseek-chat"
//   - baseURL: "" for the public endpoint
//   - timeout: bound on a single generation call
func NewDeepSeekClient(model, baseURL string, timeout time.Duration) Generator {
	if baseURL == "" {
		baseURL = deepseekDefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &deepseekClient{
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ─── OPENAI-COMPATIBLE API SHAPES ────────────────────────────────────────────

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	MaxTokens      int             `json:"max_tokens"`
	Temperature    float32         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// responseFormat instructs the model to return valid JSON.
type responseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// json_object mode cannot return a bare array, so the reply is wrapped.
const deepseekFormatHint = `

Respond with a JSON object of the form {"emails": [{"subject": "...", "body": "..."}]}.`

// ─── IMPLEMENTATION ──────────────────────────────────────────────────────────

// Generate calls the DeepSeek API once and parses the returned sequence.
func (c *deepseekClient) Generate(ctx context.Context, credential string, p GenerateParams) (order.Sequence, error) {
	if credential == "" {
		return nil, ErrCredentialMissing
	}

	req := prompt.Build(p.Template, p.Contact, p.Variables)

	reqBody := openAIRequest{
		Model:          c.model,
		MaxTokens:      2048,
		Temperature:    0.7,
		ResponseFormat: &responseFormat{Type: "json_object"},
		Messages: []openAIMessage{
			{Role: "system", Content: req.SystemInstruction + deepseekFormatHint},
			{Role: "user", Content: req.Prompt},
		},
	}

	raw, err := c.call(ctx, credential, reqBody)
	if err != nil {
		return nil, err
	}

	seq, err := parseSequence(raw)
	if err != nil {
		return nil, fmt.Errorf("deepseek: %w", err)
	}
	return seq, nil
}

// call sends one request to the chat completions endpoint and returns the
// text content of the first choice.
func (c *deepseekClient) call(ctx context.Context, credential string, reqBody openAIRequest) (string, error) {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("deepseek: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/chat/completions",
		bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return "", fmt.Errorf("deepseek: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("deepseek: http request: %w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("deepseek: read response: %w: %w", ErrUpstream, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("deepseek: %w: status %d: %.200s", ErrUpstream, resp.StatusCode, string(respBytes))
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return "", fmt.Errorf("deepseek: unmarshal response: %w: %v", ErrMalformedResponse, err)
	}

	if parsed.Error != nil {
		return "", fmt.Errorf("deepseek: %w: API error %s: %s", ErrUpstream, parsed.Error.Type, parsed.Error.Message)
	}

	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("deepseek: %w: no choices in response", ErrMalformedResponse)
	}

	return parsed.Choices[0].Message.Content, nil
}
