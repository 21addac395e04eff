package ai

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/nyashahama/email-sequence-backend/internal/order"
	"github.com/nyashahama/email-sequence-backend/internal/prompt"
)

// sequenceSchema constrains the model to an array of {subject, body}.
var sequenceSchema = &genai.Schema{
	Type: genai.TypeArray,
	Items: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"subject": {
				Type:        genai.TypeString,
				Description: "The subject line of the email",
			},
			"body": {
				Type:        genai.TypeString,
				Description: "The body content of the email. Do not include signature placeholders if not in prompt.",
			},
		},
		Required: []string{"subject", "body"},
	},
}

// geminiClient is the Generator backed by the Gemini API through the genai
// SDK. The credential arrives per call, so a genai.Client is built per call;
// construction is local and does no network I/O.
type geminiClient struct {
	model   string
	baseURL string // empty means the SDK default endpoint
	timeout time.Duration
}

// NewGeminiClient returns a Generator that calls Gemini.
//   - model:   e.g. "gemini-2.5-flash"
//   - baseURL: override for the API endpoint; "" in production
//   - timeout: bound on a single generation call
func NewGeminiClient(model, baseURL string, timeout time.Duration) Generator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &geminiClient{
		model:   model,
		baseURL: baseURL,
		timeout: timeout,
	}
}

// Generate renders the prompt for one contact and makes one GenerateContent
// call with a JSON response schema.
func (c *geminiClient) Generate(ctx context.Context, credential string, p GenerateParams) (order.Sequence, error) {
	if credential == "" {
		return nil, ErrCredentialMissing
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      credential,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: c.baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w: %w", ErrUpstream, err)
	}

	req := prompt.Build(p.Template, p.Contact, p.Variables)

	resp, err := client.Models.GenerateContent(ctx, c.model, genai.Text(req.Prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.SystemInstruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    sequenceSchema,
		Temperature:       genai.Ptr[float32](0.7),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w: %w", ErrUpstream, err)
	}

	seq, err := parseSequence(resp.Text())
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return seq, nil
}
