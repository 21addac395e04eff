package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/nyashahama/email-sequence-backend/internal/ai"
	"github.com/nyashahama/email-sequence-backend/internal/contacts"
	"github.com/nyashahama/email-sequence-backend/internal/order"
	"github.com/nyashahama/email-sequence-backend/internal/prompt"
)

// previewFailed is the only failure text a preview caller sees. The cause is
// logged server-side.
const previewFailed = "Failed to generate preview. Please check your API key or try again."

// previewTimeout bounds the whole preview request.
const previewTimeout = 90 * time.Second

// ─── POST /api/preview ────────────────────────────────────────────────────────

type previewRequest struct {
	Template string            `json:"template"`
	Headers  []string          `json:"headers"`
	Row      map[string]string `json:"row"`
	// APIKey lets the wizard preview with the customer's own key. Empty
	// falls back to the server credential.
	APIKey string `json:"apiKey,omitempty"`
}

type previewResponse struct {
	Emails order.Sequence `json:"emails"`
	// Variables are the placeholders found in the template, so the wizard
	// can show which ones the contact data resolves.
	Variables []string `json:"variables"`
}

// handlePreview generates the sequence for one contact synchronously. It never
// touches the order store.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Template == "" {
		respondErr(w, http.StatusBadRequest, "template is required")
		return
	}

	list, err := contacts.FromRecords(req.Headers, []map[string]string{req.Row})
	if err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}

	credential := req.APIKey
	if credential == "" {
		credential = s.cfg.Credential
	}

	ctx, cancel := context.WithTimeout(r.Context(), previewTimeout)
	defer cancel()

	variables := prompt.Variables(req.Template)
	seq, err := s.generator.Generate(ctx, credential, ai.GenerateParams{
		Template:  req.Template,
		Contact:   list.Fields(0),
		Variables: variables,
	})
	if err != nil {
		level := s.logger.Warn
		if errors.Is(err, ai.ErrUpstream) {
			level = s.logger.Error
		}
		level("preview: generation failed", "error", err, logField(r))
		respondErr(w, http.StatusBadGateway, previewFailed)
		return
	}

	respond(w, http.StatusOK, previewResponse{Emails: seq, Variables: variables})
}
