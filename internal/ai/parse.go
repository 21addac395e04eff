package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nyashahama/email-sequence-backend/internal/order"
)

// emailJSON uses pointers so a missing key is distinguishable from "".
type emailJSON struct {
	Subject *string `json:"subject"`
	Body    *string `json:"body"`
}

// parseSequence decodes a model reply into a sequence. It accepts a bare JSON
// array or an object wrapping the array under "emails" (json_object mode
// cannot return a top-level array). Markdown fences are stripped first.
func parseSequence(raw string) (order.Sequence, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	if raw == "" {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}

	var items []emailJSON
	if strings.HasPrefix(raw, "{") {
		var wrapped struct {
			Emails []emailJSON `json:"emails"`
		}
		if err := json.Unmarshal([]byte(raw), &wrapped); err != nil {
			return nil, fmt.Errorf("%w: %v (raw: %.200s)", ErrMalformedResponse, err, raw)
		}
		items = wrapped.Emails
	} else if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("%w: %v (raw: %.200s)", ErrMalformedResponse, err, raw)
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no emails in response", ErrMalformedResponse)
	}

	seq := make(order.Sequence, len(items))
	for i, it := range items {
		if it.Subject == nil || it.Body == nil {
			return nil, fmt.Errorf("%w: item %d missing subject or body", ErrMalformedResponse, i)
		}
		seq[i] = order.Email{Subject: *it.Subject, Body: *it.Body}
	}
	return seq, nil
}
