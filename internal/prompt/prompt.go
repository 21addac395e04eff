// Package prompt turns a template and one contact into the text sent to the
// generation model. It is pure: no I/O and no error returns.
//
// Placeholders such as {{first_name}} are NOT substituted here. The model
// receives the template verbatim plus the contact data and is told to use the
// data as context, which also covers variables the contact has no value for.
package prompt

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nyashahama/email-sequence-backend/internal/contacts"
)

// SystemInstruction is the fixed copywriter role sent with every request.
const SystemInstruction = `You are an expert sales copywriter specializing in high-converting cold email sequences.
Your goal is to write personalized, engaging, and professional emails based on provided contact data and a template context.
Your emails are concise (under 100 words each), written in short paragraphs with blank lines between them, and conversational rather than salesy.
Ensure tone is natural, not robotic.

IMPORTANT: Do NOT include any signature lines (e.g., "Best,", "Regards,", "Sincerely,") or placeholder text (e.g., "[Your Name]", "[My Name]", "[Company]") at the end of emails. End the email body with your final sentence or call-to-action.`

const instructions = `INSTRUCTIONS:
Generate a sequence of emails based on the template and contact data above.
If the template implies multiple steps (follow-ups), generate multiple items in the array.
Return a valid JSON array of objects with "subject" and "body" fields.`

// Request is a rendered generation request.
type Request struct {
	SystemInstruction string
	Prompt            string
}

var placeholder = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Variables returns the distinct placeholder names in template, in the order
// they first appear.
func Variables(template string) []string {
	matches := placeholder.FindAllStringSubmatch(template, -1)
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		name := m[1]
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// Build renders the request for one contact. variables lists the placeholder
// names the caller detected; any of them with no non-empty contact value is
// reported to the model as unresolved. An empty template or contact still
// yields a usable request.
func Build(template string, fields []contacts.Field, variables []string) Request {
	var sb strings.Builder

	sb.WriteString("TEMPLATE:\n\"\"\"\n")
	sb.WriteString(template)
	sb.WriteString("\n\"\"\"\n\nCONTACT DATA:\n")

	known := make(map[string]bool, len(fields))
	for _, f := range fields {
		fmt.Fprintf(&sb, "- %s: %s\n", f.Name, f.Value)
		known[f.Name] = strings.TrimSpace(f.Value) != ""
	}

	var unresolved []string
	for _, v := range variables {
		if !known[v] {
			unresolved = append(unresolved, v)
		}
	}
	if len(unresolved) > 0 {
		sb.WriteString("\nUNRESOLVED VARIABLES (no contact value, infer from context or omit naturally):\n")
		for _, v := range unresolved {
			fmt.Fprintf(&sb, "- %s\n", v)
		}
	}

	sb.WriteString("\n")
	sb.WriteString(instructions)
	sb.WriteString("\n")

	return Request{
		SystemInstruction: SystemInstruction,
		Prompt:            sb.String(),
	}
}
