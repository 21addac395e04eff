package prompt_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nyashahama/email-sequence-backend/internal/contacts"
	"github.com/nyashahama/email-sequence-backend/internal/prompt"
)

func TestVariables_OrderedAndDistinct(t *testing.T) {
	got := prompt.Variables("Hi {{first_name}}, saw {{ company }} is hiring. {{first_name}}, {{role}}?")
	assert.Equal(t, []string{"first_name", "company", "role"}, got)
}

func TestVariables_None(t *testing.T) {
	assert.Empty(t, prompt.Variables("plain text with { single } braces"))
}

func TestBuild_IncludesTemplateAndContactInHeaderOrder(t *testing.T) {
	fields := []contacts.Field{{Name: "name", Value: "Ada"}, {Name: "company", Value: "Acme"}}
	req := prompt.Build("Hello {{name}}", fields, []string{"name"})

	assert.Equal(t, prompt.SystemInstruction, req.SystemInstruction)
	assert.Contains(t, req.Prompt, "Hello {{name}}")
	assert.Less(t, strings.Index(req.Prompt, "- name: Ada"), strings.Index(req.Prompt, "- company: Acme"))
	assert.NotContains(t, req.Prompt, "UNRESOLVED")
}

func TestBuild_ListsUnresolvedVariables(t *testing.T) {
	fields := []contacts.Field{{Name: "name", Value: "Ada"}, {Name: "city", Value: ""}}
	req := prompt.Build("{{name}} in {{city}} at {{company}}", fields, []string{"name", "city", "company"})

	assert.Contains(t, req.Prompt, "UNRESOLVED VARIABLES")
	assert.Contains(t, req.Prompt, "- city\n")
	assert.Contains(t, req.Prompt, "- company\n")
}

func TestBuild_EmptyInputsStillProduceRequest(t *testing.T) {
	req := prompt.Build("", nil, nil)
	assert.Contains(t, req.Prompt, "INSTRUCTIONS:")
	assert.NotEmpty(t, req.SystemInstruction)
}

func TestSystemInstruction_ForbidsSignaturesAndPlaceholders(t *testing.T) {
	assert.Contains(t, prompt.SystemInstruction, "signature lines")
	assert.Contains(t, prompt.SystemInstruction, "[Your Name]")
}
