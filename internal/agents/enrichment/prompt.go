package enrichment

import (
	_ "embed"

	"github.com/jackzampolin/tanjia/internal/prompts"
)

//go:embed system.tmpl
var systemPrompt string

//go:embed user.tmpl
var userPromptTmpl string

// Prompt keys
const (
	SystemPromptKey = "agents.lead_enrichment.system"
	UserPromptKey   = "agents.lead_enrichment.user"
)

// RegisterPrompts registers the lead enrichment prompts with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         SystemPromptKey,
		Text:        systemPrompt,
		Description: "Lead enrichment system prompt - researches a lead's website with fetch/search tools",
	})
	r.Register(prompts.EmbeddedPrompt{
		Key:         UserPromptKey,
		Text:        userPromptTmpl,
		Description: "Lead enrichment user prompt template - lead fields and operator notes",
	})
}

// UserPromptData fills the user template.
type UserPromptData struct {
	Name    string
	Company string
	Website string
	Email   string
	Source  string
	Notes   string
	Stage   string
	Focus   string
}
