package overview

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
	SystemPromptKey = "agents.company_overview.system"
	UserPromptKey   = "agents.company_overview.user"
)

// RegisterPrompts registers the company overview prompts with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         SystemPromptKey,
		Text:        systemPrompt,
		Description: "Company overview system prompt - researches a company website",
	})
	r.Register(prompts.EmbeddedPrompt{
		Key:         UserPromptKey,
		Text:        userPromptTmpl,
		Description: "Company overview user prompt template - company, website and context",
	})
}

// UserPromptData fills the user template.
type UserPromptData struct {
	Company string
	Website string
	Context string
}
