package outreach

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
	SystemPromptKey = "agents.outreach_draft.system"
	UserPromptKey   = "agents.outreach_draft.user"
)

// DefaultChannel is used when the caller names none.
const DefaultChannel = "email"

// RegisterPrompts registers the outreach prompts with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         SystemPromptKey,
		Text:        systemPrompt,
		Description: "Outreach draft system prompt - first-touch messages",
	})
	r.Register(prompts.EmbeddedPrompt{
		Key:         UserPromptKey,
		Text:        userPromptTmpl,
		Description: "Outreach draft user prompt template - lead, notes and latest research",
	})
}

// UserPromptData fills the user template.
type UserPromptData struct {
	Name     string
	Company  string
	Stage    string
	Channel  string
	Notes    string
	Research string // latest enrichment summary, if any
	Goal     string
}
