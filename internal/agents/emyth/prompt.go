package emyth

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
	SystemPromptKey = "agents.emyth_role_map.system"
	UserPromptKey   = "agents.emyth_role_map.user"
)

// RegisterPrompts registers the E-Myth role map prompts with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         SystemPromptKey,
		Text:        systemPrompt,
		Description: "E-Myth role map system prompt - classifies owner work into entrepreneur/manager/technician",
	})
	r.Register(prompts.EmbeddedPrompt{
		Key:         UserPromptKey,
		Text:        userPromptTmpl,
		Description: "E-Myth role map user prompt template - owner's description of their work",
	})
}

// UserPromptData fills the user template.
type UserPromptData struct {
	Business    string
	Description string
	Goals       string
}
