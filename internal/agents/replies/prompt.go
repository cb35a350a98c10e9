package replies

import (
	_ "embed"

	"github.com/jackzampolin/tanjia/internal/prompts"
)

//go:embed comment_system.tmpl
var commentSystemPrompt string

//go:embed comment_user.tmpl
var commentUserTmpl string

//go:embed dm_system.tmpl
var dmSystemPrompt string

//go:embed dm_user.tmpl
var dmUserTmpl string

// Prompt keys
const (
	CommentSystemKey = "agents.comment_reply.system"
	CommentUserKey   = "agents.comment_reply.user"

	DMSystemKey = "agents.dm_reply.system"
	DMUserKey   = "agents.dm_reply.user"
)

// RegisterPrompts registers the comment and DM reply prompts with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         CommentSystemKey,
		Text:        commentSystemPrompt,
		Description: "Comment reply system prompt - short public replies",
	})
	r.Register(prompts.EmbeddedPrompt{
		Key:         CommentUserKey,
		Text:        commentUserTmpl,
		Description: "Comment reply user prompt template - post, comment and tone",
	})
	r.Register(prompts.EmbeddedPrompt{
		Key:         DMSystemKey,
		Text:        dmSystemPrompt,
		Description: "DM reply system prompt - private message replies",
	})
	r.Register(prompts.EmbeddedPrompt{
		Key:         DMUserKey,
		Text:        dmUserTmpl,
		Description: "DM reply user prompt template - thread and latest message",
	})
}

// UserPromptData fills both reply templates.
type UserPromptData struct {
	Message string // comment or latest DM
	Post    string // post being commented on, or earlier thread
	Author  string
	Tone    string
}
