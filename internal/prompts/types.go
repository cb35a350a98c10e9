// Package prompts provides prompt management with embedded defaults and
// operator overrides.
//
// Embedded prompts registered by each agent are the source of truth for
// defaults. The prompts table mirrors them so every LLM call can be traced to
// the exact prompt version (its CID). An override replaces the embedded text
// for a key until it is cleared.
//
// Resolution order:
//  1. Override (if one exists)
//  2. Embedded default
package prompts

import (
	"time"
)

// Prompt is an embedded prompt as mirrored in storage.
type Prompt struct {
	Key          string    `json:"key"`
	Text         string    `json:"text"`
	Description  string    `json:"description,omitempty"`
	Variables    []string  `json:"variables,omitempty"`
	EmbeddedHash string    `json:"embedded_hash,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Override is an operator customization of a prompt.
type Override struct {
	Key       string    `json:"key"`
	Text      string    `json:"text"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ResolvedPrompt is the text an agent actually runs with.
type ResolvedPrompt struct {
	Key        string   `json:"key"`
	Text       string   `json:"text"`
	Variables  []string `json:"variables,omitempty"`
	IsOverride bool     `json:"is_override"`
	CID        string   `json:"cid"` // content hash for traceability
}

// EmbeddedPrompt is a prompt compiled into the binary.
type EmbeddedPrompt struct {
	Key         string   `json:"key"`         // Hierarchical key: agents.enrichment.system
	Text        string   `json:"text"`        // Go template
	Description string   `json:"description"` // Human-readable description
	Variables   []string `json:"variables"`
	Hash        string   `json:"hash"` // SHA256 of Text
}
