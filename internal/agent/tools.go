package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jackzampolin/tanjia/internal/providers"
)

// Tools defines the interface that agent tool implementations must satisfy.
// Each task wires its own set.
//
//	type ResearchTools struct { fetcher *webtools.Fetcher }
//
//	func (t *ResearchTools) GetTools() []providers.Tool { ... }
//	func (t *ResearchTools) ExecuteTool(ctx, name, args) (string, error) { ... }
type Tools interface {
	// GetTools returns OpenAI-format tool definitions for the LLM.
	GetTools() []providers.Tool

	// ExecuteTool runs a tool and returns the result as a JSON string.
	// The runner calls this once per distinct tool_call id.
	ExecuteTool(ctx context.Context, name string, arguments map[string]any) (string, error)
}

// ToolKind lets the runner record fetched URLs and search queries in the trace.
type ToolKind int

const (
	ToolKindOther  ToolKind = iota
	ToolKindFetch           // args["url"] is recorded
	ToolKindSearch          // args["query"] is recorded
)

// ToolClassifier is optionally implemented by Tools.
type ToolClassifier interface {
	ToolKind(name string) ToolKind
}

// ToolFunc executes one tool.
type ToolFunc func(ctx context.Context, args map[string]any) (string, error)

type toolEntry struct {
	def  providers.Tool
	kind ToolKind
	fn   ToolFunc
}

// ToolSet is a name-keyed registry that implements Tools and ToolClassifier.
type ToolSet struct {
	entries map[string]toolEntry
}

// NewToolSet creates an empty tool set.
func NewToolSet() *ToolSet {
	return &ToolSet{entries: make(map[string]toolEntry)}
}

// Add registers a tool. Parameters must be a JSON Schema object.
func (s *ToolSet) Add(name, description string, parameters json.RawMessage, kind ToolKind, fn ToolFunc) *ToolSet {
	s.entries[name] = toolEntry{
		def:  providers.NewFunctionTool(name, description, parameters),
		kind: kind,
		fn:   fn,
	}
	return s
}

// Len returns the number of registered tools.
func (s *ToolSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// GetTools returns tool definitions sorted by name.
func (s *ToolSet) GetTools() []providers.Tool {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	tools := make([]providers.Tool, 0, len(names))
	for _, name := range names {
		tools = append(tools, s.entries[name].def)
	}
	return tools
}

// ExecuteTool dispatches to the named tool.
func (s *ToolSet) ExecuteTool(ctx context.Context, name string, args map[string]any) (string, error) {
	e, ok := s.entries[name]
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	return e.fn(ctx, args)
}

// ToolKind reports the kind registered for name.
func (s *ToolSet) ToolKind(name string) ToolKind {
	return s.entries[name].kind
}

var (
	_ Tools          = (*ToolSet)(nil)
	_ ToolClassifier = (*ToolSet)(nil)
)
