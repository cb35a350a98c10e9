package agent

import (
	"encoding/json"
	"time"
)

// maxToolOutputSummary bounds the tool output kept in a trace.
const maxToolOutputSummary = 400

// ToolInvocation is one executed tool call.
type ToolInvocation struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Input   json.RawMessage `json:"input,omitempty"`
	Output  string          `json:"output"`
	Error   bool            `json:"error,omitempty"`
	Step    int             `json:"step"`
	Attempt int             `json:"attempt"`
}

// Trace records what a run did. It is built incrementally and always has
// both timestamps set once Run returns.
type Trace struct {
	Model         string           `json:"model"`
	Steps         int              `json:"steps"`
	ToolCalls     []ToolInvocation `json:"tool_calls"`
	URLsFetched   []string         `json:"urls_fetched"`
	SearchQueries []string         `json:"search_queries"`
	StartedAt     time.Time        `json:"started_at"`
	EndedAt       time.Time        `json:"ended_at"`
}

func newTrace(now time.Time) *Trace {
	return &Trace{
		ToolCalls:     []ToolInvocation{},
		URLsFetched:   []string{},
		SearchQueries: []string{},
		StartedAt:     now,
	}
}

func (t *Trace) addTool(inv ToolInvocation) {
	inv.Output = summarize(inv.Output, maxToolOutputSummary)
	t.ToolCalls = append(t.ToolCalls, inv)
}

// JSON returns the trace encoded for storage.
func (t *Trace) JSON() json.RawMessage {
	b, err := json.Marshal(t)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

// summarize truncates s to at most n bytes without splitting a UTF-8 rune.
func summarize(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
