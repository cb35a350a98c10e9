package agent

import (
	"encoding/json"
	"time"
)

// RunMeta holds the bookkeeping of a run.
type RunMeta struct {
	Model            string           `json:"model"`
	Attempts         int              `json:"attempts"`
	EscalationReason EscalationReason `json:"escalation_reason,omitempty"`
	Duration         time.Duration    `json:"duration"`
	BudgetConsumed   bool             `json:"budget_consumed"`
	Repaired         bool             `json:"repaired,omitempty"` // output fixed by a repair call
	Error            string           `json:"error,omitempty"`    // last validation or provider error
}

// RunResult holds the outcome of an agent run. Content is always set,
// possibly empty.
type RunResult struct {
	ID      string          `json:"id"`
	Content string          `json:"content"`
	Trace   *Trace          `json:"trace"`
	Parsed  json.RawMessage `json:"parsed,omitempty"`
	Meta    RunMeta         `json:"meta"`
}

// OK reports whether the final attempt passed validation.
func (r *RunResult) OK() bool {
	return r != nil && r.Meta.Error == ""
}
