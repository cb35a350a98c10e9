package agent

import (
	"regexp"
	"unicode/utf8"
)

// TaskName identifies the kind of work an agent run performs. Escalation
// rules are keyed on it.
type TaskName string

const (
	TaskCommentReply    TaskName = "comment_reply"
	TaskDMReply         TaskName = "dm_reply"
	TaskOutreachDraft   TaskName = "outreach_draft"
	TaskLeadEnrichment  TaskName = "lead_enrichment"
	TaskCompanyOverview TaskName = "company_overview"
	TaskEMythRoleMap    TaskName = "emyth_role_map"
)

// EscalationReason tags why a run moved to the escalated model tier.
type EscalationReason string

const (
	ReasonNone              EscalationReason = ""
	ReasonValidationFailed  EscalationReason = "validation_failed"
	ReasonToolsNeededFailed EscalationReason = "tools_needed_failed"
	ReasonLongInput         EscalationReason = "long_input"
	ReasonAnalysisRequested EscalationReason = "analysis_requested"
	ReasonThinSignals       EscalationReason = "thin_signals"
	ReasonSchemaFail        EscalationReason = "schema_fail"
)

const (
	// LongInputThreshold is the input length (chars) above which analysis
	// tasks escalate.
	LongInputThreshold = 1200

	// MinContentLength is the output length (chars) below which tool-backed
	// analysis output counts as thin.
	MinContentLength = 120

	DefaultMaxAttempts = 2
	DefaultMaxSteps    = 6
)

var (
	// Fast reply tasks never escalate unless a tool-backed validation fails.
	exemptTasks = map[TaskName]bool{
		TaskCommentReply: true,
		TaskDMReply:      true,
	}

	analysisTasks = map[TaskName]bool{
		TaskEMythRoleMap:    true,
		TaskCompanyOverview: true,
		TaskLeadEnrichment:  true,
	}

	toolRequiredTasks = map[TaskName]bool{
		TaskLeadEnrichment:  true,
		TaskCompanyOverview: true,
	}

	thinSignalTasks = map[TaskName]bool{
		TaskLeadEnrichment:  true,
		TaskCompanyOverview: true,
	}

	schemaErrorRe = regexp.MustCompile(`(?i)schema|does not match|required|additionalProperties|validation`)
	toolErrorRe   = regexp.MustCompile(`(?i)tool|function call|fetch|search`)
)

// EscalationBudget tracks escalations already spent against a cap.
type EscalationBudget struct {
	Used int `json:"used"`
	Max  int `json:"max"`
}

// Remaining reports how many escalations are left. A nil budget is unlimited.
func (b *EscalationBudget) Remaining() bool {
	return b == nil || b.Used < b.Max
}

// PolicyContext describes a run for the escalation policy. It is built per
// request and never persisted.
//
// InputLength counts characters, not bytes. When InputMeasured is false and
// InputLength is zero, Runner.Run measures the rendered user prompt instead.
type PolicyContext struct {
	Task           TaskName          `json:"task"`
	HasTools       bool              `json:"has_tools"`
	InputLength    int               `json:"input_length"`
	InputMeasured  bool              `json:"-"`
	UserText       string            `json:"-"`
	Budget         *EscalationBudget `json:"budget,omitempty"`
	ComplexityHint bool              `json:"complexity_hint,omitempty"`
}

// TextLength returns the combined character count of parts.
func TextLength(parts ...string) int {
	n := 0
	for _, p := range parts {
		n += utf8.RuneCountInString(p)
	}
	return n
}

// Outcome summarizes one attempt.
type Outcome struct {
	ValidationOK  bool
	Error         string
	ToolCallCount int
	ContentLength int
}

// Decision is the policy verdict for one attempt.
type Decision struct {
	Escalate bool             `json:"escalate"`
	Reason   EscalationReason `json:"reason,omitempty"`
}

func escalate(r EscalationReason) Decision {
	return Decision{Escalate: true, Reason: r}
}

// ShouldEscalate applies the escalation rules top-down; the first match wins.
// Budget enforcement is left to the caller.
func ShouldEscalate(pc PolicyContext, out Outcome) Decision {
	if !out.ValidationOK && pc.HasTools {
		return escalate(ReasonToolsNeededFailed)
	}
	if exemptTasks[pc.Task] {
		return Decision{}
	}
	if !out.ValidationOK {
		switch {
		case schemaErrorRe.MatchString(out.Error):
			return escalate(ReasonSchemaFail)
		case toolErrorRe.MatchString(out.Error):
			return escalate(ReasonToolsNeededFailed)
		default:
			return escalate(ReasonValidationFailed)
		}
	}
	if pc.HasTools && toolRequiredTasks[pc.Task] && out.ToolCallCount == 0 {
		return escalate(ReasonToolsNeededFailed)
	}
	if pc.HasTools && thinSignalTasks[pc.Task] && out.ContentLength < MinContentLength {
		return escalate(ReasonThinSignals)
	}
	if pc.InputLength > LongInputThreshold && analysisTasks[pc.Task] {
		return escalate(ReasonLongInput)
	}
	if pc.ComplexityHint && analysisTasks[pc.Task] {
		return escalate(ReasonAnalysisRequested)
	}
	return Decision{}
}

// ModelTier names a model and the parameters it runs with.
type ModelTier struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// ModelTiers holds the two tiers. There are never more.
type ModelTiers struct {
	Default   ModelTier `json:"default"`
	Escalated ModelTier `json:"escalated"`
}

// PickInitialModel returns the default tier, with hint replacing its model
// name when set.
func PickInitialModel(tiers ModelTiers, hint string) ModelTier {
	tier := tiers.Default
	if hint != "" {
		tier.Model = hint
	}
	return tier
}

// EscalatedModel returns the escalated tier.
func EscalatedModel(tiers ModelTiers) ModelTier {
	return tiers.Escalated
}

// ClampAttempts bounds n to [1, max]. A max <= 0 means DefaultMaxAttempts.
func ClampAttempts(n, max int) int {
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	if n < 1 {
		return 1
	}
	if n > max {
		return max
	}
	return n
}
