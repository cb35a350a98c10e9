// Package observability records agent runs for later inspection.
package observability

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// AgentRun captures a complete agent execution for debugging.
type AgentRun struct {
	ID     string `json:"id"`
	Task   string `json:"task"`
	LeadID string `json:"lead_id,omitempty"`

	// Execution
	StartedAt        time.Time `json:"started_at"`
	CompletedAt      time.Time `json:"completed_at"`
	DurationMs       int64     `json:"duration_ms"`
	Model            string    `json:"model"`
	Attempts         int       `json:"attempts"`
	EscalationReason string    `json:"escalation_reason,omitempty"`
	Status           string    `json:"status"`

	// Result
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	// Trace JSON as produced by the runner
	Trace json.RawMessage `json:"trace,omitempty"`
}

// Sink persists agent runs.
type Sink interface {
	InsertAgentRun(ctx context.Context, run *AgentRun) error
}

// ListFilter narrows ListAgentRuns.
type ListFilter struct {
	Task   string
	LeadID string
	Limit  int
	Offset int
}

// Reader is the query side of agent run storage.
type Reader interface {
	GetAgentRun(ctx context.Context, id string) (*AgentRun, error)
	ListAgentRuns(ctx context.Context, filter ListFilter) ([]AgentRun, error)
}

// ToolCallLog captures a single tool call for debug output.
type ToolCallLog struct {
	Attempt   int       `json:"attempt"`
	Step      int       `json:"step"`
	Timestamp time.Time `json:"timestamp"`
	ToolName  string    `json:"tool_name"`
	ArgsJSON  string    `json:"args_json"`
	ResultLen int       `json:"result_len"`
	Error     string    `json:"error,omitempty"`
}

// Logger follows one run. It logs tool calls at debug level when enabled and
// persists the final record on Save.
type Logger struct {
	sink   Sink
	logger *slog.Logger
	debug  bool

	run       AgentRun
	toolCalls []ToolCallLog
}

// NewLogger starts tracking a run. sink may be nil.
func NewLogger(sink Sink, logger *slog.Logger, debug bool, runID, task, leadID string) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		sink:   sink,
		logger: logger,
		debug:  debug,
		run: AgentRun{
			ID:        runID,
			Task:      task,
			LeadID:    leadID,
			StartedAt: time.Now().UTC(),
		},
	}
}

// LogState emits a state transition at debug level.
func (l *Logger) LogState(state string, attrs ...any) {
	if !l.debug {
		return
	}
	l.logger.Debug("agent state", append([]any{"run_id", l.run.ID, "task", l.run.Task, "state", state}, attrs...)...)
}

// LogToolCall records a tool call.
func (l *Logger) LogToolCall(attempt, step int, toolName string, args map[string]any, result string, err error) {
	argsJSON, _ := json.Marshal(args)
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	entry := ToolCallLog{
		Attempt:   attempt,
		Step:      step,
		Timestamp: time.Now(),
		ToolName:  toolName,
		ArgsJSON:  string(argsJSON),
		ResultLen: len(result),
		Error:     errStr,
	}
	l.toolCalls = append(l.toolCalls, entry)

	if l.debug {
		l.logger.Debug("agent tool call",
			"run_id", l.run.ID,
			"tool", toolName,
			"attempt", attempt,
			"step", step,
			"result_len", entry.ResultLen,
			"error", errStr)
	}
}

// ToolCalls returns the tool calls logged so far.
func (l *Logger) ToolCalls() []ToolCallLog {
	return l.toolCalls
}

// Finish describes the end state of a run.
type Finish struct {
	Success          bool
	Model            string
	Attempts         int
	EscalationReason string
	Error            string
	Trace            json.RawMessage
}

// Save persists the final agent run state. Write errors are logged, not
// returned, and the write survives cancellation of ctx.
func (l *Logger) Save(ctx context.Context, f Finish) *AgentRun {
	run := l.run
	run.CompletedAt = time.Now().UTC()
	run.DurationMs = run.CompletedAt.Sub(run.StartedAt).Milliseconds()
	run.Model = f.Model
	run.Attempts = f.Attempts
	run.EscalationReason = f.EscalationReason
	run.Success = f.Success
	run.Error = f.Error
	run.Trace = f.Trace
	run.Status = StatusCompleted
	if !f.Success {
		run.Status = StatusFailed
	}

	if l.sink == nil {
		return &run
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := l.sink.InsertAgentRun(writeCtx, &run); err != nil {
		l.logger.Warn("failed to record agent run", "run_id", run.ID, "task", run.Task, "error", err)
	}
	return &run
}
