package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/tanjia/internal/agent/observability"
	"github.com/jackzampolin/tanjia/internal/llmcall"
	"github.com/jackzampolin/tanjia/internal/providers"
)

// ErrNotConfigured is returned when no LLM client is available.
var ErrNotConfigured = errors.New("agent: LLM client not configured")

// toolFailurePayload is what the model sees when a tool errors or panics.
const toolFailurePayload = `{"error":"tool execution failed"}`

// Run states, used in debug logs.
const (
	StateCallingModel   = "calling_model"
	StateExecutingTools = "executing_tools"
	StateValidating     = "validating"
	StateEscalating     = "escalating"
	StateDone           = "done"
)

// CallRecorder receives every LLM call the runner makes.
type CallRecorder interface {
	Record(ctx context.Context, result *providers.ChatResult, opts llmcall.RecordOptions)
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Client providers.LLMClient
	Tiers  ModelTiers

	// MaxAttempts is clamped to [1, DefaultMaxAttempts] (0 = default)
	MaxAttempts int

	// Budget grants escalations across requests (nil = unlimited)
	Budget Budget

	Recorder CallRecorder
	Runs     observability.Sink

	// ToolTimeout bounds each tool execution (0 = none)
	ToolTimeout time.Duration

	Debug  bool
	Logger *slog.Logger
}

// Runner drives the model/tool loop with validation and escalation.
// A Runner is safe for concurrent use; all per-run state lives in Run.
type Runner struct {
	client      providers.LLMClient
	tiers       ModelTiers
	maxAttempts int
	budget      Budget
	recorder    CallRecorder
	runs        observability.Sink
	toolTimeout time.Duration
	debug       bool
	logger      *slog.Logger
}

// NewRunner creates a runner. A nil Client yields a runner whose Run returns
// ErrNotConfigured.
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Runner{
		client:      cfg.Client,
		tiers:       cfg.Tiers,
		maxAttempts: ClampAttempts(cfg.MaxAttempts, DefaultMaxAttempts),
		budget:      cfg.Budget,
		recorder:    cfg.Recorder,
		runs:        cfg.Runs,
		toolTimeout: cfg.ToolTimeout,
		debug:       cfg.Debug,
		logger:      logger,
	}
}

// Tiers returns the configured model tiers.
func (r *Runner) Tiers() ModelTiers {
	return r.tiers
}

// Configured reports whether the runner has an LLM client. Clients that
// implement Available (such as a registry-backed client) are asked too.
func (r *Runner) Configured() bool {
	if r == nil || r.client == nil {
		return false
	}
	if a, ok := r.client.(interface{ Available() bool }); ok {
		return a.Available()
	}
	return true
}

// RunRequest is one agent invocation.
type RunRequest struct {
	Task         TaskName
	SystemPrompt string
	UserPrompt   string

	// Tools may be nil for text-only tasks
	Tools Tools

	// MaxSteps bounds model calls per attempt (default 6)
	MaxSteps int

	// ModelHint replaces the default tier's model on the first attempt
	ModelHint string

	// Policy enables escalation. Nil means a single attempt.
	Policy *PolicyContext

	// Validate checks the final content and returns the parsed value.
	Validate func(content string) (json.RawMessage, error)

	ResponseFormat *providers.ResponseFormat

	// Traceability
	PromptKey string
	PromptCID string
	LeadID    string
}

// Run executes the request. It returns an error only for ErrNotConfigured
// and context cancellation; every other failure is reported in the result.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if !r.Configured() {
		return nil, ErrNotConfigured
	}

	start := time.Now()
	runID := uuid.New().String()
	trace := newTrace(start.UTC())
	result := &RunResult{ID: runID, Trace: trace}

	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	var defs []providers.Tool
	if req.Tools != nil {
		defs = req.Tools.GetTools()
	}

	task := req.Task
	attempts := 1
	var pc PolicyContext
	if req.Policy != nil {
		pc = *req.Policy
		if pc.Task == "" {
			pc.Task = task
		}
		task = pc.Task
		pc.HasTools = len(defs) > 0
		if !pc.InputMeasured && pc.InputLength == 0 {
			pc.InputLength = TextLength(req.UserPrompt)
		}
		attempts = r.maxAttempts
	}

	obs := observability.NewLogger(r.runs, r.logger, r.debug, runID, string(task), req.LeadID)

	st := &runState{
		runner: r,
		req:    req,
		defs:   defs,
		trace:  trace,
		obs:    obs,
		runID:  runID,
		task:   task,
	}

	var runErr error
	for attempt := 0; attempt < attempts; attempt++ {
		tier := PickInitialModel(r.tiers, req.ModelHint)
		if attempt > 0 {
			tier = EscalatedModel(r.tiers)
			if tier.Model == "" {
				tier.Model = r.tiers.Default.Model
			}
		}
		trace.Model = tier.Model

		content, toolCalls, err := st.attempt(ctx, attempt, tier, maxSteps)
		result.Meta.Attempts = attempt + 1
		result.Content = content
		result.Parsed = nil

		if ctxErr := ctx.Err(); ctxErr != nil {
			result.Meta.Error = ctxErr.Error()
			runErr = ctxErr
			break
		}

		outcome := Outcome{
			ValidationOK:  true,
			ToolCallCount: toolCalls,
			ContentLength: TextLength(content),
		}
		if err != nil {
			outcome.ValidationOK = false
			outcome.Error = err.Error()
		} else if req.Validate != nil {
			obs.LogState(StateValidating, "attempt", attempt)
			parsed, verr := req.Validate(content)
			if verr != nil {
				outcome.ValidationOK = false
				outcome.Error = verr.Error()
			} else {
				result.Parsed = parsed
			}
		}
		result.Meta.Error = outcome.Error

		if req.Policy == nil {
			break
		}
		decision := ShouldEscalate(pc, outcome)
		if !decision.Escalate || attempt+1 >= attempts {
			break
		}
		if !pc.Budget.Remaining() {
			r.logger.Info("escalation skipped: request budget exhausted", "run_id", runID, "reason", decision.Reason)
			break
		}
		if r.budget != nil && !r.budget.TryConsume() {
			r.logger.Info("escalation skipped: daily budget exhausted", "run_id", runID, "reason", decision.Reason)
			break
		}
		if pc.Budget != nil {
			pc.Budget.Used++
		}
		result.Meta.BudgetConsumed = true
		result.Meta.EscalationReason = decision.Reason
		obs.LogState(StateEscalating, "reason", decision.Reason, "from", tier.Model)
	}

	trace.EndedAt = time.Now().UTC()
	result.Meta.Model = trace.Model
	result.Meta.Duration = time.Since(start)
	obs.LogState(StateDone, "attempts", result.Meta.Attempts)

	obs.Save(ctx, observability.Finish{
		Success:          runErr == nil && result.Meta.Error == "",
		Model:            result.Meta.Model,
		Attempts:         result.Meta.Attempts,
		EscalationReason: string(result.Meta.EscalationReason),
		Error:            result.Meta.Error,
		Trace:            trace.JSON(),
	})

	r.logger.Info("agent run complete",
		"run_id", runID,
		"task", task,
		"model", result.Meta.Model,
		"attempts", result.Meta.Attempts,
		"escalation", result.Meta.EscalationReason,
		"tool_calls", len(trace.ToolCalls),
		"duration", result.Meta.Duration,
		"ok", result.Meta.Error == "")

	return result, runErr
}

// runState carries what one Run shares across attempts.
type runState struct {
	runner *Runner
	req    RunRequest
	defs   []providers.Tool
	trace  *Trace
	obs    *observability.Logger
	runID  string
	task   TaskName
}

// attempt runs the model/tool loop with one model tier. It returns the final
// text, the number of distinct tools executed, and any provider error.
func (s *runState) attempt(ctx context.Context, attempt int, tier ModelTier, maxSteps int) (string, int, error) {
	r := s.runner
	messages := make([]providers.Message, 0, 2+maxSteps*2)
	if s.req.SystemPrompt != "" {
		messages = append(messages, providers.Message{Role: providers.RoleSystem, Content: s.req.SystemPrompt})
	}
	messages = append(messages, providers.Message{Role: providers.RoleUser, Content: s.req.UserPrompt})

	executed := make(map[string]string)
	toolCalls := 0
	lastContent := ""

	for step := 0; step < maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return lastContent, toolCalls, err
		}
		s.obs.LogState(StateCallingModel, "attempt", attempt, "step", step, "model", tier.Model)

		chatReq := &providers.ChatRequest{
			Messages:       append([]providers.Message(nil), messages...),
			Model:          tier.Model,
			Temperature:    tier.Temperature,
			MaxTokens:      tier.MaxTokens,
			ResponseFormat: s.req.ResponseFormat,
		}

		var res *providers.ChatResult
		var err error
		if len(s.defs) > 0 {
			res, err = r.client.ChatWithTools(ctx, chatReq, s.defs)
		} else {
			res, err = r.client.Chat(ctx, chatReq)
		}
		s.trace.Steps++
		s.record(ctx, res, tier)

		if err != nil {
			return lastContent, toolCalls, fmt.Errorf("model call failed: %w", err)
		}
		if res == nil {
			return lastContent, toolCalls, fmt.Errorf("model call returned no result")
		}
		lastContent = res.Content

		if len(res.ToolCalls) == 0 {
			return res.Content, toolCalls, nil
		}

		calls := make([]providers.ToolCall, len(res.ToolCalls))
		copy(calls, res.ToolCalls)
		for i := range calls {
			if calls[i].ID == "" {
				calls[i].ID = fmt.Sprintf("call_%d_%d_%d", attempt, step, i)
			}
			if calls[i].Type == "" {
				calls[i].Type = "function"
			}
		}
		messages = append(messages, providers.Message{
			Role:      providers.RoleAssistant,
			Content:   res.Content,
			ToolCalls: calls,
		})

		s.obs.LogState(StateExecutingTools, "attempt", attempt, "step", step, "count", len(calls))
		for _, tc := range calls {
			out, seen := executed[tc.ID]
			if !seen {
				out = s.executeTool(ctx, attempt, step, tc)
				executed[tc.ID] = out
				toolCalls++
			}
			messages = append(messages, providers.Message{
				Role:       providers.RoleTool,
				Content:    out,
				ToolCallID: tc.ID,
			})
		}
	}

	return lastContent, toolCalls, fmt.Errorf("max steps (%d) reached without a final answer", maxSteps)
}

func (s *runState) record(ctx context.Context, res *providers.ChatResult, tier ModelTier) {
	if s.runner.recorder == nil || res == nil {
		return
	}
	temp := tier.Temperature
	s.runner.recorder.Record(ctx, res, llmcall.RecordOptions{
		LeadID:      s.req.LeadID,
		RunID:       s.runID,
		Task:        string(s.task),
		PromptKey:   s.req.PromptKey,
		PromptCID:   s.req.PromptCID,
		Temperature: &temp,
		Logger:      s.runner.logger,
	})
}

// executeTool runs one tool call, converting every failure into the generic
// error payload.
func (s *runState) executeTool(ctx context.Context, attempt, step int, tc providers.ToolCall) string {
	r := s.runner
	name := tc.Function.Name

	args := make(map[string]any)
	var err error
	if tc.Function.Arguments != "" {
		if uerr := json.Unmarshal([]byte(tc.Function.Arguments), &args); uerr != nil {
			err = fmt.Errorf("failed to parse tool arguments: %w", uerr)
		}
	}

	var out string
	if err == nil {
		if s.req.Tools == nil {
			err = fmt.Errorf("no tools configured")
		} else {
			toolCtx := ctx
			if r.toolTimeout > 0 {
				var cancel context.CancelFunc
				toolCtx, cancel = context.WithTimeout(ctx, r.toolTimeout)
				defer cancel()
			}
			out, err = safeExecute(toolCtx, s.req.Tools, name, args)
		}
	}

	if c, ok := s.req.Tools.(ToolClassifier); ok {
		switch c.ToolKind(name) {
		case ToolKindFetch:
			if u, ok := args["url"].(string); ok && u != "" {
				s.trace.URLsFetched = append(s.trace.URLsFetched, u)
			}
		case ToolKindSearch:
			if q, ok := args["query"].(string); ok && q != "" {
				s.trace.SearchQueries = append(s.trace.SearchQueries, q)
			}
		}
	}

	s.obs.LogToolCall(attempt, step, name, args, out, err)
	if err != nil {
		r.logger.Warn("tool execution failed", "run_id", s.runID, "tool", name, "error", err)
		out = toolFailurePayload
	}

	var input json.RawMessage
	if tc.Function.Arguments != "" && json.Valid([]byte(tc.Function.Arguments)) {
		input = json.RawMessage(tc.Function.Arguments)
	}
	s.trace.addTool(ToolInvocation{
		ID:      tc.ID,
		Name:    name,
		Input:   input,
		Output:  out,
		Error:   err != nil,
		Step:    step,
		Attempt: attempt,
	})
	return out
}

func safeExecute(ctx context.Context, tools Tools, name string, args map[string]any) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			out = ""
			err = fmt.Errorf("tool %s panicked: %v", name, p)
		}
	}()
	return tools.ExecuteTool(ctx, name, args)
}
