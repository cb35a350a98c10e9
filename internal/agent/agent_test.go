package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/tanjia/internal/agent/observability"
	"github.com/jackzampolin/tanjia/internal/llmcall"
	"github.com/jackzampolin/tanjia/internal/providers"
)

var testTiers = ModelTiers{
	Default:   ModelTier{Model: "fast-model", Temperature: 0.3},
	Escalated: ModelTier{Model: "smart-model", Temperature: 0.2},
}

var enrichSchema = json.RawMessage(`{
	"type": "object",
	"required": ["summary"],
	"properties": {"summary": {"type": "string"}}
}`)

type memoryCalls struct {
	mu    sync.Mutex
	calls []llmcall.Call
}

func (m *memoryCalls) InsertLLMCall(_ context.Context, c *llmcall.Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, *c)
	return nil
}

type memoryRuns struct {
	mu   sync.Mutex
	runs []observability.AgentRun
}

func (m *memoryRuns) InsertAgentRun(_ context.Context, r *observability.AgentRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, *r)
	return nil
}

func newTestRunner(client providers.LLMClient) *Runner {
	return NewRunner(RunnerConfig{
		Client:      client,
		Tiers:       testTiers,
		MaxAttempts: 2,
	})
}

func TestShouldEscalate(t *testing.T) {
	long := LongInputThreshold + 1

	tests := []struct {
		name string
		pc   PolicyContext
		out  Outcome
		want Decision
	}{
		{
			name: "failed validation with tools",
			pc:   PolicyContext{Task: TaskCommentReply, HasTools: true},
			out:  Outcome{ValidationOK: false, Error: "anything"},
			want: Decision{Escalate: true, Reason: ReasonToolsNeededFailed},
		},
		{
			name: "exempt task with failed validation",
			pc:   PolicyContext{Task: TaskDMReply, InputLength: long, ComplexityHint: true},
			out:  Outcome{ValidationOK: false, Error: "does not match schema"},
			want: Decision{},
		},
		{
			name: "schema error",
			pc:   PolicyContext{Task: TaskOutreachDraft},
			out:  Outcome{ValidationOK: false, Error: "missing properties: 'summary' required"},
			want: Decision{Escalate: true, Reason: ReasonSchemaFail},
		},
		{
			name: "tool error text",
			pc:   PolicyContext{Task: TaskOutreachDraft},
			out:  Outcome{ValidationOK: false, Error: "could not fetch page"},
			want: Decision{Escalate: true, Reason: ReasonToolsNeededFailed},
		},
		{
			name: "generic failure",
			pc:   PolicyContext{Task: TaskOutreachDraft},
			out:  Outcome{ValidationOK: false, Error: "boom"},
			want: Decision{Escalate: true, Reason: ReasonValidationFailed},
		},
		{
			name: "tool required but unused",
			pc:   PolicyContext{Task: TaskLeadEnrichment, HasTools: true},
			out:  Outcome{ValidationOK: true, ContentLength: 500},
			want: Decision{Escalate: true, Reason: ReasonToolsNeededFailed},
		},
		{
			name: "thin signals",
			pc:   PolicyContext{Task: TaskCompanyOverview, HasTools: true},
			out:  Outcome{ValidationOK: true, ToolCallCount: 2, ContentLength: MinContentLength - 1},
			want: Decision{Escalate: true, Reason: ReasonThinSignals},
		},
		{
			name: "long input analysis",
			pc:   PolicyContext{Task: TaskEMythRoleMap, InputLength: long},
			out:  Outcome{ValidationOK: true, ContentLength: 500},
			want: Decision{Escalate: true, Reason: ReasonLongInput},
		},
		{
			name: "long input at threshold",
			pc:   PolicyContext{Task: TaskEMythRoleMap, InputLength: LongInputThreshold},
			out:  Outcome{ValidationOK: true, ContentLength: 500},
			want: Decision{},
		},
		{
			name: "long input on non analysis task",
			pc:   PolicyContext{Task: TaskOutreachDraft, InputLength: long},
			out:  Outcome{ValidationOK: true},
			want: Decision{},
		},
		{
			name: "complexity hint",
			pc:   PolicyContext{Task: TaskCompanyOverview, ComplexityHint: true},
			out:  Outcome{ValidationOK: true, ContentLength: 500},
			want: Decision{Escalate: true, Reason: ReasonAnalysisRequested},
		},
		{
			name: "complexity hint on non analysis task",
			pc:   PolicyContext{Task: TaskOutreachDraft, ComplexityHint: true},
			out:  Outcome{ValidationOK: true},
			want: Decision{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldEscalate(tt.pc, tt.out))
		})
	}
}

func TestShouldEscalate_Properties(t *testing.T) {
	tasks := []TaskName{TaskCommentReply, TaskDMReply, TaskOutreachDraft, TaskLeadEnrichment, TaskCompanyOverview, TaskEMythRoleMap}

	for _, task := range tasks {
		t.Run(string(task), func(t *testing.T) {
			d := ShouldEscalate(PolicyContext{Task: task, HasTools: true}, Outcome{ValidationOK: false})
			assert.Equal(t, Decision{Escalate: true, Reason: ReasonToolsNeededFailed}, d)

			for _, n := range []int{0, 1, 600, LongInputThreshold} {
				d = ShouldEscalate(PolicyContext{Task: task, InputLength: n}, Outcome{ValidationOK: true})
				assert.False(t, d.Escalate, "input length %d", n)
			}
		})
	}
}

func TestClampAttempts(t *testing.T) {
	for n := -3; n <= 10; n++ {
		for _, max := range []int{-1, 0, 1, 2, 5} {
			got := ClampAttempts(n, max)
			limit := max
			if limit <= 0 {
				limit = DefaultMaxAttempts
			}
			assert.GreaterOrEqual(t, got, 1)
			assert.LessOrEqual(t, got, limit)
		}
	}
	assert.Equal(t, 2, ClampAttempts(9, 0))
	assert.Equal(t, 1, ClampAttempts(0, 2))
}

func TestPickModel(t *testing.T) {
	assert.Equal(t, "fast-model", PickInitialModel(testTiers, "").Model)
	hinted := PickInitialModel(testTiers, "hint-model")
	assert.Equal(t, "hint-model", hinted.Model)
	assert.Equal(t, 0.3, hinted.Temperature)
	assert.Equal(t, "smart-model", EscalatedModel(testTiers).Model)
}

func TestEscalationBudget(t *testing.T) {
	var nilBudget *EscalationBudget
	assert.True(t, nilBudget.Remaining())
	assert.True(t, (&EscalationBudget{Used: 0, Max: 1}).Remaining())
	assert.False(t, (&EscalationBudget{Used: 1, Max: 1}).Remaining())
}

func TestDailyBudget(t *testing.T) {
	now := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	b := NewDailyBudget(2)
	b.now = func() time.Time { return now }

	assert.True(t, b.TryConsume())
	assert.True(t, b.TryConsume())
	assert.False(t, b.TryConsume())
	used, limit := b.Used()
	assert.Equal(t, 2, used)
	assert.Equal(t, 2, limit)

	now = now.Add(2 * time.Hour)
	assert.True(t, b.TryConsume())

	unlimited := NewDailyBudget(0)
	for i := 0; i < 100; i++ {
		require.True(t, unlimited.TryConsume())
	}
}

func TestRun_NotConfigured(t *testing.T) {
	r := NewRunner(RunnerConfig{Tiers: testTiers})
	res, err := r.Run(context.Background(), RunRequest{UserPrompt: "hi"})
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Nil(t, res)
}

func TestRun_ExemptTaskSingleCall(t *testing.T) {
	client := providers.NewScriptedClient(providers.MockResponse{Content: "thanks, sounds great"})
	r := newTestRunner(client)

	res, err := r.Run(context.Background(), RunRequest{
		UserPrompt: strings.Repeat("x", 120),
		Policy:     &PolicyContext{Task: TaskCommentReply},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), client.RequestCount())
	assert.Equal(t, "thanks, sounds great", res.Content)
	assert.Equal(t, 1, res.Meta.Attempts)
	assert.Equal(t, ReasonNone, res.Meta.EscalationReason)
	assert.Equal(t, "fast-model", res.Meta.Model)
	assert.True(t, res.OK())
	assert.False(t, res.Trace.StartedAt.IsZero())
	assert.False(t, res.Trace.EndedAt.IsZero())
}

func TestRun_LongInputEscalates(t *testing.T) {
	client := providers.NewMockClient()
	client.Respond = func(call int, req *providers.ChatRequest, _ []providers.Tool) providers.MockResponse {
		return providers.MockResponse{Content: fmt.Sprintf("answer from %s", req.Model)}
	}
	r := newTestRunner(client)

	res, err := r.Run(context.Background(), RunRequest{
		UserPrompt: "describe my week",
		Policy:     &PolicyContext{Task: TaskEMythRoleMap, InputLength: 1500},
	})
	require.NoError(t, err)

	reqs := client.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "fast-model", reqs[0].Model)
	assert.Equal(t, "smart-model", reqs[1].Model)
	assert.Equal(t, 2, res.Meta.Attempts)
	assert.Equal(t, ReasonLongInput, res.Meta.EscalationReason)
	assert.True(t, res.Meta.BudgetConsumed)
	assert.Equal(t, "answer from smart-model", res.Content)
	assert.Equal(t, "smart-model", res.Trace.Model)
}

func TestTextLength(t *testing.T) {
	assert.Equal(t, 0, TextLength())
	assert.Equal(t, 5, TextLength("héllo"))
	assert.Equal(t, 500, TextLength(strings.Repeat("日", 500)))
	assert.Equal(t, 4, TextLength("日本", "ab"))
}

func TestRun_InputLengthCountsCharacters(t *testing.T) {
	tests := []struct {
		name     string
		prompt   string
		attempts int
		reason   EscalationReason
	}{
		{"multibyte under threshold", strings.Repeat("日", 500), 1, ReasonNone},
		{"multibyte at threshold", strings.Repeat("é", LongInputThreshold), 1, ReasonNone},
		{"multibyte over threshold", strings.Repeat("日", LongInputThreshold+1), 2, ReasonLongInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := providers.NewScriptedClient(providers.MockResponse{Content: "ok"})
			r := newTestRunner(client)

			res, err := r.Run(context.Background(), RunRequest{
				UserPrompt: tt.prompt,
				Policy:     &PolicyContext{Task: TaskEMythRoleMap},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.attempts, res.Meta.Attempts)
			assert.Equal(t, tt.reason, res.Meta.EscalationReason)
			assert.EqualValues(t, tt.attempts, client.RequestCount())
		})
	}
}

func TestRun_MeasuredEmptyInputIsNotRemeasured(t *testing.T) {
	client := providers.NewScriptedClient(providers.MockResponse{Content: "ok"})
	r := newTestRunner(client)

	res, err := r.Run(context.Background(), RunRequest{
		UserPrompt: "Company: Acme\nContext: " + strings.Repeat("label ", 300),
		Policy:     &PolicyContext{Task: TaskCompanyOverview, InputMeasured: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Meta.Attempts)
	assert.Equal(t, ReasonNone, res.Meta.EscalationReason)
}

func TestRun_ThinSignalsCountCharacters(t *testing.T) {
	tools := NewToolSet().Add("fetch_page", "Fetch a page", json.RawMessage(`{"type":"object"}`), ToolKindFetch,
		func(ctx context.Context, args map[string]any) (string, error) {
			return `{"text":"Acme"}`, nil
		})
	// 100 characters but 300 bytes.
	client := providers.NewScriptedClient(
		providers.MockResponse{ToolCalls: []providers.ToolCall{
			providers.MockToolCall("call_1", "fetch_page", `{"url":"https://acme.test"}`),
		}},
		providers.MockResponse{Content: strings.Repeat("日", 100)},
	)
	r := newTestRunner(client)

	res, err := r.Run(context.Background(), RunRequest{
		UserPrompt: "overview of acme",
		Tools:      tools,
		Policy:     &PolicyContext{Task: TaskCompanyOverview},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Meta.Attempts)
	assert.Equal(t, ReasonThinSignals, res.Meta.EscalationReason)
}

func TestRun_AttemptsCountTiersNotModelCalls(t *testing.T) {
	tools := NewToolSet().Add("fetch_page", "Fetch a page", json.RawMessage(`{"type":"object"}`), ToolKindFetch,
		func(ctx context.Context, args map[string]any) (string, error) {
			return `{"text":"Acme"}`, nil
		})
	fetch := providers.MockResponse{ToolCalls: []providers.ToolCall{
		providers.MockToolCall("call_1", "fetch_page", `{"url":"https://acme.test"}`),
	}}
	client := providers.NewScriptedClient(
		fetch, providers.MockResponse{Content: "thin"},
		fetch, providers.MockResponse{Content: "still thin"},
	)
	r := newTestRunner(client)

	res, err := r.Run(context.Background(), RunRequest{
		UserPrompt: "overview of acme",
		Tools:      tools,
		Policy:     &PolicyContext{Task: TaskCompanyOverview},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 4, client.RequestCount())
	assert.Equal(t, DefaultMaxAttempts, res.Meta.Attempts)
	assert.Equal(t, "still thin", res.Content)
}

func TestRun_NoPolicySingleAttempt(t *testing.T) {
	client := providers.NewScriptedClient(providers.MockResponse{Content: "not json"})
	r := newTestRunner(client)

	res, err := r.Run(context.Background(), RunRequest{
		UserPrompt: "hi",
		Validate:   SchemaValidator(enrichSchema),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), client.RequestCount())
	assert.False(t, res.OK())
	assert.Contains(t, res.Meta.Error, "invalid JSON")
}

func TestRun_ValidationParsesJSON(t *testing.T) {
	client := providers.NewScriptedClient(providers.MockResponse{Content: "```json\n{\"summary\":\"ok\"}\n```"})
	r := newTestRunner(client)

	res, err := r.Run(context.Background(), RunRequest{
		UserPrompt: "hi",
		Policy:     &PolicyContext{Task: TaskOutreachDraft},
		Validate:   SchemaValidator(enrichSchema),
	})
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.JSONEq(t, `{"summary":"ok"}`, string(res.Parsed))
	assert.Equal(t, 1, res.Meta.Attempts)
}

func TestRun_SchemaFailEscalates(t *testing.T) {
	client := providers.NewScriptedClient(
		providers.MockResponse{Content: `{"other":1}`},
		providers.MockResponse{Content: `{"summary":"fixed"}`},
	)
	r := newTestRunner(client)

	res, err := r.Run(context.Background(), RunRequest{
		UserPrompt: "hi",
		Policy:     &PolicyContext{Task: TaskOutreachDraft},
		Validate:   SchemaValidator(enrichSchema),
	})
	require.NoError(t, err)
	assert.Equal(t, ReasonSchemaFail, res.Meta.EscalationReason)
	assert.Equal(t, 2, res.Meta.Attempts)
	assert.True(t, res.OK())
	assert.JSONEq(t, `{"summary":"fixed"}`, string(res.Parsed))
}

func TestRun_RequestBudgetExhausted(t *testing.T) {
	client := providers.NewMockClient()
	r := newTestRunner(client)

	budget := &EscalationBudget{Used: 1, Max: 1}
	res, err := r.Run(context.Background(), RunRequest{
		UserPrompt: "hi",
		Policy:     &PolicyContext{Task: TaskEMythRoleMap, InputLength: 5000, Budget: budget},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), client.RequestCount())
	assert.Equal(t, 1, res.Meta.Attempts)
	assert.False(t, res.Meta.BudgetConsumed)
	assert.Equal(t, 1, budget.Used)
}

func TestRun_RequestBudgetConsumed(t *testing.T) {
	client := providers.NewMockClient()
	r := newTestRunner(client)

	budget := &EscalationBudget{Used: 0, Max: 1}
	_, err := r.Run(context.Background(), RunRequest{
		UserPrompt: "hi",
		Policy:     &PolicyContext{Task: TaskEMythRoleMap, InputLength: 5000, Budget: budget},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), client.RequestCount())
	assert.Equal(t, 1, budget.Used)
}

func TestRun_DailyBudgetExhausted(t *testing.T) {
	client := providers.NewMockClient()
	daily := NewDailyBudget(1)
	r := NewRunner(RunnerConfig{Client: client, Tiers: testTiers, Budget: daily, MaxAttempts: 2})

	req := RunRequest{
		UserPrompt: "hi",
		Policy:     &PolicyContext{Task: TaskEMythRoleMap, InputLength: 5000},
	}
	first, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Meta.Attempts)

	second, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Meta.Attempts)
	assert.Equal(t, int64(3), client.RequestCount())
}

func TestRun_ToolLoop(t *testing.T) {
	var executed atomic.Int32
	tools := NewToolSet().
		Add("fetch_page", "Fetch a page", json.RawMessage(`{"type":"object"}`), ToolKindFetch,
			func(ctx context.Context, args map[string]any) (string, error) {
				executed.Add(1)
				return `{"text":"Acme builds rockets"}`, nil
			}).
		Add("web_search", "Search", json.RawMessage(`{"type":"object"}`), ToolKindSearch,
			func(ctx context.Context, args map[string]any) (string, error) {
				executed.Add(1)
				return `{"results":[]}`, nil
			})

	client := providers.NewScriptedClient(
		providers.MockResponse{ToolCalls: []providers.ToolCall{
			providers.MockToolCall("call_1", "fetch_page", `{"url":"https://acme.test"}`),
			providers.MockToolCall("call_2", "web_search", `{"query":"acme rockets"}`),
		}},
		providers.MockResponse{Content: `{"summary":"` + strings.Repeat("a", 200) + `"}`},
	)
	r := newTestRunner(client)

	res, err := r.Run(context.Background(), RunRequest{
		UserPrompt: "enrich acme",
		Tools:      tools,
		Policy:     &PolicyContext{Task: TaskLeadEnrichment},
		Validate:   SchemaValidator(enrichSchema),
	})
	require.NoError(t, err)

	assert.True(t, res.OK())
	assert.Equal(t, int32(2), executed.Load())
	assert.Equal(t, 2, res.Trace.Steps)
	assert.Equal(t, []string{"https://acme.test"}, res.Trace.URLsFetched)
	assert.Equal(t, []string{"acme rockets"}, res.Trace.SearchQueries)
	require.Len(t, res.Trace.ToolCalls, 2)
	assert.Equal(t, "fetch_page", res.Trace.ToolCalls[0].Name)
	assert.JSONEq(t, `{"url":"https://acme.test"}`, string(res.Trace.ToolCalls[0].Input))

	reqs := client.Requests()
	require.Len(t, reqs, 2)
	msgs := reqs[1].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, providers.RoleAssistant, msgs[1].Role)
	assert.Len(t, msgs[1].ToolCalls, 2)
	assert.Equal(t, providers.RoleTool, msgs[2].Role)
	assert.Equal(t, "call_1", msgs[2].ToolCallID)
	assert.Equal(t, `{"text":"Acme builds rockets"}`, msgs[2].Content)
}

func TestRun_DuplicateToolCallIDs(t *testing.T) {
	var executed atomic.Int32
	tools := NewToolSet().Add("web_search", "Search", nil, ToolKindSearch,
		func(ctx context.Context, args map[string]any) (string, error) {
			executed.Add(1)
			return "result", nil
		})

	client := providers.NewScriptedClient(
		providers.MockResponse{ToolCalls: []providers.ToolCall{
			providers.MockToolCall("dup", "web_search", `{"query":"a"}`),
			providers.MockToolCall("dup", "web_search", `{"query":"a"}`),
		}},
		providers.MockResponse{ToolCalls: []providers.ToolCall{
			providers.MockToolCall("dup", "web_search", `{"query":"a"}`),
		}},
		providers.MockResponse{Content: "done"},
	)
	r := newTestRunner(client)

	res, err := r.Run(context.Background(), RunRequest{UserPrompt: "go", Tools: tools})
	require.NoError(t, err)
	assert.Equal(t, int32(1), executed.Load())
	assert.Len(t, res.Trace.ToolCalls, 1)
	assert.Equal(t, "done", res.Content)

	// every tool_call id still gets a tool message
	last := client.Requests()[2].Messages
	toolMsgs := 0
	for _, m := range last {
		if m.Role == providers.RoleTool {
			toolMsgs++
			assert.Equal(t, "result", m.Content)
		}
	}
	assert.Equal(t, 3, toolMsgs)
}

func TestRun_FailingToolsStillComplete(t *testing.T) {
	tools := NewToolSet().
		Add("fetch_page", "Fetch", nil, ToolKindFetch,
			func(ctx context.Context, args map[string]any) (string, error) {
				return "", errors.New("connection refused")
			}).
		Add("web_search", "Search", nil, ToolKindSearch,
			func(ctx context.Context, args map[string]any) (string, error) {
				panic("search exploded")
			})

	client := providers.NewScriptedClient(
		providers.MockResponse{ToolCalls: []providers.ToolCall{
			providers.MockToolCall("a", "fetch_page", `{"url":"https://x.test"}`),
			providers.MockToolCall("b", "web_search", `{"query":"x"}`),
			providers.MockToolCall("c", "missing_tool", `{}`),
			providers.MockToolCall("d", "fetch_page", `not json`),
		}},
		providers.MockResponse{Content: "final answer"},
	)
	r := newTestRunner(client)

	res, err := r.Run(context.Background(), RunRequest{UserPrompt: "go", Tools: tools})
	require.NoError(t, err)
	assert.Equal(t, "final answer", res.Content)
	require.Len(t, res.Trace.ToolCalls, 4)
	for _, inv := range res.Trace.ToolCalls {
		assert.True(t, inv.Error, inv.Name)
		assert.Equal(t, toolFailurePayload, inv.Output)
	}
}

func TestRun_MaxStepsWithTools(t *testing.T) {
	tools := NewToolSet().Add("web_search", "Search", nil, ToolKindSearch,
		func(ctx context.Context, args map[string]any) (string, error) { return "r", nil })

	client := providers.NewMockClient()
	client.Respond = func(call int, _ *providers.ChatRequest, _ []providers.Tool) providers.MockResponse {
		return providers.MockResponse{ToolCalls: []providers.ToolCall{
			providers.MockToolCall(fmt.Sprintf("c%d", call), "web_search", `{"query":"q"}`),
		}}
	}
	r := newTestRunner(client)

	res, err := r.Run(context.Background(), RunRequest{
		UserPrompt: "go",
		Tools:      tools,
		MaxSteps:   3,
		Policy:     &PolicyContext{Task: TaskCompanyOverview},
	})
	require.NoError(t, err)

	// both attempts exhaust their steps; the escalation reason is tool-backed
	assert.Equal(t, int64(6), client.RequestCount())
	assert.Equal(t, 2, res.Meta.Attempts)
	assert.Equal(t, ReasonToolsNeededFailed, res.Meta.EscalationReason)
	assert.Contains(t, res.Meta.Error, "max steps")
	assert.Equal(t, "", res.Content)
}

func TestRun_ProviderErrorIsOutcome(t *testing.T) {
	client := providers.NewScriptedClient(
		providers.MockResponse{Err: errors.New("upstream 502")},
		providers.MockResponse{Content: "recovered"},
	)
	r := newTestRunner(client)

	res, err := r.Run(context.Background(), RunRequest{
		UserPrompt: "hi",
		Policy:     &PolicyContext{Task: TaskOutreachDraft},
	})
	require.NoError(t, err)
	assert.Equal(t, ReasonValidationFailed, res.Meta.EscalationReason)
	assert.Equal(t, "recovered", res.Content)
	assert.True(t, res.OK())
}

func TestRun_ContextCancelled(t *testing.T) {
	client := providers.NewMockClient()
	client.Latency = time.Second
	r := newTestRunner(client)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	res, err := r.Run(ctx, RunRequest{
		UserPrompt: "hi",
		Policy:     &PolicyContext{Task: TaskEMythRoleMap, InputLength: 5000},
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Meta.Attempts)
	assert.False(t, res.Trace.EndedAt.IsZero())
}

func TestRun_RecordsCallsAndRuns(t *testing.T) {
	calls := &memoryCalls{}
	runs := &memoryRuns{}
	client := providers.NewMockClient()
	r := NewRunner(RunnerConfig{
		Client:   client,
		Tiers:    testTiers,
		Recorder: llmcall.NewRecorder(calls, nil),
		Runs:     runs,
	})

	res, err := r.Run(context.Background(), RunRequest{
		UserPrompt: "hi",
		PromptKey:  "replies.comment",
		LeadID:     "lead-1",
		Policy:     &PolicyContext{Task: TaskCommentReply},
	})
	require.NoError(t, err)

	require.Len(t, calls.calls, 1)
	assert.Equal(t, res.ID, calls.calls[0].RunID)
	assert.Equal(t, "replies.comment", calls.calls[0].PromptKey)
	assert.Equal(t, "comment_reply", calls.calls[0].Task)
	assert.Equal(t, "lead-1", calls.calls[0].LeadID)

	require.Len(t, runs.runs, 1)
	run := runs.runs[0]
	assert.Equal(t, res.ID, run.ID)
	assert.Equal(t, observability.StatusCompleted, run.Status)
	assert.True(t, run.Success)
	assert.NotEmpty(t, run.Trace)
}

func TestRun_ModelHint(t *testing.T) {
	client := providers.NewMockClient()
	r := newTestRunner(client)

	_, err := r.Run(context.Background(), RunRequest{
		UserPrompt: "hi",
		ModelHint:  "hinted",
		Policy:     &PolicyContext{Task: TaskEMythRoleMap, InputLength: 5000},
	})
	require.NoError(t, err)
	reqs := client.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "hinted", reqs[0].Model)
	assert.Equal(t, "smart-model", reqs[1].Model)
}

func TestTryParseWithRepair(t *testing.T) {
	ctx := context.Background()

	t.Run("direct parse", func(t *testing.T) {
		client := providers.NewMockClient()
		res := TryParseWithRepair(ctx, client, "m", `{"summary":"x"}`, enrichSchema)
		assert.True(t, res.OK)
		assert.False(t, res.Repaired)
		assert.Equal(t, int64(0), client.RequestCount())
	})

	t.Run("repaired", func(t *testing.T) {
		client := providers.NewScriptedClient(providers.MockResponse{Content: `{"summary":"fixed"}`})
		res := TryParseWithRepair(ctx, client, "m", `{"summary": oops`, enrichSchema)
		require.True(t, res.OK, "err: %v", res.Err)
		assert.True(t, res.Repaired)
		assert.JSONEq(t, `{"summary":"fixed"}`, string(res.Value))
		assert.Equal(t, int64(1), client.RequestCount())
	})

	t.Run("repair still invalid", func(t *testing.T) {
		client := providers.NewScriptedClient(providers.MockResponse{Content: `{"nope":true}`})
		res := TryParseWithRepair(ctx, client, "m", `garbage`, enrichSchema)
		assert.False(t, res.OK)
		assert.Error(t, res.Err)
		assert.Equal(t, int64(1), client.RequestCount())
	})

	t.Run("repair call fails", func(t *testing.T) {
		client := providers.NewScriptedClient(providers.MockResponse{Err: errors.New("down")})
		res := TryParseWithRepair(ctx, client, "m", `garbage`, enrichSchema)
		assert.False(t, res.OK)
		assert.ErrorContains(t, res.Err, "repair call failed")
	})

	t.Run("nil client", func(t *testing.T) {
		res := TryParseWithRepair(ctx, nil, "", `garbage`, enrichSchema)
		assert.False(t, res.OK)
		assert.Error(t, res.Err)
	})
}

func TestRunnerRepairRecordsCall(t *testing.T) {
	calls := &memoryCalls{}
	client := providers.NewScriptedClient(providers.MockResponse{Content: `{"summary":"fixed"}`})
	r := NewRunner(RunnerConfig{Client: client, Tiers: testTiers, Recorder: llmcall.NewRecorder(calls, nil)})

	res := r.Repair(context.Background(), "broken", enrichSchema, llmcall.RecordOptions{Task: "lead_enrichment"})
	require.True(t, res.OK)
	require.Len(t, calls.calls, 1)
	assert.Equal(t, "lead_enrichment", calls.calls[0].Task)
	assert.Equal(t, "fast-model", client.Requests()[0].Model)
}

func TestTraceSummarize(t *testing.T) {
	tr := newTrace(time.Now())
	tr.addTool(ToolInvocation{Name: "x", Output: strings.Repeat("é", 300)})
	out := tr.ToolCalls[0].Output
	assert.LessOrEqual(t, len(out), maxToolOutputSummary)
	assert.True(t, strings.HasPrefix(strings.Repeat("é", 300), out))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(tr.JSON(), &decoded))
	assert.Contains(t, decoded, "tool_calls")
}

func TestToolSet(t *testing.T) {
	s := NewToolSet().
		Add("b", "second", nil, ToolKindOther, func(context.Context, map[string]any) (string, error) { return "b", nil }).
		Add("a", "first", nil, ToolKindFetch, func(context.Context, map[string]any) (string, error) { return "a", nil })

	defs := s.GetTools()
	require.Len(t, defs, 2)
	assert.Equal(t, "a", defs[0].Function.Name)
	assert.Equal(t, ToolKindFetch, s.ToolKind("a"))
	assert.Equal(t, ToolKindOther, s.ToolKind("zzz"))

	out, err := s.ExecuteTool(context.Background(), "b", nil)
	require.NoError(t, err)
	assert.Equal(t, "b", out)

	_, err = s.ExecuteTool(context.Background(), "zzz", nil)
	assert.Error(t, err)
}
