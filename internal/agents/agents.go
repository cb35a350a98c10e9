// Package agents wires the task agents (lead enrichment, replies, outreach,
// company overview, E-Myth role map) onto the shared agent runner and the
// prompt resolver.
package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackzampolin/tanjia/internal/agent"
	"github.com/jackzampolin/tanjia/internal/agents/emyth"
	"github.com/jackzampolin/tanjia/internal/agents/enrichment"
	"github.com/jackzampolin/tanjia/internal/agents/outreach"
	"github.com/jackzampolin/tanjia/internal/agents/overview"
	"github.com/jackzampolin/tanjia/internal/agents/replies"
	"github.com/jackzampolin/tanjia/internal/agents/webtools"
	"github.com/jackzampolin/tanjia/internal/llmcall"
	"github.com/jackzampolin/tanjia/internal/prompts"
	"github.com/jackzampolin/tanjia/internal/providers"
	"github.com/jackzampolin/tanjia/internal/store"
)

var (
	// ErrInvalidInput marks a request the caller must fix.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAgentFailed marks a run that produced no usable output.
	ErrAgentFailed = errors.New("agent produced no usable output")
)

// DefaultMaxEscalations caps escalations per request.
const DefaultMaxEscalations = 1

// Store is the persistence the agents need.
type Store interface {
	GetLead(ctx context.Context, id string) (*store.Lead, error)
	CreateSnapshot(ctx context.Context, s *store.Snapshot) error
	ListSnapshots(ctx context.Context, leadID string, limit int) ([]store.Snapshot, error)
	CreateDraft(ctx context.Context, d *store.Draft) error
}

// Config configures a Service.
type Config struct {
	Runner  *agent.Runner
	Prompts *prompts.Resolver
	Store   Store

	Fetcher  *webtools.Fetcher
	Searcher *webtools.Searcher

	// MaxEscalations caps escalations per request (default 1)
	MaxEscalations int

	Logger *slog.Logger
}

// Service runs the task agents.
type Service struct {
	runner         *agent.Runner
	prompts        *prompts.Resolver
	store          Store
	fetcher        *webtools.Fetcher
	searcher       *webtools.Searcher
	maxEscalations int
	logger         *slog.Logger
}

// New creates a Service. Missing fetcher and searcher get defaults; the
// default searcher is unconfigured, so only fetch_page is offered.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prompts == nil {
		cfg.Prompts = prompts.NewResolver(nil, logger)
		RegisterPrompts(cfg.Prompts)
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = webtools.NewFetcher(webtools.FetcherConfig{Logger: logger})
	}
	if cfg.Searcher == nil {
		cfg.Searcher = webtools.NewSearcher(webtools.SearcherConfig{Logger: logger})
	}
	if cfg.MaxEscalations <= 0 {
		cfg.MaxEscalations = DefaultMaxEscalations
	}
	return &Service{
		runner:         cfg.Runner,
		prompts:        cfg.Prompts,
		store:          cfg.Store,
		fetcher:        cfg.Fetcher,
		searcher:       cfg.Searcher,
		maxEscalations: cfg.MaxEscalations,
		logger:         logger,
	}
}

// RegisterPrompts registers every agent prompt with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	enrichment.RegisterPrompts(r)
	replies.RegisterPrompts(r)
	outreach.RegisterPrompts(r)
	overview.RegisterPrompts(r)
	emyth.RegisterPrompts(r)
}

// Configured reports whether the runner has an LLM client.
func (s *Service) Configured() bool {
	return s.runner.Configured()
}

// Output is the common shape of every agent response.
type Output[T any] struct {
	Result T             `json:"result"`
	RunID  string        `json:"run_id"`
	Meta   agent.RunMeta `json:"meta"`
	Trace  *agent.Trace  `json:"trace"`
}

// Options are the per-request knobs every task accepts.
type Options struct {
	// ModelHint replaces the default model on the first attempt.
	ModelHint string `json:"model_hint,omitempty"`

	// Deep asks analysis tasks for the stronger model.
	Deep bool `json:"deep,omitempty"`
}

type task struct {
	name      agent.TaskName
	systemKey string
	userKey   string
	data      any
	tools     agent.Tools
	schema    json.RawMessage
	leadID    string
	opts      Options

	// inputLength is the character count of the caller's own text, for the
	// policy. It is always passed as measured, so zero means empty input.
	inputLength int
}

func (s *Service) run(ctx context.Context, t task) (*agent.RunResult, error) {
	system, err := s.prompts.Resolve(ctx, t.systemKey)
	if err != nil {
		return nil, err
	}
	user, _, err := s.prompts.ResolveAndRender(ctx, t.userKey, t.data)
	if err != nil {
		return nil, err
	}

	req := agent.RunRequest{
		Task:         t.name,
		SystemPrompt: system.Text,
		UserPrompt:   user,
		Tools:        t.tools,
		ModelHint:    t.opts.ModelHint,
		Policy: &agent.PolicyContext{
			Task:           t.name,
			InputLength:    t.inputLength,
			InputMeasured:  true,
			UserText:       user,
			Budget:         &agent.EscalationBudget{Max: s.maxEscalations},
			ComplexityHint: t.opts.Deep,
		},
		PromptKey: system.Key,
		PromptCID: system.CID,
		LeadID:    t.leadID,
	}
	if t.schema != nil {
		req.Validate = agent.SchemaValidator(t.schema)
		// Structured output and tool calls do not mix well across
		// providers; tool tasks rely on the prompt and validation.
		if t.tools == nil {
			req.ResponseFormat = providers.JSONSchemaFormat(string(t.name), t.schema)
		}
	}

	res, err := s.runner.Run(ctx, req)
	if err != nil {
		return nil, err
	}

	if t.schema != nil && !res.OK() && res.Content != "" {
		pr := s.runner.Repair(ctx, res.Content, t.schema, llmcall.RecordOptions{
			LeadID:    t.leadID,
			RunID:     res.ID,
			Task:      string(t.name),
			PromptKey: system.Key,
			PromptCID: system.CID,
		})
		if pr.OK {
			res.Parsed = pr.Value
			res.Meta.Repaired = true
			res.Meta.Error = ""
			s.logger.Info("agent output repaired", "task", t.name, "run_id", res.ID)
		}
	}

	if !res.OK() {
		s.logger.Warn("agent run failed", "task", t.name, "run_id", res.ID,
			"attempts", res.Meta.Attempts, "error", res.Meta.Error)
		return res, fmt.Errorf("%w: %s", ErrAgentFailed, res.Meta.Error)
	}
	return res, nil
}

// decode fills an Output from a successful structured run.
func decode[T any](res *agent.RunResult) (*Output[T], error) {
	out := &Output[T]{RunID: res.ID, Meta: res.Meta, Trace: res.Trace}
	if err := json.Unmarshal(res.Parsed, &out.Result); err != nil {
		return nil, fmt.Errorf("%w: decode output: %v", ErrAgentFailed, err)
	}
	return out, nil
}

func (s *Service) researchTools() agent.Tools {
	return webtools.Tools(s.fetcher, s.searcher)
}
