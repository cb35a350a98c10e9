package endpoints

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tanjia/internal/agent/observability"
	"github.com/jackzampolin/tanjia/internal/api"
	"github.com/jackzampolin/tanjia/internal/svcctx"
)

// AgentRunSummary is a brief summary of an agent run without its trace.
type AgentRunSummary struct {
	ID               string `json:"id"`
	Task             string `json:"task"`
	LeadID           string `json:"lead_id,omitempty"`
	StartedAt        string `json:"started_at"`
	DurationMs       int64  `json:"duration_ms"`
	Model            string `json:"model"`
	Attempts         int    `json:"attempts"`
	EscalationReason string `json:"escalation_reason,omitempty"`
	Success          bool   `json:"success"`
	Error            string `json:"error,omitempty"`
}

// AgentRunsResponse is the response for listing agent runs.
type AgentRunsResponse struct {
	Runs []AgentRunSummary `json:"runs"`
}

func summarize(run observability.AgentRun) AgentRunSummary {
	return AgentRunSummary{
		ID:               run.ID,
		Task:             run.Task,
		LeadID:           run.LeadID,
		StartedAt:        run.StartedAt.UTC().Format("2006-01-02T15:04:05Z"),
		DurationMs:       run.DurationMs,
		Model:            run.Model,
		Attempts:         run.Attempts,
		EscalationReason: run.EscalationReason,
		Success:          run.Success,
		Error:            run.Error,
	}
}

// ListAgentRunsEndpoint handles GET /api/v1/agent-runs.
type ListAgentRunsEndpoint struct{}

func (e *ListAgentRunsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/v1/agent-runs", e.handler
}

func (e *ListAgentRunsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List agent runs
//	@Description	Agent run summaries, newest first
//	@Tags			agent-runs
//	@Produce		json
//	@Param			task	query		string	false	"Filter by task"
//	@Param			lead_id	query		string	false	"Filter by lead"
//	@Param			limit	query		int		false	"Max results (default 50)"
//	@Param			offset	query		int		false	"Offset"
//	@Success		200		{object}	AgentRunsResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/v1/agent-runs [get]
func (e *ListAgentRunsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := svcctx.StoreFrom(r.Context()).ListAgentRuns(r.Context(), observability.ListFilter{
		Task:   r.URL.Query().Get("task"),
		LeadID: r.URL.Query().Get("lead_id"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeServiceError(w, r, "list agent runs", err)
		return
	}

	resp := AgentRunsResponse{Runs: make([]AgentRunSummary, 0, len(runs))}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, summarize(run))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *ListAgentRunsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var task, leadID string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if task != "" {
				params.Set("task", task)
			}
			if leadID != "" {
				params.Set("lead_id", leadID)
			}
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			}
			client := api.NewClient(getServerURL())
			var resp AgentRunsResponse
			if err := client.Get(cmd.Context(), withQuery("/api/v1/agent-runs", params), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&task, "task", "", "Filter by task (e.g. lead_enrichment)")
	cmd.Flags().StringVar(&leadID, "lead", "", "Filter by lead")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max results")
	return cmd
}

// GetAgentRunEndpoint handles GET /api/v1/agent-runs/{id}.
type GetAgentRunEndpoint struct{}

func (e *GetAgentRunEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/v1/agent-runs/{id}", e.handler
}

func (e *GetAgentRunEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get an agent run
//	@Description	Full agent run including its execution trace
//	@Tags			agent-runs
//	@Produce		json
//	@Param			id	path		string	true	"Agent run ID"
//	@Success		200	{object}	observability.AgentRun
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/v1/agent-runs/{id} [get]
func (e *GetAgentRunEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	run, err := svcctx.StoreFrom(r.Context()).GetAgentRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "get agent run", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (e *GetAgentRunEndpoint) Command(getServerURL func() string) *cobra.Command {
	var traceOnly bool
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get an agent run with its trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var run observability.AgentRun
			if err := client.Get(cmd.Context(), "/api/v1/agent-runs/"+url.PathEscape(args[0]), &run); err != nil {
				return err
			}
			if traceOnly {
				var trace any
				if err := json.Unmarshal(run.Trace, &trace); err != nil {
					return err
				}
				return api.Output(trace)
			}
			return api.Output(run)
		},
	}
	cmd.Flags().BoolVar(&traceOnly, "trace", false, "Print only the trace")
	return cmd
}
