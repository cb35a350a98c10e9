package endpoints

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tanjia/internal/api"
	"github.com/jackzampolin/tanjia/internal/llmcall"
	"github.com/jackzampolin/tanjia/internal/svcctx"
)

// LLMCallsResponse contains a list of LLM calls.
type LLMCallsResponse struct {
	Calls []llmcall.Call `json:"calls"`
	Total int            `json:"total"`
}

// LLMCallCountsResponse contains prompt key counts.
type LLMCallCountsResponse struct {
	Counts map[string]int `json:"counts"`
}

// ListLLMCallsEndpoint handles GET /api/v1/llmcalls.
type ListLLMCallsEndpoint struct{}

func (e *ListLLMCallsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/v1/llmcalls", e.handler
}

func (e *ListLLMCallsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List LLM calls
//	@Description	Get LLM call history with optional filters, newest first
//	@Tags			llmcalls
//	@Produce		json
//	@Param			lead_id		query		string	false	"Filter by lead ID"
//	@Param			run_id		query		string	false	"Filter by agent run ID"
//	@Param			prompt_key	query		string	false	"Filter by prompt key"
//	@Param			provider	query		string	false	"Filter by provider"
//	@Param			model		query		string	false	"Filter by model"
//	@Param			success		query		bool	false	"Filter by success status (true or false)"
//	@Param			limit		query		int		false	"Max results (default 50)"
//	@Param			offset		query		int		false	"Result offset"
//	@Param			after		query		string	false	"Filter calls after this RFC3339 timestamp"
//	@Param			before		query		string	false	"Filter calls before this RFC3339 timestamp"
//	@Success		200			{object}	LLMCallsResponse
//	@Failure		400			{object}	ErrorResponse
//	@Failure		500			{object}	ErrorResponse
//	@Router			/api/v1/llmcalls [get]
func (e *ListLLMCallsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	calls := svcctx.LLMCallStoreFrom(r.Context())
	if calls == nil {
		writeError(w, http.StatusInternalServerError, "LLM call store not available")
		return
	}

	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	filter := llmcall.QueryFilter{
		LeadID:    q.Get("lead_id"),
		RunID:     q.Get("run_id"),
		PromptKey: q.Get("prompt_key"),
		Provider:  q.Get("provider"),
		Model:     q.Get("model"),
		Limit:     limit,
		Offset:    offset,
	}

	if v := q.Get("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid success filter: %q must be true or false", v))
			return
		}
		filter.Success = &b
	}
	if filter.After, err = timeParam(q, "after"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.Before, err = timeParam(q, "before"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := calls.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, "list llm calls", err)
		return
	}

	writeJSON(w, http.StatusOK, LLMCallsResponse{
		Calls: list,
		Total: len(list),
	})
}

// timeParam parses an optional RFC 3339 query parameter.
func timeParam(q url.Values, name string) (*time.Time, error) {
	v := q.Get(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s time: %q must be RFC3339 format (e.g., 2024-01-15T00:00:00Z)", name, v)
	}
	return &t, nil
}

func (e *ListLLMCallsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var leadID, runID, promptKey, provider, model, since string
	var limit, offset int
	var successOnly, failedOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List LLM calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			if successOnly && failedOnly {
				return fmt.Errorf("--success and --failed are mutually exclusive")
			}
			params := url.Values{}
			for k, v := range map[string]string{
				"lead_id":    leadID,
				"run_id":     runID,
				"prompt_key": promptKey,
				"provider":   provider,
				"model":      model,
			} {
				if v != "" {
					params.Set(k, v)
				}
			}
			if since != "" {
				d, err := time.ParseDuration(since)
				if err != nil {
					return fmt.Errorf("invalid --since: %w", err)
				}
				params.Set("after", time.Now().Add(-d).UTC().Format(time.RFC3339))
			}
			if successOnly {
				params.Set("success", "true")
			}
			if failedOnly {
				params.Set("success", "false")
			}
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				params.Set("offset", strconv.Itoa(offset))
			}

			client := api.NewClient(getServerURL())
			var resp LLMCallsResponse
			if err := client.Get(cmd.Context(), withQuery("/api/v1/llmcalls", params), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&leadID, "lead", "", "Filter by lead ID")
	cmd.Flags().StringVar(&runID, "run", "", "Filter by agent run ID")
	cmd.Flags().StringVar(&promptKey, "prompt-key", "", "Filter by prompt key")
	cmd.Flags().StringVar(&provider, "provider", "", "Filter by provider")
	cmd.Flags().StringVar(&model, "model", "", "Filter by model")
	cmd.Flags().StringVar(&since, "since", "", "Only calls newer than this duration (e.g. 1h)")
	cmd.Flags().BoolVar(&successOnly, "success", false, "Only show successful calls")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Only show failed calls")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Result offset")
	return cmd
}

// GetLLMCallEndpoint handles GET /api/v1/llmcalls/{id}.
type GetLLMCallEndpoint struct{}

func (e *GetLLMCallEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/v1/llmcalls/{id}", e.handler
}

func (e *GetLLMCallEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get an LLM call
//	@Description	Get a single LLM call by ID
//	@Tags			llmcalls
//	@Produce		json
//	@Param			id	path		string	true	"LLM call ID"
//	@Success		200	{object}	llmcall.Call
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/v1/llmcalls/{id} [get]
func (e *GetLLMCallEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	calls := svcctx.LLMCallStoreFrom(r.Context())
	if calls == nil {
		writeError(w, http.StatusInternalServerError, "LLM call store not available")
		return
	}

	call, err := calls.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "get llm call", err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

func (e *GetLLMCallEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get an LLM call by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp llmcall.Call
			if err := client.Get(cmd.Context(), "/api/v1/llmcalls/"+url.PathEscape(args[0]), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// LLMCallCountsEndpoint handles GET /api/v1/leads/{id}/llmcalls/counts.
type LLMCallCountsEndpoint struct{}

func (e *LLMCallCountsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/v1/leads/{id}/llmcalls/counts", e.handler
}

func (e *LLMCallCountsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get LLM call counts by prompt key
//	@Description	Count of LLM calls grouped by prompt key for a lead
//	@Tags			llmcalls
//	@Produce		json
//	@Param			id	path		string	true	"Lead ID"
//	@Success		200	{object}	LLMCallCountsResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/v1/leads/{id}/llmcalls/counts [get]
func (e *LLMCallCountsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	calls := svcctx.LLMCallStoreFrom(r.Context())
	if calls == nil {
		writeError(w, http.StatusInternalServerError, "LLM call store not available")
		return
	}

	counts, err := calls.CountByPromptKey(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "count llm calls", err)
		return
	}
	writeJSON(w, http.StatusOK, LLMCallCountsResponse{Counts: counts})
}

func (e *LLMCallCountsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "counts <lead-id>",
		Short: "Get LLM call counts by prompt key for a lead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp LLMCallCountsResponse
			if err := client.Get(cmd.Context(), "/api/v1/leads/"+url.PathEscape(args[0])+"/llmcalls/counts", &resp); err != nil {
				return err
			}
			return api.Output(resp.Counts)
		},
	}
}
