package endpoints

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tanjia/internal/api"
	"github.com/jackzampolin/tanjia/internal/followup"
	"github.com/jackzampolin/tanjia/internal/store"
	"github.com/jackzampolin/tanjia/internal/svcctx"
)

// CreateFollowUpRequest is the request body for scheduling a follow-up.
type CreateFollowUpRequest struct {
	DueAt string `json:"due_at"` // RFC 3339
	Note  string `json:"note,omitempty"`
}

// FollowUpsResponse lists follow-ups.
type FollowUpsResponse struct {
	FollowUps []store.FollowUp `json:"followups"`
}

// CreateFollowUpEndpoint handles POST /api/v1/leads/{id}/followups.
type CreateFollowUpEndpoint struct{}

func (e *CreateFollowUpEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/v1/leads/{id}/followups", e.handler
}

func (e *CreateFollowUpEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	Schedule a follow-up
//	@Tags		followups
//	@Accept		json
//	@Produce	json
//	@Param		id		path		string					true	"Lead ID"
//	@Param		request	body		CreateFollowUpRequest	true	"Due time and note"
//	@Success	201		{object}	store.FollowUp
//	@Failure	400		{object}	ErrorResponse
//	@Failure	404		{object}	ErrorResponse
//	@Failure	500		{object}	ErrorResponse
//	@Router		/api/v1/leads/{id}/followups [post]
func (e *CreateFollowUpEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req CreateFollowUpRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.DueAt == "" {
		writeError(w, http.StatusBadRequest, "due_at is required")
		return
	}
	due, err := time.Parse(time.RFC3339, req.DueAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid due_at: %q is not RFC 3339", req.DueAt))
		return
	}
	f, err := svcctx.FollowUpsFrom(r.Context()).Create(r.Context(), r.PathValue("id"), due, req.Note)
	if err != nil {
		writeServiceError(w, r, "create follow-up", err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (e *CreateFollowUpEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		in   string
		note string
	)
	cmd := &cobra.Command{
		Use:   "followup <lead-id>",
		Short: "Schedule a follow-up for a lead",
		Long: `Schedule a follow-up for a lead.

--in takes a duration from now (e.g. 48h); --at takes an RFC 3339 time.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, _ := cmd.Flags().GetString("at")
			if at == "" {
				d, err := time.ParseDuration(in)
				if err != nil {
					return fmt.Errorf("invalid --in: %w", err)
				}
				at = time.Now().Add(d).UTC().Format(time.RFC3339)
			}
			client := api.NewClient(getServerURL())
			var resp store.FollowUp
			req := CreateFollowUpRequest{DueAt: at, Note: note}
			if err := client.Post(cmd.Context(), "/api/v1/leads/"+url.PathEscape(args[0])+"/followups", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().String("at", "", "Due time (RFC 3339)")
	cmd.Flags().StringVar(&in, "in", "24h", "Due after this duration")
	cmd.Flags().StringVar(&note, "note", "", "What to follow up on")
	return cmd
}

// ListFollowUpsEndpoint handles GET /api/v1/followups.
type ListFollowUpsEndpoint struct{}

func (e *ListFollowUpsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/v1/followups", e.handler
}

func (e *ListFollowUpsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List follow-ups
//	@Description	Open follow-ups, soonest first
//	@Tags			followups
//	@Produce		json
//	@Param			lead_id	query		string	false	"Filter by lead"
//	@Param			due		query		bool	false	"Only follow-ups already due"
//	@Param			limit	query		int		false	"Max results (default 50)"
//	@Param			offset	query		int		false	"Offset"
//	@Success		200		{object}	FollowUpsResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/v1/followups [get]
func (e *ListFollowUpsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := followup.ListOptions{
		LeadID: r.URL.Query().Get("lead_id"),
		Limit:  limit,
		Offset: offset,
	}
	if v := r.URL.Query().Get("due"); v != "" {
		if opts.DueOnly, err = strconv.ParseBool(v); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid due: %q must be a boolean", v))
			return
		}
	}
	list, err := svcctx.FollowUpsFrom(r.Context()).List(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, "list follow-ups", err)
		return
	}
	writeJSON(w, http.StatusOK, FollowUpsResponse{FollowUps: list})
}

func (e *ListFollowUpsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		leadID string
		due    bool
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List open follow-ups",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if leadID != "" {
				params.Set("lead_id", leadID)
			}
			if due {
				params.Set("due", "true")
			}
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			}
			client := api.NewClient(getServerURL())
			var resp FollowUpsResponse
			if err := client.Get(cmd.Context(), withQuery("/api/v1/followups", params), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&leadID, "lead", "", "Filter by lead")
	cmd.Flags().BoolVar(&due, "due", false, "Only follow-ups already due")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max results")
	return cmd
}

// CompleteFollowUpEndpoint handles POST /api/v1/followups/{id}/complete.
type CompleteFollowUpEndpoint struct{}

func (e *CompleteFollowUpEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/v1/followups/{id}/complete", e.handler
}

func (e *CompleteFollowUpEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	Complete a follow-up
//	@Tags		followups
//	@Produce	json
//	@Param		id	path		string	true	"Follow-up ID"
//	@Success	200	{object}	store.FollowUp
//	@Failure	404	{object}	ErrorResponse
//	@Failure	500	{object}	ErrorResponse
//	@Router		/api/v1/followups/{id}/complete [post]
func (e *CompleteFollowUpEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	f, err := svcctx.FollowUpsFrom(r.Context()).Complete(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "complete follow-up", err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (e *CompleteFollowUpEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <followup-id>",
		Short: "Mark a follow-up done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp store.FollowUp
			if err := client.Post(cmd.Context(), "/api/v1/followups/"+url.PathEscape(args[0])+"/complete", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
