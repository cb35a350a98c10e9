package endpoints

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tanjia/internal/agents"
	"github.com/jackzampolin/tanjia/internal/api"
	"github.com/jackzampolin/tanjia/internal/store"
	"github.com/jackzampolin/tanjia/internal/svcctx"
)

// EnrichLeadEndpoint handles POST /api/v1/leads/{id}/enrich.
type EnrichLeadEndpoint struct{}

func (e *EnrichLeadEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/v1/leads/{id}/enrich", e.handler
}

func (e *EnrichLeadEndpoint) RequiresInit() bool { return true }
func (e *EnrichLeadEndpoint) Throttled() bool    { return true }

// handler godoc
//
//	@Summary		Enrich a lead
//	@Description	Research the lead's website with web tools and store the result as a snapshot
//	@Tags			agents
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Lead ID"
//	@Param			request	body		agents.EnrichInput	false	"Options"
//	@Success		200		{object}	agents.Enrichment
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		429		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/v1/leads/{id}/enrich [post]
func (e *EnrichLeadEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var in agents.EnrichInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := svcctx.AgentsFrom(r.Context()).EnrichLead(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeServiceError(w, r, "lead enrichment", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (e *EnrichLeadEndpoint) Command(getServerURL func() string) *cobra.Command {
	var in agents.EnrichInput
	cmd := &cobra.Command{
		Use:   "enrich <lead-id>",
		Short: "Research a lead and save a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp agents.Enrichment
			if err := client.Post(cmd.Context(), "/api/v1/leads/"+url.PathEscape(args[0])+"/enrich", in, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&in.Focus, "focus", "", "What to look for")
	addOptionFlags(cmd, &in.Options)
	return cmd
}

// SnapshotsResponse lists a lead's snapshots.
type SnapshotsResponse struct {
	Snapshots []store.Snapshot `json:"snapshots"`
}

// ListSnapshotsEndpoint handles GET /api/v1/leads/{id}/snapshots.
type ListSnapshotsEndpoint struct{}

func (e *ListSnapshotsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/v1/leads/{id}/snapshots", e.handler
}

func (e *ListSnapshotsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	List lead snapshots
//	@Tags		leads
//	@Produce	json
//	@Param		id		path		string	true	"Lead ID"
//	@Param		limit	query		int		false	"Max results (default 50)"
//	@Success	200		{object}	SnapshotsResponse
//	@Failure	400		{object}	ErrorResponse
//	@Failure	404		{object}	ErrorResponse
//	@Failure	500		{object}	ErrorResponse
//	@Router		/api/v1/leads/{id}/snapshots [get]
func (e *ListSnapshotsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	limit, _, err := pageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st := svcctx.StoreFrom(r.Context())
	id := r.PathValue("id")
	if _, err := st.GetLead(r.Context(), id); err != nil {
		writeServiceError(w, r, "list snapshots", err)
		return
	}
	snaps, err := st.ListSnapshots(r.Context(), id, limit)
	if err != nil {
		writeServiceError(w, r, "list snapshots", err)
		return
	}
	writeJSON(w, http.StatusOK, SnapshotsResponse{Snapshots: snaps})
}

func (e *ListSnapshotsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "snapshots <lead-id>",
		Short: "List a lead's research snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			}
			client := api.NewClient(getServerURL())
			var resp SnapshotsResponse
			path := withQuery("/api/v1/leads/"+url.PathEscape(args[0])+"/snapshots", params)
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Max results")
	return cmd
}

// addOptionFlags binds the shared agent options to a command.
func addOptionFlags(cmd *cobra.Command, opts *agents.Options) {
	cmd.Flags().StringVar(&opts.ModelHint, "model", "", "Model for the first attempt")
	cmd.Flags().BoolVar(&opts.Deep, "deep", false, "Use the stronger model for analysis")
}
