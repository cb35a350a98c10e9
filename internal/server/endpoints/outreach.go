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

// DraftOutreachEndpoint handles POST /api/v1/leads/{id}/outreach.
type DraftOutreachEndpoint struct{}

func (e *DraftOutreachEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/v1/leads/{id}/outreach", e.handler
}

func (e *DraftOutreachEndpoint) RequiresInit() bool { return true }
func (e *DraftOutreachEndpoint) Throttled() bool    { return true }

// handler godoc
//
//	@Summary		Draft outreach
//	@Description	Write a first-touch message for a lead and store it as a draft
//	@Tags			agents
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string					true	"Lead ID"
//	@Param			request	body		agents.OutreachInput	false	"Channel and goal"
//	@Success		200		{object}	agents.OutreachDraft
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		429		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/v1/leads/{id}/outreach [post]
func (e *DraftOutreachEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var in agents.OutreachInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := svcctx.AgentsFrom(r.Context()).DraftOutreach(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeServiceError(w, r, "outreach draft", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (e *DraftOutreachEndpoint) Command(getServerURL func() string) *cobra.Command {
	var in agents.OutreachInput
	cmd := &cobra.Command{
		Use:   "outreach <lead-id>",
		Short: "Draft an outreach message for a lead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp agents.OutreachDraft
			if err := client.Post(cmd.Context(), "/api/v1/leads/"+url.PathEscape(args[0])+"/outreach", in, &resp); err != nil {
				return err
			}
			return api.OutputText(resp.Result, resp)
		},
	}
	cmd.Flags().StringVar(&in.Channel, "channel", "", "email, linkedin, dm (default email)")
	cmd.Flags().StringVar(&in.Goal, "goal", "", "What the message should achieve")
	addOptionFlags(cmd, &in.Options)
	return cmd
}

// DraftsResponse lists a lead's drafts.
type DraftsResponse struct {
	Drafts []store.Draft `json:"drafts"`
}

// ListDraftsEndpoint handles GET /api/v1/leads/{id}/drafts.
type ListDraftsEndpoint struct{}

func (e *ListDraftsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/v1/leads/{id}/drafts", e.handler
}

func (e *ListDraftsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	List lead drafts
//	@Tags		leads
//	@Produce	json
//	@Param		id		path		string	true	"Lead ID"
//	@Param		limit	query		int		false	"Max results (default 50)"
//	@Success	200		{object}	DraftsResponse
//	@Failure	400		{object}	ErrorResponse
//	@Failure	404		{object}	ErrorResponse
//	@Failure	500		{object}	ErrorResponse
//	@Router		/api/v1/leads/{id}/drafts [get]
func (e *ListDraftsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	limit, _, err := pageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st := svcctx.StoreFrom(r.Context())
	id := r.PathValue("id")
	if _, err := st.GetLead(r.Context(), id); err != nil {
		writeServiceError(w, r, "list drafts", err)
		return
	}
	drafts, err := st.ListDrafts(r.Context(), id, limit)
	if err != nil {
		writeServiceError(w, r, "list drafts", err)
		return
	}
	writeJSON(w, http.StatusOK, DraftsResponse{Drafts: drafts})
}

func (e *ListDraftsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "drafts <lead-id>",
		Short: "List a lead's drafts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			}
			client := api.NewClient(getServerURL())
			var resp DraftsResponse
			path := withQuery("/api/v1/leads/"+url.PathEscape(args[0])+"/drafts", params)
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Max results")
	return cmd
}
