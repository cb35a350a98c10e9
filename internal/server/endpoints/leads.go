package endpoints

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tanjia/internal/api"
	"github.com/jackzampolin/tanjia/internal/store"
	"github.com/jackzampolin/tanjia/internal/svcctx"
)

// CreateLeadRequest is the request body for creating a lead.
type CreateLeadRequest struct {
	Name    string `json:"name"`
	Company string `json:"company,omitempty"`
	Website string `json:"website,omitempty"`
	Email   string `json:"email,omitempty"`
	Source  string `json:"source,omitempty"`
	Notes   string `json:"notes,omitempty"`
	Stage   string `json:"stage,omitempty"`
}

// LeadsResponse contains a page of leads.
type LeadsResponse struct {
	Leads []store.Lead `json:"leads"`
	Total int          `json:"total"`
}

// CreateLeadEndpoint handles POST /api/v1/leads.
type CreateLeadEndpoint struct{}

func (e *CreateLeadEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/v1/leads", e.handler
}

func (e *CreateLeadEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Create a lead
//	@Description	Create a lead; stage defaults to listen
//	@Tags			leads
//	@Accept			json
//	@Produce		json
//	@Param			request	body		CreateLeadRequest	true	"Lead"
//	@Success		201		{object}	store.Lead
//	@Failure		400		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/v1/leads [post]
func (e *CreateLeadEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req CreateLeadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	lead := &store.Lead{
		Name:    req.Name,
		Company: req.Company,
		Website: req.Website,
		Email:   req.Email,
		Source:  req.Source,
		Notes:   req.Notes,
		Stage:   store.Stage(req.Stage),
	}
	if err := svcctx.StoreFrom(r.Context()).CreateLead(r.Context(), lead); err != nil {
		writeServiceError(w, r, "create lead", err)
		return
	}

	writeJSON(w, http.StatusCreated, lead)
}

func (e *CreateLeadEndpoint) Command(getServerURL func() string) *cobra.Command {
	var req CreateLeadRequest
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a lead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Name = args[0]
			client := api.NewClient(getServerURL())
			var resp store.Lead
			if err := client.Post(cmd.Context(), "/api/v1/leads", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&req.Company, "company", "", "Company name")
	cmd.Flags().StringVar(&req.Website, "website", "", "Company website")
	cmd.Flags().StringVar(&req.Email, "email", "", "Contact email")
	cmd.Flags().StringVar(&req.Source, "source", "", "Where the lead came from")
	cmd.Flags().StringVar(&req.Notes, "notes", "", "Free-form notes")
	cmd.Flags().StringVar(&req.Stage, "stage", "", "Initial stage (default listen)")
	return cmd
}

// ListLeadsEndpoint handles GET /api/v1/leads.
type ListLeadsEndpoint struct{}

func (e *ListLeadsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/v1/leads", e.handler
}

func (e *ListLeadsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List leads
//	@Description	List leads, most recently updated first
//	@Tags			leads
//	@Produce		json
//	@Param			stage	query		string	false	"Filter by stage"
//	@Param			q		query		string	false	"Search name, company and email"
//	@Param			limit	query		int		false	"Max results (default 50)"
//	@Param			offset	query		int		false	"Result offset"
//	@Success		200		{object}	LeadsResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/v1/leads [get]
func (e *ListLeadsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := store.LeadFilter{
		Search: r.URL.Query().Get("q"),
		Limit:  limit,
		Offset: offset,
	}
	if v := r.URL.Query().Get("stage"); v != "" {
		stage, err := store.ParseStage(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Stage = stage
	}

	leads, err := svcctx.StoreFrom(r.Context()).ListLeads(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, "list leads", err)
		return
	}

	writeJSON(w, http.StatusOK, LeadsResponse{Leads: leads, Total: len(leads)})
}

func (e *ListLeadsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var stage, search string
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List leads",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if stage != "" {
				params.Set("stage", stage)
			}
			if search != "" {
				params.Set("q", search)
			}
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				params.Set("offset", strconv.Itoa(offset))
			}

			client := api.NewClient(getServerURL())
			var resp LeadsResponse
			if err := client.Get(cmd.Context(), withQuery("/api/v1/leads", params), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "Filter by stage")
	cmd.Flags().StringVarP(&search, "search", "q", "", "Search text")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Result offset")
	return cmd
}

// GetLeadEndpoint handles GET /api/v1/leads/{id}.
type GetLeadEndpoint struct{}

func (e *GetLeadEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/v1/leads/{id}", e.handler
}

func (e *GetLeadEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	Get a lead
//	@Tags		leads
//	@Produce	json
//	@Param		id	path		string	true	"Lead ID"
//	@Success	200	{object}	store.Lead
//	@Failure	404	{object}	ErrorResponse
//	@Failure	500	{object}	ErrorResponse
//	@Router		/api/v1/leads/{id} [get]
func (e *GetLeadEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	lead, err := svcctx.StoreFrom(r.Context()).GetLead(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "get lead", err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (e *GetLeadEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get a lead by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp store.Lead
			if err := client.Get(cmd.Context(), "/api/v1/leads/"+url.PathEscape(args[0]), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// UpdateLeadEndpoint handles PATCH /api/v1/leads/{id}.
type UpdateLeadEndpoint struct{}

func (e *UpdateLeadEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PATCH", "/api/v1/leads/{id}", e.handler
}

func (e *UpdateLeadEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Update a lead
//	@Description	Partial update; omitted fields are unchanged
//	@Tags			leads
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Lead ID"
//	@Param			request	body		store.LeadPatch	true	"Fields to change"
//	@Success		200		{object}	store.Lead
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/v1/leads/{id} [patch]
func (e *UpdateLeadEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var patch store.LeadPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if patch.Empty() {
		writeError(w, http.StatusBadRequest, "no fields to update")
		return
	}

	lead, err := svcctx.StoreFrom(r.Context()).UpdateLead(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeServiceError(w, r, "update lead", err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (e *UpdateLeadEndpoint) Command(getServerURL func() string) *cobra.Command {
	var name, company, website, email, source, notes, stage string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a lead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch store.LeadPatch
			set := func(flag string, v *string) *string {
				if cmd.Flags().Changed(flag) {
					return v
				}
				return nil
			}
			patch.Name = set("name", &name)
			patch.Company = set("company", &company)
			patch.Website = set("website", &website)
			patch.Email = set("email", &email)
			patch.Source = set("source", &source)
			patch.Notes = set("notes", &notes)
			if cmd.Flags().Changed("stage") {
				s := store.Stage(stage)
				patch.Stage = &s
			}
			if patch.Empty() {
				return fmt.Errorf("nothing to update")
			}

			client := api.NewClient(getServerURL())
			var resp store.Lead
			if err := client.Patch(cmd.Context(), "/api/v1/leads/"+url.PathEscape(args[0]), patch, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Lead name")
	cmd.Flags().StringVar(&company, "company", "", "Company name")
	cmd.Flags().StringVar(&website, "website", "", "Company website")
	cmd.Flags().StringVar(&email, "email", "", "Contact email")
	cmd.Flags().StringVar(&source, "source", "", "Where the lead came from")
	cmd.Flags().StringVar(&notes, "notes", "", "Free-form notes")
	cmd.Flags().StringVar(&stage, "stage", "", "Workflow stage")
	return cmd
}

// DeleteLeadEndpoint handles DELETE /api/v1/leads/{id}.
type DeleteLeadEndpoint struct{}

func (e *DeleteLeadEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/v1/leads/{id}", e.handler
}

func (e *DeleteLeadEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Delete a lead
//	@Description	Deletes the lead and its snapshots, drafts and follow-ups
//	@Tags			leads
//	@Param			id	path	string	true	"Lead ID"
//	@Success		204
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/v1/leads/{id} [delete]
func (e *DeleteLeadEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	if err := svcctx.StoreFrom(r.Context()).DeleteLead(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, r, "delete lead", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *DeleteLeadEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a lead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			if err := client.Delete(cmd.Context(), "/api/v1/leads/"+url.PathEscape(args[0])); err != nil {
				return err
			}
			fmt.Printf("Deleted lead %s\n", args[0])
			return nil
		},
	}
}

// AdvanceLeadEndpoint handles POST /api/v1/leads/{id}/advance.
type AdvanceLeadEndpoint struct{}

func (e *AdvanceLeadEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/v1/leads/{id}/advance", e.handler
}

func (e *AdvanceLeadEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Advance a lead
//	@Description	Move the lead to the next workflow stage; support is terminal
//	@Tags			leads
//	@Produce		json
//	@Param			id	path		string	true	"Lead ID"
//	@Success		200	{object}	store.Lead
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/v1/leads/{id}/advance [post]
func (e *AdvanceLeadEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	lead, err := svcctx.StoreFrom(r.Context()).AdvanceLead(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "advance lead", err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (e *AdvanceLeadEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "advance <id>",
		Short: "Move a lead to its next stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp store.Lead
			if err := client.Post(cmd.Context(), "/api/v1/leads/"+url.PathEscape(args[0])+"/advance", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
