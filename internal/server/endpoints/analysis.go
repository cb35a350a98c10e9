package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tanjia/internal/agents"
	"github.com/jackzampolin/tanjia/internal/agents/emyth"
	"github.com/jackzampolin/tanjia/internal/agents/overview"
	"github.com/jackzampolin/tanjia/internal/api"
	"github.com/jackzampolin/tanjia/internal/svcctx"
)

// OverviewResponse is a structured company overview.
type OverviewResponse = agents.Output[overview.Result]

// RoleMapResponse is an E-Myth role map.
type RoleMapResponse = agents.Output[emyth.Result]

// CompanyOverviewEndpoint handles POST /api/v1/companies/overview.
type CompanyOverviewEndpoint struct{}

func (e *CompanyOverviewEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/v1/companies/overview", e.handler
}

func (e *CompanyOverviewEndpoint) RequiresInit() bool { return true }
func (e *CompanyOverviewEndpoint) Throttled() bool    { return true }

// handler godoc
//
//	@Summary		Company overview
//	@Description	Research a company with web tools and return a structured overview
//	@Tags			agents
//	@Accept			json
//	@Produce		json
//	@Param			request	body		agents.OverviewInput	true	"Company"
//	@Success		200		{object}	OverviewResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		429		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/v1/companies/overview [post]
func (e *CompanyOverviewEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var in agents.OverviewInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := svcctx.AgentsFrom(r.Context()).CompanyOverview(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, "company overview", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (e *CompanyOverviewEndpoint) Command(getServerURL func() string) *cobra.Command {
	var in agents.OverviewInput
	cmd := &cobra.Command{
		Use:   "overview <company>",
		Short: "Research a company",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Company = args[0]
			client := api.NewClient(getServerURL())
			var resp OverviewResponse
			if err := client.Post(cmd.Context(), "/api/v1/companies/overview", in, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&in.Website, "website", "", "Company website")
	cmd.Flags().StringVar(&in.Context, "context", "", "Why you are looking")
	cmd.Flags().StringVar(&in.LeadID, "lead", "", "Related lead")
	addOptionFlags(cmd, &in.Options)
	return cmd
}

// RoleMapEndpoint handles POST /api/v1/emyth/role-map.
type RoleMapEndpoint struct{}

func (e *RoleMapEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/v1/emyth/role-map", e.handler
}

func (e *RoleMapEndpoint) RequiresInit() bool { return true }
func (e *RoleMapEndpoint) Throttled() bool    { return true }

// handler godoc
//
//	@Summary		E-Myth role map
//	@Description	Split an owner's described work across entrepreneur, manager and technician roles
//	@Tags			agents
//	@Accept			json
//	@Produce		json
//	@Param			request	body		agents.RoleMapInput	true	"Work description"
//	@Success		200		{object}	RoleMapResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		429		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/v1/emyth/role-map [post]
func (e *RoleMapEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var in agents.RoleMapInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := svcctx.AgentsFrom(r.Context()).RoleMap(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, "role map", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (e *RoleMapEndpoint) Command(getServerURL func() string) *cobra.Command {
	var in agents.RoleMapInput
	cmd := &cobra.Command{
		Use:   "role-map <description>",
		Short: "Map an owner's work onto E-Myth roles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Description = args[0]
			client := api.NewClient(getServerURL())
			var resp RoleMapResponse
			if err := client.Post(cmd.Context(), "/api/v1/emyth/role-map", in, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&in.Business, "business", "", "Business name")
	cmd.Flags().StringVar(&in.Goals, "goals", "", "Owner's goals")
	cmd.Flags().StringVar(&in.LeadID, "lead", "", "Related lead")
	addOptionFlags(cmd, &in.Options)
	return cmd
}
