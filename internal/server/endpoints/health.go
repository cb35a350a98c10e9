package endpoints

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tanjia/internal/api"
	"github.com/jackzampolin/tanjia/internal/localdb"
	"github.com/jackzampolin/tanjia/internal/svcctx"
)

// HealthResponse is the response for health check endpoints.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

// HealthEndpoint handles GET /health.
type HealthEndpoint struct{}

func (e *HealthEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/health", e.handler
}

func (e *HealthEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary	Liveness check
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	HealthResponse
//	@Router		/health [get]
func (e *HealthEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (e *HealthEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/health", &resp); err != nil {
				return err
			}
			fmt.Printf("Status: %s\n", resp.Status)
			return nil
		},
	}
}

// ReadyEndpoint handles GET /ready.
type ReadyEndpoint struct{}

func (e *ReadyEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/ready", e.handler
}

func (e *ReadyEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary	Readiness check
//	@Description	Reports whether the store is reachable
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	HealthResponse
//	@Failure	503	{object}	HealthResponse
//	@Router		/ready [get]
func (e *ReadyEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Database: "ok"}

	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		resp.Status = "degraded"
		resp.Database = "not_initialized"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	if err := st.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Database = "unhealthy"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *ReadyEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "Check server readiness (includes the database)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/ready", &resp); err != nil {
				return err
			}
			fmt.Printf("Status:   %s\n", resp.Status)
			if resp.Database != "" {
				fmt.Printf("Database: %s\n", resp.Database)
			}
			return nil
		},
	}
}

// StatusResponse is the detailed status response.
type StatusResponse struct {
	Server    string          `json:"server"`
	Providers ProvidersStatus `json:"providers"`
	Database  DatabaseStatus  `json:"database"`
	FollowUps string          `json:"followups,omitempty"`
}

// ProvidersStatus shows registered LLM providers.
type ProvidersStatus struct {
	LLM        []string `json:"llm"`
	Default    string   `json:"default,omitempty"`
	Configured bool     `json:"configured"`
}

// DatabaseStatus shows the local container and store health.
type DatabaseStatus struct {
	Container string `json:"container"`
	Health    string `json:"health"`
}

// Container reports on the local database container.
type Container interface {
	Status(ctx context.Context) (localdb.ContainerStatus, error)
}

// StatusEndpoint handles GET /status.
type StatusEndpoint struct {
	// Container is nil when the database is not managed locally.
	Container Container

	// NextSweep reports the next follow-up sweep, if scheduled.
	NextSweep func() string
}

func (e *StatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/status", e.handler
}

func (e *StatusEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary	Server status
//	@Description	Providers, database and scheduler state
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	StatusResponse
//	@Router		/status [get]
func (e *StatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := StatusResponse{
		Server: "running",
	}

	if registry := svcctx.RegistryFrom(ctx); registry != nil {
		resp.Providers.LLM = registry.ListLLM()
		if c, err := registry.Default(); err == nil {
			resp.Providers.Default = c.Name()
		}
	}
	if a := svcctx.AgentsFrom(ctx); a != nil {
		resp.Providers.Configured = a.Configured()
	}

	if e.Container != nil {
		status, err := e.Container.Status(ctx)
		if err != nil {
			resp.Database.Container = "error"
		} else {
			resp.Database.Container = string(status)
		}
	} else {
		resp.Database.Container = "external"
	}

	if st := svcctx.StoreFrom(ctx); st != nil {
		if err := st.Ping(ctx); err != nil {
			resp.Database.Health = "unhealthy"
		} else {
			resp.Database.Health = "healthy"
		}
	} else {
		resp.Database.Health = "not_initialized"
	}

	if e.NextSweep != nil {
		resp.FollowUps = e.NextSweep()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *StatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Get detailed server status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp StatusResponse
			if err := client.Get(cmd.Context(), "/status", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
