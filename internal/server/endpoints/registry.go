package endpoints

import (
	"github.com/jackzampolin/tanjia/internal/api"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	// Container is the local database container, nil when the database is
	// external or in memory.
	Container Container

	// NextSweep reports the next follow-up sweep time.
	NextSweep func() string

	// WebhookSecret returns the booking webhook shared secret.
	WebhookSecret func() string

	SwaggerSpecPath string
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{Container: cfg.Container, NextSweep: cfg.NextSweep},

		// Lead endpoints
		&CreateLeadEndpoint{},
		&ListLeadsEndpoint{},
		&GetLeadEndpoint{},
		&UpdateLeadEndpoint{},
		&DeleteLeadEndpoint{},
		&AdvanceLeadEndpoint{},
		&ListSnapshotsEndpoint{},
		&ListDraftsEndpoint{},

		// Agent endpoints
		&EnrichLeadEndpoint{},
		&CommentReplyEndpoint{},
		&DMReplyEndpoint{},
		&DraftOutreachEndpoint{},
		&CompanyOverviewEndpoint{},
		&RoleMapEndpoint{},

		// Follow-up endpoints
		&CreateFollowUpEndpoint{},
		&ListFollowUpsEndpoint{},
		&CompleteFollowUpEndpoint{},

		// Booking endpoints
		&BookingWebhookEndpoint{Secret: cfg.WebhookSecret},
		&ListBookingsEndpoint{},

		// LLM call history endpoints
		&ListLLMCallsEndpoint{},
		&GetLLMCallEndpoint{},
		&LLMCallCountsEndpoint{},

		// Agent run endpoints
		&ListAgentRunsEndpoint{},
		&GetAgentRunEndpoint{},

		// Prompt endpoints
		&ListPromptsEndpoint{},
		&GetPromptEndpoint{},
		&SetPromptEndpoint{},
		&ClearPromptEndpoint{},

		// Swagger/OpenAPI endpoints
		&SwaggerEndpoint{SpecPath: cfg.SwaggerSpecPath},
		&SwaggerUIEndpoint{},
	}
}

// Group is a named set of endpoints exposed as one CLI subcommand.
type Group struct {
	Name      string
	Short     string
	Endpoints []api.Endpoint
}

// TopLevel returns endpoints whose commands sit directly under "api".
func TopLevel() []api.Endpoint {
	return []api.Endpoint{
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{},
		&SwaggerEndpoint{},
		&SwaggerUIEndpoint{},
	}
}

// Groups returns the CLI command groups.
func Groups() []Group {
	return []Group{
		{
			Name:  "leads",
			Short: "Lead management commands",
			Endpoints: []api.Endpoint{
				&CreateLeadEndpoint{},
				&ListLeadsEndpoint{},
				&GetLeadEndpoint{},
				&UpdateLeadEndpoint{},
				&DeleteLeadEndpoint{},
				&AdvanceLeadEndpoint{},
				&EnrichLeadEndpoint{},
				&ListSnapshotsEndpoint{},
				&DraftOutreachEndpoint{},
				&ListDraftsEndpoint{},
				&CreateFollowUpEndpoint{},
			},
		},
		{
			Name:  "assist",
			Short: "Reply drafting and business analysis",
			Endpoints: []api.Endpoint{
				&CommentReplyEndpoint{},
				&DMReplyEndpoint{},
				&CompanyOverviewEndpoint{},
				&RoleMapEndpoint{},
			},
		},
		{
			Name:  "followups",
			Short: "Follow-up commands",
			Endpoints: []api.Endpoint{
				&ListFollowUpsEndpoint{},
				&CompleteFollowUpEndpoint{},
			},
		},
		{
			Name:  "bookings",
			Short: "Booking commands",
			Endpoints: []api.Endpoint{
				&ListBookingsEndpoint{},
				&BookingWebhookEndpoint{},
			},
		},
		{
			Name:  "llmcalls",
			Short: "LLM call history commands",
			Endpoints: []api.Endpoint{
				&ListLLMCallsEndpoint{},
				&GetLLMCallEndpoint{},
				&LLMCallCountsEndpoint{},
			},
		},
		{
			Name:  "runs",
			Short: "Agent run history commands",
			Endpoints: []api.Endpoint{
				&ListAgentRunsEndpoint{},
				&GetAgentRunEndpoint{},
			},
		},
		{
			Name:  "prompts",
			Short: "Prompt commands",
			Endpoints: []api.Endpoint{
				&ListPromptsEndpoint{},
				&GetPromptEndpoint{},
				&SetPromptEndpoint{},
				&ClearPromptEndpoint{},
			},
		},
	}
}
