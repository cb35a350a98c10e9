// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/tanjia/internal/agents"
	"github.com/jackzampolin/tanjia/internal/booking"
	"github.com/jackzampolin/tanjia/internal/followup"
	"github.com/jackzampolin/tanjia/internal/home"
	"github.com/jackzampolin/tanjia/internal/llmcall"
	"github.com/jackzampolin/tanjia/internal/prompts"
	"github.com/jackzampolin/tanjia/internal/providers"
	"github.com/jackzampolin/tanjia/internal/store"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Store          store.Store
	Registry       *providers.Registry
	Agents         *agents.Service
	PromptResolver *prompts.Resolver
	LLMCallStore   *llmcall.Store
	Bookings       *booking.Service
	FollowUps      *followup.Service
	Logger         *slog.Logger
	Home           *home.Dir
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// StoreFrom extracts the record store from context.
func StoreFrom(ctx context.Context) store.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Store
	}
	return nil
}

// RegistryFrom extracts the provider registry from context.
func RegistryFrom(ctx context.Context) *providers.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}

// AgentsFrom extracts the task agents from context.
func AgentsFrom(ctx context.Context) *agents.Service {
	if s := ServicesFrom(ctx); s != nil {
		return s.Agents
	}
	return nil
}

// PromptResolverFrom extracts the prompt resolver from context.
func PromptResolverFrom(ctx context.Context) *prompts.Resolver {
	if s := ServicesFrom(ctx); s != nil {
		return s.PromptResolver
	}
	return nil
}

// LLMCallStoreFrom extracts the LLM call store from context.
func LLMCallStoreFrom(ctx context.Context) *llmcall.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.LLMCallStore
	}
	return nil
}

// BookingsFrom extracts the booking service from context.
func BookingsFrom(ctx context.Context) *booking.Service {
	if s := ServicesFrom(ctx); s != nil {
		return s.Bookings
	}
	return nil
}

// FollowUpsFrom extracts the follow-up service from context.
func FollowUpsFrom(ctx context.Context) *followup.Service {
	if s := ServicesFrom(ctx); s != nil {
		return s.FollowUps
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil && s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}
