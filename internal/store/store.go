// Package store persists leads, their derived records, and the LLM call and
// agent run logs. Postgres is the production backend; Memory backs tests and
// database-less development.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackzampolin/tanjia/internal/agent/observability"
	"github.com/jackzampolin/tanjia/internal/llmcall"
	"github.com/jackzampolin/tanjia/internal/prompts"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalid wraps validation failures of caller-supplied records.
	ErrInvalid = errors.New("invalid")
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Snapshot is an analysis result captured for a lead.
type Snapshot struct {
	ID        string          `json:"id"`
	LeadID    string          `json:"lead_id"`
	Kind      string          `json:"kind"`               // task name, e.g. lead_enrichment
	Data      json.RawMessage `json:"data"`               // parsed agent output
	Metadata  json.RawMessage `json:"metadata,omitempty"` // agent trace
	Model     string          `json:"model,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Draft is generated text stored against a lead.
type Draft struct {
	ID        string    `json:"id"`
	LeadID    string    `json:"lead_id"`
	Kind      string    `json:"kind"`
	Channel   string    `json:"channel,omitempty"`
	Content   string    `json:"content"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// FollowUp is a reminder to get back to a lead.
type FollowUp struct {
	ID          string     `json:"id"`
	LeadID      string     `json:"lead_id"`
	DueAt       time.Time  `json:"due_at"`
	Note        string     `json:"note,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	NotifiedAt  *time.Time `json:"notified_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// FollowUpFilter narrows ListFollowUps.
type FollowUpFilter struct {
	LeadID string

	// DueBefore keeps only open follow-ups due at or before this time.
	DueBefore *time.Time

	// Unnotified keeps only follow-ups not yet sent to the operator.
	Unnotified bool

	IncludeCompleted bool
	Limit            int
	Offset           int
}

// Booking is a meeting reported by the scheduling provider.
type Booking struct {
	ID            string          `json:"id"`
	ExternalID    string          `json:"external_id"`
	LeadID        string          `json:"lead_id,omitempty"`
	Title         string          `json:"title,omitempty"`
	Status        string          `json:"status,omitempty"`
	TriggerEvent  string          `json:"trigger_event,omitempty"`
	StartTime     *time.Time      `json:"start_time,omitempty"`
	EndTime       *time.Time      `json:"end_time,omitempty"`
	AttendeeEmail string          `json:"attendee_email,omitempty"`
	AttendeeName  string          `json:"attendee_name,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Store is the full persistence surface.
type Store interface {
	CreateLead(ctx context.Context, l *Lead) error
	GetLead(ctx context.Context, id string) (*Lead, error)
	FindLeadByEmail(ctx context.Context, email string) (*Lead, error)
	ListLeads(ctx context.Context, filter LeadFilter) ([]Lead, error)
	UpdateLead(ctx context.Context, id string, patch LeadPatch) (*Lead, error)
	DeleteLead(ctx context.Context, id string) error
	AdvanceLead(ctx context.Context, id string) (*Lead, error)

	CreateSnapshot(ctx context.Context, s *Snapshot) error
	ListSnapshots(ctx context.Context, leadID string, limit int) ([]Snapshot, error)

	CreateDraft(ctx context.Context, d *Draft) error
	ListDrafts(ctx context.Context, leadID string, limit int) ([]Draft, error)

	CreateFollowUp(ctx context.Context, f *FollowUp) error
	ListFollowUps(ctx context.Context, filter FollowUpFilter) ([]FollowUp, error)
	CompleteFollowUp(ctx context.Context, id string) (*FollowUp, error)
	MarkFollowUpNotified(ctx context.Context, id string, at time.Time) error

	// UpsertBooking inserts or updates by ExternalID and reports whether a
	// new row was created.
	UpsertBooking(ctx context.Context, b *Booking) (bool, error)
	ListBookings(ctx context.Context, limit, offset int) ([]Booking, error)

	llmcall.Sink
	llmcall.Reader
	observability.Sink
	observability.Reader
	prompts.Store

	Ping(ctx context.Context) error
	Close()
}

// clampLimit bounds list sizes.
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func clampOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

// page returns items[offset:offset+limit] bounded to the slice.
func page[T any](items []T, limit, offset int) []T {
	limit = clampLimit(limit)
	offset = clampOffset(offset)
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
