// Package followup manages lead follow-up reminders and the sweep that
// notifies the operator when they come due.
package followup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackzampolin/tanjia/internal/store"
)

// Store is the persistence the service needs.
type Store interface {
	GetLead(ctx context.Context, id string) (*store.Lead, error)
	CreateFollowUp(ctx context.Context, f *store.FollowUp) error
	ListFollowUps(ctx context.Context, filter store.FollowUpFilter) ([]store.FollowUp, error)
	CompleteFollowUp(ctx context.Context, id string) (*store.FollowUp, error)
	MarkFollowUpNotified(ctx context.Context, id string, at time.Time) error
}

// Notifier delivers operator messages.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// sweepBatch bounds the follow-ups handled per sweep.
const sweepBatch = 100

// Service creates, lists and sweeps follow-ups.
type Service struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a follow-up service. notifier may be nil.
func NewService(s Store, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    s,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create schedules a follow-up for an existing lead.
func (s *Service) Create(ctx context.Context, leadID string, dueAt time.Time, note string) (*store.FollowUp, error) {
	if dueAt.IsZero() {
		return nil, fmt.Errorf("%w: due_at is required", store.ErrInvalid)
	}
	if _, err := s.store.GetLead(ctx, leadID); err != nil {
		return nil, err
	}
	f := &store.FollowUp{
		LeadID: leadID,
		DueAt:  dueAt.UTC(),
		Note:   strings.TrimSpace(note),
	}
	if err := s.store.CreateFollowUp(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// ListOptions narrows List.
type ListOptions struct {
	LeadID  string
	DueOnly bool
	Limit   int
	Offset  int
}

// List returns open follow-ups, soonest first.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]store.FollowUp, error) {
	filter := store.FollowUpFilter{LeadID: opts.LeadID, Limit: opts.Limit, Offset: opts.Offset}
	if opts.DueOnly {
		now := s.now()
		filter.DueBefore = &now
	}
	return s.store.ListFollowUps(ctx, filter)
}

// Complete marks a follow-up done. Completing twice is a no-op.
func (s *Service) Complete(ctx context.Context, id string) (*store.FollowUp, error) {
	return s.store.CompleteFollowUp(ctx, id)
}

// Sweep notifies the operator about due follow-ups that have not been sent
// yet and marks them notified. It returns how many were notified.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.store.ListFollowUps(ctx, store.FollowUpFilter{
		DueBefore:  &now,
		Unnotified: true,
		Limit:      sweepBatch,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list due follow-ups: %w", err)
	}

	sent := 0
	for _, f := range due {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		text := s.message(ctx, f)
		if s.notifier != nil {
			if err := s.notifier.Notify(ctx, text); err != nil {
				// Left unnotified so the next sweep retries.
				s.logger.Warn("follow-up notification failed", "followup_id", f.ID, "error", err)
				continue
			}
		}
		if err := s.store.MarkFollowUpNotified(ctx, f.ID, now); err != nil {
			s.logger.Warn("failed to mark follow-up notified", "followup_id", f.ID, "error", err)
			continue
		}
		sent++
	}

	if len(due) > 0 {
		s.logger.Info("follow-up sweep complete", "due", len(due), "notified", sent)
	}
	return sent, nil
}

func (s *Service) message(ctx context.Context, f store.FollowUp) string {
	who := f.LeadID
	lead, err := s.store.GetLead(ctx, f.LeadID)
	switch {
	case err == nil:
		who = lead.Name
		if lead.Company != "" {
			who += " (" + lead.Company + ")"
		}
	case !errors.Is(err, store.ErrNotFound):
		s.logger.Debug("lead lookup failed", "lead_id", f.LeadID, "error", err)
	}

	text := fmt.Sprintf("Follow-up due: %s, due %s", who, f.DueAt.Format("Mon Jan 2 15:04 MST"))
	if f.Note != "" {
		text += ": " + f.Note
	}
	return text
}
