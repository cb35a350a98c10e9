package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/tanjia/internal/store"
)

// Store is the persistence the service needs.
type Store interface {
	FindLeadByEmail(ctx context.Context, email string) (*store.Lead, error)
	UpsertBooking(ctx context.Context, b *store.Booking) (bool, error)
}

// Notifier delivers operator messages. Implementations must tolerate being
// called from request goroutines.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Result reports what Ingest did.
type Result struct {
	Booking *store.Booking `json:"booking"`
	Created bool           `json:"created"`
	Linked  bool           `json:"linked"`
}

// Service turns webhook deliveries into booking rows.
type Service struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
}

// NewService creates a booking service. notifier may be nil.
func NewService(s Store, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, notifier: notifier, logger: logger}
}

// Ingest extracts, links and upserts one delivery. Returns
// ErrMissingExternalID or ErrInvalidBody for bad input.
func (s *Service) Ingest(ctx context.Context, body []byte) (*Result, error) {
	ev, err := Extract(body)
	if err != nil {
		return nil, err
	}

	b := &store.Booking{
		ExternalID:    ev.ExternalID,
		Title:         ev.Title,
		Status:        ev.Status,
		TriggerEvent:  ev.TriggerEvent,
		StartTime:     ev.StartTime,
		EndTime:       ev.EndTime,
		AttendeeEmail: ev.AttendeeEmail,
		AttendeeName:  ev.AttendeeName,
		Payload:       json.RawMessage(body),
	}

	res := &Result{Booking: b}
	if ev.AttendeeEmail != "" {
		lead, err := s.store.FindLeadByEmail(ctx, ev.AttendeeEmail)
		switch {
		case err == nil:
			b.LeadID = lead.ID
			res.Linked = true
		case errors.Is(err, store.ErrNotFound):
		default:
			s.logger.Warn("lead lookup failed", "external_id", ev.ExternalID, "error", err)
		}
	}

	created, err := s.store.UpsertBooking(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("failed to store booking: %w", err)
	}
	res.Created = created
	res.Linked = b.LeadID != ""

	s.logger.Info("booking ingested",
		"external_id", b.ExternalID,
		"trigger", b.TriggerEvent,
		"created", created,
		"lead_id", b.LeadID)

	s.notify(ctx, b, created)
	return res, nil
}

func (s *Service) notify(ctx context.Context, b *store.Booking, created bool) {
	if s.notifier == nil {
		return
	}
	verb := "updated"
	if created {
		verb = "new"
	}
	who := b.AttendeeName
	if who == "" {
		who = b.AttendeeEmail
	}
	when := "time TBD"
	if b.StartTime != nil {
		when = b.StartTime.Format(time.RFC1123)
	}
	text := fmt.Sprintf("Booking %s: %s with %s at %s", verb, orDefault(b.Title, "meeting"), orDefault(who, "unknown attendee"), when)
	if b.TriggerEvent != "" {
		text += fmt.Sprintf(" (%s)", b.TriggerEvent)
	}
	if err := s.notifier.Notify(ctx, text); err != nil {
		s.logger.Warn("booking notification failed", "external_id", b.ExternalID, "error", err)
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
