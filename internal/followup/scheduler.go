package followup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the sweep at 08:00 daily.
const DefaultSchedule = "0 8 * * *"

// sweepTimeout bounds one scheduled sweep.
const sweepTimeout = 2 * time.Minute

// Scheduler runs Sweep on a cron schedule.
// Cron expressions use the standard 5-field format.
type Scheduler struct {
	cron    *cron.Cron
	service *Service
	logger  *slog.Logger
}

// NewScheduler registers the sweep on schedule (DefaultSchedule if empty).
func NewScheduler(service *Service, schedule string, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}

	s := &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		service: service,
		logger:  logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid follow-up schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if _, err := s.service.Sweep(ctx); err != nil {
		s.logger.Error("follow-up sweep failed", "error", err)
	}
}

// Start begins executing the schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for a running sweep to complete.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Next returns the next scheduled sweep time.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
