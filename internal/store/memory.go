package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/tanjia/internal/agent/observability"
	"github.com/jackzampolin/tanjia/internal/llmcall"
	"github.com/jackzampolin/tanjia/internal/prompts"
)

// Memory is an in-process Store. Records are lost on exit.
type Memory struct {
	mu sync.RWMutex

	leads     map[string]Lead
	snapshots []Snapshot
	drafts    []Draft
	followups map[string]FollowUp
	bookings  map[string]Booking // by external id
	calls     []llmcall.Call
	runs      []observability.AgentRun
	prompts   map[string]prompts.Prompt
	overrides map[string]prompts.Override

	now func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		leads:     make(map[string]Lead),
		followups: make(map[string]FollowUp),
		bookings:  make(map[string]Booking),
		prompts:   make(map[string]prompts.Prompt),
		overrides: make(map[string]prompts.Override),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) CreateLead(_ context.Context, l *Lead) error {
	if err := l.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	now := m.now()
	l.CreatedAt, l.UpdatedAt = now, now
	m.leads[l.ID] = *l
	return nil
}

func (m *Memory) GetLead(_ context.Context, id string) (*Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.leads[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &l, nil
}

func (m *Memory) FindLeadByEmail(_ context.Context, email string) (*Lead, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *Lead
	for _, l := range m.leads {
		if strings.EqualFold(l.Email, email) {
			if found == nil || l.CreatedAt.Before(found.CreatedAt) {
				l := l
				found = &l
			}
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (m *Memory) ListLeads(_ context.Context, filter LeadFilter) ([]Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Lead, 0, len(m.leads))
	for _, l := range m.leads {
		if l.matches(filter) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return page(out, filter.Limit, filter.Offset), nil
}

func (m *Memory) UpdateLead(_ context.Context, id string, patch LeadPatch) (*Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.leads[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := patch.Apply(&l); err != nil {
		return nil, err
	}
	l.UpdatedAt = m.now()
	m.leads[id] = l
	return &l, nil
}

func (m *Memory) DeleteLead(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.leads[id]; !ok {
		return ErrNotFound
	}
	delete(m.leads, id)

	snaps := m.snapshots[:0]
	for _, s := range m.snapshots {
		if s.LeadID != id {
			snaps = append(snaps, s)
		}
	}
	m.snapshots = snaps

	drafts := m.drafts[:0]
	for _, d := range m.drafts {
		if d.LeadID != id {
			drafts = append(drafts, d)
		}
	}
	m.drafts = drafts

	for fid, f := range m.followups {
		if f.LeadID == id {
			delete(m.followups, fid)
		}
	}
	for ext, b := range m.bookings {
		if b.LeadID == id {
			b.LeadID = ""
			m.bookings[ext] = b
		}
	}
	return nil
}

func (m *Memory) AdvanceLead(_ context.Context, id string) (*Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.leads[id]
	if !ok {
		return nil, ErrNotFound
	}
	if next := l.Stage.Next(); next != l.Stage {
		l.Stage = next
		l.UpdatedAt = m.now()
		m.leads[id] = l
	}
	return &l, nil
}

func (m *Memory) CreateSnapshot(_ context.Context, s *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.leads[s.LeadID]; !ok {
		return ErrNotFound
	}
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	s.CreatedAt = m.now()
	m.snapshots = append(m.snapshots, *s)
	return nil
}

func (m *Memory) ListSnapshots(_ context.Context, leadID string, limit int) ([]Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Snapshot{}
	for i := len(m.snapshots) - 1; i >= 0; i-- {
		if m.snapshots[i].LeadID == leadID {
			out = append(out, m.snapshots[i])
		}
	}
	return page(out, limit, 0), nil
}

func (m *Memory) CreateDraft(_ context.Context, d *Draft) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.leads[d.LeadID]; !ok {
		return ErrNotFound
	}
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	d.CreatedAt = m.now()
	m.drafts = append(m.drafts, *d)
	return nil
}

func (m *Memory) ListDrafts(_ context.Context, leadID string, limit int) ([]Draft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Draft{}
	for i := len(m.drafts) - 1; i >= 0; i-- {
		if m.drafts[i].LeadID == leadID {
			out = append(out, m.drafts[i])
		}
	}
	return page(out, limit, 0), nil
}

func (m *Memory) CreateFollowUp(_ context.Context, f *FollowUp) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.leads[f.LeadID]; !ok {
		return ErrNotFound
	}
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	f.CreatedAt = m.now()
	m.followups[f.ID] = *f
	return nil
}

func (m *Memory) ListFollowUps(_ context.Context, filter FollowUpFilter) ([]FollowUp, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []FollowUp{}
	for _, f := range m.followups {
		if filter.LeadID != "" && f.LeadID != filter.LeadID {
			continue
		}
		if f.CompletedAt != nil && (!filter.IncludeCompleted || filter.DueBefore != nil) {
			continue
		}
		if filter.DueBefore != nil && f.DueAt.After(*filter.DueBefore) {
			continue
		}
		if filter.Unnotified && f.NotifiedAt != nil {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].DueAt.Before(out[j].DueAt)
	})
	return page(out, filter.Limit, filter.Offset), nil
}

func (m *Memory) CompleteFollowUp(_ context.Context, id string) (*FollowUp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.followups[id]
	if !ok {
		return nil, ErrNotFound
	}
	if f.CompletedAt == nil {
		now := m.now()
		f.CompletedAt = &now
		m.followups[id] = f
	}
	return &f, nil
}

func (m *Memory) MarkFollowUpNotified(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.followups[id]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	f.NotifiedAt = &at
	m.followups[id] = f
	return nil
}

func (m *Memory) UpsertBooking(_ context.Context, b *Booking) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	existing, ok := m.bookings[b.ExternalID]
	if ok {
		b.ID = existing.ID
		b.CreatedAt = existing.CreatedAt
		// Redeliveries may omit the lead and the schedule.
		if b.LeadID == "" {
			b.LeadID = existing.LeadID
		}
		if b.StartTime == nil {
			b.StartTime = existing.StartTime
		}
		if b.EndTime == nil {
			b.EndTime = existing.EndTime
		}
	} else {
		if b.ID == "" {
			b.ID = uuid.New().String()
		}
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	m.bookings[b.ExternalID] = *b
	return !ok, nil
}

func (m *Memory) ListBookings(_ context.Context, limit, offset int) ([]Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Booking, 0, len(m.bookings))
	for _, b := range m.bookings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return page(out, limit, offset), nil
}

func (m *Memory) InsertLLMCall(_ context.Context, c *llmcall.Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, *c)
	return nil
}

func (m *Memory) GetLLMCall(_ context.Context, id string) (*llmcall.Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.calls {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListLLMCalls(_ context.Context, f llmcall.QueryFilter) ([]llmcall.Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []llmcall.Call{}
	for i := len(m.calls) - 1; i >= 0; i-- {
		c := m.calls[i]
		switch {
		case f.LeadID != "" && c.LeadID != f.LeadID,
			f.RunID != "" && c.RunID != f.RunID,
			f.PromptKey != "" && c.PromptKey != f.PromptKey,
			f.Provider != "" && c.Provider != f.Provider,
			f.Model != "" && c.Model != f.Model,
			f.After != nil && !c.Timestamp.After(*f.After),
			f.Before != nil && !c.Timestamp.Before(*f.Before),
			f.Success != nil && c.Success != *f.Success:
			continue
		}
		out = append(out, c)
	}
	return page(out, f.Limit, f.Offset), nil
}

func (m *Memory) InsertAgentRun(_ context.Context, r *observability.AgentRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, *r)
	return nil
}

func (m *Memory) GetAgentRun(_ context.Context, id string) (*observability.AgentRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.runs {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListAgentRuns(_ context.Context, f observability.ListFilter) ([]observability.AgentRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []observability.AgentRun{}
	for i := len(m.runs) - 1; i >= 0; i-- {
		r := m.runs[i]
		if f.Task != "" && r.Task != f.Task {
			continue
		}
		if f.LeadID != "" && r.LeadID != f.LeadID {
			continue
		}
		out = append(out, r)
	}
	return page(out, f.Limit, f.Offset), nil
}

func (m *Memory) GetPrompt(_ context.Context, key string) (*prompts.Prompt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prompts[key]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) UpsertPrompt(_ context.Context, p *prompts.Prompt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.UpdatedAt = m.now()
	m.prompts[p.Key] = *p
	return nil
}

func (m *Memory) GetPromptOverride(_ context.Context, key string) (*prompts.Override, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.overrides[key]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (m *Memory) SetPromptOverride(_ context.Context, o *prompts.Override) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if existing, ok := m.overrides[o.Key]; ok {
		o.CreatedAt = existing.CreatedAt
	} else {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	m.overrides[o.Key] = *o
	return nil
}

func (m *Memory) ClearPromptOverride(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.overrides, key)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() {}

var _ Store = (*Memory)(nil)
