package llmcall

import (
	"context"
	"time"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Reader is the storage side of LLM call queries.
type Reader interface {
	GetLLMCall(ctx context.Context, id string) (*Call, error)
	ListLLMCalls(ctx context.Context, filter QueryFilter) ([]Call, error)
}

// Store provides access to LLM call records.
type Store struct {
	reader Reader
}

// NewStore creates a new LLMCall store.
func NewStore(reader Reader) *Store {
	return &Store{reader: reader}
}

// QueryFilter specifies filters for listing LLM calls.
type QueryFilter struct {
	LeadID    string
	RunID     string
	PromptKey string
	Provider  string
	Model     string
	After     *time.Time
	Before    *time.Time
	Success   *bool
	Limit     int
	Offset    int
}

// Normalize clamps Limit and Offset to sane values.
func (f QueryFilter) Normalize() QueryFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Get retrieves a single LLM call by ID.
func (s *Store) Get(ctx context.Context, id string) (*Call, error) {
	return s.reader.GetLLMCall(ctx, id)
}

// List retrieves LLM calls matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter QueryFilter) ([]Call, error) {
	return s.reader.ListLLMCalls(ctx, filter.Normalize())
}

// CountByPromptKey returns call counts grouped by prompt key for a lead.
func (s *Store) CountByPromptKey(ctx context.Context, leadID string) (map[string]int, error) {
	calls, err := s.reader.ListLLMCalls(ctx, QueryFilter{LeadID: leadID, Limit: MaxListLimit})
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, c := range calls {
		counts[c.PromptKey]++
	}
	return counts, nil
}
