package agent

import (
	"sync"
	"time"
)

// Budget grants escalation units across requests.
type Budget interface {
	TryConsume() bool
}

// DailyBudget allows at most Limit escalations per UTC day. A limit <= 0
// means unlimited.
type DailyBudget struct {
	mu    sync.Mutex
	limit int
	used  int
	day   string
	now   func() time.Time
}

// NewDailyBudget creates a budget with the given per-day limit.
func NewDailyBudget(limit int) *DailyBudget {
	return &DailyBudget{limit: limit, now: time.Now}
}

// TryConsume takes one unit if any remain today.
func (b *DailyBudget) TryConsume() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit <= 0 {
		return true
	}
	b.roll()
	if b.used >= b.limit {
		return false
	}
	b.used++
	return true
}

// Used returns today's consumption and the limit.
func (b *DailyBudget) Used() (used, limit int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roll()
	return b.used, b.limit
}

func (b *DailyBudget) roll() {
	today := b.now().UTC().Format("2006-01-02")
	if today != b.day {
		b.day = today
		b.used = 0
	}
}
