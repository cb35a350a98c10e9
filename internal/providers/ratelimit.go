package providers

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultRequestsPerMinute applies when a provider sets no rate limit.
const DefaultRequestsPerMinute = 120

// RateLimiter paces outbound provider calls. It wraps a token bucket that
// refills at RequestsPerMinute and can be paused after an upstream 429.
// It is shared by all requests that go through one client.
type RateLimiter struct {
	lim *rate.Limiter
	rpm int

	mu          sync.Mutex
	now         func() time.Time
	pausedUntil time.Time

	totalConsumed int64
	totalWaited   time.Duration
	last429Time   time.Time
}

// RateLimiterStatus reports current limiter state.
type RateLimiterStatus struct {
	TokensAvailable int           `json:"tokens_available"`
	TokensLimit     int           `json:"tokens_limit"`
	Utilization     float64       `json:"utilization"`
	TimeUntilToken  time.Duration `json:"time_until_token"`
	TotalConsumed   int64         `json:"total_consumed"`
	TotalWaited     time.Duration `json:"total_waited"`
	Last429Time     time.Time     `json:"last_429_time,omitempty"`
	PausedUntil     time.Time     `json:"paused_until,omitempty"`
}

// NewRateLimiter creates a limiter whose burst equals one minute of requests.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRequestsPerMinute
	}
	return &RateLimiter{
		lim: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), requestsPerMinute),
		rpm: requestsPerMinute,
		now: time.Now,
	}
}

// Wait blocks until a request may go out or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	pause := r.pausedUntil.Sub(r.now())
	r.mu.Unlock()

	if pause > 0 {
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	start := time.Now()
	if err := r.lim.Wait(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	r.totalConsumed++
	if pause > 0 {
		r.totalWaited += pause
	}
	r.totalWaited += time.Since(start)
	r.mu.Unlock()
	return nil
}

// TryConsume takes a token without blocking and reports whether it could.
func (r *RateLimiter) TryConsume() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Before(r.pausedUntil) {
		return false
	}
	if !r.lim.AllowN(now, 1) {
		return false
	}
	r.totalConsumed++
	return true
}

// Record429 notes an upstream 429. A positive retryAfter holds every caller
// until it has passed.
func (r *RateLimiter) Record429(retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.last429Time = now
	if until := now.Add(retryAfter); retryAfter > 0 && until.After(r.pausedUntil) {
		r.pausedUntil = until
	}
}

// Status returns current limiter status.
func (r *RateLimiter) Status() RateLimiterStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	tokens := r.lim.TokensAt(now)
	if tokens < 0 {
		tokens = 0
	}

	var until time.Duration
	if tokens < 1 {
		until = time.Duration((1 - tokens) / float64(r.lim.Limit()) * float64(time.Second))
	}
	if pause := r.pausedUntil.Sub(now); pause > until {
		until = pause
	}

	status := RateLimiterStatus{
		TokensAvailable: int(tokens),
		TokensLimit:     r.rpm,
		Utilization:     1 - tokens/float64(r.rpm),
		TimeUntilToken:  until,
		TotalConsumed:   r.totalConsumed,
		TotalWaited:     r.totalWaited,
		Last429Time:     r.last429Time,
	}
	if r.pausedUntil.After(now) {
		status.PausedUntil = r.pausedUntil
	}
	return status
}
