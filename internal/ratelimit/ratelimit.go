// Package ratelimit throttles inbound requests per user or client IP.
//
// State is per process. Running several instances multiplies the effective
// limit by the instance count.
package ratelimit

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// UserHeader identifies the caller when present; otherwise the remote IP is used.
const UserHeader = "X-User-ID"

const (
	DefaultRequestsPerMinute = 20
	DefaultIdleTTL           = 10 * time.Minute
)

// Config configures a Limiter.
type Config struct {
	RequestsPerMinute int
	Burst             int           // defaults to RequestsPerMinute
	IdleTTL           time.Duration // keys idle this long are dropped
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter enforces a token bucket per key.
type Limiter struct {
	mu      sync.Mutex
	keys    map[string]*entry
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// New creates a limiter. A non-positive RequestsPerMinute uses the default.
func New(cfg Config, logger *slog.Logger) *Limiter {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = DefaultRequestsPerMinute
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = rpm
	}
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		keys:    make(map[string]*entry),
		limit:   rate.Limit(float64(rpm) / 60.0),
		burst:   burst,
		idleTTL: ttl,
		now:     time.Now,
		logger:  logger,
	}
}

// Allow consumes one token for key. When denied it also returns how long
// until a token is available.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evict(now)

	e, ok := l.keys[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.keys[key] = e
	}
	e.lastSeen = now

	r := e.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Minute
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

// evict drops idle keys. Callers hold mu.
func (l *Limiter) evict(now time.Time) {
	for k, e := range l.keys {
		if now.Sub(e.lastSeen) > l.idleTTL {
			delete(l.keys, k)
		}
	}
}

// Middleware rejects over-limit requests with 429.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := KeyFor(r)
		ok, retryAfter := l.Allow(key)
		if !ok {
			secs := int(math.Ceil(retryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			l.logger.Warn("rate limited", "key", key, "path", r.URL.Path, "retry_after_s", secs)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// KeyFor returns the limiter key for a request: the user header when set,
// otherwise the client IP.
func KeyFor(r *http.Request) string {
	if u := strings.TrimSpace(r.Header.Get(UserHeader)); u != "" {
		return "user:" + u
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip, _, _ := strings.Cut(fwd, ",")
		if ip = strings.TrimSpace(ip); ip != "" {
			return "ip:" + ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
