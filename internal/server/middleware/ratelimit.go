package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hookline/hookline/internal/clock"
	"github.com/hookline/hookline/pkg/api"
)

// RateLimiter is a token-bucket limiter keyed by client address. Buckets
// refill continuously, so a producer that paces its deliveries never hits
// the limit even when the window boundary is unlucky.
type RateLimiter struct {
	clock     clock.Clock
	logger    *slog.Logger
	buckets   map[string]*bucket
	lastSweep time.Time
	rate      int
	window    time.Duration
	mu        sync.Mutex
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing rate requests per window.
func NewRateLimiter(rate int, window time.Duration, clk clock.Clock, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		clock:   clk,
		logger:  logger,
		buckets: make(map[string]*bucket),
		rate:    rate,
		window:  window,
	}
}

// Allow reports whether a request for the key fits in its bucket.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	rl.sweepIdle(now)

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(rl.rate), lastSeen: now}
		rl.buckets[key] = b
	} else {
		refill := now.Sub(b.lastSeen).Seconds() / rl.window.Seconds() * float64(rl.rate)
		b.tokens = min(b.tokens+refill, float64(rl.rate))
		b.lastSeen = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// sweepIdle drops buckets idle longer than two windows so the map stays
// bounded. Runs under rl.mu, at most once per window.
func (rl *RateLimiter) sweepIdle(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.window {
		return
	}
	rl.lastSweep = now

	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.window*2 {
			delete(rl.buckets, key)
		}
	}
}

// RateLimitMiddleware rejects requests over the limit with 429.
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(r.RemoteAddr) {
				rl.logger.Warn("Rate limit exceeded", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(api.ErrorResponse{
					Error:   "rate_limited",
					Message: "too many requests",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
