package middleware

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	// Rate is the number of requests allowed per second per IP.
	Rate rate.Limit
	// Burst is the maximum burst size per IP.
	Burst int
	// MaxAge is how long an idle limiter is kept before eviction.
	MaxAge time.Duration
}

// PayloadRateLimitConfig returns the limits for push ingestion: 10
// requests/second with a burst of 20. Real call traffic is a handful of
// pushes per call.
func PayloadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:   rate.Limit(10),
		Burst:  20,
		MaxAge: 10 * time.Minute,
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter hands out one token bucket per client IP. Idle buckets are
// evicted lazily on Allow, so there is no background goroutine to stop.
type IPRateLimiter struct {
	mu        sync.Mutex
	entries   map[string]*limiterEntry
	cfg       RateLimitConfig
	now       func() time.Time
	lastSweep time.Time
}

// NewIPRateLimiter creates a per-IP rate limiter.
func NewIPRateLimiter(cfg RateLimitConfig) *IPRateLimiter {
	return &IPRateLimiter{
		entries: make(map[string]*limiterEntry),
		cfg:     cfg,
		now:     time.Now,
	}
}

// Allow checks whether a request from ip may proceed.
func (rl *IPRateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	now := rl.now()
	if rl.cfg.MaxAge > 0 && now.Sub(rl.lastSweep) > rl.cfg.MaxAge {
		rl.sweep(now)
	}
	entry, ok := rl.entries[ip]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.cfg.Rate, rl.cfg.Burst)}
		rl.entries[ip] = entry
	}
	entry.lastSeen = now
	rl.mu.Unlock()

	return entry.limiter.AllowN(now, 1)
}

// Len returns the number of tracked IPs.
func (rl *IPRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

func (rl *IPRateLimiter) sweep(now time.Time) {
	cutoff := now.Add(-rl.cfg.MaxAge)
	removed := 0
	for ip, e := range rl.entries {
		if e.lastSeen.Before(cutoff) {
			delete(rl.entries, ip)
			removed++
		}
	}
	rl.lastSweep = now
	if removed > 0 {
		slog.Debug("rate limiter sweep", "removed", removed, "remaining", len(rl.entries))
	}
}

// errorEnvelope matches the API's { "data": ..., "error": ... } wrapper.
type errorEnvelope struct {
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

// RateLimit returns middleware answering 429 with a Retry-After header once
// a client IP exceeds its bucket.
func RateLimit(limiter *IPRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !limiter.Allow(ip) {
				slog.Warn("rate limit exceeded", "ip", ip, "method", r.Method, "path", r.URL.Path)
				w.Header().Set("Retry-After", "1")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(errorEnvelope{Error: "rate limit exceeded"}) //nolint:errcheck
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port from RemoteAddr. chi's RealIP middleware runs
// first when the bridge sits behind a proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
