package middleware

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dereadi/thermal-memory/internal/logger"
)

// maxTrackedClients caps the bucket map. New clients beyond it are refused
// until cleanup frees room.
const maxTrackedClients = 100_000

// RateLimiter throttles requests per triad@ip with a token bucket each.
// Requests that reach it before the Triad middleware are keyed by ip alone.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64
	burst   float64
	full    bool
	now     func() time.Time
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// refill credits the tokens earned since the bucket was last seen.
func (b *bucket) refill(now time.Time, rate, burst float64) {
	b.tokens = min(burst, b.tokens+now.Sub(b.seen).Seconds()*rate)
	b.seen = now
}

// NewRateLimiter allows rate requests per second per client with bursts
// of up to burst.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   float64(burst),
		now:     time.Now,
	}
}

// Handler rejects requests over the limit with 429 and a Retry-After hint.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remaining, wait, ok := rl.allow(clientKey(r))

		h := w.Header()
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(rl.now().Add(time.Second).Unix(), 10))
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		slog.DebugContext(r.Context(), "rate limited", "client", clientKey(r))
		h.Set("Retry-After", strconv.Itoa(max(1, int(math.Ceil(wait)))))
		writeTooMany(w)
	})
}

func writeTooMany(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
}

// allow spends a token for key. It returns the whole tokens left, the
// seconds until the next token when refused, and whether the request may
// proceed.
func (rl *RateLimiter) allow(key string) (int, float64, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	switch {
	case ok:
		b.refill(now, rl.rate, rl.burst)
	case len(rl.buckets) >= maxTrackedClients:
		if !rl.full {
			rl.full = true
			slog.Warn("rate limiter client table full, refusing new clients", "limit", maxTrackedClients)
		}
		return 0, 1 / rl.rate, false
	default:
		b = &bucket{tokens: rl.burst, seen: now}
		rl.buckets[key] = b
	}

	if b.tokens < 1 {
		return 0, (1 - b.tokens) / rl.rate, false
	}
	b.tokens--
	return int(b.tokens), 0, true
}

// StartCleanup drops buckets idle for longer than maxIdle every interval
// until the returned func is called.
func (rl *RateLimiter) StartCleanup(interval, maxIdle time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.cleanup(maxIdle)
			}
		}
	}()
	return cancel
}

func (rl *RateLimiter) cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-maxIdle)
	for key, b := range rl.buckets {
		if b.seen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
	if len(rl.buckets) < maxTrackedClients {
		rl.full = false
	}
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if triad := logger.Triad(r.Context()); triad != "" {
		return triad + "@" + host
	}
	return host
}
