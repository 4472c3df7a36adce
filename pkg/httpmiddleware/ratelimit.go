package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window.
	Max int
	// Window is the window length.
	Window time.Duration
	// TrustForwarded keys clients by X-Forwarded-For and X-Real-IP. Enable
	// it only behind a proxy that sets them.
	TrustForwarded bool
	// KeyFunc overrides the client key.
	KeyFunc func(*http.Request) string
}

// window counts requests in the current and the previous fixed window.
type window struct {
	start time.Time
	curr  float64
	prev  float64
}

// RateLimiter enforces a per-client sliding window limit.
type RateLimiter struct {
	max    int
	length time.Duration
	key    func(*http.Request) string

	mu      sync.Mutex
	clients map[string]*window
	now     func() time.Time
}

// NewRateLimiter creates a RateLimiter.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.Max <= 0 {
		cfg.Max = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	key := cfg.KeyFunc
	if key == nil {
		trust := cfg.TrustForwarded
		key = func(r *http.Request) string { return clientIP(r, trust) }
	}
	return &RateLimiter{
		max:     cfg.Max,
		length:  cfg.Window,
		key:     key,
		clients: make(map[string]*window),
		now:     time.Now,
	}
}

// allow records a request for key and reports whether it is within the
// limit, with the remaining budget and the end of the current window.
func (l *RateLimiter) allow(key string) (remaining int, reset time.Time, ok bool) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, found := l.clients[key]
	if !found {
		w = &window{start: now.Truncate(l.length)}
		l.clients[key] = w
	}
	switch elapsed := now.Sub(w.start); {
	case elapsed >= 2*l.length:
		w.start, w.prev, w.curr = now.Truncate(l.length), 0, 0
	case elapsed >= l.length:
		w.start, w.prev, w.curr = w.start.Add(l.length), w.curr, 0
	}

	// Weight the previous window by its overlap with the sliding window.
	overlap := 1 - float64(now.Sub(w.start))/float64(l.length)
	used := w.prev*math.Max(overlap, 0) + w.curr
	reset = w.start.Add(l.length)
	if used >= float64(l.max) {
		return 0, reset, false
	}
	w.curr++
	return max(int(float64(l.max)-used-1), 0), reset, true
}

// Run evicts idle clients until ctx is done.
func (l *RateLimiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(2 * l.length)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.evict()
		}
	}
}

func (l *RateLimiter) evict() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, w := range l.clients {
		if now.Sub(w.start) >= 2*l.length {
			delete(l.clients, k)
		}
	}
}

// Middleware rejects requests over the limit with 429. Every response
// carries the X-RateLimit-* headers.
func (l *RateLimiter) Middleware() Middleware {
	limit := strconv.Itoa(l.max)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, reset, ok := l.allow(l.key(r))

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			if !ok {
				wait := math.Ceil(math.Max(reset.Sub(l.now()).Seconds(), 0))
				h.Set("Retry-After", strconv.Itoa(int(wait)))
				writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return xri
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
