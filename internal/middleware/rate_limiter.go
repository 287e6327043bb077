package middleware

import (
	"log"
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimiter bounds how often one client may hit the trigger endpoints.
// Sliding one-minute windows per client key; expired windows are
// garbage-collected in the background.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	logger  *log.Logger
}

type window struct {
	count int
	start time.Time
}

// NewRateLimiter creates a limiter allowing limit requests per client
// per minute. Values below 1 fall back to 60.
func NewRateLimiter(limit int) *RateLimiter {
	if limit < 1 {
		limit = 60
	}
	rl := &RateLimiter{
		windows: make(map[string]*window),
		limit:   limit,
		logger:  log.New(log.Writer(), "[RATE-LIMIT] ", log.LstdFlags),
	}
	go rl.cleanup()
	return rl
}

// Allow reports whether a request under key fits the current window.
func (rl *RateLimiter) Allow(key string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) > time.Minute {
		rl.windows[key] = &window{count: 1, start: now}
		return true
	}

	w.count++
	if w.count > rl.limit {
		rl.logger.Printf("🚫 rate limit exceeded: key=%s count=%d limit=%d", key, w.count, rl.limit)
		return false
	}
	return true
}

// Middleware enforces the limit keyed by client address.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			key = r.RemoteAddr
		}
		if !rl.Allow(key) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded","retry_after_seconds":60}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for key, w := range rl.windows {
			if now.Sub(w.start) > 2*time.Minute {
				delete(rl.windows, key)
			}
		}
		rl.mu.Unlock()
	}
}
