// Package ratelimit guards the respond route against request floods.
// Limits are keyed per caller; a per-process token-bucket store is the
// default and a Redis fixed-window store is available when the service
// runs with multiple replicas.
package ratelimit

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// LimiterStore answers whether one more request from key may proceed.
type LimiterStore interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// MemoryStore keeps a token bucket per key in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewMemoryStore constructs a MemoryStore allowing rps sustained requests
// per key with the given burst.
func NewMemoryStore(rps float64, burst int) *MemoryStore {
	return &MemoryStore{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Allow reports whether key's bucket has a token available.
func (s *MemoryStore) Allow(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	lim, ok := s.limiters[key]
	if !ok {
		lim = rate.NewLimiter(s.rps, s.burst)
		s.limiters[key] = lim
	}
	s.mu.Unlock()
	return lim.Allow(), nil
}

// KeyFunc extracts the limiter key from a request.
type KeyFunc func(r *http.Request) string

// HeaderKeyFunc keys on a trusted identity header, falling back to the
// client address.
func HeaderKeyFunc(header string) KeyFunc {
	return func(r *http.Request) string {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return v
		}
		if host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr)); err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// Middleware rejects over-limit requests with 429. Store failures fail
// open: losing the limiter must not take the respond path down with it.
func Middleware(store LimiterStore, keyFn KeyFunc, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			allowed, err := store.Allow(r.Context(), key)
			if err != nil {
				log.Warn("rate limiter unavailable, allowing request", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", "1")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"too many requests"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
