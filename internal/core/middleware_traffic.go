package core

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"recoverly/internal/types"
)

const (
	defaultRateLimitMax    = 120
	defaultRateLimitWindow = time.Minute
)

// RateLimitStore counts requests per key.
type RateLimitStore interface {
	// IncrementAndCheck records a request for key and reports whether it is
	// within limit requests per window.
	IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)
}

// RateLimitResult is the outcome of one rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateLimit applies RateLimitStore per client IP. Store errors fail open.
// Without a store the middleware passes through.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	limit := defaultRateLimitMax
	if s.Config != nil && s.Config.Server.RateLimitPerMinute > 0 {
		limit = s.Config.Server.RateLimitPerMinute
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.RateLimitStore == nil {
			next.ServeHTTP(w, r)
			return
		}

		ip := extractClientIP(r)
		result, err := s.RateLimitStore.IncrementAndCheck(r.Context(), ip, limit, defaultRateLimitWindow)
		if err != nil {
			s.Logger.ErrorContext(r.Context(), "rate limit store error",
				slog.String("ip", ip),
				slog.String("error", err.Error()),
			)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			s.Logger.WarnContext(r.Context(), "rate limit exceeded",
				slog.String("ip", ip),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			retryAfter := int(time.Until(result.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			Error(w, r, types.NewAppError(types.ErrCodeRateLimited, "rate limit exceeded, retry after the reset time", nil))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractClientIP prefers the first X-Forwarded-For entry and falls back to
// RemoteAddr without its port.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// MemoryRateLimitStore is a per-process sliding-window limiter. Each key
// keeps the timestamps of its requests inside the current window.
type MemoryRateLimitStore struct {
	mu    sync.Mutex
	hits  map[string][]time.Time
	clock types.Clock
}

// NewMemoryRateLimitStore returns an empty store. clock may be nil.
func NewMemoryRateLimitStore(clock types.Clock) *MemoryRateLimitStore {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &MemoryRateLimitStore{hits: map[string][]time.Time{}, clock: clock}
}

func (m *MemoryRateLimitStore) IncrementAndCheck(_ context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	now := m.clock.Now()
	cutoff := now.Add(-window)

	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.hits[key][:0]
	for _, t := range m.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	resetAt := now.Add(window)
	if len(kept) > 0 {
		resetAt = kept[0].Add(window)
	}

	if len(kept) >= limit {
		m.hits[key] = kept
		return RateLimitResult{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}

	kept = append(kept, now)
	m.hits[key] = kept
	return RateLimitResult{Allowed: true, Remaining: limit - len(kept), ResetAt: resetAt}, nil
}
