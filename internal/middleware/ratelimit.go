package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// RateLimitStore counts and records accepted requests.
type RateLimitStore interface {
	CountSince(ctx context.Context, identifier, operation string, since time.Time) (int, error)
	Insert(ctx context.Context, identifier, operation string, at time.Time) error
}

// Limit configures a sliding window for one operation.
type Limit struct {
	MaxRequests int
	Window      time.Duration
}

// Limiter enforces per-(caller, operation) sliding windows over a record
// store. The clock is a field so tests can inject one.
type Limiter struct {
	store RateLimitStore
	now   func() time.Time
}

func NewLimiter(store RateLimitStore) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// RateLimit returns middleware applying a sliding window for one operation.
// Denied requests record nothing, so they never count against future windows.
// This is a soft limit: concurrent in-flight calls can transiently overshoot
// by their own number. The lifecycle's conditional updates are the real
// concurrency control; callers needing a hard cap should move the
// count-and-insert into one transaction.
func (l *Limiter) RateLimit(operation string, limit Limit) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromCtx(r.Context())
			if p == nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			now := l.now()
			identifier := p.ID.String()

			count, err := l.store.CountSince(r.Context(), identifier, operation, now.Add(-limit.Window))
			if err != nil {
				http.Error(w, `{"error":"rate limit check failed"}`, http.StatusInternalServerError)
				return
			}
			if count >= limit.MaxRequests {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(limit.Window.Seconds())))
				http.Error(w, fmt.Sprintf(`{"error":"rate limit exceeded for %s","remaining":0}`, operation), http.StatusTooManyRequests)
				return
			}
			if err := l.store.Insert(r.Context(), identifier, operation, now); err != nil {
				http.Error(w, `{"error":"rate limit record failed"}`, http.StatusInternalServerError)
				return
			}
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", limit.MaxRequests-count-1))
			next.ServeHTTP(w, r)
		})
	}
}
