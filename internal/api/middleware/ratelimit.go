package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/twimagine/internal/api/response"
	"github.com/kiranshivaraju/twimagine/internal/cache"
)

const (
	defaultRequestsPerMinute = 60
	rateWindow               = time.Minute
)

// RateLimit counts operator API calls per key in minute-aligned windows.
// Webhooks are not limited; they sit outside the authenticated group.
type RateLimit struct {
	cache cache.Cache
	limit int
	now   func() time.Time
}

// NewRateLimit creates a per-key limiter allowing requestsPerMin per minute.
func NewRateLimit(c cache.Cache, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{cache: c, limit: requestsPerMin, now: time.Now}
}

// Limit must run after Authenticate. Requests without a key pass through, and
// so does everything while Redis is unreachable.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix, ok := KeyPrefix(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		now := rl.now()
		window := now.Truncate(rateWindow)
		reset := window.Add(rateWindow)

		// Twice the window so a key outlives clock skew between API replicas.
		count, err := rl.cache.IncrWithExpiry(r.Context(), cache.RateLimitKey(prefix, window), 2*rateWindow)
		if err != nil {
			slog.Warn("rate limit check failed, allowing request", "key_prefix", prefix, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		remaining := max(rl.limit-int(count), 0)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if count > int64(rl.limit) {
			retryAfter := int(math.Ceil(reset.Sub(now).Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(max(retryAfter, 1)))
			slog.Warn("operator rate limit exceeded", "key_prefix", prefix, "count", count)
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
