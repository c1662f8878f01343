package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/szabogaliakos/email-insights-sub001/internal/api/response"
	"github.com/szabogaliakos/email-insights-sub001/internal/docstore"
)

const defaultRequestsPerMinute = 60

// RateLimit counts requests per API key in the document store over a
// one-minute window. It fails open: a store error never blocks traffic.
type RateLimit struct {
	docs           docstore.Store
	requestsPerMin int
}

// NewRateLimit creates the rate-limit middleware.
func NewRateLimit(docs docstore.Store, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{docs: docs, requestsPerMin: requestsPerMin}
}

// Limit enforces the per-key budget set by the auth middleware's prefix.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix, ok := getKeyPrefix(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		count, err := rl.docs.IncrWithExpiry(r.Context(), docstore.RateLimitKey(prefix), time.Minute)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		remaining := rl.requestsPerMin - int(count)
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Minute).Unix(), 10))

		if count > int64(rl.requestsPerMin) {
			w.Header().Set("Retry-After", "60")
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
