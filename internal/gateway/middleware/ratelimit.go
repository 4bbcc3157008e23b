package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/bhandzo/cw-search-prototype/internal/auth/session"
	"github.com/bhandzo/cw-search-prototype/pkg/logger"
)

// Allower is implemented by *ratelimit.Limiter.
type Allower interface {
	Allow(key string) (bool, time.Duration)
}

// RateLimit limits requests per session. The key is the hashed bearer
// token, so two sessions of one firm are limited independently. Requests
// without a session pass through.
func RateLimit(limiter Allower) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := session.FromContext(r.Context()); !ok {
				next.ServeHTTP(w, r)
				return
			}
			key := session.HashToken(session.BearerToken(r))
			if ok, wait := limiter.Allow(key); !ok {
				secs := int(math.Ceil(wait.Seconds()))
				if secs < 1 {
					secs = 1
				}
				logger.FromContext(r.Context()).Warn("rate limit exceeded", "retry_after_s", secs)
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
