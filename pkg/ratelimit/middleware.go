package ratelimit

import (
	"net/http"
	"strconv"
)

// Middleware enforces per-IP rate limiting. Refused requests get 429 from
// reject. A nil limiter passes every request through.
func Middleware(limiter *PerIPLimiter, reject http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, remaining, retryAfter := limiter.Allow(limiter.ClientIP(r))

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Burst()))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if !allowed {
				w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				reject(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
