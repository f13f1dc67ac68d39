// Package middleware provides HTTP middleware components for the feedwire server.
package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/feedwire/internal/ratelimit"
)

type rateLimitBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RateLimit rejects requests the limiter flags with 429. Store failures are
// logged and the request is let through.
func RateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limited, err := limiter.ShouldRateLimit(r)
			if err != nil {
				log.Warn().
					Err(err).
					Str("entity", limiter.Entity()).
					Str("method", r.Method).
					Msg("rate limit check failed, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			limit, ok := limiter.Limit(r.Method)
			if ok {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.NumberOfRequests))
			}

			if limited {
				retryAfter := int(math.Ceil(limit.Period.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(rateLimitBody{
					Error:   "rate limit exceeded",
					Message: "Too many requests. Please wait before trying again.",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
