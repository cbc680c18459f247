package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/propelai/propelai-backend/internal/auth/ratelimit"
)

// RateLimit enforces limiter per authenticated user, falling back to the
// client address for anonymous requests.
func RateLimit(limiter ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(r.Context(), RateLimitKey(r)) {
				w.Header().Set("Retry-After", "60")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitKey identifies the caller of r for rate limiting.
func RateLimitKey(r *http.Request) string {
	if u := User(r.Context()); u != nil {
		return "user:" + u.ID
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
