package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/predictlabs/marketcore/internal/domain"
)

// RateLimit limits each client IP per route class using the provided
// domain.RateLimiter. Market data is polled aggressively by dashboards and
// gets the full budget; history endpoints hit postgres and get half.
// Websocket connections are long-lived and exempt: one upgrade serves hours
// of traffic.
func RateLimit(limiter domain.RateLimiter, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/ws" {
				next.ServeHTTP(w, r)
				return
			}

			class, classLimit := routeClass(r.URL.Path, limit)
			key := "api:" + class + ":" + extractClientIP(r)

			allowed, err := limiter.Allow(r.Context(), key, classLimit, window)
			if err != nil {
				// On rate-limiter errors, fail open to avoid blocking
				// legitimate traffic. The error is not surfaced to the client.
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// routeClass buckets a request path into a budget class and scales the base
// limit for it. Classes keep a dashboard hammering market data from starving
// account lookups by the same IP.
func routeClass(path string, base int) (string, int) {
	switch {
	case strings.HasPrefix(path, "/api/markets"):
		return "markets", base
	case strings.HasPrefix(path, "/api/points"),
		strings.HasPrefix(path, "/api/staking"),
		strings.HasPrefix(path, "/api/social"):
		return "accounts", base
	case strings.HasPrefix(path, "/api/settlements"),
		strings.HasPrefix(path, "/api/audit"):
		half := base / 2
		if half < 1 {
			half = 1
		}
		return "history", half
	default:
		return "misc", base
	}
}

// extractClientIP attempts to determine the real client IP from standard
// proxy headers, falling back to the direct remote address.
func extractClientIP(r *http.Request) string {
	// X-Forwarded-For may carry a chain; the first entry is the client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		ip := strings.TrimSpace(parts[0])
		if ip != "" {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
