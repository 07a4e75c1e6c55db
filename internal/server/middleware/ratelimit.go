package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// RateLimit gives each client IP limit requests per window, counted
// separately for reads and submissions so polling the catalog cannot starve
// a purchase. Limiter errors fail open.
func RateLimit(limiter domain.RateLimiter, limit int, window time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(max(1, int(window.Seconds())))
	limitHeader := strconv.Itoa(limit)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rateKey(r)
			w.Header().Set("X-RateLimit-Limit", limitHeader)

			allowed, err := limiter.Allow(r.Context(), key, limit, window)
			switch {
			case err != nil:
				logger.WarnContext(r.Context(), "http: rate limiter unavailable",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
			case !allowed:
				logger.InfoContext(r.Context(), "http: rate limited", slog.String("key", key))
				w.Header().Set("Retry-After", retryAfter)
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateKey buckets a request by client IP and by whether it submits to the
// ledger.
func rateKey(r *http.Request) string {
	class := "read"
	if r.Method == http.MethodPost {
		class = "submit"
	}
	return "ratelimit:" + class + ":" + clientIP(r)
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection's remote host.
func clientIP(r *http.Request) string {
	if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
