package ratelimit

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// PerIP returns middleware that rate-limits by client IP. It sits in front
// of the credential endpoints as a coarse brute-force brake; the engine's
// per-account counters remain the authoritative lockout.
func PerIP(capacity int, refillRate float64) func(http.Handler) http.Handler {
	limiter := NewLimiter(capacity, refillRate, time.Hour)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := requestIP(r)
			if ip != "" && !limiter.Allow(ip) {
				slog.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "60")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"too many requests"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
