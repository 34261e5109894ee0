package ratelimit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ExceededResponse is the JSON body written with a 429.
type ExceededResponse struct {
	Success    bool      `json:"success"`
	Error      string    `json:"error"`
	Code       string    `json:"code"`
	RetryAfter int       `json:"retry_after"`
	ResetAt    string    `json:"reset_at"`
	Timestamp  time.Time `json:"timestamp"`
}

// ErrorCodeRateLimitExceeded is the machine-readable code for a denied request.
const ErrorCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"

// NewExceededResponse builds the body for a denied request.
func NewExceededResponse(retryAfterSecs int, resetAt time.Time) *ExceededResponse {
	return &ExceededResponse{
		Success:    false,
		Error:      fmt.Sprintf("Too many requests, retry in %d seconds", retryAfterSecs),
		Code:       ErrorCodeRateLimitExceeded,
		RetryAfter: retryAfterSecs,
		ResetAt:    resetAt.UTC().Format(time.RFC3339),
		Timestamp:  time.Now(),
	}
}

// Middleware returns HTTP middleware that enforces policy per client IP. The
// limiter key is the policy name joined with the client IP, so one limiter can
// back several differently named policies. When the limiter itself fails the
// request is let through.
func Middleware(limiter Limiter, name string, policy Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := Key(name, ClientIP(r))

			decision, err := limiter.Check(r.Context(), key, policy)
			if err != nil {
				slog.Error("Rate limit check failed, allowing request",
					"key", key,
					"policy", name,
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			// Always set rate limit headers
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

			if !decision.Allowed {
				retryAfterSecs := decision.RetryAfterSeconds()
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)

				resp := NewExceededResponse(retryAfterSecs, decision.ResetAt)
				json.NewEncoder(w).Encode(resp)

				slog.Warn("Rate limit exceeded",
					"key", key,
					"policy", name,
					"limit", decision.Limit,
					"retry_after", retryAfterSecs,
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP extracts the client IP from the request, checking proxy headers
// first. It never returns an empty string.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	if cf := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); cf != "" {
		return cf
	}

	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
			return host
		}
		return r.RemoteAddr
	}

	return "unknown"
}
