// Package models - API response types and error handling.
// This file defines all outgoing API response structures with consistent formatting.
//
// Response Design Principles:
// - Consistent JSON structure across all endpoints
// - Optional fields use omitempty to reduce response size
// - RFC3339 timestamps
package models

import (
	"time"

	"noteprompt/internal/ratelimit"
)

// CheckResponse carries one rate limit decision. Denials are reported with
// HTTP 200 and Allowed=false; translating them into a 429 is the caller's job.
type CheckResponse struct {
	Allowed    bool      `json:"allowed"`
	Policy     string    `json:"policy"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // Whole seconds, denials only
}

// NewCheckResponse converts a limiter decision.
func NewCheckResponse(policyName string, d ratelimit.Decision) *CheckResponse {
	resp := &CheckResponse{
		Allowed:   d.Allowed,
		Policy:    policyName,
		Limit:     d.Limit,
		Remaining: d.Remaining,
		ResetAt:   d.ResetAt.UTC(),
	}
	if !d.Allowed {
		resp.RetryAfter = d.RetryAfterSeconds()
	}
	return resp
}

type PolicyInfo struct {
	Name        string `json:"name"`
	Window      string `json:"window"`
	WindowMs    int64  `json:"window_ms"`
	MaxRequests int    `json:"max_requests"`
}

type ListPoliciesResponse struct {
	Policies []PolicyInfo `json:"policies"`
}

// NewListPoliciesResponse lists policies in name order.
func NewListPoliciesResponse(policies ratelimit.Policies) *ListPoliciesResponse {
	resp := &ListPoliciesResponse{Policies: make([]PolicyInfo, 0, len(policies))}
	for _, name := range policies.Names() {
		p := policies[name]
		resp.Policies = append(resp.Policies, PolicyInfo{
			Name:        name,
			Window:      p.Window.String(),
			WindowMs:    p.Window.Milliseconds(),
			MaxRequests: p.MaxRequests,
		})
	}
	return resp
}

type ViolationInfo struct {
	ID         string    `json:"id"`
	Identifier string    `json:"identifier"`
	Policy     string    `json:"policy"`
	Limit      int       `json:"limit"`
	WindowMs   int64     `json:"window_ms"`
	ResetAt    time.Time `json:"reset_at"`
	CreatedAt  time.Time `json:"created_at"`
}

func (vi *ViolationInfo) FromViolation(v *Violation) {
	vi.ID = v.ID
	vi.Identifier = v.Identifier
	vi.Policy = v.Policy
	vi.Limit = v.Limit
	vi.WindowMs = v.Window.Milliseconds()
	vi.ResetAt = v.ResetAt
	vi.CreatedAt = v.CreatedAt
}

type ListViolationsResponse struct {
	Violations []ViolationInfo `json:"violations"`
	Count      int             `json:"count"`
	Limit      int             `json:"limit"`
}

// ErrorResponse provides standardized error information.
type ErrorResponse struct {
	Error     string            `json:"error"`                // Error type (always "error")
	Message   string            `json:"message"`              // Human-readable error description
	Code      string            `json:"code,omitempty"`       // Machine-readable error code
	Details   map[string]string `json:"details,omitempty"`    // Field-specific error details
	Timestamp time.Time         `json:"timestamp"`            // Error occurrence time
	RequestID string            `json:"request_id,omitempty"` // Unique request identifier
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	Metrics    map[string]interface{}     `json:"metrics,omitempty"`
}

type ComponentHealth struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"   // All systems operational
	StatusUnhealthy = "unhealthy" // Major system issues
	StatusDegraded  = "degraded"  // Partial functionality
)

// Standard HTTP Error Codes
const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 404: Resource doesn't exist
	ErrorCodePolicyNotFound     = "POLICY_NOT_FOUND"    // 404: Named policy doesn't exist
	ErrorCodeBadRequest         = "BAD_REQUEST"         // 400: Invalid request format
	ErrorCodeInvalidRequest     = "INVALID_REQUEST"     // 400: Invalid request data
	ErrorCodeValidation         = "VALIDATION_ERROR"    // 422: Input validation failed
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500: Server-side error
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503: Service temporarily down
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
		Metrics:    make(map[string]interface{}),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func (h *HealthCheckResponse) AddMetric(name string, value interface{}) {
	h.Metrics[name] = value
}
