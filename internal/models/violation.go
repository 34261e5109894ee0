package models

import (
	"time"

	"github.com/google/uuid"

	"noteprompt/internal/ratelimit"
)

// Violation records one denied request.
type Violation struct {
	ID         string        `json:"id"`
	Identifier string        `json:"identifier"`
	Policy     string        `json:"policy"`
	Limit      int           `json:"limit"`
	Window     time.Duration `json:"-"`
	ResetAt    time.Time     `json:"reset_at"`
	CreatedAt  time.Time     `json:"created_at"`
}

// NewViolation builds a violation for a denied decision observed at now.
func NewViolation(identifier, policyName string, policy ratelimit.Policy, decision ratelimit.Decision, now time.Time) *Violation {
	return &Violation{
		ID:         uuid.NewString(),
		Identifier: identifier,
		Policy:     policyName,
		Limit:      decision.Limit,
		Window:     policy.Window,
		ResetAt:    decision.ResetAt.UTC(),
		CreatedAt:  now.UTC(),
	}
}

// ViolationFilter narrows a violation listing. Zero fields match everything.
type ViolationFilter struct {
	Identifier string
	Policy     string
	Since      time.Time
	Limit      int
}

// Matches reports whether v passes every non-zero filter field. Limit is not
// considered.
func (f ViolationFilter) Matches(v *Violation) bool {
	if f.Identifier != "" && v.Identifier != f.Identifier {
		return false
	}
	if f.Policy != "" && v.Policy != f.Policy {
		return false
	}
	if !f.Since.IsZero() && v.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}
