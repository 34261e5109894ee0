// Package models - API request types and validation.
// This file defines the incoming request structures for the limiter API.
package models

import (
	"strings"
	"time"
)

const (
	// DefaultViolationsLimit is used when a listing request sets no limit.
	DefaultViolationsLimit = 50
	// MaxViolationsLimit caps a single listing page.
	MaxViolationsLimit = 500
	// MaxIdentifierLength bounds identifiers accepted over HTTP.
	MaxIdentifierLength = 256
)

// CheckRequest asks for a rate limit decision for one request.
type CheckRequest struct {
	Identifier string `json:"identifier" validate:"required,max=256"` // Client IP, user id, ...
	Policy     string `json:"policy" validate:"required"`             // Named policy, e.g. "login"
}

// Normalize trims surrounding whitespace.
func (r *CheckRequest) Normalize() {
	r.Identifier = strings.TrimSpace(r.Identifier)
	r.Policy = strings.TrimSpace(r.Policy)
}

// Validate checks that both fields are present and the identifier is at most
// MaxIdentifierLength characters.
func (r *CheckRequest) Validate() error {
	return validateStruct(r)
}

// ListViolationsRequest filters the audit trail.
type ListViolationsRequest struct {
	Identifier string    `json:"identifier"`
	Policy     string    `json:"policy"`
	Since      time.Time `json:"since"`
	Limit      int       `json:"limit" validate:"gte=0,lte=500"` // At most MaxViolationsLimit
}

// Normalize applies the default page size.
func (r *ListViolationsRequest) Normalize() {
	r.Identifier = strings.TrimSpace(r.Identifier)
	r.Policy = strings.TrimSpace(r.Policy)
	if r.Limit == 0 {
		r.Limit = DefaultViolationsLimit
	}
}

func (r *ListViolationsRequest) Validate() error {
	return validateStruct(r)
}

// Filter converts the request into a storage filter.
func (r *ListViolationsRequest) Filter() ViolationFilter {
	return ViolationFilter{
		Identifier: r.Identifier,
		Policy:     r.Policy,
		Since:      r.Since,
		Limit:      r.Limit,
	}
}
