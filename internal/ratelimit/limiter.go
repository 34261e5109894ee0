// Package ratelimit provides fixed-window rate limiting keyed by an arbitrary
// identifier (client IP, user id, ...). Each identifier gets its own counter
// that resets when its window ends. The package includes an in-memory limiter,
// a Redis-backed limiter for multi-instance deployments, a table of named
// policies, and HTTP middleware that sets standard rate limit response headers.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptyIdentifier is returned when Check is called without an identifier.
	ErrEmptyIdentifier = errors.New("rate limit identifier cannot be empty")

	// ErrInvalidPolicy is returned when a policy has a non-positive window or
	// request limit.
	ErrInvalidPolicy = errors.New("invalid rate limit policy")
)

// Limiter defines the rate limiting contract. Implementations must be safe for
// concurrent use.
type Limiter interface {
	// Check records a request for identifier under policy and reports whether
	// it is allowed. Errors are only returned for contract violations
	// (ErrEmptyIdentifier, ErrInvalidPolicy) or backend failures.
	Check(ctx context.Context, identifier string, policy Policy) (Decision, error)

	// Close stops background goroutines and releases resources.
	Close() error
}

// Policy is the pair of window length and maximum requests per window
// governing one class of protected operation.
type Policy struct {
	Window      time.Duration `yaml:"window" json:"window"`
	MaxRequests int           `yaml:"max_requests" json:"max_requests"`
}

// Validate reports whether the policy can be used by a limiter.
func (p Policy) Validate() error {
	if p.Window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %s", ErrInvalidPolicy, p.Window)
	}
	if p.MaxRequests <= 0 {
		return fmt.Errorf("%w: max requests must be positive, got %d", ErrInvalidPolicy, p.MaxRequests)
	}
	return nil
}

// String renders the policy as "5/1m0s".
func (p Policy) String() string {
	return fmt.Sprintf("%d/%s", p.MaxRequests, p.Window)
}

// Decision is the outcome of a single Check.
type Decision struct {
	Allowed    bool          // Whether the request may proceed
	Limit      int           // Maximum requests per window
	Remaining  int           // Requests left in the current window
	ResetAt    time.Time     // When the current window ends
	RetryAfter time.Duration // Time until ResetAt, only set when denied
}

// RetryAfterSeconds returns the number of whole seconds a denied caller should
// wait, rounded up and never less than one.
func (d Decision) RetryAfterSeconds() int {
	secs := int((d.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

func validateRequest(identifier string, policy Policy) error {
	if identifier == "" {
		return ErrEmptyIdentifier
	}
	return policy.Validate()
}

// Entries reports how many identifiers l currently tracks. Wrappers expose
// their inner limiter through an Unwrap method; ok is false when no limiter in
// the chain can count its entries.
func Entries(l Limiter) (n int, ok bool) {
	for l != nil {
		if c, isCounter := l.(interface{ Len() int }); isCounter {
			return c.Len(), true
		}
		u, isWrapper := l.(interface{ Unwrap() Limiter })
		if !isWrapper {
			break
		}
		l = u.Unwrap()
	}
	return 0, false
}
