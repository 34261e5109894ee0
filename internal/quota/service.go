// Package quota turns named policies and a limiter into the decisions served
// over HTTP, and keeps the audit trail of denied requests.
package quota

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"noteprompt/internal/models"
	"noteprompt/internal/ratelimit"
	"noteprompt/internal/storage"
)

// Service handles named-policy rate limit checks and the violation audit.
type Service struct {
	limiter  ratelimit.Limiter
	policies ratelimit.Policies
	clock    ratelimit.Clock

	storage   storage.Storage
	audit     *rate.Limiter
	retention time.Duration
	skipped   atomic.Int64
}

// Option configures a Service.
type Option func(*Service)

// WithAudit records denials in store. Writes are throttled to
// cfg.WritesPerSecond with bursts of cfg.Burst; violations older than
// cfg.Retention are removed by PurgeExpired.
func WithAudit(store storage.Storage, cfg models.AuditConfig) Option {
	return func(s *Service) {
		s.storage = store
		s.audit = rate.NewLimiter(rate.Limit(cfg.WritesPerSecond), cfg.Burst)
		s.retention = cfg.Retention
	}
}

// WithClock replaces the clock used to stamp violations.
func WithClock(c ratelimit.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// NewService creates a quota service over the given limiter and policy table.
func NewService(limiter ratelimit.Limiter, policies ratelimit.Policies, opts ...Option) *Service {
	s := &Service{
		limiter:  limiter,
		policies: policies,
		clock:    ratelimit.SystemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check resolves the named policy and asks the limiter for a decision keyed by
// policy and identifier. Denials are reported as a response, not an error.
func (s *Service) Check(ctx context.Context, req *models.CheckRequest) (*models.CheckResponse, error) {
	if req == nil {
		return nil, NewInvalidRequestError("request body is required", nil)
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, NewValidationError(err.Error(), err)
	}

	policy, ok := s.policies.Lookup(req.Policy)
	if !ok {
		return nil, NewPolicyNotFoundError(req.Policy)
	}

	decision, err := s.limiter.Check(ctx, ratelimit.Key(req.Policy, req.Identifier), policy)
	if err != nil {
		if errors.Is(err, ratelimit.ErrEmptyIdentifier) || errors.Is(err, ratelimit.ErrInvalidPolicy) {
			return nil, NewValidationError("rate limit check rejected", err)
		}
		return nil, NewUnavailableError("rate limiter unavailable", err)
	}

	if !decision.Allowed {
		s.recordViolation(ctx, req, policy, decision)
	}

	return models.NewCheckResponse(req.Policy, decision), nil
}

// recordViolation writes an audit entry for a denial. Failures are logged and
// never change the decision.
func (s *Service) recordViolation(ctx context.Context, req *models.CheckRequest, policy ratelimit.Policy, decision ratelimit.Decision) {
	if s.storage == nil {
		return
	}

	if !s.audit.Allow() {
		s.skipped.Add(1)
		slog.Debug("Skipped violation audit write",
			"identifier", req.Identifier,
			"policy", req.Policy,
		)
		return
	}

	v := models.NewViolation(req.Identifier, req.Policy, policy, decision, s.clock.Now())
	if err := s.storage.RecordViolation(ctx, v); err != nil {
		slog.Error("Failed to record violation",
			"identifier", req.Identifier,
			"policy", req.Policy,
			"error", err,
		)
	}
}

// SkippedAudits returns how many violation writes were dropped by throttling.
func (s *Service) SkippedAudits() int64 {
	return s.skipped.Load()
}

// Policies returns the configured policies sorted by name.
func (s *Service) Policies(ctx context.Context) *models.ListPoliciesResponse {
	return models.NewListPoliciesResponse(s.policies)
}

// Violations lists recorded denials matching req, newest first.
func (s *Service) Violations(ctx context.Context, req *models.ListViolationsRequest) (*models.ListViolationsResponse, error) {
	if s.storage == nil {
		return nil, NewUnavailableError("violation audit is disabled", nil)
	}
	if req == nil {
		req = &models.ListViolationsRequest{}
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, NewValidationError(err.Error(), err)
	}

	violations, err := s.storage.Violations(ctx, req.Filter())
	if err != nil {
		return nil, NewInternalError("failed to list violations", err)
	}

	resp := &models.ListViolationsResponse{
		Violations: make([]models.ViolationInfo, len(violations)),
		Count:      len(violations),
		Limit:      req.Limit,
	}
	for i, v := range violations {
		resp.Violations[i].FromViolation(v)
	}
	return resp, nil
}

// PurgeExpired deletes violations older than the retention period as of now.
// It is a no-op without audit storage or with a zero retention.
func (s *Service) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	if s.storage == nil || s.retention <= 0 {
		return 0, nil
	}
	removed, err := s.storage.PurgeViolations(ctx, now.Add(-s.retention))
	if err != nil {
		return 0, NewInternalError("failed to purge violations", err)
	}
	return removed, nil
}

// RunRetention calls PurgeExpired every interval until ctx is done.
func (s *Service) RunRetention(ctx context.Context, interval time.Duration) {
	if s.storage == nil || s.retention <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.PurgeExpired(ctx, s.clock.Now())
			if err != nil {
				slog.Error("Violation retention failed", "error", err)
				continue
			}
			if removed > 0 {
				slog.Info("Purged expired violations",
					"removed", removed,
					"retention", s.retention,
				)
			}
		}
	}
}

// Ping checks the audit storage. Without one there is nothing to check.
func (s *Service) Ping(ctx context.Context) error {
	if s.storage == nil {
		return nil
	}
	return s.storage.Ping(ctx)
}

// Entries reports how many identifiers the limiter currently tracks.
func (s *Service) Entries() (int, bool) {
	return ratelimit.Entries(s.limiter)
}
