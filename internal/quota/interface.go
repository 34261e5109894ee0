package quota

import (
	"context"

	"noteprompt/internal/models"
)

// ServiceInterface defines the interface for quota service operations
type ServiceInterface interface {
	// Check records one request against a named policy and returns the decision
	Check(ctx context.Context, req *models.CheckRequest) (*models.CheckResponse, error)

	// Policies lists the configured named policies
	Policies(ctx context.Context) *models.ListPoliciesResponse

	// Violations lists recorded denials, newest first
	Violations(ctx context.Context, req *models.ListViolationsRequest) (*models.ListViolationsResponse, error)

	// Ping checks the audit storage, if any
	Ping(ctx context.Context) error

	// Entries reports how many identifiers the limiter tracks
	Entries() (int, bool)
}

// Ensure Service implements ServiceInterface
var _ ServiceInterface = (*Service)(nil)
