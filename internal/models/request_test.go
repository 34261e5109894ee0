package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckRequest_Validate(t *testing.T) {
	tests := []struct {
		name        string
		request     CheckRequest
		expectError bool
		errorMsg    string
	}{
		{
			name:    "valid request",
			request: CheckRequest{Identifier: "192.0.2.10", Policy: "login"},
		},
		{
			name:        "missing identifier",
			request:     CheckRequest{Policy: "login"},
			expectError: true,
			errorMsg:    "identifier is required",
		},
		{
			name:        "identifier too long",
			request:     CheckRequest{Identifier: strings.Repeat("a", MaxIdentifierLength+1), Policy: "login"},
			expectError: true,
			errorMsg:    "identifier cannot exceed",
		},
		{
			name:        "missing policy",
			request:     CheckRequest{Identifier: "user-1"},
			expectError: true,
			errorMsg:    "policy is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.request.Validate()

			if tt.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckRequest_Normalize(t *testing.T) {
	req := CheckRequest{Identifier: "  user-1 ", Policy: " login\t"}
	req.Normalize()

	assert.Equal(t, "user-1", req.Identifier)
	assert.Equal(t, "login", req.Policy)
}

func TestListViolationsRequest_Normalize(t *testing.T) {
	req := ListViolationsRequest{Identifier: " 10.0.0.1 ", Policy: " login "}
	req.Normalize()

	assert.Equal(t, "10.0.0.1", req.Identifier)
	assert.Equal(t, "login", req.Policy)
	assert.Equal(t, DefaultViolationsLimit, req.Limit)

	explicit := ListViolationsRequest{Limit: 10}
	explicit.Normalize()
	assert.Equal(t, 10, explicit.Limit)
}

func TestListViolationsRequest_Validate(t *testing.T) {
	assert.NoError(t, (&ListViolationsRequest{Limit: MaxViolationsLimit}).Validate())
	assert.ErrorContains(t, (&ListViolationsRequest{Limit: -1}).Validate(), "cannot be negative")
	assert.ErrorContains(t, (&ListViolationsRequest{Limit: MaxViolationsLimit + 1}).Validate(), "cannot exceed")
}

func TestListViolationsRequest_Filter(t *testing.T) {
	since := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	req := ListViolationsRequest{Identifier: "u", Policy: "api", Since: since, Limit: 25}

	assert.Equal(t, ViolationFilter{Identifier: "u", Policy: "api", Since: since, Limit: 25}, req.Filter())
}

func TestCheckRequest_Validate_ReportsEveryField(t *testing.T) {
	err := (&CheckRequest{}).Validate()

	assert.EqualError(t, err, "identifier is required; policy is required")
}
