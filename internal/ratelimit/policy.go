package ratelimit

import (
	"fmt"
	"sort"
	"time"
)

// Names of the built-in policies.
const (
	PolicyLogin            = "login"
	PolicyRegister         = "register"
	PolicySendVerification = "send_verification"
	PolicyVerifyEmail      = "verify_email"
	PolicyAPI              = "api"
)

// Policies maps a policy name to its limits.
type Policies map[string]Policy

// DefaultPolicies returns the built-in policy table.
//
// The register policy is deliberately permissive (100 per 10s) because that
// is what the web app ships with during development. Override it in config
// for production.
func DefaultPolicies() Policies {
	return Policies{
		PolicyLogin:            {Window: time.Minute, MaxRequests: 5},
		PolicyRegister:         {Window: 10 * time.Second, MaxRequests: 100},
		PolicySendVerification: {Window: time.Minute, MaxRequests: 3},
		PolicyVerifyEmail:      {Window: time.Minute, MaxRequests: 10},
		PolicyAPI:              {Window: time.Minute, MaxRequests: 120},
	}
}

// Lookup returns the named policy.
func (p Policies) Lookup(name string) (Policy, bool) {
	policy, ok := p[name]
	return policy, ok
}

// Names returns the policy names in sorted order.
func (p Policies) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge returns a copy of p with every policy in overrides added or replaced.
func (p Policies) Merge(overrides Policies) Policies {
	merged := make(Policies, len(p)+len(overrides))
	for name, policy := range p {
		merged[name] = policy
	}
	for name, policy := range overrides {
		merged[name] = policy
	}
	return merged
}

// Validate checks every policy in the table.
func (p Policies) Validate() error {
	for _, name := range p.Names() {
		if name == "" {
			return fmt.Errorf("policy name cannot be empty")
		}
		if err := p[name].Validate(); err != nil {
			return fmt.Errorf("policy %q: %w", name, err)
		}
	}
	return nil
}

// Key builds the limiter identifier for a request under a named policy, so the
// same client is counted separately per policy.
func Key(policyName, identifier string) string {
	return policyName + ":" + identifier
}
