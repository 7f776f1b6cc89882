package config

import (
	"fmt"

	"github.com/dgellow/authgate/internal/adapter"
	"github.com/dgellow/authgate/internal/provider"
	"github.com/dgellow/authgate/internal/session"
)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) errorf(path, format string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *ValidationResult) warnf(path, format string, args ...any) {
	v.Warnings = append(v.Warnings, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// Validate checks the normalized options for configuration errors a
// deployment operator must fix before the handler can run.
func Validate(o *Options) *ValidationResult {
	result := &ValidationResult{}

	if len(o.Secrets) == 0 {
		result.errorf("secrets", "at least one secret is required. Generate with: openssl rand -base64 32")
	}
	for i, s := range o.Secrets {
		if len(s) < 32 {
			result.warnf(fmt.Sprintf("secrets[%d]", i), "secret is shorter than 32 characters, which weakens the derived keys")
		}
	}

	if len(o.Providers) == 0 {
		result.errorf("providers", "at least one provider is required")
	}

	seen := map[string]bool{}
	for _, p := range o.Providers {
		path := "providers." + p.ID
		if seen[p.ID] {
			result.errorf(path, "duplicate provider id %q", p.ID)
			continue
		}
		seen[p.ID] = true

		if err := p.Validate(); err != nil {
			result.errorf(path, "%v", err)
		}

		// Credentials sign-ins produce no account record to hang a
		// database session on.
		if p.Type == provider.TypeCredentials && o.Session.Strategy == session.StrategyDatabase {
			result.errorf(path, "credentials provider requires the jwt session strategy")
		}

		if p.Type == provider.TypeEmail {
			if o.Adapter == nil {
				result.errorf(path, "email provider requires an adapter")
			} else if !adapter.SupportsVerificationTokens(o.Adapter) {
				result.errorf(path, "email provider requires an adapter with verification token support")
			}
		}
	}

	if o.Session.Strategy == session.StrategyDatabase && o.Adapter == nil {
		result.errorf("session.strategy", "database session strategy requires an adapter")
	}

	if !o.Secure() && !o.TrustHost {
		result.warnf("baseURL", "baseURL is not https; cookies are written without the Secure attribute")
	}

	return result
}
