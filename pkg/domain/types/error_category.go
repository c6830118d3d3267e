package types

import "fmt"

// ErrorCategory classifies a failure of the remote submission protocol
type ErrorCategory string

const (
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryNetwork        ErrorCategory = "network"
	ErrorCategoryRateLimit      ErrorCategory = "rate_limit"
	ErrorCategoryServerError    ErrorCategory = "server_error"
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// AllErrorCategories returns all valid error categories
func AllErrorCategories() []ErrorCategory {
	return []ErrorCategory{
		ErrorCategoryAuthentication,
		ErrorCategoryNetwork,
		ErrorCategoryRateLimit,
		ErrorCategoryServerError,
		ErrorCategoryValidation,
		ErrorCategoryUnknown,
	}
}

// IsValid checks if the error category is valid
func (c ErrorCategory) IsValid() bool {
	switch c {
	case ErrorCategoryAuthentication,
		ErrorCategoryNetwork,
		ErrorCategoryRateLimit,
		ErrorCategoryServerError,
		ErrorCategoryValidation,
		ErrorCategoryUnknown:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether a failure of this category may be retried automatically.
// Every other category needs user intervention.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case ErrorCategoryNetwork, ErrorCategoryRateLimit, ErrorCategoryServerError:
		return true
	default:
		return false
	}
}

// Remediation returns a short hint for the operator
func (c ErrorCategory) Remediation() string {
	switch c {
	case ErrorCategoryAuthentication:
		return "check gateway credentials"
	case ErrorCategoryNetwork:
		return "check connectivity and retry"
	case ErrorCategoryRateLimit:
		return "wait and retry"
	case ErrorCategoryServerError:
		return "intake service unavailable, retry later"
	case ErrorCategoryValidation:
		return "fix the report content and resubmit"
	default:
		return "inspect the error details"
	}
}

func (c ErrorCategory) String() string {
	return string(c)
}

// ParseErrorCategory parses a string into an ErrorCategory
func ParseErrorCategory(s string) (ErrorCategory, error) {
	c := ErrorCategory(s)
	if !c.IsValid() {
		return "", fmt.Errorf("invalid error category: %s", s)
	}
	return c, nil
}
