package model

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
)

// ValidationError is one finding attributed to a field path such as "drugs[0].route"
type ValidationError struct {
	Field    string         `json:"field"`
	Message  string         `json:"message"`
	Severity types.Severity `json:"severity"`
}

func (e ValidationError) String() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors is the typed list persisted with validation outcomes
type ValidationErrors []ValidationError

// Errors returns the findings with error severity
func (e ValidationErrors) Errors() ValidationErrors {
	return e.filter(types.SeverityError)
}

// Warnings returns the findings with warning severity
func (e ValidationErrors) Warnings() ValidationErrors {
	return e.filter(types.SeverityWarning)
}

func (e ValidationErrors) filter(severity types.Severity) ValidationErrors {
	var out ValidationErrors
	for _, v := range e {
		if v.Severity == severity {
			out = append(out, v)
		}
	}
	return out
}

// HasErrors reports whether any finding blocks generation
func (e ValidationErrors) HasErrors() bool {
	for _, v := range e {
		if v.Severity == types.SeverityError {
			return true
		}
	}
	return false
}

// Validate checks that every entry is well formed before it is written to storage
func (e ValidationErrors) Validate() error {
	for i, v := range e {
		if !v.Severity.IsValid() {
			return goerr.Wrap(ErrMalformedValidationError, "invalid severity",
				goerr.V(IndexKey, i), goerr.V(SeverityKey, v.Severity))
		}
		if strings.TrimSpace(v.Message) == "" {
			return goerr.Wrap(ErrMalformedValidationError, "empty message",
				goerr.V(IndexKey, i), goerr.V(FieldKey, v.Field))
		}
	}
	return nil
}

// Summary joins the error messages for display in logs and history entries
func (e ValidationErrors) Summary() string {
	msgs := make([]string, 0, len(e))
	for _, v := range e {
		msgs = append(msgs, v.String())
	}
	return strings.Join(msgs, "; ")
}

// ValidationResult is the outcome of validating a case
type ValidationResult struct {
	Valid  bool             `json:"valid"`
	Errors ValidationErrors `json:"errors"`
}

// NewValidationResult builds a result whose Valid flag is derived from the findings
func NewValidationResult(errs ValidationErrors) *ValidationResult {
	return &ValidationResult{
		Valid:  !errs.HasErrors(),
		Errors: errs,
	}
}
