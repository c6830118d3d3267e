package model

import "github.com/m-mizutani/goerr/v2"

// Validation errors
var (
	ErrMalformedValidationError = goerr.New("malformed validation error")
)

// Context keys for error values
const (
	IndexKey    = "index"
	FieldKey    = "field"
	SeverityKey = "severity"
)
