package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/secmon-lab/icsrlink/pkg/domain/types"
	"golang.org/x/oauth2"
)

// Error is a failure of one protocol step, categorized for retry decisions
type Error struct {
	Category   types.ErrorCategory
	Step       types.ProtocolStep
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s failed (%s)", e.Step, e.Category)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": HTTP %d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the step may succeed when repeated
func (e *Error) Retryable() bool {
	return e.Category.IsRetryable()
}

// ClassifyStatus maps an HTTP status code of the intake service to an error category
func ClassifyStatus(code int) types.ErrorCategory {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return types.ErrorCategoryAuthentication
	case code == http.StatusTooManyRequests:
		return types.ErrorCategoryRateLimit
	case code >= 500:
		return types.ErrorCategoryServerError
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity || code == http.StatusConflict:
		return types.ErrorCategoryValidation
	case code == http.StatusRequestTimeout:
		return types.ErrorCategoryNetwork
	default:
		return types.ErrorCategoryUnknown
	}
}

// Classify returns the category of any error produced while talking to the intake service
func Classify(err error) types.ErrorCategory {
	if err == nil {
		return ""
	}

	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Category
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil {
			switch c := ClassifyStatus(retrieveErr.Response.StatusCode); c {
			case types.ErrorCategoryRateLimit, types.ErrorCategoryServerError:
				return c
			}
		}
		return types.ErrorCategoryAuthentication
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return types.ErrorCategoryNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return types.ErrorCategoryNetwork
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return types.ErrorCategoryNetwork
	}

	return types.ErrorCategoryUnknown
}

// StatusCode returns the HTTP status attached to err, or 0
func StatusCode(err error) int {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.StatusCode
	}
	return 0
}

// RetryAfter returns the server-requested wait attached to err, or 0
func RetryAfter(err error) time.Duration {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.RetryAfter
	}
	return 0
}
