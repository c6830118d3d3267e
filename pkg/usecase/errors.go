package usecase

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/interfaces"
)

// Sentinel errors for use case layer
var (
	// Not found errors
	ErrCaseNotFound  = goerr.New("case not found")
	ErrBatchNotFound = goerr.New("batch not found")

	// State machine errors
	ErrInvalidTransition = goerr.New("transition is not allowed from the current status")
	ErrStatusConflict    = interfaces.ErrStatusConflict
	ErrCaseInActiveBatch = interfaces.ErrCaseInActiveBatch
	ErrAlreadyNullified  = goerr.New("case chain is already nullified")

	// Submission errors
	ErrSubmissionInProgress = goerr.New("submission is already in progress")
	ErrSubmissionCancelled  = goerr.New("submission was cancelled")
	ErrSubmissionNotRunning = goerr.New("no submission is running")
	ErrGatewayNotConfigured = goerr.New("submission gateway is not configured")
	ErrAckNotFinal          = goerr.New("acknowledgment is not final")

	// Document errors
	ErrValidationFailed    = goerr.New("case validation failed")
	ErrGenerationFailed    = goerr.New("document generation failed")
	ErrExportNotConfigured = goerr.New("export store is not configured")
	ErrInvalidBatchMembers = goerr.New("invalid batch members")
	ErrNullificationReason = goerr.New("nullification reason is required")
)

// Context keys for error values
const (
	CaseIDKey     = "case_id"
	BatchIDKey    = "batch_id"
	StatusKey     = "status"
	TargetKey     = "target"
	AttemptKey    = "attempt"
	CategoryKey   = "category"
	SubmissionKey = "submission_id"
)
