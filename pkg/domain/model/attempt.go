package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
)

// AttemptID is a UUID-based identifier for SubmissionAttempt
type AttemptID string

// NewAttemptID generates a new UUID v4 AttemptID
func NewAttemptID() AttemptID {
	return AttemptID(uuid.New().String())
}

// SubmissionAttempt records one execution of the remote submission protocol for a case or a
// batch. Records are append-only: created when the attempt starts, completed exactly once.
type SubmissionAttempt struct {
	ID            AttemptID            `json:"id"`
	CaseID        CaseID               `json:"case_id,omitempty"`
	BatchID       BatchID              `json:"batch_id,omitempty"`
	AttemptNumber int                  `json:"attempt_number"`
	Environment   types.Environment    `json:"environment"`
	Outcome       types.AttemptOutcome `json:"outcome"`
	LastStep      types.ProtocolStep   `json:"last_step,omitempty"`

	ErrorCategory types.ErrorCategory `json:"error_category,omitempty"`
	ErrorMessage  string              `json:"error_message,omitempty"`
	HTTPStatus    int                 `json:"http_status,omitempty"`

	SubmissionID   string        `json:"submission_id,omitempty"`
	TrackingID     string        `json:"tracking_id,omitempty"`
	AckType        types.AckType `json:"ack_type,omitempty"`
	ExternalCaseID string        `json:"external_case_id,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SubjectKey identifies the case or batch the attempt belongs to. Attempt numbers are unique
// per subject key.
func (a *SubmissionAttempt) SubjectKey() string {
	if a.BatchID != "" {
		return "batch:" + string(a.BatchID)
	}
	return "case:" + string(a.CaseID)
}

// Clone returns a deep copy of the attempt
func (a *SubmissionAttempt) Clone() *SubmissionAttempt {
	if a == nil {
		return nil
	}
	copied := *a
	copied.CompletedAt = cloneTime(a.CompletedAt)
	return &copied
}
