package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
)

// BatchID is a UUID-based identifier for Batch
type BatchID string

// NewBatchID generates a new UUID v4 BatchID
func NewBatchID() BatchID {
	return BatchID(uuid.New().String())
}

func (id BatchID) String() string {
	return string(id)
}

// Batch groups cases that are exported and submitted as one envelope document
type Batch struct {
	ID          BatchID           `json:"id"`
	Number      string            `json:"number"`
	Type        types.BatchType   `json:"type"`
	Status      types.BatchStatus `json:"status"`
	Description string            `json:"description,omitempty"`

	ValidCases   int `json:"valid_cases"`
	InvalidCases int `json:"invalid_cases"`

	ExportLocation    string              `json:"export_location,omitempty"`
	ExportedAt        *time.Time          `json:"exported_at,omitempty"`
	SubmissionID      string              `json:"submission_id,omitempty"`
	TrackingID        string              `json:"tracking_id,omitempty"`
	AckType           types.AckType       `json:"ack_type,omitempty"`
	AckErrors         []AckError          `json:"ack_errors,omitempty"`
	LastError         string              `json:"last_error,omitempty"`
	LastErrorCategory types.ErrorCategory `json:"last_error_category,omitempty"`
	NeedsAttention    bool                `json:"needs_attention"`
	SubmittedAt       *time.Time          `json:"submitted_at,omitempty"`
	AcknowledgedAt    *time.Time          `json:"acknowledged_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the batch
func (b *Batch) Clone() *Batch {
	if b == nil {
		return nil
	}
	copied := *b
	if b.AckErrors != nil {
		copied.AckErrors = make([]AckError, len(b.AckErrors))
		copy(copied.AckErrors, b.AckErrors)
	}
	copied.ExportedAt = cloneTime(b.ExportedAt)
	copied.SubmittedAt = cloneTime(b.SubmittedAt)
	copied.AcknowledgedAt = cloneTime(b.AcknowledgedAt)
	return &copied
}

// BatchCase is the membership of a case in a batch with its last validation outcome.
// IsValid is nil until the batch has been validated.
type BatchCase struct {
	BatchID     BatchID          `json:"batch_id"`
	CaseID      CaseID           `json:"case_id"`
	IsValid     *bool            `json:"is_valid,omitempty"`
	Errors      ValidationErrors `json:"errors,omitempty"`
	ValidatedAt *time.Time       `json:"validated_at,omitempty"`
	AddedAt     time.Time        `json:"added_at"`
}

// Clone returns a deep copy of the membership
func (bc *BatchCase) Clone() *BatchCase {
	if bc == nil {
		return nil
	}
	copied := *bc
	if bc.IsValid != nil {
		v := *bc.IsValid
		copied.IsValid = &v
	}
	if bc.Errors != nil {
		copied.Errors = make(ValidationErrors, len(bc.Errors))
		copy(copied.Errors, bc.Errors)
	}
	copied.ValidatedAt = cloneTime(bc.ValidatedAt)
	return &copied
}

// BatchSequenceScope returns the counter scope used for batch numbers of the given day (UTC)
func BatchSequenceScope(day time.Time) string {
	return "batch:" + day.UTC().Format("20060102")
}

// FormatBatchNumber renders the human-readable batch number ICSR-YYYYMMDD-NNNN
func FormatBatchNumber(day time.Time, seq int64) string {
	return fmt.Sprintf("ICSR-%s-%04d", day.UTC().Format("20060102"), seq)
}
