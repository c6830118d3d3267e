package types

import "fmt"

// BatchStatus represents the lifecycle status of a submission batch
type BatchStatus string

const (
	BatchStatusCreated          BatchStatus = "created"
	BatchStatusValidating       BatchStatus = "validating"
	BatchStatusValidated        BatchStatus = "validated"
	BatchStatusValidationFailed BatchStatus = "validation_failed"
	BatchStatusExporting        BatchStatus = "exporting"
	BatchStatusExported         BatchStatus = "exported"
	BatchStatusSubmitted        BatchStatus = "submitted"
	BatchStatusAcknowledged     BatchStatus = "acknowledged"
	BatchStatusRejected         BatchStatus = "rejected"
	BatchStatusFailed           BatchStatus = "failed"
)

var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchStatusCreated:          {BatchStatusValidating},
	BatchStatusValidating:       {BatchStatusValidated, BatchStatusValidationFailed},
	BatchStatusValidated:        {BatchStatusValidating, BatchStatusExporting},
	BatchStatusValidationFailed: {BatchStatusValidating},
	BatchStatusExporting:        {BatchStatusExported, BatchStatusValidationFailed, BatchStatusFailed},
	BatchStatusExported:         {BatchStatusSubmitted, BatchStatusFailed},
	BatchStatusSubmitted:        {BatchStatusAcknowledged, BatchStatusRejected},
	BatchStatusAcknowledged:     {},
	BatchStatusRejected:         {},
	BatchStatusFailed:           {},
}

// AllBatchStatuses returns all valid batch statuses
func AllBatchStatuses() []BatchStatus {
	return []BatchStatus{
		BatchStatusCreated,
		BatchStatusValidating,
		BatchStatusValidated,
		BatchStatusValidationFailed,
		BatchStatusExporting,
		BatchStatusExported,
		BatchStatusSubmitted,
		BatchStatusAcknowledged,
		BatchStatusRejected,
		BatchStatusFailed,
	}
}

// IsValid checks if the batch status is valid
func (s BatchStatus) IsValid() bool {
	_, ok := batchTransitions[s]
	return ok
}

// CanTransitionTo reports whether moving from s to next is a legal batch step
func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	for _, allowed := range batchTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsActive reports whether the batch still holds its member cases. A case may be a member of
// at most one active batch.
func (s BatchStatus) IsActive() bool {
	switch s {
	case BatchStatusAcknowledged, BatchStatusRejected, BatchStatusFailed:
		return false
	default:
		return true
	}
}

// CanValidate reports whether validation may be (re)run from this status
func (s BatchStatus) CanValidate() bool {
	return s.CanTransitionTo(BatchStatusValidating)
}

// String returns the string representation of the batch status
func (s BatchStatus) String() string {
	return string(s)
}

// ParseBatchStatus parses a string into a BatchStatus
func ParseBatchStatus(s string) (BatchStatus, error) {
	status := BatchStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid batch status: %s", s)
	}
	return status, nil
}
