package types

// WorkflowStatus is the fine-grained editorial state of a case. It is tracked alongside
// CaseStatus but carries no transition rules of its own.
type WorkflowStatus string

const (
	WorkflowStatusDataEntry     WorkflowStatus = "data_entry"
	WorkflowStatusMedicalReview WorkflowStatus = "medical_review"
	WorkflowStatusQualityReview WorkflowStatus = "quality_review"
	WorkflowStatusApproved      WorkflowStatus = "approved"
)

// IsValid checks if the workflow status is valid
func (s WorkflowStatus) IsValid() bool {
	switch s {
	case WorkflowStatusDataEntry,
		WorkflowStatusMedicalReview,
		WorkflowStatusQualityReview,
		WorkflowStatusApproved:
		return true
	default:
		return false
	}
}

// Normalize returns the status, treating empty as WorkflowStatusDataEntry
func (s WorkflowStatus) Normalize() WorkflowStatus {
	if s == "" {
		return WorkflowStatusDataEntry
	}
	return s
}

func (s WorkflowStatus) String() string {
	return string(s)
}
