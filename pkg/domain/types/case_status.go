package types

import "fmt"

// CaseStatus represents the submission lifecycle status of a case
type CaseStatus string

const (
	CaseStatusDraft            CaseStatus = "draft"
	CaseStatusReadyForExport   CaseStatus = "ready_for_export"
	CaseStatusExported         CaseStatus = "exported"
	CaseStatusSubmitting       CaseStatus = "submitting"
	CaseStatusSubmitted        CaseStatus = "submitted"
	CaseStatusAcknowledged     CaseStatus = "acknowledged"
	CaseStatusRejected         CaseStatus = "rejected"
	CaseStatusSubmissionFailed CaseStatus = "submission_failed"
)

// caseTransitions lists the legal target states for every source state.
var caseTransitions = map[CaseStatus][]CaseStatus{
	CaseStatusDraft:            {CaseStatusReadyForExport},
	CaseStatusReadyForExport:   {CaseStatusExported, CaseStatusDraft},
	CaseStatusExported:         {CaseStatusSubmitting, CaseStatusDraft},
	CaseStatusSubmitting:       {CaseStatusSubmitted, CaseStatusSubmissionFailed},
	CaseStatusSubmitted:        {CaseStatusAcknowledged, CaseStatusRejected},
	CaseStatusSubmissionFailed: {CaseStatusSubmitting, CaseStatusDraft},
	CaseStatusAcknowledged:     {},
	CaseStatusRejected:         {},
}

// AllCaseStatuses returns all valid case statuses
func AllCaseStatuses() []CaseStatus {
	return []CaseStatus{
		CaseStatusDraft,
		CaseStatusReadyForExport,
		CaseStatusExported,
		CaseStatusSubmitting,
		CaseStatusSubmitted,
		CaseStatusAcknowledged,
		CaseStatusRejected,
		CaseStatusSubmissionFailed,
	}
}

// IsValid checks if the case status is valid
func (s CaseStatus) IsValid() bool {
	_, ok := caseTransitions[s]
	return ok
}

// Normalize returns the status, treating empty as CaseStatusDraft for records created before
// the status column existed.
func (s CaseStatus) Normalize() CaseStatus {
	if s == "" {
		return CaseStatusDraft
	}
	return s
}

// CanTransitionTo reports whether moving from s to next is a legal lifecycle step
func (s CaseStatus) CanTransitionTo(next CaseStatus) bool {
	for _, allowed := range caseTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible for this version
func (s CaseStatus) IsTerminal() bool {
	targets, ok := caseTransitions[s]
	return ok && len(targets) == 0
}

// String returns the string representation of the case status
func (s CaseStatus) String() string {
	return string(s)
}

// ParseCaseStatus parses a string into a CaseStatus
func ParseCaseStatus(s string) (CaseStatus, error) {
	status := CaseStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid case status: %s", s)
	}
	return status, nil
}
