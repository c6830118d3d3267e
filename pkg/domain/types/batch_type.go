package types

import "fmt"

// BatchType classifies why a group of cases is submitted together
type BatchType string

const (
	BatchTypeExpedited    BatchType = "expedited"
	BatchTypeNonExpedited BatchType = "non_expedited"
	BatchTypePeriodic     BatchType = "periodic"
	BatchTypeFollowup     BatchType = "followup"
)

// AllBatchTypes returns all valid batch types
func AllBatchTypes() []BatchType {
	return []BatchType{
		BatchTypeExpedited,
		BatchTypeNonExpedited,
		BatchTypePeriodic,
		BatchTypeFollowup,
	}
}

// IsValid checks if the batch type is valid
func (t BatchType) IsValid() bool {
	switch t {
	case BatchTypeExpedited,
		BatchTypeNonExpedited,
		BatchTypePeriodic,
		BatchTypeFollowup:
		return true
	default:
		return false
	}
}

// String returns the string representation of the batch type
func (t BatchType) String() string {
	return string(t)
}

// ParseBatchType parses a string into a BatchType
func ParseBatchType(s string) (BatchType, error) {
	t := BatchType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("invalid batch type: %s", s)
	}
	return t, nil
}
