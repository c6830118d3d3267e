package types

import "fmt"

// ReportType is the type of report (spontaneous, study, ...)
type ReportType string

const (
	ReportTypeSpontaneous  ReportType = "spontaneous"
	ReportTypeStudy        ReportType = "study"
	ReportTypeOther        ReportType = "other"
	ReportTypeNotAvailable ReportType = "not_available"
)

// AllReportTypes returns all valid report types
func AllReportTypes() []ReportType {
	return []ReportType{
		ReportTypeSpontaneous,
		ReportTypeStudy,
		ReportTypeOther,
		ReportTypeNotAvailable,
	}
}

// IsValid checks if the report type is valid
func (t ReportType) IsValid() bool {
	switch t {
	case ReportTypeSpontaneous,
		ReportTypeStudy,
		ReportTypeOther,
		ReportTypeNotAvailable:
		return true
	default:
		return false
	}
}

func (t ReportType) String() string {
	return string(t)
}

// ParseReportType parses a string into a ReportType
func ParseReportType(s string) (ReportType, error) {
	t := ReportType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("invalid report type: %s", s)
	}
	return t, nil
}
