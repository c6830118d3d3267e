package types

// Severity of a validation finding. Only SeverityError blocks generation.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// IsValid checks if the severity is valid
func (s Severity) IsValid() bool {
	return s == SeverityError || s == SeverityWarning
}

func (s Severity) String() string {
	return string(s)
}
