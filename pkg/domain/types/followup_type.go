package types

// FollowupType describes how a case version relates to its parent
type FollowupType string

const (
	FollowupTypeInitial       FollowupType = "initial"
	FollowupTypeFollowUp      FollowupType = "follow_up"
	FollowupTypeNullification FollowupType = "nullification"
)

// IsValid checks if the follow-up type is valid
func (t FollowupType) IsValid() bool {
	switch t {
	case FollowupTypeInitial, FollowupTypeFollowUp, FollowupTypeNullification:
		return true
	default:
		return false
	}
}

// Normalize treats empty as FollowupTypeInitial
func (t FollowupType) Normalize() FollowupType {
	if t == "" {
		return FollowupTypeInitial
	}
	return t
}

func (t FollowupType) String() string {
	return string(t)
}
