package types

// AttemptOutcome is the final (or current) state of one submission attempt
type AttemptOutcome string

const (
	AttemptOutcomeInProgress AttemptOutcome = "in_progress"
	AttemptOutcomeSuccess    AttemptOutcome = "success"
	AttemptOutcomeFailed     AttemptOutcome = "failed"
	AttemptOutcomeCancelled  AttemptOutcome = "cancelled"
)

// IsFinal reports whether the attempt has completed
func (o AttemptOutcome) IsFinal() bool {
	return o == AttemptOutcomeSuccess || o == AttemptOutcomeFailed || o == AttemptOutcomeCancelled
}

func (o AttemptOutcome) String() string {
	return string(o)
}

// ProtocolStep is one discrete call of the remote submission protocol
type ProtocolStep string

const (
	ProtocolStepAuthenticate ProtocolStep = "authenticate"
	ProtocolStepCreate       ProtocolStep = "create_submission"
	ProtocolStepUpload       ProtocolStep = "upload_payload"
	ProtocolStepFinalize     ProtocolStep = "finalize"

	// ProtocolStepAcknowledgment is the polling call made after a successful finalize
	ProtocolStepAcknowledgment ProtocolStep = "get_acknowledgment"
)

// ProtocolSteps returns the steps in execution order
func ProtocolSteps() []ProtocolStep {
	return []ProtocolStep{
		ProtocolStepAuthenticate,
		ProtocolStepCreate,
		ProtocolStepUpload,
		ProtocolStepFinalize,
	}
}

func (s ProtocolStep) String() string {
	return string(s)
}

// Environment is the intake service environment a submission was sent to
type Environment string

const (
	EnvironmentTest       Environment = "test"
	EnvironmentProduction Environment = "production"
)

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	return e == EnvironmentTest || e == EnvironmentProduction
}

func (e Environment) String() string {
	return string(e)
}

// AckType is the acknowledgment verdict returned by the intake service
type AckType string

const (
	AckTypePending  AckType = "pending"
	AckTypeAccepted AckType = "accepted"
	AckTypeRejected AckType = "rejected"
)

// IsValid checks if the ack type is valid
func (a AckType) IsValid() bool {
	switch a {
	case AckTypePending, AckTypeAccepted, AckTypeRejected:
		return true
	default:
		return false
	}
}

func (a AckType) String() string {
	return string(a)
}
