package model

import (
	"time"

	"github.com/secmon-lab/icsrlink/pkg/domain/types"
)

// Acknowledgment is the intake service's asynchronous verdict on a submission
type Acknowledgment struct {
	Type           types.AckType `json:"type"`
	ExternalCaseID string        `json:"external_case_id,omitempty"`
	Message        string        `json:"message,omitempty"`
	Errors         []AckError    `json:"errors,omitempty"`
	ReceivedAt     time.Time     `json:"received_at"`
}

// IsFinal reports whether the acknowledgment settles the submission
func (a *Acknowledgment) IsFinal() bool {
	return a != nil && (a.Type == types.AckTypeAccepted || a.Type == types.AckTypeRejected)
}
