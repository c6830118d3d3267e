package types

// HistoryEvent is the kind of a submission history entry
type HistoryEvent string

const (
	HistoryEventCreated          HistoryEvent = "created"
	HistoryEventUpdated          HistoryEvent = "updated"
	HistoryEventReadyForExport   HistoryEvent = "ready_for_export"
	HistoryEventExported         HistoryEvent = "exported"
	HistoryEventSubmitting       HistoryEvent = "submitting"
	HistoryEventSubmitted        HistoryEvent = "submitted"
	HistoryEventSubmissionFailed HistoryEvent = "submission_failed"
	HistoryEventRetried          HistoryEvent = "retried"
	HistoryEventCancelled        HistoryEvent = "cancelled"
	HistoryEventAcknowledged     HistoryEvent = "acknowledged"
	HistoryEventRejected         HistoryEvent = "rejected"
	HistoryEventNeedsAttention   HistoryEvent = "needs_attention"
	HistoryEventReturnedToDraft  HistoryEvent = "returned_to_draft"
	HistoryEventFollowupCreated  HistoryEvent = "followup_created"
	HistoryEventNullified        HistoryEvent = "nullified"

	HistoryEventBatchCreated      HistoryEvent = "batch_created"
	HistoryEventBatchValidated    HistoryEvent = "batch_validated"
	HistoryEventBatchExported     HistoryEvent = "batch_exported"
	HistoryEventBatchSubmitted    HistoryEvent = "batch_submitted"
	HistoryEventBatchAcknowledged HistoryEvent = "batch_acknowledged"
	HistoryEventBatchRejected     HistoryEvent = "batch_rejected"
	HistoryEventBatchFailed       HistoryEvent = "batch_failed"
	HistoryEventBatchDeleted      HistoryEvent = "batch_deleted"
)

// IsAlert reports whether the event should be brought to an operator's attention
func (e HistoryEvent) IsAlert() bool {
	switch e {
	case HistoryEventSubmissionFailed,
		HistoryEventRejected,
		HistoryEventNeedsAttention,
		HistoryEventBatchRejected,
		HistoryEventBatchFailed:
		return true
	default:
		return false
	}
}

func (e HistoryEvent) String() string {
	return string(e)
}
