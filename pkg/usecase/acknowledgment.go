package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/interfaces"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
	"github.com/secmon-lab/icsrlink/pkg/utils/logging"
)

// PollOutcome is the result of checking one submission for an acknowledgment
type PollOutcome string

const (
	PollOutcomePending        PollOutcome = "pending"
	PollOutcomeAcknowledged   PollOutcome = "acknowledged"
	PollOutcomeRejected       PollOutcome = "rejected"
	PollOutcomeNeedsAttention PollOutcome = "needs_attention"
)

var errAlreadyFlagged = errors.New("already flagged for attention")

type AcknowledgmentUseCase struct {
	uc *UseCases
}

// PendingCases returns the cases that are waiting for an acknowledgment
func (a *AcknowledgmentUseCase) PendingCases(ctx context.Context) ([]*model.Case, error) {
	cases, err := a.uc.repo.Case().List(ctx, interfaces.WithStatus(types.CaseStatusSubmitted))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list submitted cases")
	}
	return cases, nil
}

// PendingBatches returns the batches that are waiting for an acknowledgment
func (a *AcknowledgmentUseCase) PendingBatches(ctx context.Context) ([]*model.Batch, error) {
	batches, err := a.uc.repo.Batch().List(ctx, interfaces.WithBatchStatus(types.BatchStatusSubmitted))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list submitted batches")
	}
	return batches, nil
}

// PollCase queries the acknowledgment of a submitted case and applies it. A pending
// acknowledgment past the timeout flags the case for attention once.
func (a *AcknowledgmentUseCase) PollCase(ctx context.Context, id model.CaseID) (PollOutcome, error) {
	if a.uc.gateway == nil {
		return "", goerr.Wrap(ErrGatewayNotConfigured, "cannot poll case", goerr.V(CaseIDKey, id))
	}

	c, err := a.uc.getCase(ctx, id)
	if err != nil {
		return "", err
	}
	if err := requireCaseStatus(c, types.CaseStatusSubmitted); err != nil {
		return "", err
	}

	ack, err := a.uc.gateway.GetAcknowledgment(ctx, c.SubmissionID)
	if err != nil {
		return "", goerr.Wrap(err, "failed to query acknowledgment",
			goerr.V(CaseIDKey, id), goerr.V(SubmissionKey, c.SubmissionID))
	}

	if ack.IsFinal() {
		updated, err := a.RecordCaseAcknowledgment(ctx, id, ack)
		if err != nil {
			return "", err
		}
		if updated.Status == types.CaseStatusRejected {
			return PollOutcomeRejected, nil
		}
		return PollOutcomeAcknowledged, nil
	}

	if !a.overdue(c.SubmittedAt, c.NeedsAttention) {
		return PollOutcomePending, nil
	}

	_, err = a.uc.transitionCase(ctx, id, caseTransition{
		from:    types.CaseStatusSubmitted,
		to:      types.CaseStatusSubmitted,
		event:   types.HistoryEventNeedsAttention,
		message: "no acknowledgment received within " + a.uc.ackTimeout.String(),
		details: map[string]string{SubmissionKey: c.SubmissionID},
		mutate: func(stored *model.Case) error {
			if stored.NeedsAttention {
				return errAlreadyFlagged
			}
			stored.NeedsAttention = true
			return nil
		},
	})
	switch {
	case errors.Is(err, errAlreadyFlagged):
		return PollOutcomePending, nil
	case err != nil:
		return "", err
	}

	logging.From(ctx).Warn("acknowledgment overdue", "case_id", id, "submission_id", c.SubmissionID)
	return PollOutcomeNeedsAttention, nil
}

// PollBatch queries the acknowledgment of a submitted batch and applies it
func (a *AcknowledgmentUseCase) PollBatch(ctx context.Context, id model.BatchID) (PollOutcome, error) {
	if a.uc.gateway == nil {
		return "", goerr.Wrap(ErrGatewayNotConfigured, "cannot poll batch", goerr.V(BatchIDKey, id))
	}

	batch, err := a.uc.getBatch(ctx, id)
	if err != nil {
		return "", err
	}
	if err := requireBatchStatus(batch, types.BatchStatusSubmitted); err != nil {
		return "", err
	}

	ack, err := a.uc.gateway.GetAcknowledgment(ctx, batch.SubmissionID)
	if err != nil {
		return "", goerr.Wrap(err, "failed to query acknowledgment",
			goerr.V(BatchIDKey, id), goerr.V(SubmissionKey, batch.SubmissionID))
	}

	if ack.IsFinal() {
		updated, err := a.uc.Batch.RecordAcknowledgment(ctx, id, ack)
		if err != nil {
			return "", err
		}
		if updated.Status == types.BatchStatusRejected {
			return PollOutcomeRejected, nil
		}
		return PollOutcomeAcknowledged, nil
	}

	if !a.overdue(batch.SubmittedAt, batch.NeedsAttention) {
		return PollOutcomePending, nil
	}

	_, err = a.uc.transitionBatch(ctx, id, batchTransition{
		from:    types.BatchStatusSubmitted,
		to:      types.BatchStatusSubmitted,
		event:   types.HistoryEventNeedsAttention,
		message: "no acknowledgment received within " + a.uc.ackTimeout.String(),
		details: map[string]string{SubmissionKey: batch.SubmissionID},
		mutate: func(stored *model.Batch) error {
			if stored.NeedsAttention {
				return errAlreadyFlagged
			}
			stored.NeedsAttention = true
			return nil
		},
	})
	switch {
	case errors.Is(err, errAlreadyFlagged):
		return PollOutcomePending, nil
	case err != nil:
		return "", err
	}
	return PollOutcomeNeedsAttention, nil
}

func (a *AcknowledgmentUseCase) overdue(submittedAt *time.Time, flagged bool) bool {
	if flagged || submittedAt == nil || a.uc.ackTimeout <= 0 {
		return false
	}
	return a.uc.now().Sub(*submittedAt) >= a.uc.ackTimeout
}

// RecordCaseAcknowledgment settles a submitted case with a final acknowledgment
func (a *AcknowledgmentUseCase) RecordCaseAcknowledgment(ctx context.Context, id model.CaseID, ack *model.Acknowledgment) (*model.Case, error) {
	if !ack.IsFinal() {
		return nil, goerr.Wrap(ErrAckNotFinal, "cannot record acknowledgment", goerr.V(CaseIDKey, id))
	}

	c, err := a.uc.getCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireCaseStatus(c, types.CaseStatusSubmitted); err != nil {
		return nil, err
	}

	to, event := types.CaseStatusAcknowledged, types.HistoryEventAcknowledged
	if ack.Type == types.AckTypeRejected {
		to, event = types.CaseStatusRejected, types.HistoryEventRejected
	}

	acknowledgedAt := a.uc.timestamp()
	return a.uc.transitionCase(ctx, id, caseTransition{
		from:    types.CaseStatusSubmitted,
		to:      to,
		event:   event,
		message: ackMessage(ack),
		details: ackDetails(ack),
		mutate: func(stored *model.Case) error {
			stored.AckType = ack.Type
			stored.AckErrors = ack.Errors
			if ack.ExternalCaseID != "" {
				stored.ExternalCaseID = ack.ExternalCaseID
			}
			stored.AcknowledgedAt = &acknowledgedAt
			stored.NeedsAttention = false
			return nil
		},
	})
}
