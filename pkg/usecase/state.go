package usecase

import (
	"context"
	"errors"
	"slices"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/interfaces"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
)

func (uc *UseCases) getCase(ctx context.Context, id model.CaseID) (*model.Case, error) {
	c, err := uc.repo.Case().Get(ctx, id)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, goerr.Wrap(ErrCaseNotFound, "case not found", goerr.V(CaseIDKey, id))
		}
		return nil, goerr.Wrap(err, "failed to get case", goerr.V(CaseIDKey, id))
	}
	return c, nil
}

func (uc *UseCases) getBatch(ctx context.Context, id model.BatchID) (*model.Batch, error) {
	b, err := uc.repo.Batch().Get(ctx, id)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, goerr.Wrap(ErrBatchNotFound, "batch not found", goerr.V(BatchIDKey, id))
		}
		return nil, goerr.Wrap(err, "failed to get batch", goerr.V(BatchIDKey, id))
	}
	return b, nil
}

// caseTransition describes one committed status change of a case
type caseTransition struct {
	from    types.CaseStatus
	to      types.CaseStatus
	event   types.HistoryEvent
	message string
	details map[string]string
	mutate  interfaces.CaseMutator
}

// transitionCase moves the case from t.from to t.to under compare-and-set and records the
// history entry. from == to edits the case under a status guard.
func (uc *UseCases) transitionCase(ctx context.Context, id model.CaseID, t caseTransition) (*model.Case, error) {
	if t.from != t.to && !t.from.CanTransitionTo(t.to) {
		return nil, goerr.Wrap(ErrInvalidTransition, "illegal case transition",
			goerr.V(CaseIDKey, id), goerr.V(StatusKey, t.from), goerr.V(TargetKey, t.to))
	}

	updated, err := uc.repo.Case().UpdateStatus(ctx, id, t.from, t.to, t.mutate)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, goerr.Wrap(ErrCaseNotFound, "case not found", goerr.V(CaseIDKey, id))
		}
		return nil, goerr.Wrap(err, "failed to update case status",
			goerr.V(CaseIDKey, id), goerr.V(StatusKey, t.from), goerr.V(TargetKey, t.to))
	}

	if t.event != "" {
		uc.record(ctx, &model.HistoryEntry{
			CaseID:     id,
			Event:      t.event,
			FromStatus: string(t.from),
			ToStatus:   string(t.to),
			Message:    t.message,
			Details:    t.details,
		})
	}
	return updated, nil
}

// requireCaseStatus fails with ErrInvalidTransition unless the case is in one of allowed
func requireCaseStatus(c *model.Case, allowed ...types.CaseStatus) error {
	if slices.Contains(allowed, c.Status) {
		return nil
	}
	return goerr.Wrap(ErrInvalidTransition, "operation is not allowed in the current case status",
		goerr.V(CaseIDKey, c.ID), goerr.V(StatusKey, c.Status), goerr.V("allowed", allowed))
}

type batchTransition struct {
	from    types.BatchStatus
	to      types.BatchStatus
	event   types.HistoryEvent
	message string
	details map[string]string
	mutate  interfaces.BatchMutator
}

func (uc *UseCases) transitionBatch(ctx context.Context, id model.BatchID, t batchTransition) (*model.Batch, error) {
	if t.from != t.to && !t.from.CanTransitionTo(t.to) {
		return nil, goerr.Wrap(ErrInvalidTransition, "illegal batch transition",
			goerr.V(BatchIDKey, id), goerr.V(StatusKey, t.from), goerr.V(TargetKey, t.to))
	}

	updated, err := uc.repo.Batch().UpdateStatus(ctx, id, t.from, t.to, t.mutate)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, goerr.Wrap(ErrBatchNotFound, "batch not found", goerr.V(BatchIDKey, id))
		}
		return nil, goerr.Wrap(err, "failed to update batch status",
			goerr.V(BatchIDKey, id), goerr.V(StatusKey, t.from), goerr.V(TargetKey, t.to))
	}

	if t.event != "" {
		uc.record(ctx, &model.HistoryEntry{
			BatchID:    id,
			Event:      t.event,
			FromStatus: string(t.from),
			ToStatus:   string(t.to),
			Message:    t.message,
			Details:    t.details,
		})
	}
	return updated, nil
}

func requireBatchStatus(b *model.Batch, allowed ...types.BatchStatus) error {
	if slices.Contains(allowed, b.Status) {
		return nil
	}
	return goerr.Wrap(ErrInvalidTransition, "operation is not allowed in the current batch status",
		goerr.V(BatchIDKey, b.ID), goerr.V(StatusKey, b.Status), goerr.V("allowed", allowed))
}
