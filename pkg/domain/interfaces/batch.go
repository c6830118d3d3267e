package interfaces

import (
	"context"
	"slices"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
)

// BatchMutator edits a batch inside a status transition
type BatchMutator func(b *model.Batch) error

// BatchRepository defines the interface for submission batches and their memberships
type BatchRepository interface {
	Create(ctx context.Context, b *model.Batch) (*model.Batch, error)
	Get(ctx context.Context, id model.BatchID) (*model.Batch, error)
	List(ctx context.Context, opts ...ListBatchOption) ([]*model.Batch, error)

	// UpdateStatus follows the same compare-and-set contract as CaseRepository.UpdateStatus
	UpdateStatus(ctx context.Context, id model.BatchID, from, to types.BatchStatus, mutate BatchMutator) (*model.Batch, error)

	// Delete removes the batch and its membership rows only when its status equals
	// expected. Member cases are not touched.
	Delete(ctx context.Context, id model.BatchID, expected types.BatchStatus) error

	// AddCase adds a membership. It wraps ErrCaseInActiveBatch when the case already belongs
	// to an active batch, including this one. When editable is given, the batch status is
	// checked against it in the same transaction and ErrStatusConflict is wrapped on mismatch.
	AddCase(ctx context.Context, bc *model.BatchCase, editable ...types.BatchStatus) error

	// RemoveCase deletes a membership, wrapping ErrNotFound when absent. editable is checked
	// the same way as in AddCase.
	RemoveCase(ctx context.Context, batchID model.BatchID, caseID model.CaseID, editable ...types.BatchStatus) error

	// ListCases returns the memberships of a batch ordered by AddedAt
	ListCases(ctx context.Context, batchID model.BatchID) ([]*model.BatchCase, error)

	// SaveCaseResults overwrites the validation outcome of existing memberships
	SaveCaseResults(ctx context.Context, batchID model.BatchID, results []*model.BatchCase) error

	// FindActiveBatch returns the active batch holding the case, or nil when none does
	FindActiveBatch(ctx context.Context, caseID model.CaseID) (*model.Batch, error)
}

// RequireBatchStatus wraps ErrStatusConflict unless allowed is empty or contains status
func RequireBatchStatus(id model.BatchID, status types.BatchStatus, allowed []types.BatchStatus) error {
	if len(allowed) == 0 || slices.Contains(allowed, status) {
		return nil
	}
	return goerr.Wrap(ErrStatusConflict, "batch membership cannot change in this status",
		goerr.V("id", id), goerr.V("status", status), goerr.V("allowed", allowed))
}
