package interfaces

import (
	"context"

	"github.com/secmon-lab/icsrlink/pkg/domain/model"
)

// AttemptRepository stores submission attempts. Records are append-only and never deleted.
type AttemptRepository interface {
	// Create assigns ID and the next AttemptNumber of the attempt's subject atomically
	Create(ctx context.Context, a *model.SubmissionAttempt) (*model.SubmissionAttempt, error)

	// Complete writes the final outcome of an in-progress attempt. It wraps
	// ErrAttemptCompleted when the stored attempt is already final.
	Complete(ctx context.Context, a *model.SubmissionAttempt) error

	// ListByCase and ListByBatch return attempts ordered by AttemptNumber
	ListByCase(ctx context.Context, caseID model.CaseID) ([]*model.SubmissionAttempt, error)
	ListByBatch(ctx context.Context, batchID model.BatchID) ([]*model.SubmissionAttempt, error)
}
