package interfaces

import (
	"context"

	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
)

// CaseMutator edits a case inside a status transition. Returning an error aborts the
// transition and leaves the stored case unchanged.
type CaseMutator func(c *model.Case) error

// CaseRepository defines the interface for Case data access
type CaseRepository interface {
	// Create stores a new case. An ID is generated when empty; CreatedAt/UpdatedAt are set.
	Create(ctx context.Context, c *model.Case) (*model.Case, error)

	// Get retrieves a case by ID, wrapping ErrNotFound when absent
	Get(ctx context.Context, id model.CaseID) (*model.Case, error)

	// List retrieves cases with optional filtering, ordered by CreatedAt
	List(ctx context.Context, opts ...ListCaseOption) ([]*model.Case, error)

	// ListByParent returns the direct follow-ups of a case
	ListByParent(ctx context.Context, parentID model.CaseID) ([]*model.Case, error)

	// UpdateStatus atomically compares the stored status with from, applies mutate and sets
	// the status to to. from == to is allowed and edits the case under a status guard.
	// A mismatch wraps ErrStatusConflict and nothing is written.
	UpdateStatus(ctx context.Context, id model.CaseID, from, to types.CaseStatus, mutate CaseMutator) (*model.Case, error)
}
