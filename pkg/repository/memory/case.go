package memory

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/interfaces"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
)

type caseRepository struct {
	mu    sync.RWMutex
	cases map[model.CaseID]*model.Case
	order []model.CaseID
}

func newCaseRepository() *caseRepository {
	return &caseRepository{
		cases: make(map[model.CaseID]*model.Case),
	}
}

func (r *caseRepository) Create(ctx context.Context, c *model.Case) (*model.Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	created := c.Clone()
	if created.ID == "" {
		created.ID = model.NewCaseID()
	}
	if _, exists := r.cases[created.ID]; exists {
		return nil, goerr.Wrap(interfaces.ErrAlreadyExists, "case already exists", goerr.V("id", created.ID))
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	created.CreatedAt = now
	created.UpdatedAt = now

	r.cases[created.ID] = created
	r.order = append(r.order, created.ID)
	return created.Clone(), nil
}

func (r *caseRepository) Get(ctx context.Context, id model.CaseID) (*model.Case, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.cases[id]
	if !exists {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "case not found", goerr.V("id", id))
	}
	return c.Clone(), nil
}

func (r *caseRepository) List(ctx context.Context, opts ...interfaces.ListCaseOption) ([]*model.Case, error) {
	cfg := interfaces.BuildListCaseConfig(opts...)

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*model.Case, 0, len(r.order))
	for _, id := range r.order {
		c := r.cases[id]
		if s := cfg.Status(); s != nil && c.Status != *s {
			continue
		}
		result = append(result, c.Clone())
	}
	return result, nil
}

func (r *caseRepository) ListByParent(ctx context.Context, parentID model.CaseID) ([]*model.Case, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*model.Case
	for _, id := range r.order {
		if c := r.cases[id]; c.ParentCaseID == parentID {
			result = append(result, c.Clone())
		}
	}
	return result, nil
}

func (r *caseRepository) UpdateStatus(ctx context.Context, id model.CaseID, from, to types.CaseStatus, mutate interfaces.CaseMutator) (*model.Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.cases[id]
	if !exists {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "case not found", goerr.V("id", id))
	}
	if stored.Status != from {
		return nil, goerr.Wrap(interfaces.ErrStatusConflict, "case status changed",
			goerr.V("id", id),
			goerr.V("expected", from),
			goerr.V("actual", stored.Status))
	}

	updated := stored.Clone()
	if mutate != nil {
		if err := mutate(updated); err != nil {
			return nil, err
		}
	}
	updated.ID = stored.ID
	updated.CreatedAt = stored.CreatedAt
	updated.Status = to
	updated.UpdatedAt = time.Now().UTC()

	r.cases[id] = updated
	return updated.Clone(), nil
}
