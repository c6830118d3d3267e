package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/interfaces"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
)

type batchRepository struct {
	mu      sync.RWMutex
	batches map[model.BatchID]*model.Batch
	order   []model.BatchID
	members map[model.BatchID][]*model.BatchCase
}

func newBatchRepository() *batchRepository {
	return &batchRepository{
		batches: make(map[model.BatchID]*model.Batch),
		members: make(map[model.BatchID][]*model.BatchCase),
	}
}

func (r *batchRepository) Create(ctx context.Context, b *model.Batch) (*model.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	created := b.Clone()
	if created.ID == "" {
		created.ID = model.NewBatchID()
	}
	if _, exists := r.batches[created.ID]; exists {
		return nil, goerr.Wrap(interfaces.ErrAlreadyExists, "batch already exists", goerr.V("id", created.ID))
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	created.CreatedAt = now
	created.UpdatedAt = now

	r.batches[created.ID] = created
	r.order = append(r.order, created.ID)
	return created.Clone(), nil
}

func (r *batchRepository) Get(ctx context.Context, id model.BatchID) (*model.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, exists := r.batches[id]
	if !exists {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "batch not found", goerr.V("id", id))
	}
	return b.Clone(), nil
}

func (r *batchRepository) List(ctx context.Context, opts ...interfaces.ListBatchOption) ([]*model.Batch, error) {
	cfg := interfaces.BuildListBatchConfig(opts...)

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*model.Batch, 0, len(r.order))
	for _, id := range r.order {
		b := r.batches[id]
		if s := cfg.Status(); s != nil && b.Status != *s {
			continue
		}
		result = append(result, b.Clone())
	}
	return result, nil
}

func (r *batchRepository) UpdateStatus(ctx context.Context, id model.BatchID, from, to types.BatchStatus, mutate interfaces.BatchMutator) (*model.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.batches[id]
	if !exists {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "batch not found", goerr.V("id", id))
	}
	if stored.Status != from {
		return nil, goerr.Wrap(interfaces.ErrStatusConflict, "batch status changed",
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

	r.batches[id] = updated
	return updated.Clone(), nil
}

func (r *batchRepository) Delete(ctx context.Context, id model.BatchID, expected types.BatchStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.batches[id]
	if !exists {
		return goerr.Wrap(interfaces.ErrNotFound, "batch not found", goerr.V("id", id))
	}
	if stored.Status != expected {
		return goerr.Wrap(interfaces.ErrStatusConflict, "batch status changed",
			goerr.V("id", id),
			goerr.V("expected", expected),
			goerr.V("actual", stored.Status))
	}

	delete(r.batches, id)
	delete(r.members, id)
	r.order = slices.DeleteFunc(r.order, func(v model.BatchID) bool { return v == id })
	return nil
}

// activeBatchOf must be called with the lock held
func (r *batchRepository) activeBatchOf(caseID model.CaseID) *model.Batch {
	for _, id := range r.order {
		b := r.batches[id]
		if !b.Status.IsActive() {
			continue
		}
		for _, m := range r.members[id] {
			if m.CaseID == caseID {
				return b
			}
		}
	}
	return nil
}

func (r *batchRepository) AddCase(ctx context.Context, bc *model.BatchCase, editable ...types.BatchStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, exists := r.batches[bc.BatchID]
	if !exists {
		return goerr.Wrap(interfaces.ErrNotFound, "batch not found", goerr.V("id", bc.BatchID))
	}
	if err := interfaces.RequireBatchStatus(b.ID, b.Status, editable); err != nil {
		return err
	}
	if active := r.activeBatchOf(bc.CaseID); active != nil {
		return goerr.Wrap(interfaces.ErrCaseInActiveBatch, "case is already in an active batch",
			goerr.V("case_id", bc.CaseID),
			goerr.V("batch_id", active.ID),
			goerr.V("batch_number", active.Number))
	}

	added := bc.Clone()
	if added.AddedAt.IsZero() {
		added.AddedAt = time.Now().UTC()
	}
	r.members[bc.BatchID] = append(r.members[bc.BatchID], added)
	return nil
}

func (r *batchRepository) RemoveCase(ctx context.Context, batchID model.BatchID, caseID model.CaseID, editable ...types.BatchStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, exists := r.batches[batchID]; exists {
		if err := interfaces.RequireBatchStatus(b.ID, b.Status, editable); err != nil {
			return err
		}
	}

	members := r.members[batchID]
	idx := slices.IndexFunc(members, func(m *model.BatchCase) bool { return m.CaseID == caseID })
	if idx < 0 {
		return goerr.Wrap(interfaces.ErrNotFound, "case is not a member of the batch",
			goerr.V("batch_id", batchID), goerr.V("case_id", caseID))
	}
	r.members[batchID] = slices.Delete(members, idx, idx+1)
	return nil
}

func (r *batchRepository) ListCases(ctx context.Context, batchID model.BatchID) ([]*model.BatchCase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.members[batchID]
	result := make([]*model.BatchCase, 0, len(members))
	for _, m := range members {
		result = append(result, m.Clone())
	}
	return result, nil
}

func (r *batchRepository) SaveCaseResults(ctx context.Context, batchID model.BatchID, results []*model.BatchCase) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.members[batchID]
	updated := make([]*model.BatchCase, len(members))
	for i, m := range members {
		updated[i] = m.Clone()
	}

	for _, res := range results {
		if err := res.Errors.Validate(); err != nil {
			return goerr.Wrap(err, "invalid validation result", goerr.V("case_id", res.CaseID))
		}
		idx := slices.IndexFunc(updated, func(m *model.BatchCase) bool { return m.CaseID == res.CaseID })
		if idx < 0 {
			return goerr.Wrap(interfaces.ErrNotFound, "case is not a member of the batch",
				goerr.V("batch_id", batchID), goerr.V("case_id", res.CaseID))
		}
		saved := res.Clone()
		saved.BatchID = batchID
		saved.AddedAt = updated[idx].AddedAt
		updated[idx] = saved
	}

	r.members[batchID] = updated
	return nil
}

func (r *batchRepository) FindActiveBatch(ctx context.Context, caseID model.CaseID) (*model.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.activeBatchOf(caseID).Clone(), nil
}
