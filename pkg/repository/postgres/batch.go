package postgres

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/interfaces"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type batchRepository struct {
	db *gorm.DB
}

func (r *batchRepository) Create(ctx context.Context, b *model.Batch) (*model.Batch, error) {
	created := b.Clone()
	if created.ID == "" {
		created.ID = model.NewBatchID()
	}
	ts := now()
	created.CreatedAt = ts
	created.UpdatedAt = ts

	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(newBatchRow(created)).Error; err != nil {
		if isDuplicated(err) {
			return nil, goerr.Wrap(interfaces.ErrAlreadyExists, "batch already exists", goerr.V("id", created.ID))
		}
		return nil, goerr.Wrap(err, "failed to create batch", goerr.V("id", created.ID))
	}
	return created, nil
}

func getBatch(db *gorm.DB, id model.BatchID) (*SubmissionBatch, error) {
	var row SubmissionBatch
	if err := db.Where("id = ?", string(id)).First(&row).Error; err != nil {
		if isNotFound(err) {
			return nil, goerr.Wrap(interfaces.ErrNotFound, "batch not found", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get batch", goerr.V("id", id))
	}
	return &row, nil
}

func (r *batchRepository) Get(ctx context.Context, id model.BatchID) (*model.Batch, error) {
	row, err := getBatch(r.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

func (r *batchRepository) List(ctx context.Context, opts ...interfaces.ListBatchOption) ([]*model.Batch, error) {
	cfg := interfaces.BuildListBatchConfig(opts...)

	db := r.db.WithContext(ctx)
	if s := cfg.Status(); s != nil {
		db = db.Where("status = ?", string(*s))
	}

	var rows []SubmissionBatch
	if err := db.Order("created_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, goerr.Wrap(err, "failed to list batches")
	}

	batches := make([]*model.Batch, 0, len(rows))
	for i := range rows {
		batches = append(batches, rows[i].toModel())
	}
	return batches, nil
}

func (r *batchRepository) UpdateStatus(ctx context.Context, id model.BatchID, from, to types.BatchStatus, mutate interfaces.BatchMutator) (*model.Batch, error) {
	var result *model.Batch

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := getBatch(tx.Clauses(forUpdate()), id)
		if err != nil {
			return err
		}
		if types.BatchStatus(row.Status) != from {
			return goerr.Wrap(interfaces.ErrStatusConflict, "batch status changed",
				goerr.V("id", id),
				goerr.V("expected", from),
				goerr.V("actual", row.Status))
		}

		stored := row.toModel()
		updated := stored.Clone()
		if mutate != nil {
			if err := mutate(updated); err != nil {
				return err
			}
		}
		updated.ID = stored.ID
		updated.CreatedAt = stored.CreatedAt
		updated.Status = to
		updated.UpdatedAt = now()

		if err := tx.Omit(clause.Associations).Save(newBatchRow(updated)).Error; err != nil {
			return goerr.Wrap(err, "failed to save batch", goerr.V("id", id))
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *batchRepository) Delete(ctx context.Context, id model.BatchID, expected types.BatchStatus) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := getBatch(tx.Clauses(forUpdate()), id)
		if err != nil {
			return err
		}
		if types.BatchStatus(row.Status) != expected {
			return goerr.Wrap(interfaces.ErrStatusConflict, "batch status changed",
				goerr.V("id", id),
				goerr.V("expected", expected),
				goerr.V("actual", row.Status))
		}

		if err := tx.Where("batch_id = ?", string(id)).Delete(&BatchCase{}).Error; err != nil {
			return goerr.Wrap(err, "failed to delete batch members", goerr.V("id", id))
		}
		if err := tx.Where("id = ?", string(id)).Delete(&SubmissionBatch{}).Error; err != nil {
			return goerr.Wrap(err, "failed to delete batch", goerr.V("id", id))
		}
		return nil
	})
}

// activeBatchOf returns the active batch holding caseID, or nil
func activeBatchOf(db *gorm.DB, caseID model.CaseID) (*SubmissionBatch, error) {
	var members []BatchCase
	if err := db.Where("case_id = ?", string(caseID)).Find(&members).Error; err != nil {
		return nil, goerr.Wrap(err, "failed to list memberships", goerr.V("case_id", caseID))
	}
	if len(members) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.BatchID)
	}

	var batches []SubmissionBatch
	if err := db.Where("id IN ?", ids).Order("created_at ASC").Find(&batches).Error; err != nil {
		return nil, goerr.Wrap(err, "failed to get member batches", goerr.V("case_id", caseID))
	}
	for i := range batches {
		if types.BatchStatus(batches[i].Status).IsActive() {
			return &batches[i], nil
		}
	}
	return nil, nil
}

func (r *batchRepository) AddCase(ctx context.Context, bc *model.BatchCase, editable ...types.BatchStatus) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := advisoryLock(tx, "batch_case:"+string(bc.CaseID)); err != nil {
			return err
		}
		// the row lock orders this insert against UpdateStatus of the same batch
		row, err := getBatch(tx.Clauses(forUpdate()), bc.BatchID)
		if err != nil {
			return err
		}
		if err := interfaces.RequireBatchStatus(bc.BatchID, types.BatchStatus(row.Status), editable); err != nil {
			return err
		}

		active, err := activeBatchOf(tx, bc.CaseID)
		if err != nil {
			return err
		}
		if active != nil {
			return goerr.Wrap(interfaces.ErrCaseInActiveBatch, "case is already in an active batch",
				goerr.V("case_id", bc.CaseID),
				goerr.V("batch_id", active.ID),
				goerr.V("batch_number", active.Number))
		}

		added := bc.Clone()
		if added.AddedAt.IsZero() {
			added.AddedAt = now()
		}
		if err := tx.Create(newBatchCaseRow(added)).Error; err != nil {
			return goerr.Wrap(err, "failed to add case to batch",
				goerr.V("batch_id", bc.BatchID), goerr.V("case_id", bc.CaseID))
		}
		return nil
	})
}

func (r *batchRepository) RemoveCase(ctx context.Context, batchID model.BatchID, caseID model.CaseID, editable ...types.BatchStatus) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := getBatch(tx.Clauses(forUpdate()), batchID)
		if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
			return err
		}
		if row != nil {
			if err := interfaces.RequireBatchStatus(batchID, types.BatchStatus(row.Status), editable); err != nil {
				return err
			}
		}

		res := tx.Where("batch_id = ? AND case_id = ?", string(batchID), string(caseID)).
			Delete(&BatchCase{})
		if res.Error != nil {
			return goerr.Wrap(res.Error, "failed to remove case from batch",
				goerr.V("batch_id", batchID), goerr.V("case_id", caseID))
		}
		if res.RowsAffected == 0 {
			return goerr.Wrap(interfaces.ErrNotFound, "case is not a member of the batch",
				goerr.V("batch_id", batchID), goerr.V("case_id", caseID))
		}
		return nil
	})
}

func (r *batchRepository) ListCases(ctx context.Context, batchID model.BatchID) ([]*model.BatchCase, error) {
	var rows []BatchCase
	if err := r.db.WithContext(ctx).
		Where("batch_id = ?", string(batchID)).
		Order("added_at ASC").Order("case_id ASC").
		Find(&rows).Error; err != nil {
		return nil, goerr.Wrap(err, "failed to list batch members", goerr.V("batch_id", batchID))
	}

	members := make([]*model.BatchCase, 0, len(rows))
	for i := range rows {
		members = append(members, rows[i].toModel())
	}
	return members, nil
}

func (r *batchRepository) SaveCaseResults(ctx context.Context, batchID model.BatchID, results []*model.BatchCase) error {
	for _, res := range results {
		if err := res.Errors.Validate(); err != nil {
			return goerr.Wrap(err, "invalid validation result", goerr.V("case_id", res.CaseID))
		}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, res := range results {
			var errs any
			if res.Errors != nil {
				errs = datatypes.NewJSONSlice([]model.ValidationError(res.Errors))
			}

			update := tx.Model(&BatchCase{}).
				Where("batch_id = ? AND case_id = ?", string(batchID), string(res.CaseID)).
				Updates(map[string]any{
					"is_valid":     res.IsValid,
					"errors":       errs,
					"validated_at": utcPtr(res.ValidatedAt),
				})
			if update.Error != nil {
				return goerr.Wrap(update.Error, "failed to save validation result", goerr.V("case_id", res.CaseID))
			}
			if update.RowsAffected == 0 {
				return goerr.Wrap(interfaces.ErrNotFound, "case is not a member of the batch",
					goerr.V("batch_id", batchID), goerr.V("case_id", res.CaseID))
			}
		}
		return nil
	})
}

func (r *batchRepository) FindActiveBatch(ctx context.Context, caseID model.CaseID) (*model.Batch, error) {
	row, err := activeBatchOf(r.db.WithContext(ctx), caseID)
	if err != nil || row == nil {
		return nil, err
	}
	return row.toModel(), nil
}
