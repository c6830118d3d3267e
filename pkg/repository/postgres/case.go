package postgres

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/interfaces"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type caseRepository struct {
	db *gorm.DB
}

func byPosition(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

// withChildren preloads every child table of a case in position order
func withChildren(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Reporters", byPosition).
		Preload("Reactions", byPosition).
		Preload("Drugs", byPosition).
		Preload("Drugs.Substances", byPosition).
		Preload("Drugs.Dosages", byPosition)
}

func (r *caseRepository) Create(ctx context.Context, c *model.Case) (*model.Case, error) {
	created := c.Clone()
	if created.ID == "" {
		created.ID = model.NewCaseID()
	}
	ts := now()
	created.CreatedAt = ts
	created.UpdatedAt = ts

	row := newCaseRow(created)
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		if isDuplicated(err) {
			return nil, goerr.Wrap(interfaces.ErrAlreadyExists, "case already exists", goerr.V("id", created.ID))
		}
		return nil, goerr.Wrap(err, "failed to create case", goerr.V("id", created.ID))
	}
	return created, nil
}

func (r *caseRepository) Get(ctx context.Context, id model.CaseID) (*model.Case, error) {
	var row Case
	if err := withChildren(r.db.WithContext(ctx)).Where("id = ?", string(id)).First(&row).Error; err != nil {
		if isNotFound(err) {
			return nil, goerr.Wrap(interfaces.ErrNotFound, "case not found", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get case", goerr.V("id", id))
	}
	return row.toModel(), nil
}

func (r *caseRepository) find(db *gorm.DB) ([]*model.Case, error) {
	var rows []Case
	if err := withChildren(db).Order("created_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, goerr.Wrap(err, "failed to list cases")
	}

	cases := make([]*model.Case, 0, len(rows))
	for i := range rows {
		cases = append(cases, rows[i].toModel())
	}
	return cases, nil
}

func (r *caseRepository) List(ctx context.Context, opts ...interfaces.ListCaseOption) ([]*model.Case, error) {
	cfg := interfaces.BuildListCaseConfig(opts...)

	db := r.db.WithContext(ctx)
	if s := cfg.Status(); s != nil {
		db = db.Where("status = ?", string(*s))
	}
	return r.find(db)
}

func (r *caseRepository) ListByParent(ctx context.Context, parentID model.CaseID) ([]*model.Case, error) {
	return r.find(r.db.WithContext(ctx).Where("parent_case_id = ?", string(parentID)))
}

func (r *caseRepository) UpdateStatus(ctx context.Context, id model.CaseID, from, to types.CaseStatus, mutate interfaces.CaseMutator) (*model.Case, error) {
	var result *model.Case

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked Case
		if err := tx.Clauses(forUpdate()).Where("id = ?", string(id)).First(&locked).Error; err != nil {
			if isNotFound(err) {
				return goerr.Wrap(interfaces.ErrNotFound, "case not found", goerr.V("id", id))
			}
			return goerr.Wrap(err, "failed to lock case", goerr.V("id", id))
		}
		if types.CaseStatus(locked.Status) != from {
			return goerr.Wrap(interfaces.ErrStatusConflict, "case status changed",
				goerr.V("id", id),
				goerr.V("expected", from),
				goerr.V("actual", locked.Status))
		}

		var row Case
		if err := withChildren(tx).Where("id = ?", string(id)).First(&row).Error; err != nil {
			return goerr.Wrap(err, "failed to load case", goerr.V("id", id))
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

		if err := r.replace(tx, updated); err != nil {
			return err
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// replace overwrites the case row and recreates its child rows
func (r *caseRepository) replace(tx *gorm.DB, c *model.Case) error {
	row := newCaseRow(c)

	for _, child := range []any{&Reporter{}, &Reaction{}, &Drug{}} {
		if err := tx.Where("case_id = ?", row.ID).Delete(child).Error; err != nil {
			return goerr.Wrap(err, "failed to delete child records", goerr.V("id", row.ID))
		}
	}

	if err := tx.Omit(clause.Associations).Save(row).Error; err != nil {
		return goerr.Wrap(err, "failed to save case", goerr.V("id", row.ID))
	}

	if len(row.Reporters) > 0 {
		if err := tx.Create(&row.Reporters).Error; err != nil {
			return goerr.Wrap(err, "failed to save reporters", goerr.V("id", row.ID))
		}
	}
	if len(row.Reactions) > 0 {
		if err := tx.Create(&row.Reactions).Error; err != nil {
			return goerr.Wrap(err, "failed to save reactions", goerr.V("id", row.ID))
		}
	}
	if len(row.Drugs) > 0 {
		if err := tx.Create(&row.Drugs).Error; err != nil {
			return goerr.Wrap(err, "failed to save drugs", goerr.V("id", row.ID))
		}
	}
	return nil
}
