package postgres

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"gorm.io/gorm"
)

type historyRepository struct {
	db *gorm.DB
}

func (r *historyRepository) Append(ctx context.Context, h *model.HistoryEntry) (*model.HistoryEntry, error) {
	appended := h.Clone()
	if appended.ID == "" {
		appended.ID = model.NewHistoryEntryID()
	}
	if appended.CreatedAt.IsZero() {
		appended.CreatedAt = now()
	}
	appended.CreatedAt = utc(appended.CreatedAt)

	if err := r.db.WithContext(ctx).Create(newHistoryRow(appended)).Error; err != nil {
		return nil, goerr.Wrap(err, "failed to append history entry", goerr.V("id", appended.ID))
	}
	return appended, nil
}

func (r *historyRepository) find(db *gorm.DB) ([]*model.HistoryEntry, error) {
	var rows []SubmissionHistoryEntry
	if err := db.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, goerr.Wrap(err, "failed to list history")
	}

	entries := make([]*model.HistoryEntry, 0, len(rows))
	for i := range rows {
		entries = append(entries, rows[i].toModel())
	}
	return entries, nil
}

func (r *historyRepository) ListByCase(ctx context.Context, caseID model.CaseID) ([]*model.HistoryEntry, error) {
	return r.find(r.db.WithContext(ctx).Where("case_id = ?", string(caseID)))
}

func (r *historyRepository) ListByBatch(ctx context.Context, batchID model.BatchID) ([]*model.HistoryEntry, error) {
	return r.find(r.db.WithContext(ctx).Where("batch_id = ?", string(batchID)))
}
