package interfaces

import (
	"context"

	"github.com/secmon-lab/icsrlink/pkg/domain/model"
)

// HistoryRepository stores the append-only audit trail
type HistoryRepository interface {
	Append(ctx context.Context, h *model.HistoryEntry) (*model.HistoryEntry, error)

	// ListByCase and ListByBatch return entries ordered by CreatedAt
	ListByCase(ctx context.Context, caseID model.CaseID) ([]*model.HistoryEntry, error)
	ListByBatch(ctx context.Context, batchID model.BatchID) ([]*model.HistoryEntry, error)
}

// SequenceRepository issues monotonically increasing numbers per scope, starting at 1
type SequenceRepository interface {
	Next(ctx context.Context, scope string) (int64, error)
}
