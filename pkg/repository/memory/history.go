package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/secmon-lab/icsrlink/pkg/domain/model"
)

type historyRepository struct {
	mu      sync.RWMutex
	entries []*model.HistoryEntry
}

func newHistoryRepository() *historyRepository {
	return &historyRepository{}
}

func (r *historyRepository) Append(ctx context.Context, h *model.HistoryEntry) (*model.HistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	appended := h.Clone()
	if appended.ID == "" {
		appended.ID = model.NewHistoryEntryID()
	}
	if appended.CreatedAt.IsZero() {
		appended.CreatedAt = time.Now().UTC()
	}
	r.entries = append(r.entries, appended)
	return appended.Clone(), nil
}

func (r *historyRepository) list(match func(*model.HistoryEntry) bool) []*model.HistoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*model.HistoryEntry
	for _, e := range r.entries {
		if match(e) {
			result = append(result, e.Clone())
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

func (r *historyRepository) ListByCase(ctx context.Context, caseID model.CaseID) ([]*model.HistoryEntry, error) {
	return r.list(func(e *model.HistoryEntry) bool { return e.CaseID == caseID }), nil
}

func (r *historyRepository) ListByBatch(ctx context.Context, batchID model.BatchID) ([]*model.HistoryEntry, error) {
	return r.list(func(e *model.HistoryEntry) bool { return e.BatchID == batchID }), nil
}

type sequenceRepository struct {
	mu     sync.Mutex
	values map[string]int64
}

func newSequenceRepository() *sequenceRepository {
	return &sequenceRepository{values: make(map[string]int64)}
}

func (r *sequenceRepository) Next(ctx context.Context, scope string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.values[scope]++
	return r.values[scope], nil
}
