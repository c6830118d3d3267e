package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
)

func runHistoryRepositoryTest(t *testing.T, newRepo repoFactory) {
	t.Helper()

	t.Run("entries are listed by subject in time order", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		caseID := model.NewCaseID()
		batchID := model.NewBatchID()
		base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

		// appended out of order
		for _, e := range []*model.HistoryEntry{
			{CaseID: caseID, Event: types.HistoryEventExported, CreatedAt: base.Add(2 * time.Minute)},
			{CaseID: caseID, Event: types.HistoryEventCreated, CreatedAt: base},
			{CaseID: caseID, BatchID: batchID, Event: types.HistoryEventReadyForExport, CreatedAt: base.Add(time.Minute)},
			{BatchID: batchID, Event: types.HistoryEventBatchCreated, CreatedAt: base.Add(30 * time.Second)},
			{CaseID: model.NewCaseID(), Event: types.HistoryEventCreated, CreatedAt: base},
		} {
			_, err := repo.History().Append(ctx, e)
			gt.NoError(t, err).Required()
		}

		entries, err := repo.History().ListByCase(ctx, caseID)
		gt.NoError(t, err).Required()
		gt.Array(t, entries).Length(3).Required()
		gt.Value(t, entries[0].Event).Equal(types.HistoryEventCreated)
		gt.Value(t, entries[1].Event).Equal(types.HistoryEventReadyForExport)
		gt.Value(t, entries[2].Event).Equal(types.HistoryEventExported)

		batchEntries, err := repo.History().ListByBatch(ctx, batchID)
		gt.NoError(t, err).Required()
		gt.Array(t, batchEntries).Length(2).Required()
		gt.Value(t, batchEntries[0].Event).Equal(types.HistoryEventBatchCreated)
	})

	t.Run("Append fills ID and timestamp and keeps details", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		e, err := repo.History().Append(ctx, &model.HistoryEntry{
			CaseID:     model.NewCaseID(),
			Event:      types.HistoryEventSubmissionFailed,
			FromStatus: "submitting",
			ToStatus:   "submission_failed",
			Details:    map[string]string{"error_category": "network"},
		})
		gt.NoError(t, err).Required()
		gt.String(t, string(e.ID)).NotEqual("")
		gt.Bool(t, e.CreatedAt.IsZero()).False()

		entries, err := repo.History().ListByCase(ctx, e.CaseID)
		gt.NoError(t, err).Required()
		gt.Array(t, entries).Length(1).Required()
		gt.Value(t, entries[0].Details["error_category"]).Equal("network")
		gt.Value(t, entries[0].ToStatus).Equal("submission_failed")
	})
}

func runSequenceRepositoryTest(t *testing.T, newRepo repoFactory) {
	t.Helper()

	t.Run("Next is strictly increasing per scope", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		day1 := model.BatchSequenceScope(time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC))
		day2 := model.BatchSequenceScope(time.Date(2024, 3, 2, 1, 0, 0, 0, time.UTC))

		for i := int64(1); i <= 3; i++ {
			n, err := repo.Sequence().Next(ctx, day1)
			gt.NoError(t, err).Required()
			gt.Value(t, n).Equal(i)
		}

		n, err := repo.Sequence().Next(ctx, day2)
		gt.NoError(t, err).Required()
		gt.Value(t, n).Equal(int64(1))
	})

	t.Run("concurrent Next never repeats", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		var mu sync.Mutex
		seen := map[int64]bool{}
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				n, err := repo.Sequence().Next(ctx, "batch:20240301")
				if err != nil {
					return
				}
				mu.Lock()
				seen[n] = true
				mu.Unlock()
			}()
		}
		wg.Wait()
		gt.Number(t, len(seen)).Equal(4)
	})
}

func TestHistoryRepository(t *testing.T) {
	runOnAllBackends(t, runHistoryRepositoryTest)
}

func TestSequenceRepository(t *testing.T) {
	runOnAllBackends(t, runSequenceRepositoryTest)
}
