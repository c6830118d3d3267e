package repository_test

import (
	"context"
	"sync"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/icsrlink/pkg/domain/interfaces"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
)

func runAttemptRepositoryTest(t *testing.T, newRepo repoFactory) {
	t.Helper()

	t.Run("attempt numbers increase per subject", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		caseA, caseB := model.NewCaseID(), model.NewCaseID()

		for i := 1; i <= 3; i++ {
			a, err := repo.Attempt().Create(ctx, &model.SubmissionAttempt{CaseID: caseA, Environment: types.EnvironmentTest})
			gt.NoError(t, err).Required()
			gt.Value(t, a.AttemptNumber).Equal(i)
			gt.Value(t, a.Outcome).Equal(types.AttemptOutcomeInProgress)
			gt.Bool(t, a.StartedAt.IsZero()).False()
		}

		b, err := repo.Attempt().Create(ctx, &model.SubmissionAttempt{CaseID: caseB})
		gt.NoError(t, err).Required()
		gt.Value(t, b.AttemptNumber).Equal(1)

		batchID := model.NewBatchID()
		ba, err := repo.Attempt().Create(ctx, &model.SubmissionAttempt{BatchID: batchID})
		gt.NoError(t, err).Required()
		gt.Value(t, ba.AttemptNumber).Equal(1)

		list, err := repo.Attempt().ListByCase(ctx, caseA)
		gt.NoError(t, err).Required()
		gt.Array(t, list).Length(3).Required()
		for i, a := range list {
			gt.Value(t, a.AttemptNumber).Equal(i + 1)
		}

		batchList, err := repo.Attempt().ListByBatch(ctx, batchID)
		gt.NoError(t, err).Required()
		gt.Array(t, batchList).Length(1)
	})

	t.Run("concurrent creation never reuses a number", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		caseID := model.NewCaseID()

		var wg sync.WaitGroup
		var mu sync.Mutex
		seen := map[int]bool{}
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				a, err := repo.Attempt().Create(ctx, &model.SubmissionAttempt{CaseID: caseID})
				if err != nil {
					return
				}
				mu.Lock()
				seen[a.AttemptNumber] = true
				mu.Unlock()
			}()
		}
		wg.Wait()

		gt.Number(t, len(seen)).Equal(4)
		for i := 1; i <= 4; i++ {
			gt.Bool(t, seen[i]).True()
		}
	})

	t.Run("Complete writes the outcome exactly once", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		caseID := model.NewCaseID()

		a, err := repo.Attempt().Create(ctx, &model.SubmissionAttempt{CaseID: caseID, Environment: types.EnvironmentProduction})
		gt.NoError(t, err).Required()

		a.Outcome = types.AttemptOutcomeFailed
		a.LastStep = types.ProtocolStepUpload
		a.ErrorCategory = types.ErrorCategoryServerError
		a.ErrorMessage = "HTTP 503"
		a.HTTPStatus = 503
		a.AttemptNumber = 99
		gt.NoError(t, repo.Attempt().Complete(ctx, a)).Required()

		list, err := repo.Attempt().ListByCase(ctx, caseID)
		gt.NoError(t, err).Required()
		gt.Array(t, list).Length(1).Required()
		got := list[0]
		gt.Value(t, got.Outcome).Equal(types.AttemptOutcomeFailed)
		gt.Value(t, got.LastStep).Equal(types.ProtocolStepUpload)
		gt.Value(t, got.ErrorCategory).Equal(types.ErrorCategoryServerError)
		gt.Value(t, got.HTTPStatus).Equal(503)
		gt.Value(t, got.AttemptNumber).Equal(1)
		gt.Value(t, got.Environment).Equal(types.EnvironmentProduction)
		gt.Value(t, got.CompletedAt).NotNil()

		a.Outcome = types.AttemptOutcomeSuccess
		gt.Error(t, repo.Attempt().Complete(ctx, a)).Is(interfaces.ErrAttemptCompleted)
	})

	t.Run("Complete returns ErrNotFound for unknown attempt", func(t *testing.T) {
		repo := newRepo(t)
		err := repo.Attempt().Complete(context.Background(), &model.SubmissionAttempt{
			ID:      model.NewAttemptID(),
			CaseID:  model.NewCaseID(),
			Outcome: types.AttemptOutcomeSuccess,
		})
		gt.Error(t, err).Is(interfaces.ErrNotFound)
	})
}

func TestAttemptRepository(t *testing.T) {
	runOnAllBackends(t, runAttemptRepositoryTest)
}
