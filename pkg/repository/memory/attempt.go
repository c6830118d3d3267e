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

type attemptRepository struct {
	mu       sync.RWMutex
	attempts map[model.AttemptID]*model.SubmissionAttempt
	order    []model.AttemptID
	counters map[string]int
}

func newAttemptRepository() *attemptRepository {
	return &attemptRepository{
		attempts: make(map[model.AttemptID]*model.SubmissionAttempt),
		counters: make(map[string]int),
	}
}

func (r *attemptRepository) Create(ctx context.Context, a *model.SubmissionAttempt) (*model.SubmissionAttempt, error) {
	if a.CaseID == "" && a.BatchID == "" {
		return nil, goerr.New("attempt requires a case or a batch")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	created := a.Clone()
	created.ID = model.NewAttemptID()
	key := created.SubjectKey()
	r.counters[key]++
	created.AttemptNumber = r.counters[key]
	if created.Outcome == "" {
		created.Outcome = types.AttemptOutcomeInProgress
	}
	if created.StartedAt.IsZero() {
		created.StartedAt = time.Now().UTC()
	}

	r.attempts[created.ID] = created
	r.order = append(r.order, created.ID)
	return created.Clone(), nil
}

func (r *attemptRepository) Complete(ctx context.Context, a *model.SubmissionAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.attempts[a.ID]
	if !exists {
		return goerr.Wrap(interfaces.ErrNotFound, "attempt not found", goerr.V("id", a.ID))
	}
	if stored.Outcome.IsFinal() {
		return goerr.Wrap(interfaces.ErrAttemptCompleted, "attempt already completed",
			goerr.V("id", a.ID), goerr.V("outcome", stored.Outcome))
	}

	completed := completeAttempt(stored, a)
	r.attempts[a.ID] = completed
	return nil
}

// completeAttempt copies the result fields of a onto stored; identity and numbering are kept
func completeAttempt(stored, a *model.SubmissionAttempt) *model.SubmissionAttempt {
	completed := stored.Clone()
	completed.Outcome = a.Outcome
	completed.LastStep = a.LastStep
	completed.ErrorCategory = a.ErrorCategory
	completed.ErrorMessage = a.ErrorMessage
	completed.HTTPStatus = a.HTTPStatus
	completed.SubmissionID = a.SubmissionID
	completed.TrackingID = a.TrackingID
	completed.AckType = a.AckType
	completed.ExternalCaseID = a.ExternalCaseID
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		completed.CompletedAt = &t
	} else {
		now := time.Now().UTC()
		completed.CompletedAt = &now
	}
	return completed
}

func (r *attemptRepository) list(match func(*model.SubmissionAttempt) bool) []*model.SubmissionAttempt {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*model.SubmissionAttempt
	for _, id := range r.order {
		if a := r.attempts[id]; match(a) {
			result = append(result, a.Clone())
		}
	}
	return result
}

func (r *attemptRepository) ListByCase(ctx context.Context, caseID model.CaseID) ([]*model.SubmissionAttempt, error) {
	return r.list(func(a *model.SubmissionAttempt) bool {
		return a.CaseID == caseID && a.BatchID == ""
	}), nil
}

func (r *attemptRepository) ListByBatch(ctx context.Context, batchID model.BatchID) ([]*model.SubmissionAttempt, error) {
	return r.list(func(a *model.SubmissionAttempt) bool {
		return a.BatchID == batchID
	}), nil
}
