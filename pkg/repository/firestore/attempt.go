package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/interfaces"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
	"google.golang.org/api/iterator"
)

type attemptRepository struct {
	client *firestore.Client
	names  *collectionNames
}

func (r *attemptRepository) collection() *firestore.CollectionRef {
	return r.client.Collection(r.names.name(CollectionAttempts))
}

func (r *attemptRepository) counterRef(subjectKey string) *firestore.DocumentRef {
	return r.client.Collection(r.names.name(CollectionCounters)).Doc("attempt_" + subjectKey)
}

func (r *attemptRepository) Create(ctx context.Context, a *model.SubmissionAttempt) (*model.SubmissionAttempt, error) {
	if a.CaseID == "" && a.BatchID == "" {
		return nil, goerr.New("attempt requires a case or a batch")
	}

	var created *model.SubmissionAttempt
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		c := a.Clone()
		c.ID = model.NewAttemptID()
		if c.Outcome == "" {
			c.Outcome = types.AttemptOutcomeInProgress
		}
		if c.StartedAt.IsZero() {
			c.StartedAt = now()
		}

		n, err := incrementCounter(tx, r.counterRef(c.SubjectKey()))
		if err != nil {
			return err
		}
		c.AttemptNumber = int(n)

		created = c
		return tx.Create(r.collection().Doc(string(c.ID)), c)
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create attempt", goerr.V("subject", a.SubjectKey()))
	}
	return created, nil
}

func (r *attemptRepository) Complete(ctx context.Context, a *model.SubmissionAttempt) error {
	ref := r.collection().Doc(string(a.ID))
	return r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return goerr.Wrap(interfaces.ErrNotFound, "attempt not found", goerr.V("id", a.ID))
			}
			return goerr.Wrap(err, "failed to get attempt", goerr.V("id", a.ID))
		}

		var stored model.SubmissionAttempt
		if err := snap.DataTo(&stored); err != nil {
			return goerr.Wrap(err, "failed to decode attempt", goerr.V("id", a.ID))
		}
		if stored.Outcome.IsFinal() {
			return goerr.Wrap(interfaces.ErrAttemptCompleted, "attempt already completed",
				goerr.V("id", a.ID), goerr.V("outcome", stored.Outcome))
		}

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
		ts := now()
		if a.CompletedAt != nil {
			ts = a.CompletedAt.UTC()
		}
		completed.CompletedAt = &ts

		return tx.Set(ref, completed)
	})
}

func (r *attemptRepository) query(ctx context.Context, q firestore.Query) ([]*model.SubmissionAttempt, error) {
	iter := q.OrderBy("AttemptNumber", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var attempts []*model.SubmissionAttempt
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate attempts")
		}

		var a model.SubmissionAttempt
		if err := snap.DataTo(&a); err != nil {
			return nil, goerr.Wrap(err, "failed to decode attempt", goerr.V("docID", snap.Ref.ID))
		}
		attempts = append(attempts, &a)
	}
	return attempts, nil
}

func (r *attemptRepository) ListByCase(ctx context.Context, caseID model.CaseID) ([]*model.SubmissionAttempt, error) {
	return r.query(ctx, r.collection().Where("CaseID", "==", string(caseID)).Where("BatchID", "==", ""))
}

func (r *attemptRepository) ListByBatch(ctx context.Context, batchID model.BatchID) ([]*model.SubmissionAttempt, error) {
	return r.query(ctx, r.collection().Where("BatchID", "==", string(batchID)))
}
