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

type caseRepository struct {
	client *firestore.Client
	names  *collectionNames
}

func (r *caseRepository) collection() *firestore.CollectionRef {
	return r.client.Collection(r.names.name(CollectionCases))
}

func (r *caseRepository) Create(ctx context.Context, c *model.Case) (*model.Case, error) {
	created := c.Clone()
	if created.ID == "" {
		created.ID = model.NewCaseID()
	}
	ts := now()
	created.CreatedAt = ts
	created.UpdatedAt = ts

	if _, err := r.collection().Doc(string(created.ID)).Create(ctx, created); err != nil {
		if isAlreadyExists(err) {
			return nil, goerr.Wrap(interfaces.ErrAlreadyExists, "case already exists", goerr.V("id", created.ID))
		}
		return nil, goerr.Wrap(err, "failed to create case", goerr.V("id", created.ID))
	}
	return created, nil
}

func (r *caseRepository) Get(ctx context.Context, id model.CaseID) (*model.Case, error) {
	snap, err := r.collection().Doc(string(id)).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, goerr.Wrap(interfaces.ErrNotFound, "case not found", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get case", goerr.V("id", id))
	}

	var c model.Case
	if err := snap.DataTo(&c); err != nil {
		return nil, goerr.Wrap(err, "failed to decode case", goerr.V("id", id))
	}
	return &c, nil
}

func (r *caseRepository) List(ctx context.Context, opts ...interfaces.ListCaseOption) ([]*model.Case, error) {
	cfg := interfaces.BuildListCaseConfig(opts...)

	q := r.collection().Query
	if s := cfg.Status(); s != nil {
		q = q.Where("Status", "==", string(*s))
	}
	return r.query(ctx, q.OrderBy("CreatedAt", firestore.Asc))
}

func (r *caseRepository) ListByParent(ctx context.Context, parentID model.CaseID) ([]*model.Case, error) {
	q := r.collection().Where("ParentCaseID", "==", string(parentID)).OrderBy("CreatedAt", firestore.Asc)
	return r.query(ctx, q)
}

func (r *caseRepository) query(ctx context.Context, q firestore.Query) ([]*model.Case, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var cases []*model.Case
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate cases")
		}

		var c model.Case
		if err := snap.DataTo(&c); err != nil {
			return nil, goerr.Wrap(err, "failed to decode case", goerr.V("docID", snap.Ref.ID))
		}
		cases = append(cases, &c)
	}
	return cases, nil
}

func (r *caseRepository) UpdateStatus(ctx context.Context, id model.CaseID, from, to types.CaseStatus, mutate interfaces.CaseMutator) (*model.Case, error) {
	ref := r.collection().Doc(string(id))

	var result *model.Case
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return goerr.Wrap(interfaces.ErrNotFound, "case not found", goerr.V("id", id))
			}
			return goerr.Wrap(err, "failed to get case", goerr.V("id", id))
		}

		var stored model.Case
		if err := snap.DataTo(&stored); err != nil {
			return goerr.Wrap(err, "failed to decode case", goerr.V("id", id))
		}
		if stored.Status != from {
			return goerr.Wrap(interfaces.ErrStatusConflict, "case status changed",
				goerr.V("id", id),
				goerr.V("expected", from),
				goerr.V("actual", stored.Status))
		}

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

		result = updated
		return tx.Set(ref, updated)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
