package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/interfaces"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
	"google.golang.org/api/iterator"
)

type batchRepository struct {
	client *firestore.Client
	names  *collectionNames
}

func (r *batchRepository) batches() *firestore.CollectionRef {
	return r.client.Collection(r.names.name(CollectionBatches))
}

func (r *batchRepository) members() *firestore.CollectionRef {
	return r.client.Collection(r.names.name(CollectionBatchCase))
}

func memberDocID(batchID model.BatchID, caseID model.CaseID) string {
	return string(batchID) + "_" + string(caseID)
}

func (r *batchRepository) Create(ctx context.Context, b *model.Batch) (*model.Batch, error) {
	created := b.Clone()
	if created.ID == "" {
		created.ID = model.NewBatchID()
	}
	ts := now()
	created.CreatedAt = ts
	created.UpdatedAt = ts

	if _, err := r.batches().Doc(string(created.ID)).Create(ctx, created); err != nil {
		if isAlreadyExists(err) {
			return nil, goerr.Wrap(interfaces.ErrAlreadyExists, "batch already exists", goerr.V("id", created.ID))
		}
		return nil, goerr.Wrap(err, "failed to create batch", goerr.V("id", created.ID))
	}
	return created, nil
}

func decodeBatch(snap *firestore.DocumentSnapshot) (*model.Batch, error) {
	var b model.Batch
	if err := snap.DataTo(&b); err != nil {
		return nil, goerr.Wrap(err, "failed to decode batch", goerr.V("docID", snap.Ref.ID))
	}
	return &b, nil
}

func (r *batchRepository) Get(ctx context.Context, id model.BatchID) (*model.Batch, error) {
	snap, err := r.batches().Doc(string(id)).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, goerr.Wrap(interfaces.ErrNotFound, "batch not found", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get batch", goerr.V("id", id))
	}
	return decodeBatch(snap)
}

func (r *batchRepository) List(ctx context.Context, opts ...interfaces.ListBatchOption) ([]*model.Batch, error) {
	cfg := interfaces.BuildListBatchConfig(opts...)

	q := r.batches().Query
	if s := cfg.Status(); s != nil {
		q = q.Where("Status", "==", string(*s))
	}

	iter := q.OrderBy("CreatedAt", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var batches []*model.Batch
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate batches")
		}
		b, err := decodeBatch(snap)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, nil
}

func (r *batchRepository) UpdateStatus(ctx context.Context, id model.BatchID, from, to types.BatchStatus, mutate interfaces.BatchMutator) (*model.Batch, error) {
	ref := r.batches().Doc(string(id))

	var result *model.Batch
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		stored, err := r.getInTx(tx, id)
		if err != nil {
			return err
		}
		if stored.Status != from {
			return goerr.Wrap(interfaces.ErrStatusConflict, "batch status changed",
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

func (r *batchRepository) getInTx(tx *firestore.Transaction, id model.BatchID) (*model.Batch, error) {
	snap, err := tx.Get(r.batches().Doc(string(id)))
	if err != nil {
		if isNotFound(err) {
			return nil, goerr.Wrap(interfaces.ErrNotFound, "batch not found", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get batch", goerr.V("id", id))
	}
	return decodeBatch(snap)
}

func (r *batchRepository) Delete(ctx context.Context, id model.BatchID, expected types.BatchStatus) error {
	return r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		stored, err := r.getInTx(tx, id)
		if err != nil {
			return err
		}
		if stored.Status != expected {
			return goerr.Wrap(interfaces.ErrStatusConflict, "batch status changed",
				goerr.V("id", id),
				goerr.V("expected", expected),
				goerr.V("actual", stored.Status))
		}

		memberSnaps, err := tx.Documents(r.members().Where("BatchID", "==", string(id))).GetAll()
		if err != nil {
			return goerr.Wrap(err, "failed to list batch members", goerr.V("id", id))
		}

		for _, snap := range memberSnaps {
			if err := tx.Delete(snap.Ref); err != nil {
				return goerr.Wrap(err, "failed to delete batch member", goerr.V("docID", snap.Ref.ID))
			}
		}
		return tx.Delete(r.batches().Doc(string(id)))
	})
}

// activeBatchInTx returns the active batch holding caseID, reading through tx
func (r *batchRepository) activeBatchInTx(tx *firestore.Transaction, caseID model.CaseID) (*model.Batch, error) {
	snaps, err := tx.Documents(r.members().Where("CaseID", "==", string(caseID))).GetAll()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list memberships", goerr.V("case_id", caseID))
	}

	for _, snap := range snaps {
		var m model.BatchCase
		if err := snap.DataTo(&m); err != nil {
			return nil, goerr.Wrap(err, "failed to decode membership", goerr.V("docID", snap.Ref.ID))
		}
		b, err := r.getInTx(tx, m.BatchID)
		if err != nil {
			return nil, err
		}
		if b.Status.IsActive() {
			return b, nil
		}
	}
	return nil, nil
}

func (r *batchRepository) AddCase(ctx context.Context, bc *model.BatchCase, editable ...types.BatchStatus) error {
	return r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		b, err := r.getInTx(tx, bc.BatchID)
		if err != nil {
			return err
		}
		if err := interfaces.RequireBatchStatus(b.ID, b.Status, editable); err != nil {
			return err
		}

		active, err := r.activeBatchInTx(tx, bc.CaseID)
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
		return tx.Set(r.members().Doc(memberDocID(bc.BatchID, bc.CaseID)), added)
	})
}

func (r *batchRepository) RemoveCase(ctx context.Context, batchID model.BatchID, caseID model.CaseID, editable ...types.BatchStatus) error {
	ref := r.members().Doc(memberDocID(batchID, caseID))
	return r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		b, err := r.getInTx(tx, batchID)
		if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
			return err
		}
		if b != nil {
			if err := interfaces.RequireBatchStatus(batchID, b.Status, editable); err != nil {
				return err
			}
		}
		if _, err := tx.Get(ref); err != nil {
			if isNotFound(err) {
				return goerr.Wrap(interfaces.ErrNotFound, "case is not a member of the batch",
					goerr.V("batch_id", batchID), goerr.V("case_id", caseID))
			}
			return goerr.Wrap(err, "failed to get membership")
		}
		return tx.Delete(ref)
	})
}

func (r *batchRepository) ListCases(ctx context.Context, batchID model.BatchID) ([]*model.BatchCase, error) {
	iter := r.members().Where("BatchID", "==", string(batchID)).OrderBy("AddedAt", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	members := []*model.BatchCase{}
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate batch members", goerr.V("batch_id", batchID))
		}

		var m model.BatchCase
		if err := snap.DataTo(&m); err != nil {
			return nil, goerr.Wrap(err, "failed to decode membership", goerr.V("docID", snap.Ref.ID))
		}
		members = append(members, &m)
	}
	return members, nil
}

func (r *batchRepository) SaveCaseResults(ctx context.Context, batchID model.BatchID, results []*model.BatchCase) error {
	for _, res := range results {
		if err := res.Errors.Validate(); err != nil {
			return goerr.Wrap(err, "invalid validation result", goerr.V("case_id", res.CaseID))
		}
	}

	refs := make([]*firestore.DocumentRef, len(results))
	for i, res := range results {
		refs[i] = r.members().Doc(memberDocID(batchID, res.CaseID))
	}

	return r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snaps, err := tx.GetAll(refs)
		if err != nil {
			return goerr.Wrap(err, "failed to get memberships", goerr.V("batch_id", batchID))
		}

		for i, snap := range snaps {
			if !snap.Exists() {
				return goerr.Wrap(interfaces.ErrNotFound, "case is not a member of the batch",
					goerr.V("batch_id", batchID), goerr.V("case_id", results[i].CaseID))
			}
			var stored model.BatchCase
			if err := snap.DataTo(&stored); err != nil {
				return goerr.Wrap(err, "failed to decode membership", goerr.V("docID", snap.Ref.ID))
			}

			saved := results[i].Clone()
			saved.BatchID = batchID
			saved.AddedAt = stored.AddedAt
			if err := tx.Set(refs[i], saved); err != nil {
				return goerr.Wrap(err, "failed to save validation result", goerr.V("case_id", saved.CaseID))
			}
		}
		return nil
	})
}

func (r *batchRepository) FindActiveBatch(ctx context.Context, caseID model.CaseID) (*model.Batch, error) {
	var found *model.Batch
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		b, err := r.activeBatchInTx(tx, caseID)
		found = b
		return err
	}, firestore.ReadOnly)
	if err != nil {
		return nil, err
	}
	return found, nil
}
