package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"google.golang.org/api/iterator"
)

type historyRepository struct {
	client *firestore.Client
	names  *collectionNames
}

func (r *historyRepository) collection() *firestore.CollectionRef {
	return r.client.Collection(r.names.name(CollectionHistory))
}

func (r *historyRepository) Append(ctx context.Context, h *model.HistoryEntry) (*model.HistoryEntry, error) {
	appended := h.Clone()
	if appended.ID == "" {
		appended.ID = model.NewHistoryEntryID()
	}
	if appended.CreatedAt.IsZero() {
		appended.CreatedAt = now()
	}

	if _, err := r.collection().Doc(string(appended.ID)).Create(ctx, appended); err != nil {
		return nil, goerr.Wrap(err, "failed to append history entry", goerr.V("id", appended.ID))
	}
	return appended, nil
}

func (r *historyRepository) list(ctx context.Context, field, value string) ([]*model.HistoryEntry, error) {
	iter := r.collection().Where(field, "==", value).OrderBy("CreatedAt", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var entries []*model.HistoryEntry
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, fmt.Sprintf("failed to iterate history by %s", field), goerr.V("value", value))
		}

		var e model.HistoryEntry
		if err := snap.DataTo(&e); err != nil {
			return nil, goerr.Wrap(err, "failed to decode history entry", goerr.V("docID", snap.Ref.ID))
		}
		entries = append(entries, &e)
	}
	return entries, nil
}

func (r *historyRepository) ListByCase(ctx context.Context, caseID model.CaseID) ([]*model.HistoryEntry, error) {
	return r.list(ctx, "CaseID", string(caseID))
}

func (r *historyRepository) ListByBatch(ctx context.Context, batchID model.BatchID) ([]*model.HistoryEntry, error) {
	return r.list(ctx, "BatchID", string(batchID))
}

type sequenceRepository struct {
	client *firestore.Client
	names  *collectionNames
}

func (r *sequenceRepository) Next(ctx context.Context, scope string) (int64, error) {
	ref := r.client.Collection(r.names.name(CollectionCounters)).Doc("seq_" + scope)

	var next int64
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		n, err := incrementCounter(tx, ref)
		next = n
		return err
	})
	if err != nil {
		return 0, goerr.Wrap(err, "failed to get next sequence", goerr.V("scope", scope))
	}
	return next, nil
}
