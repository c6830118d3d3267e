package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/interfaces"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Collection names without prefix
const (
	CollectionCases     = "cases"
	CollectionBatches   = "batches"
	CollectionBatchCase = "batch_cases"
	CollectionAttempts  = "submission_attempts"
	CollectionHistory   = "history"
	CollectionCounters  = "counters"
)

type Firestore struct {
	client     *firestore.Client
	databaseID string
	names      *collectionNames
	caseRepo   *caseRepository
	batch      *batchRepository
	attempt    *attemptRepository
	history    *historyRepository
	sequence   *sequenceRepository
}

var _ interfaces.Repository = &Firestore{}

type collectionNames struct {
	prefix string
}

func (n *collectionNames) name(base string) string {
	if n.prefix != "" {
		return n.prefix + "_" + base
	}
	return base
}

type Option func(*Firestore)

func WithCollectionPrefix(prefix string) Option {
	return func(f *Firestore) {
		f.names.prefix = prefix
	}
}

// WithDatabaseID selects a named database instead of the default one
func WithDatabaseID(databaseID string) Option {
	return func(f *Firestore) {
		f.databaseID = databaseID
	}
}

func New(ctx context.Context, projectID string, opts ...Option) (*Firestore, error) {
	f := &Firestore{names: &collectionNames{}}
	for _, opt := range opts {
		opt(f)
	}

	var client *firestore.Client
	var err error
	if f.databaseID != "" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, f.databaseID)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("projectID", projectID),
			goerr.V("databaseID", f.databaseID))
	}

	f.client = client
	f.caseRepo = &caseRepository{client: client, names: f.names}
	f.batch = &batchRepository{client: client, names: f.names}
	f.attempt = &attemptRepository{client: client, names: f.names}
	f.history = &historyRepository{client: client, names: f.names}
	f.sequence = &sequenceRepository{client: client, names: f.names}

	return f, nil
}

func (f *Firestore) Case() interfaces.CaseRepository {
	return f.caseRepo
}

func (f *Firestore) Batch() interfaces.BatchRepository {
	return f.batch
}

func (f *Firestore) Attempt() interfaces.AttemptRepository {
	return f.attempt
}

func (f *Firestore) History() interfaces.HistoryRepository {
	return f.history
}

func (f *Firestore) Sequence() interfaces.SequenceRepository {
	return f.sequence
}

func (f *Firestore) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

// now returns the current time at the precision Firestore stores
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func isAlreadyExists(err error) bool {
	return status.Code(err) == codes.AlreadyExists
}

// incrementCounter reads and bumps a counter document inside tx. Missing counters start at 1.
func incrementCounter(tx *firestore.Transaction, ref *firestore.DocumentRef) (int64, error) {
	doc, err := tx.Get(ref)
	if err != nil {
		if isNotFound(err) {
			return 1, tx.Set(ref, map[string]interface{}{"value": int64(1)})
		}
		return 0, goerr.Wrap(err, "failed to get counter", goerr.V("counter", ref.ID))
	}

	currentValue, err := doc.DataAt("value")
	if err != nil {
		return 0, goerr.Wrap(err, "failed to get counter value", goerr.V("counter", ref.ID))
	}
	val, ok := currentValue.(int64)
	if !ok {
		return 0, goerr.New("counter value is not of type int64", goerr.V("value", currentValue))
	}

	next := val + 1
	if err := tx.Update(ref, []firestore.Update{{Path: "value", Value: next}}); err != nil {
		return 0, goerr.Wrap(err, "failed to update counter", goerr.V("counter", ref.ID))
	}
	return next, nil
}
