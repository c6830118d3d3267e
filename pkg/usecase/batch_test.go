package usecase_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/icsrlink/pkg/domain/interfaces"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
	"github.com/secmon-lab/icsrlink/pkg/usecase"
)

func (f *fixture) createBatch(t *testing.T, cases ...*model.Case) *model.Batch {
	t.Helper()
	ids := make([]model.CaseID, 0, len(cases))
	for _, c := range cases {
		ids = append(ids, c.ID)
	}
	batch, err := f.uc.Batch.CreateBatch(context.Background(), types.BatchTypeExpedited, "weekly expedited", ids)
	gt.NoError(t, err).Required()
	return batch
}

func TestBatchUseCase_CreateBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("numbers are allocated per day", func(t *testing.T) {
		f := setup(t)
		first := f.createBatch(t, f.createCase(t))
		second := f.createBatch(t, f.createCase(t))

		gt.Value(t, first.Status).Equal(types.BatchStatusCreated)
		gt.String(t, first.Number).NotEqual(second.Number)

		members, err := f.uc.Batch.ListCases(ctx, first.ID)
		gt.NoError(t, err).Required()
		gt.A(t, members).Length(1)
	})

	t.Run("case in an active batch is refused", func(t *testing.T) {
		f := setup(t)
		c := f.createCase(t)
		f.createBatch(t, c)

		_, err := f.uc.Batch.CreateBatch(ctx, types.BatchTypeExpedited, "", []model.CaseID{c.ID})
		gt.Error(t, err).Is(usecase.ErrCaseInActiveBatch)
	})

	t.Run("duplicate members are refused", func(t *testing.T) {
		f := setup(t)
		c := f.createCase(t)

		_, err := f.uc.Batch.CreateBatch(ctx, types.BatchTypeExpedited, "", []model.CaseID{c.ID, c.ID})
		gt.Error(t, err).Is(usecase.ErrInvalidBatchMembers)
	})

	t.Run("unknown member", func(t *testing.T) {
		f := setup(t)
		_, err := f.uc.Batch.CreateBatch(ctx, types.BatchTypeExpedited, "", []model.CaseID{"missing"})
		gt.Error(t, err).Is(usecase.ErrCaseNotFound)
	})
}

func TestBatchUseCase_ValidateBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("one invalid member fails the batch", func(t *testing.T) {
		f := setup(t)
		batch := f.createBatch(t,
			f.createCase(t),
			f.createCase(t, func(c *model.Case) { c.Reactions = nil }),
			f.createCase(t),
		)

		v, err := f.uc.Batch.ValidateBatch(ctx, batch.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, v.ValidCases).Equal(2)
		gt.Value(t, v.InvalidCases).Equal(1)
		gt.Bool(t, v.IsValid).False()
		gt.Value(t, v.Batch.Status).Equal(types.BatchStatusValidationFailed)

		members, err := f.uc.Batch.ListCases(ctx, batch.ID)
		gt.NoError(t, err).Required()
		invalid := 0
		for _, m := range members {
			gt.Value(t, m.IsValid).NotNil()
			gt.Value(t, m.ValidatedAt).NotNil()
			if !*m.IsValid {
				invalid++
				gt.Bool(t, m.Errors.HasErrors()).True()
			}
		}
		gt.Value(t, invalid).Equal(1)
	})

	t.Run("invalid member removed and batch revalidated", func(t *testing.T) {
		f := setup(t)
		bad := f.createCase(t, func(c *model.Case) { c.Reactions = nil })
		batch := f.createBatch(t, f.createCase(t), bad)

		_, err := f.uc.Batch.ValidateBatch(ctx, batch.ID)
		gt.NoError(t, err).Required()

		gt.NoError(t, f.uc.Batch.RemoveCase(ctx, batch.ID, bad.ID)).Required()

		v, err := f.uc.Batch.ValidateBatch(ctx, batch.ID)
		gt.NoError(t, err).Required()
		gt.Bool(t, v.IsValid).True()
		gt.Value(t, v.Batch.Status).Equal(types.BatchStatusValidated)
	})

	t.Run("member with another market category is attributed", func(t *testing.T) {
		f := setup(t)
		premarket := f.createCase(t, func(c *model.Case) { c.MarketCategory = types.MarketCategoryPremarket })
		batch := f.createBatch(t, f.createCase(t), premarket, f.createCase(t))

		v, err := f.uc.Batch.ValidateBatch(ctx, batch.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, v.ValidCases).Equal(2)
		gt.Value(t, v.InvalidCases).Equal(1)
		gt.Value(t, v.Batch.Status).Equal(types.BatchStatusValidationFailed)

		for _, r := range v.Results {
			gt.Value(t, r.IsValid).NotNil()
			if r.CaseID != premarket.ID {
				gt.Bool(t, *r.IsValid).True()
				continue
			}
			gt.Bool(t, *r.IsValid).False()
			found := false
			for _, e := range r.Errors.Errors() {
				if e.Field == "market_category" {
					found = true
				}
			}
			gt.Bool(t, found).True()
		}
	})

	t.Run("empty batch is not valid", func(t *testing.T) {
		f := setup(t)
		batch := f.createBatch(t)

		v, err := f.uc.Batch.ValidateBatch(ctx, batch.ID)
		gt.NoError(t, err).Required()
		gt.Bool(t, v.IsValid).False()
	})

	t.Run("validated batch is frozen", func(t *testing.T) {
		f := setup(t)
		batch := f.createBatch(t, f.createCase(t))

		_, err := f.uc.Batch.ValidateBatch(ctx, batch.ID)
		gt.NoError(t, err).Required()

		err = f.uc.Batch.AddCase(ctx, batch.ID, f.createCase(t).ID)
		gt.Error(t, err).Is(usecase.ErrInvalidTransition)
	})
}

// validatingRepository starts validation of the batch right before a membership is stored,
// as a concurrent ValidateBatch would
type validatingRepository struct {
	interfaces.Repository
}

func (r *validatingRepository) Batch() interfaces.BatchRepository {
	return &validatingBatches{BatchRepository: r.Repository.Batch()}
}

type validatingBatches struct {
	interfaces.BatchRepository
}

func (r *validatingBatches) AddCase(ctx context.Context, bc *model.BatchCase, editable ...types.BatchStatus) error {
	if _, err := r.UpdateStatus(ctx, bc.BatchID, types.BatchStatusCreated, types.BatchStatusValidating, nil); err != nil {
		return err
	}
	return r.BatchRepository.AddCase(ctx, bc, editable...)
}

func TestBatchUseCase_AddCaseDuringValidation(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	member := f.createCase(t)
	batch := f.createBatch(t, member)
	late := f.createCase(t)

	racing := usecase.New(&validatingRepository{Repository: f.repo})
	err := racing.Batch.AddCase(ctx, batch.ID, late.ID)
	gt.Error(t, err).Is(usecase.ErrStatusConflict)

	members, err := f.uc.Batch.ListCases(ctx, batch.ID)
	gt.NoError(t, err).Required()
	gt.A(t, members).Length(1).Required()
	gt.Value(t, members[0].CaseID).Equal(member.ID)

	// the late case stays free for another batch
	active, err := f.repo.Batch().FindActiveBatch(ctx, late.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, active).Nil()
}

func TestBatchUseCase_Lifecycle(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	batch := f.createBatch(t, f.createCase(t), f.createCase(t))

	v, err := f.uc.Batch.ValidateBatch(ctx, batch.ID)
	gt.NoError(t, err).Required()
	gt.Bool(t, v.IsValid).True()

	exported, err := f.uc.Batch.ExportBatch(ctx, batch.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, exported.Status).Equal(types.BatchStatusExported)
	gt.String(t, exported.ExportLocation).Contains(batch.Number)

	submitted, err := f.uc.Submission.SubmitBatch(ctx, batch.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, submitted.Status).Equal(types.BatchStatusSubmitted)
	gt.Value(t, submitted.SubmissionID).Equal("sub-1")
	gt.A(t, f.gw.requests).Length(1).Required()
	gt.Value(t, f.gw.requests[0].Kind).Equal("batch")
	gt.Value(t, f.gw.requests[0].Reference).Equal(batch.Number)

	f.gw.ack = &model.Acknowledgment{Type: types.AckTypeAccepted}
	outcome, err := f.uc.Acknowledgment.PollBatch(ctx, batch.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, outcome).Equal(usecase.PollOutcomeAcknowledged)

	stored, err := f.uc.Batch.GetBatch(ctx, batch.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, stored.Status).Equal(types.BatchStatusAcknowledged)

	attempts, err := f.uc.Batch.Attempts(ctx, batch.ID)
	gt.NoError(t, err).Required()
	gt.A(t, attempts).Length(1)

	history, err := f.uc.Batch.History(ctx, batch.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, countEvents(history, types.HistoryEventBatchSubmitted)).Equal(1)
	gt.Value(t, countEvents(history, types.HistoryEventBatchAcknowledged)).Equal(1)
}

func TestBatchUseCase_SubmitBatchFailure(t *testing.T) {
	ctx := context.Background()
	f := setup(t, usecase.WithBackoff(fastBackoff(2)))

	batch := f.createBatch(t, f.createCase(t))
	_, err := f.uc.Batch.ValidateBatch(ctx, batch.ID)
	gt.NoError(t, err).Required()
	_, err = f.uc.Batch.ExportBatch(ctx, batch.ID)
	gt.NoError(t, err).Required()

	f.gw.createErrs = []error{networkError(types.ProtocolStepCreate), networkError(types.ProtocolStepCreate)}
	_, err = f.uc.Submission.SubmitBatch(ctx, batch.ID)
	gt.Value(t, err).NotNil()

	stored, err := f.uc.Batch.GetBatch(ctx, batch.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, stored.Status).Equal(types.BatchStatusFailed)
	gt.Value(t, stored.LastErrorCategory).Equal(types.ErrorCategoryNetwork)

	attempts, err := f.uc.Batch.Attempts(ctx, batch.ID)
	gt.NoError(t, err).Required()
	gt.A(t, attempts).Length(2)
}

func TestBatchUseCase_DeleteBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("created batch is deleted and members released", func(t *testing.T) {
		f := setup(t)
		c := f.createCase(t)
		batch := f.createBatch(t, c)

		gt.NoError(t, f.uc.Batch.DeleteBatch(ctx, batch.ID)).Required()

		_, err := f.uc.Batch.GetBatch(ctx, batch.ID)
		gt.Error(t, err).Is(usecase.ErrBatchNotFound)

		// the case can join a new batch
		f.createBatch(t, c)
	})

	t.Run("validated batch cannot be deleted", func(t *testing.T) {
		f := setup(t)
		batch := f.createBatch(t, f.createCase(t))
		_, err := f.uc.Batch.ValidateBatch(ctx, batch.ID)
		gt.NoError(t, err).Required()

		err = f.uc.Batch.DeleteBatch(ctx, batch.ID)
		gt.Error(t, err).Is(usecase.ErrInvalidTransition)
	})
}

func TestBatchUseCase_RecordAcknowledgment(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	batch := f.createBatch(t, f.createCase(t))

	_, err := f.uc.Batch.RecordAcknowledgment(ctx, batch.ID, &model.Acknowledgment{Type: types.AckTypePending})
	gt.Error(t, err).Is(usecase.ErrAckNotFinal)

	_, err = f.uc.Batch.RecordAcknowledgment(ctx, batch.ID, &model.Acknowledgment{Type: types.AckTypeAccepted})
	gt.Error(t, err).Is(usecase.ErrInvalidTransition)
}
