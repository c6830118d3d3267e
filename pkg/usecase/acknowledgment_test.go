package usecase_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
	"github.com/secmon-lab/icsrlink/pkg/usecase"
)

// clock is a settable time source for timeout tests
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestAcknowledgmentUseCase_PollCase(t *testing.T) {
	ctx := context.Background()

	t.Run("accepted acknowledgment settles the case", func(t *testing.T) {
		f := setup(t)
		c := f.submittedCase(t)
		f.gw.ack = &model.Acknowledgment{Type: types.AckTypeAccepted, ExternalCaseID: "EXT-42"}

		outcome, err := f.uc.Acknowledgment.PollCase(ctx, c.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, outcome).Equal(usecase.PollOutcomeAcknowledged)

		stored, err := f.uc.Case.GetCase(ctx, c.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, stored.Status).Equal(types.CaseStatusAcknowledged)
		gt.Value(t, stored.ExternalCaseID).Equal("EXT-42")
		gt.Value(t, stored.AckType).Equal(types.AckTypeAccepted)
		gt.Value(t, stored.AcknowledgedAt).NotNil()
	})

	t.Run("rejected acknowledgment keeps the errors", func(t *testing.T) {
		f := setup(t)
		c := f.submittedCase(t)
		f.gw.ack = &model.Acknowledgment{
			Type:    types.AckTypeRejected,
			Message: "schema violation",
			Errors:  []model.AckError{{Code: "E001", Message: "missing reaction term"}},
		}

		outcome, err := f.uc.Acknowledgment.PollCase(ctx, c.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, outcome).Equal(usecase.PollOutcomeRejected)

		stored, err := f.uc.Case.GetCase(ctx, c.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, stored.Status).Equal(types.CaseStatusRejected)
		gt.A(t, stored.AckErrors).Length(1).Required()
		gt.Value(t, stored.AckErrors[0].Code).Equal("E001")

		history, err := f.uc.Case.History(ctx, c.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, countEvents(history, types.HistoryEventRejected)).Equal(1)
	})

	t.Run("overdue acknowledgment is flagged once", func(t *testing.T) {
		clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
		f := setup(t, usecase.WithClock(clk.Now), usecase.WithAckTimeout(time.Hour))
		c := f.submittedCase(t)

		outcome, err := f.uc.Acknowledgment.PollCase(ctx, c.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, outcome).Equal(usecase.PollOutcomePending)

		clk.Advance(2 * time.Hour)
		outcome, err = f.uc.Acknowledgment.PollCase(ctx, c.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, outcome).Equal(usecase.PollOutcomeNeedsAttention)

		outcome, err = f.uc.Acknowledgment.PollCase(ctx, c.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, outcome).Equal(usecase.PollOutcomePending)

		stored, err := f.uc.Case.GetCase(ctx, c.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, stored.Status).Equal(types.CaseStatusSubmitted)
		gt.Bool(t, stored.NeedsAttention).True()

		history, err := f.uc.Case.History(ctx, c.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, countEvents(history, types.HistoryEventNeedsAttention)).Equal(1)

		// a late acknowledgment still settles the case and clears the flag
		f.gw.ack = &model.Acknowledgment{Type: types.AckTypeAccepted}
		outcome, err = f.uc.Acknowledgment.PollCase(ctx, c.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, outcome).Equal(usecase.PollOutcomeAcknowledged)

		stored, err = f.uc.Case.GetCase(ctx, c.ID)
		gt.NoError(t, err).Required()
		gt.Bool(t, stored.NeedsAttention).False()
	})

	t.Run("case not awaiting acknowledgment", func(t *testing.T) {
		f := setup(t)
		c := f.exportedCase(t)

		_, err := f.uc.Acknowledgment.PollCase(ctx, c.ID)
		gt.Error(t, err).Is(usecase.ErrInvalidTransition)
		gt.Value(t, f.gw.count("ack")).Equal(0)
	})
}

func TestAcknowledgmentUseCase_PendingCases(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	submitted := f.submittedCase(t)
	f.exportedCase(t)

	pending, err := f.uc.Acknowledgment.PendingCases(ctx)
	gt.NoError(t, err).Required()
	gt.A(t, pending).Length(1).Required()
	gt.Value(t, pending[0].ID).Equal(submitted.ID)
}

func TestAcknowledgmentUseCase_RecordCaseAcknowledgment(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	c := f.submittedCase(t)

	_, err := f.uc.Acknowledgment.RecordCaseAcknowledgment(ctx, c.ID, &model.Acknowledgment{Type: types.AckTypePending})
	gt.Error(t, err).Is(usecase.ErrAckNotFinal)

	acked, err := f.uc.Acknowledgment.RecordCaseAcknowledgment(ctx, c.ID, &model.Acknowledgment{Type: types.AckTypeAccepted})
	gt.NoError(t, err).Required()
	gt.Value(t, acked.Status).Equal(types.CaseStatusAcknowledged)

	// terminal cases accept no further acknowledgment
	_, err = f.uc.Acknowledgment.RecordCaseAcknowledgment(ctx, c.ID, &model.Acknowledgment{Type: types.AckTypeRejected})
	gt.Error(t, err).Is(usecase.ErrInvalidTransition)
}
