package usecase_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/icsrlink/pkg/domain/interfaces"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
	"github.com/secmon-lab/icsrlink/pkg/repository/memory"
	"github.com/secmon-lab/icsrlink/pkg/usecase"
)

func TestCaseUseCase_CreateCase(t *testing.T) {
	t.Run("new case starts as initial draft", func(t *testing.T) {
		f := setup(t)
		c := f.createCase(t, func(c *model.Case) {
			c.Status = types.CaseStatusSubmitted
			c.Version = 7
			c.SubmissionID = "stale"
		})

		gt.Value(t, c.Status).Equal(types.CaseStatusDraft)
		gt.Value(t, c.Version).Equal(1)
		gt.Value(t, c.FollowupType).Equal(types.FollowupTypeInitial)
		gt.Value(t, c.SubmissionID).Equal("")
		gt.String(t, string(c.ID)).NotEqual("")

		history, err := f.uc.Case.History(context.Background(), c.ID)
		gt.NoError(t, err).Required()
		gt.A(t, history).Length(1).Required()
		gt.Value(t, history[0].Event).Equal(types.HistoryEventCreated)
	})

	t.Run("safety report id is required", func(t *testing.T) {
		f := setup(t)
		_, err := f.uc.Case.CreateCase(context.Background(), &model.Case{})
		gt.Value(t, err).NotNil()
	})
}

func TestCaseUseCase_UpdateCase(t *testing.T) {
	ctx := context.Background()

	t.Run("draft can be edited", func(t *testing.T) {
		f := setup(t)
		c := f.createCase(t)

		input := c.Clone()
		input.Narrative = "updated narrative for the rash event"
		updated, err := f.uc.Case.UpdateCase(ctx, c.ID, input)
		gt.NoError(t, err).Required()
		gt.Value(t, updated.Narrative).Equal("updated narrative for the rash event")
		gt.Value(t, updated.Status).Equal(types.CaseStatusDraft)
	})

	t.Run("exported case cannot be edited", func(t *testing.T) {
		f := setup(t)
		c := f.exportedCase(t)

		_, err := f.uc.Case.UpdateCase(ctx, c.ID, c.Clone())
		gt.Error(t, err).Is(usecase.ErrInvalidTransition)
	})

	t.Run("unknown case", func(t *testing.T) {
		f := setup(t)
		_, err := f.uc.Case.UpdateCase(ctx, "missing", &model.Case{SafetyReportID: "X"})
		gt.Error(t, err).Is(usecase.ErrCaseNotFound)
	})
}

func TestCaseUseCase_MarkReadyForExport(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name    string
		mutate  func(c *model.Case)
		wantErr bool
		field   string
	}{
		{
			name:   "valid case",
			mutate: func(c *model.Case) {},
		},
		{
			name:    "case without reactions",
			mutate:  func(c *model.Case) { c.Reactions = nil },
			wantErr: true,
			field:   "reaction",
		},
		{
			name:    "case without suspect drug",
			mutate:  func(c *model.Case) { c.Drugs[0].Characterization = types.DrugCharacterizationConcomitant },
			wantErr: true,
			field:   "drug",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := setup(t)
			c := f.createCase(t, tc.mutate)

			updated, result, err := f.uc.Case.MarkReadyForExport(ctx, c.ID)
			gt.Value(t, result).NotNil()

			if !tc.wantErr {
				gt.NoError(t, err).Required()
				gt.Value(t, updated.Status).Equal(types.CaseStatusReadyForExport)
				return
			}

			gt.Error(t, err).Is(usecase.ErrValidationFailed)
			gt.Bool(t, result.Valid).False()
			gt.String(t, strings.ToLower(result.Errors.Errors().Summary())).Contains(tc.field)

			stored, err := f.uc.Case.GetCase(ctx, c.ID)
			gt.NoError(t, err).Required()
			gt.Value(t, stored.Status).Equal(types.CaseStatusDraft)
		})
	}
}

func TestCaseUseCase_ExportCase(t *testing.T) {
	ctx := context.Background()

	t.Run("writes document and moves to exported", func(t *testing.T) {
		f := setup(t)
		c := f.exportedCase(t)

		gt.Bool(t, strings.HasSuffix(c.ExportLocation, c.SafetyReportID+"-v1.xml")).True()
		gt.Value(t, c.ExportedAt).NotNil()

		data, err := os.ReadFile(c.ExportLocation)
		gt.NoError(t, err).Required()
		gt.String(t, string(data)).Contains(c.SafetyReportID)
	})

	t.Run("draft cannot be exported", func(t *testing.T) {
		f := setup(t)
		c := f.createCase(t)

		_, err := f.uc.Case.ExportCase(ctx, c.ID)
		gt.Error(t, err).Is(usecase.ErrInvalidTransition)
	})

	t.Run("export store is required", func(t *testing.T) {
		uc := usecase.New(memory.New())
		c, err := uc.Case.CreateCase(ctx, &model.Case{SafetyReportID: "US-1"})
		gt.NoError(t, err).Required()

		_, err = uc.Case.ExportCase(ctx, c.ID)
		gt.Error(t, err).Is(usecase.ErrExportNotConfigured)
	})
}

func TestCaseUseCase_ReturnToDraft(t *testing.T) {
	ctx := context.Background()

	t.Run("failed submission returns to draft with tracking cleared", func(t *testing.T) {
		f := setup(t, usecase.WithBackoff(fastBackoff(1)))
		c := f.exportedCase(t)
		f.gw.createErrs = []error{statusError(types.ProtocolStepCreate, 422)}

		_, err := f.uc.Submission.SubmitCase(ctx, c.ID)
		gt.Value(t, err).NotNil()

		draft, err := f.uc.Case.ReturnToDraft(ctx, c.ID, "fix reporter details")
		gt.NoError(t, err).Required()
		gt.Value(t, draft.Status).Equal(types.CaseStatusDraft)
		gt.Value(t, draft.LastError).Equal("")
		gt.Value(t, draft.ExportLocation).Equal("")
	})

	t.Run("submitted case cannot return to draft", func(t *testing.T) {
		f := setup(t)
		c := f.submittedCase(t)

		_, err := f.uc.Case.ReturnToDraft(ctx, c.ID, "oops")
		gt.Error(t, err).Is(usecase.ErrInvalidTransition)
	})
}

func TestCaseUseCase_ListCases(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	f.createCase(t)
	f.exportedCase(t)

	drafts, err := f.uc.Case.ListCases(ctx, interfaces.WithStatus(types.CaseStatusDraft))
	gt.NoError(t, err).Required()
	gt.A(t, drafts).Length(1)

	all, err := f.uc.Case.ListCases(ctx)
	gt.NoError(t, err).Required()
	gt.A(t, all).Length(2)
}
