package usecase

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/interfaces"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
	"github.com/secmon-lab/icsrlink/pkg/service/icsr"
)

type CaseUseCase struct {
	uc *UseCases
}

// CreateCase stores a new initial case in draft
func (c *CaseUseCase) CreateCase(ctx context.Context, input *model.Case) (*model.Case, error) {
	if input == nil {
		return nil, goerr.New("case is required")
	}
	if input.SafetyReportID == "" {
		return nil, goerr.New("safety report id is required")
	}

	draft := input.Clone()
	draft.ID = ""
	draft.Status = types.CaseStatusDraft
	draft.Version = 1
	draft.ParentCaseID = ""
	draft.FollowupType = types.FollowupTypeInitial
	draft.IsNullified = false
	draft.NullificationReason = ""
	draft.ChainVersion = 0
	draft.ChainNullified = false
	draft.ResetSubmissionTracking()
	draft.ApplyDefaults()

	created, err := c.uc.repo.Case().Create(ctx, draft)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create case")
	}

	c.uc.record(ctx, &model.HistoryEntry{
		CaseID:   created.ID,
		Event:    types.HistoryEventCreated,
		ToStatus: string(created.Status),
		Message:  "case created",
		Details:  map[string]string{"safety_report_id": created.SafetyReportID},
	})
	return created, nil
}

func (c *CaseUseCase) GetCase(ctx context.Context, id model.CaseID) (*model.Case, error) {
	return c.uc.getCase(ctx, id)
}

func (c *CaseUseCase) ListCases(ctx context.Context, opts ...interfaces.ListCaseOption) ([]*model.Case, error) {
	cases, err := c.uc.repo.Case().List(ctx, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list cases")
	}
	return cases, nil
}

// UpdateCase replaces the clinical content of a draft case. Identity, versioning and
// submission tracking are kept.
func (c *CaseUseCase) UpdateCase(ctx context.Context, id model.CaseID, input *model.Case) (*model.Case, error) {
	if input == nil {
		return nil, goerr.New("case is required")
	}

	current, err := c.uc.getCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireCaseStatus(current, types.CaseStatusDraft); err != nil {
		return nil, err
	}

	return c.uc.transitionCase(ctx, id, caseTransition{
		from:    types.CaseStatusDraft,
		to:      types.CaseStatusDraft,
		event:   types.HistoryEventUpdated,
		message: "case updated",
		mutate: func(stored *model.Case) error {
			next := input.Clone()
			next.ID = stored.ID
			next.Version = stored.Version
			next.ParentCaseID = stored.ParentCaseID
			next.FollowupType = stored.FollowupType
			next.IsNullified = stored.IsNullified
			next.ChainVersion = stored.ChainVersion
			next.ChainNullified = stored.ChainNullified
			if !stored.IsNullified {
				next.NullificationReason = ""
			} else if next.NullificationReason == "" {
				next.NullificationReason = stored.NullificationReason
			}
			next.ResetSubmissionTracking()
			next.ApplyDefaults()
			next.Status = stored.Status
			*stored = *next
			return nil
		},
	})
}

// ValidateCase runs the validation engine over the stored case
func (c *CaseUseCase) ValidateCase(ctx context.Context, id model.CaseID) (*model.ValidationResult, error) {
	current, err := c.uc.getCase(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.uc.validator.Validate(current), nil
}

// MarkReadyForExport moves a valid draft to ready_for_export. Invalid cases are rejected with
// ErrValidationFailed and the findings attached.
func (c *CaseUseCase) MarkReadyForExport(ctx context.Context, id model.CaseID) (*model.Case, *model.ValidationResult, error) {
	current, err := c.uc.getCase(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := requireCaseStatus(current, types.CaseStatusDraft); err != nil {
		return nil, nil, err
	}

	result := c.uc.validator.Validate(current)
	if !result.Valid {
		return nil, result, goerr.Wrap(ErrValidationFailed, "case has validation errors",
			goerr.V(CaseIDKey, id),
			goerr.V("errors", result.Errors.Errors().Summary()))
	}

	updated, err := c.uc.transitionCase(ctx, id, caseTransition{
		from:    types.CaseStatusDraft,
		to:      types.CaseStatusReadyForExport,
		event:   types.HistoryEventReadyForExport,
		message: "case passed validation",
		details: map[string]string{"warnings": fmt.Sprint(len(result.Errors.Warnings()))},
	})
	if err != nil {
		return nil, result, err
	}
	return updated, result, nil
}

// GenerateXML builds the wire document of a case without changing its status
func (c *CaseUseCase) GenerateXML(ctx context.Context, id model.CaseID) (*icsr.Result, error) {
	current, err := c.uc.getCase(ctx, id)
	if err != nil {
		return nil, err
	}
	return icsr.GenerateCase(current, c.uc.codec), nil
}

// ExportCase generates the document of a ready case, writes it to the export store and moves
// the case to exported
func (c *CaseUseCase) ExportCase(ctx context.Context, id model.CaseID) (*model.Case, error) {
	if c.uc.exporter == nil {
		return nil, goerr.Wrap(ErrExportNotConfigured, "cannot export case", goerr.V(CaseIDKey, id))
	}

	current, err := c.uc.getCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireCaseStatus(current, types.CaseStatusReadyForExport); err != nil {
		return nil, err
	}

	result := icsr.GenerateCase(current, c.uc.codec)
	if !result.Success {
		return nil, goerr.Wrap(ErrGenerationFailed, "failed to generate case document",
			goerr.V(CaseIDKey, id),
			goerr.V("errors", result.Errors.Summary()))
	}

	location, err := c.uc.exporter.Write(ctx, caseDocumentName(current), result.XML)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to write case document", goerr.V(CaseIDKey, id))
	}

	exportedAt := c.uc.timestamp()
	return c.uc.transitionCase(ctx, id, caseTransition{
		from:    types.CaseStatusReadyForExport,
		to:      types.CaseStatusExported,
		event:   types.HistoryEventExported,
		message: "case document exported",
		details: map[string]string{"location": location},
		mutate: func(stored *model.Case) error {
			stored.ExportLocation = location
			stored.ExportedAt = &exportedAt
			return nil
		},
	})
}

func caseDocumentName(c *model.Case) string {
	return fmt.Sprintf("%s-v%d.xml", c.SafetyReportID, c.Version)
}

// ReturnToDraft sends a case back for manual correction and clears submission tracking
func (c *CaseUseCase) ReturnToDraft(ctx context.Context, id model.CaseID, reason string) (*model.Case, error) {
	current, err := c.uc.getCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireCaseStatus(current,
		types.CaseStatusReadyForExport,
		types.CaseStatusExported,
		types.CaseStatusSubmissionFailed,
	); err != nil {
		return nil, err
	}

	return c.uc.transitionCase(ctx, id, caseTransition{
		from:    current.Status,
		to:      types.CaseStatusDraft,
		event:   types.HistoryEventReturnedToDraft,
		message: reason,
		mutate: func(stored *model.Case) error {
			stored.ResetSubmissionTracking()
			return nil
		},
	})
}

// History returns the audit trail of a case ordered by time
func (c *CaseUseCase) History(ctx context.Context, id model.CaseID) ([]*model.HistoryEntry, error) {
	if _, err := c.uc.getCase(ctx, id); err != nil {
		return nil, err
	}
	entries, err := c.uc.repo.History().ListByCase(ctx, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list case history", goerr.V(CaseIDKey, id))
	}
	return entries, nil
}

// Attempts returns the submission attempts of a case ordered by attempt number
func (c *CaseUseCase) Attempts(ctx context.Context, id model.CaseID) ([]*model.SubmissionAttempt, error) {
	if _, err := c.uc.getCase(ctx, id); err != nil {
		return nil, err
	}
	attempts, err := c.uc.repo.Attempt().ListByCase(ctx, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list attempts", goerr.V(CaseIDKey, id))
	}
	return attempts, nil
}
