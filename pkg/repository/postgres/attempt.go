package postgres

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/interfaces"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
	"gorm.io/gorm"
)

type attemptRepository struct {
	db *gorm.DB
}

func (r *attemptRepository) Create(ctx context.Context, a *model.SubmissionAttempt) (*model.SubmissionAttempt, error) {
	if a.CaseID == "" && a.BatchID == "" {
		return nil, goerr.New("attempt requires a case or a batch")
	}

	created := a.Clone()
	created.ID = model.NewAttemptID()
	if created.Outcome == "" {
		created.Outcome = types.AttemptOutcomeInProgress
	}
	if created.StartedAt.IsZero() {
		created.StartedAt = now()
	}
	created.StartedAt = utc(created.StartedAt)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := nextSequence(tx, "attempt:"+created.SubjectKey())
		if err != nil {
			return err
		}
		created.AttemptNumber = int(n)
		return tx.Create(newAttemptRow(created)).Error
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create attempt", goerr.V("subject", a.SubjectKey()))
	}
	return created, nil
}

func (r *attemptRepository) Complete(ctx context.Context, a *model.SubmissionAttempt) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row SubmissionAttempt
		if err := tx.Clauses(forUpdate()).Where("id = ?", string(a.ID)).First(&row).Error; err != nil {
			if isNotFound(err) {
				return goerr.Wrap(interfaces.ErrNotFound, "attempt not found", goerr.V("id", a.ID))
			}
			return goerr.Wrap(err, "failed to get attempt", goerr.V("id", a.ID))
		}
		if types.AttemptOutcome(row.Outcome).IsFinal() {
			return goerr.Wrap(interfaces.ErrAttemptCompleted, "attempt already completed",
				goerr.V("id", a.ID), goerr.V("outcome", row.Outcome))
		}

		completedAt := now()
		if a.CompletedAt != nil {
			completedAt = utc(*a.CompletedAt)
		}

		err := tx.Model(&SubmissionAttempt{}).Where("id = ?", string(a.ID)).Updates(map[string]any{
			"outcome":          string(a.Outcome),
			"last_step":        string(a.LastStep),
			"error_category":   string(a.ErrorCategory),
			"error_message":    a.ErrorMessage,
			"http_status":      a.HTTPStatus,
			"submission_id":    a.SubmissionID,
			"tracking_id":      a.TrackingID,
			"ack_type":         string(a.AckType),
			"external_case_id": a.ExternalCaseID,
			"completed_at":     completedAt,
		}).Error
		if err != nil {
			return goerr.Wrap(err, "failed to complete attempt", goerr.V("id", a.ID))
		}
		return nil
	})
}

func (r *attemptRepository) find(db *gorm.DB) ([]*model.SubmissionAttempt, error) {
	var rows []SubmissionAttempt
	if err := db.Order("attempt_number ASC").Find(&rows).Error; err != nil {
		return nil, goerr.Wrap(err, "failed to list attempts")
	}

	attempts := make([]*model.SubmissionAttempt, 0, len(rows))
	for i := range rows {
		attempts = append(attempts, rows[i].toModel())
	}
	return attempts, nil
}

func (r *attemptRepository) ListByCase(ctx context.Context, caseID model.CaseID) ([]*model.SubmissionAttempt, error) {
	return r.find(r.db.WithContext(ctx).Where("case_id = ? AND batch_id = ''", string(caseID)))
}

func (r *attemptRepository) ListByBatch(ctx context.Context, batchID model.BatchID) ([]*model.SubmissionAttempt, error) {
	return r.find(r.db.WithContext(ctx).Where("batch_id = ?", string(batchID)))
}
