package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/interfaces"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
	"github.com/secmon-lab/icsrlink/pkg/service/icsr"
	"github.com/secmon-lab/icsrlink/pkg/utils/errutil"
	"golang.org/x/sync/errgroup"
)

type BatchUseCase struct {
	uc *UseCases
}

// BatchValidation is the outcome of validating every member of a batch
type BatchValidation struct {
	Batch        *model.Batch
	ValidCases   int
	InvalidCases int
	IsValid      bool
	Results      []*model.BatchCase
}

// CreateBatch allocates the next batch number of the day and adds the given cases. It fails
// with ErrCaseInActiveBatch before writing anything when a case already belongs to an active
// batch.
func (b *BatchUseCase) CreateBatch(ctx context.Context, batchType types.BatchType, description string, caseIDs []model.CaseID) (*model.Batch, error) {
	if !batchType.IsValid() {
		return nil, goerr.New("invalid batch type", goerr.V("type", batchType))
	}

	seen := make(map[model.CaseID]bool, len(caseIDs))
	for _, id := range caseIDs {
		if seen[id] {
			return nil, goerr.Wrap(ErrInvalidBatchMembers, "case is listed twice", goerr.V(CaseIDKey, id))
		}
		seen[id] = true

		if _, err := b.uc.getCase(ctx, id); err != nil {
			return nil, err
		}
		if err := b.ensureNotInActiveBatch(ctx, id); err != nil {
			return nil, err
		}
	}

	day := b.uc.now().UTC()
	seq, err := b.uc.repo.Sequence().Next(ctx, model.BatchSequenceScope(day))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to allocate batch number")
	}

	created, err := b.uc.repo.Batch().Create(ctx, &model.Batch{
		Number:      model.FormatBatchNumber(day, seq),
		Type:        batchType,
		Status:      types.BatchStatusCreated,
		Description: description,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create batch")
	}

	for _, id := range caseIDs {
		if err := b.uc.repo.Batch().AddCase(ctx, &model.BatchCase{BatchID: created.ID, CaseID: id}); err != nil {
			if delErr := b.uc.repo.Batch().Delete(ctx, created.ID, types.BatchStatusCreated); delErr != nil {
				errutil.Handle(ctx, delErr, "failed to roll back batch creation")
			}
			return nil, goerr.Wrap(err, "failed to add case to new batch",
				goerr.V(BatchIDKey, created.ID), goerr.V(CaseIDKey, id))
		}
	}

	b.uc.record(ctx, &model.HistoryEntry{
		BatchID:  created.ID,
		Event:    types.HistoryEventBatchCreated,
		ToStatus: string(created.Status),
		Message:  "batch " + created.Number + " created",
		Details: map[string]string{
			"number": created.Number,
			"type":   string(created.Type),
			"cases":  strconv.Itoa(len(caseIDs)),
		},
	})
	return created, nil
}

func (b *BatchUseCase) ensureNotInActiveBatch(ctx context.Context, id model.CaseID) error {
	active, err := b.uc.repo.Batch().FindActiveBatch(ctx, id)
	if err != nil {
		return goerr.Wrap(err, "failed to look up active batch", goerr.V(CaseIDKey, id))
	}
	if active != nil {
		return goerr.Wrap(ErrCaseInActiveBatch, "case already belongs to an active batch",
			goerr.V(CaseIDKey, id),
			goerr.V(BatchIDKey, active.ID),
			goerr.V("batch_number", active.Number))
	}
	return nil
}

func (b *BatchUseCase) GetBatch(ctx context.Context, id model.BatchID) (*model.Batch, error) {
	return b.uc.getBatch(ctx, id)
}

func (b *BatchUseCase) ListBatches(ctx context.Context, opts ...interfaces.ListBatchOption) ([]*model.Batch, error) {
	batches, err := b.uc.repo.Batch().List(ctx, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list batches")
	}
	return batches, nil
}

// ListCases returns the memberships of a batch with their last validation outcome
func (b *BatchUseCase) ListCases(ctx context.Context, id model.BatchID) ([]*model.BatchCase, error) {
	if _, err := b.uc.getBatch(ctx, id); err != nil {
		return nil, err
	}
	members, err := b.uc.repo.Batch().ListCases(ctx, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list batch cases", goerr.V(BatchIDKey, id))
	}
	return members, nil
}

// membershipEditable lists the statuses in which members may be added or removed. Validated
// batches are frozen so that export always sees a validated member set.
var membershipEditable = []types.BatchStatus{
	types.BatchStatusCreated,
	types.BatchStatusValidationFailed,
}

func (b *BatchUseCase) AddCase(ctx context.Context, batchID model.BatchID, caseID model.CaseID) error {
	batch, err := b.uc.getBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if err := requireBatchStatus(batch, membershipEditable...); err != nil {
		return err
	}
	if _, err := b.uc.getCase(ctx, caseID); err != nil {
		return err
	}

	// validation may have started since the check above
	if err := b.uc.repo.Batch().AddCase(ctx, &model.BatchCase{BatchID: batchID, CaseID: caseID}, membershipEditable...); err != nil {
		return goerr.Wrap(err, "failed to add case to batch", goerr.V(BatchIDKey, batchID), goerr.V(CaseIDKey, caseID))
	}
	return nil
}

func (b *BatchUseCase) RemoveCase(ctx context.Context, batchID model.BatchID, caseID model.CaseID) error {
	batch, err := b.uc.getBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if err := requireBatchStatus(batch, membershipEditable...); err != nil {
		return err
	}

	if err := b.uc.repo.Batch().RemoveCase(ctx, batchID, caseID, membershipEditable...); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return goerr.Wrap(ErrCaseNotFound, "case is not a member of the batch",
				goerr.V(BatchIDKey, batchID), goerr.V(CaseIDKey, caseID))
		}
		return goerr.Wrap(err, "failed to remove case from batch", goerr.V(BatchIDKey, batchID), goerr.V(CaseIDKey, caseID))
	}
	return nil
}

// ValidateBatch validates every member case, stores the per-case outcome and moves the batch
// to validated only when no member is invalid.
func (b *BatchUseCase) ValidateBatch(ctx context.Context, id model.BatchID) (*BatchValidation, error) {
	batch, err := b.uc.getBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if !batch.Status.CanValidate() {
		return nil, goerr.Wrap(ErrInvalidTransition, "batch cannot be validated in the current status",
			goerr.V(BatchIDKey, id), goerr.V(StatusKey, batch.Status))
	}

	if _, err := b.uc.transitionBatch(ctx, id, batchTransition{
		from: batch.Status,
		to:   types.BatchStatusValidating,
	}); err != nil {
		return nil, err
	}

	results, err := b.validateMembers(ctx, id)
	if err != nil {
		b.abortValidation(ctx, id, err)
		return nil, err
	}
	if err := b.uc.repo.Batch().SaveCaseResults(ctx, id, results); err != nil {
		err = goerr.Wrap(err, "failed to save validation results", goerr.V(BatchIDKey, id))
		b.abortValidation(ctx, id, err)
		return nil, err
	}

	v := &BatchValidation{Results: results}
	for _, r := range results {
		if r.IsValid != nil && *r.IsValid {
			v.ValidCases++
		} else {
			v.InvalidCases++
		}
	}
	v.IsValid = v.InvalidCases == 0 && v.ValidCases > 0

	next := types.BatchStatusValidationFailed
	if v.IsValid {
		next = types.BatchStatusValidated
	}

	updated, err := b.uc.transitionBatch(ctx, id, batchTransition{
		from:    types.BatchStatusValidating,
		to:      next,
		event:   types.HistoryEventBatchValidated,
		message: fmt.Sprintf("%d valid, %d invalid", v.ValidCases, v.InvalidCases),
		details: map[string]string{
			"valid_cases":   strconv.Itoa(v.ValidCases),
			"invalid_cases": strconv.Itoa(v.InvalidCases),
		},
		mutate: func(stored *model.Batch) error {
			stored.ValidCases = v.ValidCases
			stored.InvalidCases = v.InvalidCases
			stored.LastError = ""
			stored.LastErrorCategory = ""
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	v.Batch = updated
	return v, nil
}

// validateMembers runs the validation engine over every member case in parallel
func (b *BatchUseCase) validateMembers(ctx context.Context, id model.BatchID) ([]*model.BatchCase, error) {
	members, err := b.uc.repo.Batch().ListCases(ctx, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list batch cases", goerr.V(BatchIDKey, id))
	}

	validatedAt := b.uc.timestamp()
	results := make([]*model.BatchCase, len(members))
	categories := make([]types.MarketCategory, len(members))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(b.uc.validations)
	for i, m := range members {
		eg.Go(func() error {
			res := &model.BatchCase{
				BatchID:     id,
				CaseID:      m.CaseID,
				AddedAt:     m.AddedAt,
				ValidatedAt: &validatedAt,
			}

			c, err := b.uc.repo.Case().Get(egCtx, m.CaseID)
			switch {
			case errors.Is(err, interfaces.ErrNotFound):
				res.Errors = model.ValidationErrors{{
					Field: "case", Message: "case no longer exists", Severity: types.SeverityError,
				}}
			case err != nil:
				return goerr.Wrap(err, "failed to get member case", goerr.V(CaseIDKey, m.CaseID))
			default:
				res.Errors = b.uc.validator.Validate(c).Errors
				categories[i] = c.MarketCategory.Normalize()
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	checkMarketCategories(results, categories)
	for _, res := range results {
		valid := !res.Errors.HasErrors()
		res.IsValid = &valid
	}
	return results, nil
}

// checkMarketCategories flags members whose market category differs from the batch's. The
// batch category is the one most members share; ties go to the earliest added member.
func checkMarketCategories(results []*model.BatchCase, categories []types.MarketCategory) {
	counts := make(map[types.MarketCategory]int)
	var order []types.MarketCategory
	for _, c := range categories {
		if c == "" {
			continue
		}
		if counts[c] == 0 {
			order = append(order, c)
		}
		counts[c]++
	}
	if len(order) < 2 {
		return
	}

	major := order[0]
	for _, c := range order[1:] {
		if counts[c] > counts[major] {
			major = c
		}
	}

	for i, c := range categories {
		if c == "" || c == major {
			continue
		}
		results[i].Errors = append(results[i].Errors, model.ValidationError{
			Field:    "market_category",
			Message:  fmt.Sprintf("market category %s differs from the batch's %s", c, major),
			Severity: types.SeverityError,
		})
	}
}

// abortValidation moves a batch stuck in validating to validation_failed
func (b *BatchUseCase) abortValidation(ctx context.Context, id model.BatchID, cause error) {
	_, err := b.uc.transitionBatch(ctx, id, batchTransition{
		from:    types.BatchStatusValidating,
		to:      types.BatchStatusValidationFailed,
		event:   types.HistoryEventBatchValidated,
		message: "validation aborted",
		mutate: func(stored *model.Batch) error {
			stored.LastError = cause.Error()
			return nil
		},
	})
	if err != nil {
		errutil.Handle(ctx, err, "failed to abort batch validation")
	}
}

func (b *BatchUseCase) memberCases(ctx context.Context, id model.BatchID) ([]*model.Case, error) {
	members, err := b.uc.repo.Batch().ListCases(ctx, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list batch cases", goerr.V(BatchIDKey, id))
	}

	cases := make([]*model.Case, 0, len(members))
	for _, m := range members {
		c, err := b.uc.getCase(ctx, m.CaseID)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, nil
}

// ExportBatch builds the batch envelope of a validated batch and writes it to the export store.
// Members whose body cannot be built send the batch back to validation_failed; a write failure
// fails the batch.
func (b *BatchUseCase) ExportBatch(ctx context.Context, id model.BatchID) (*model.Batch, error) {
	if b.uc.exporter == nil {
		return nil, goerr.Wrap(ErrExportNotConfigured, "cannot export batch", goerr.V(BatchIDKey, id))
	}

	batch, err := b.uc.getBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireBatchStatus(batch, types.BatchStatusValidated); err != nil {
		return nil, err
	}

	if _, err := b.uc.transitionBatch(ctx, id, batchTransition{
		from: types.BatchStatusValidated,
		to:   types.BatchStatusExporting,
	}); err != nil {
		return nil, err
	}

	cases, err := b.memberCases(ctx, id)
	if err != nil {
		b.failExport(ctx, id, err)
		return nil, err
	}

	result := icsr.GenerateBatch(cases, icsr.BatchOptions{
		Options:     b.uc.codec,
		BatchNumber: batch.Number,
		BatchType:   batch.Type,
	})
	if !result.Success {
		return nil, b.rejectExport(ctx, id, result)
	}

	location, err := b.uc.exporter.Write(ctx, batch.Number+".xml", result.XML)
	if err != nil {
		err = goerr.Wrap(err, "failed to write batch document", goerr.V(BatchIDKey, id))
		b.failExport(ctx, id, err)
		return nil, err
	}

	exportedAt := b.uc.timestamp()
	return b.uc.transitionBatch(ctx, id, batchTransition{
		from:    types.BatchStatusExporting,
		to:      types.BatchStatusExported,
		event:   types.HistoryEventBatchExported,
		message: "batch document exported",
		details: map[string]string{"location": location, "cases": strconv.Itoa(result.ValidCount())},
		mutate: func(stored *model.Batch) error {
			stored.ExportLocation = location
			stored.ExportedAt = &exportedAt
			return nil
		},
	})
}

// rejectExport records body-level failures on the memberships and returns the batch to
// validation_failed
func (b *BatchUseCase) rejectExport(ctx context.Context, id model.BatchID, result *icsr.BatchResult) error {
	validatedAt := b.uc.timestamp()

	var failed []*model.BatchCase
	for _, cr := range result.Cases {
		if cr.Success || cr.CaseID == "" {
			continue
		}
		valid := false
		failed = append(failed, &model.BatchCase{
			BatchID:     id,
			CaseID:      cr.CaseID,
			IsValid:     &valid,
			Errors:      cr.Errors,
			ValidatedAt: &validatedAt,
		})
	}
	if len(failed) > 0 {
		if err := b.uc.repo.Batch().SaveCaseResults(ctx, id, failed); err != nil {
			errutil.Handle(ctx, err, "failed to save export failures")
		}
	}

	summary := result.Errors.Summary()
	if summary == "" {
		summary = fmt.Sprintf("%d member documents failed to build", result.InvalidCount())
	}

	if _, err := b.uc.transitionBatch(ctx, id, batchTransition{
		from:    types.BatchStatusExporting,
		to:      types.BatchStatusValidationFailed,
		event:   types.HistoryEventBatchValidated,
		message: "export rejected: " + summary,
		mutate: func(stored *model.Batch) error {
			stored.ValidCases = result.ValidCount()
			stored.InvalidCases = result.InvalidCount()
			stored.LastError = summary
			return nil
		},
	}); err != nil {
		return err
	}

	return goerr.Wrap(ErrGenerationFailed, "failed to generate batch document",
		goerr.V(BatchIDKey, id), goerr.V("errors", summary))
}

func (b *BatchUseCase) failExport(ctx context.Context, id model.BatchID, cause error) {
	_, err := b.uc.transitionBatch(ctx, id, batchTransition{
		from:    types.BatchStatusExporting,
		to:      types.BatchStatusFailed,
		event:   types.HistoryEventBatchFailed,
		message: "export failed: " + cause.Error(),
		mutate: func(stored *model.Batch) error {
			stored.LastError = cause.Error()
			return nil
		},
	})
	if err != nil {
		errutil.Handle(ctx, err, "failed to mark batch export as failed")
	}
}

// RecordSubmission marks an exported batch as submitted
func (b *BatchUseCase) RecordSubmission(ctx context.Context, id model.BatchID, submissionID, trackingID string) (*model.Batch, error) {
	batch, err := b.uc.getBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireBatchStatus(batch, types.BatchStatusExported); err != nil {
		return nil, err
	}

	submittedAt := b.uc.timestamp()
	return b.uc.transitionBatch(ctx, id, batchTransition{
		from:    types.BatchStatusExported,
		to:      types.BatchStatusSubmitted,
		event:   types.HistoryEventBatchSubmitted,
		message: "batch submitted",
		details: map[string]string{SubmissionKey: submissionID, "tracking_id": trackingID},
		mutate: func(stored *model.Batch) error {
			stored.SubmissionID = submissionID
			stored.TrackingID = trackingID
			stored.SubmittedAt = &submittedAt
			stored.LastError = ""
			stored.LastErrorCategory = ""
			return nil
		},
	})
}

// RecordAcknowledgment settles a submitted batch with a final acknowledgment
func (b *BatchUseCase) RecordAcknowledgment(ctx context.Context, id model.BatchID, ack *model.Acknowledgment) (*model.Batch, error) {
	if !ack.IsFinal() {
		return nil, goerr.Wrap(ErrAckNotFinal, "cannot record acknowledgment", goerr.V(BatchIDKey, id))
	}

	batch, err := b.uc.getBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireBatchStatus(batch, types.BatchStatusSubmitted); err != nil {
		return nil, err
	}

	to, event := types.BatchStatusAcknowledged, types.HistoryEventBatchAcknowledged
	if ack.Type == types.AckTypeRejected {
		to, event = types.BatchStatusRejected, types.HistoryEventBatchRejected
	}

	acknowledgedAt := b.uc.timestamp()
	return b.uc.transitionBatch(ctx, id, batchTransition{
		from:    types.BatchStatusSubmitted,
		to:      to,
		event:   event,
		message: ackMessage(ack),
		details: ackDetails(ack),
		mutate: func(stored *model.Batch) error {
			stored.AckType = ack.Type
			stored.AckErrors = ack.Errors
			stored.AcknowledgedAt = &acknowledgedAt
			stored.NeedsAttention = false
			return nil
		},
	})
}

// DeleteBatch removes a batch that is still in created. Member cases are kept.
func (b *BatchUseCase) DeleteBatch(ctx context.Context, id model.BatchID) error {
	batch, err := b.uc.getBatch(ctx, id)
	if err != nil {
		return err
	}
	if err := requireBatchStatus(batch, types.BatchStatusCreated); err != nil {
		return err
	}

	if err := b.uc.repo.Batch().Delete(ctx, id, types.BatchStatusCreated); err != nil {
		return goerr.Wrap(err, "failed to delete batch", goerr.V(BatchIDKey, id))
	}

	b.uc.record(ctx, &model.HistoryEntry{
		BatchID:    id,
		Event:      types.HistoryEventBatchDeleted,
		FromStatus: string(batch.Status),
		Message:    "batch " + batch.Number + " deleted",
	})
	return nil
}

// History returns the audit trail of a batch ordered by time
func (b *BatchUseCase) History(ctx context.Context, id model.BatchID) ([]*model.HistoryEntry, error) {
	entries, err := b.uc.repo.History().ListByBatch(ctx, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list batch history", goerr.V(BatchIDKey, id))
	}
	return entries, nil
}

// Attempts returns the submission attempts of a batch
func (b *BatchUseCase) Attempts(ctx context.Context, id model.BatchID) ([]*model.SubmissionAttempt, error) {
	attempts, err := b.uc.repo.Attempt().ListByBatch(ctx, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list attempts", goerr.V(BatchIDKey, id))
	}
	return attempts, nil
}

func ackMessage(ack *model.Acknowledgment) string {
	if ack.Message != "" {
		return ack.Message
	}
	return "acknowledgment " + string(ack.Type)
}

func ackDetails(ack *model.Acknowledgment) map[string]string {
	details := map[string]string{"ack_type": string(ack.Type)}
	if ack.ExternalCaseID != "" {
		details["external_case_id"] = ack.ExternalCaseID
	}
	for i, e := range ack.Errors {
		key := fmt.Sprintf("error_%d", i)
		if e.Code != "" {
			details[key] = e.Code + ": " + e.Message
		} else {
			details[key] = e.Message
		}
	}
	return details
}
