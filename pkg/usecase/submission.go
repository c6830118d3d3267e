package usecase

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/interfaces"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
	"github.com/secmon-lab/icsrlink/pkg/service/gateway"
	"github.com/secmon-lab/icsrlink/pkg/service/icsr"
	"github.com/secmon-lab/icsrlink/pkg/utils/errutil"
	"github.com/secmon-lab/icsrlink/pkg/utils/logging"
)

// Progress is reported after every completed protocol step
type Progress struct {
	CaseID       model.CaseID
	BatchID      model.BatchID
	Attempt      int
	Step         types.ProtocolStep
	SubmissionID string
}

type submitConfig struct {
	progress func(Progress)
}

type SubmitOption func(*submitConfig)

// WithProgress registers a callback invoked after each protocol step
func WithProgress(fn func(Progress)) SubmitOption {
	return func(c *submitConfig) {
		c.progress = fn
	}
}

func (c *submitConfig) report(p Progress) {
	if c.progress != nil {
		c.progress(p)
	}
}

type SubmissionUseCase struct {
	uc *UseCases

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func newSubmissionUseCase(uc *UseCases) *SubmissionUseCase {
	return &SubmissionUseCase{
		uc:      uc,
		running: make(map[string]context.CancelFunc),
	}
}

// subject is the case or batch being submitted together with its payload
type subject struct {
	caseID    model.CaseID
	batchID   model.BatchID
	kind      string
	reference string
	receiver  string
	payload   []byte
}

func (s *subject) key() string {
	if s.batchID != "" {
		return "batch:" + string(s.batchID)
	}
	return "case:" + string(s.caseID)
}

// begin registers a running submission. A second submission of the same subject is rejected.
func (s *SubmissionUseCase) begin(ctx context.Context, key string) (context.Context, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.running[key]; ok {
		return nil, nil, goerr.Wrap(ErrSubmissionInProgress, "submission already running", goerr.V("subject", key))
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.running[key] = cancel

	return runCtx, func() {
		s.mu.Lock()
		delete(s.running, key)
		s.mu.Unlock()
		cancel()
	}, nil
}

func (s *SubmissionUseCase) cancel(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancel, ok := s.running[key]
	if !ok {
		return goerr.Wrap(ErrSubmissionNotRunning, "nothing to cancel", goerr.V("subject", key))
	}
	cancel()
	return nil
}

// IsRunning reports whether a submission of the case is in flight in this process
func (s *SubmissionUseCase) IsRunning(id model.CaseID) bool {
	return s.isRunning("case:" + string(id))
}

// CancelSubmission cancels the in-flight submission of a case. The running attempt is
// recorded as cancelled and the case ends in submission_failed.
func (s *SubmissionUseCase) CancelSubmission(ctx context.Context, id model.CaseID) error {
	return s.cancel("case:" + string(id))
}

// CancelBatchSubmission cancels the in-flight submission of a batch
func (s *SubmissionUseCase) CancelBatchSubmission(ctx context.Context, id model.BatchID) error {
	return s.cancel("batch:" + string(id))
}

// SubmitCase runs the remote protocol for an exported (or previously failed) case with
// categorized retry. The case ends in submitted or submission_failed; every attempt is
// recorded.
func (s *SubmissionUseCase) SubmitCase(ctx context.Context, id model.CaseID, opts ...SubmitOption) (*model.Case, error) {
	if s.uc.gateway == nil {
		return nil, goerr.Wrap(ErrGatewayNotConfigured, "cannot submit case", goerr.V(CaseIDKey, id))
	}

	cfg := &submitConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	current, err := s.uc.getCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == types.CaseStatusSubmitting {
		return nil, goerr.Wrap(ErrSubmissionInProgress, "case is being submitted", goerr.V(CaseIDKey, id))
	}
	if err := requireCaseStatus(current, types.CaseStatusExported, types.CaseStatusSubmissionFailed); err != nil {
		return nil, err
	}

	payload, err := s.casePayload(ctx, current)
	if err != nil {
		return nil, err
	}
	receiver, err := s.uc.codec.Receiver(current.MarketCategory)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to route case", goerr.V(CaseIDKey, id))
	}

	sub := &subject{
		caseID:    id,
		kind:      gateway.SubmissionKindCase,
		reference: current.SafetyReportID,
		receiver:  receiver,
		payload:   payload,
	}

	runCtx, done, err := s.begin(ctx, sub.key())
	if err != nil {
		return nil, err
	}
	defer done()

	retry := current.Status == types.CaseStatusSubmissionFailed
	if _, err := s.uc.transitionCase(ctx, id, caseTransition{
		from:    current.Status,
		to:      types.CaseStatusSubmitting,
		event:   types.HistoryEventSubmitting,
		message: "submission started",
		details: map[string]string{"retry": strconv.FormatBool(retry)},
		mutate: func(stored *model.Case) error {
			stored.LastError = ""
			stored.LastErrorCategory = ""
			return nil
		},
	}); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return nil, goerr.Wrap(ErrSubmissionInProgress, "case status changed concurrently", goerr.V(CaseIDKey, id))
		}
		return nil, err
	}

	// Outcomes are persisted even when the caller has gone away
	persist := context.WithoutCancel(ctx)

	result, runErr := s.run(runCtx, sub, cfg)
	switch {
	case runErr == nil:
		submittedAt := s.uc.timestamp()
		return s.uc.transitionCase(persist, id, caseTransition{
			from:    types.CaseStatusSubmitting,
			to:      types.CaseStatusSubmitted,
			event:   types.HistoryEventSubmitted,
			message: "case submitted",
			details: map[string]string{SubmissionKey: result.ID, "tracking_id": result.TrackingID},
			mutate: func(stored *model.Case) error {
				stored.SubmissionID = result.ID
				stored.TrackingID = result.TrackingID
				stored.SubmittedAt = &submittedAt
				stored.NeedsAttention = false
				return nil
			},
		})

	case errors.Is(runErr, ErrSubmissionCancelled):
		if _, err := s.uc.transitionCase(persist, id, caseTransition{
			from:    types.CaseStatusSubmitting,
			to:      types.CaseStatusSubmissionFailed,
			event:   types.HistoryEventCancelled,
			message: "submission cancelled",
			mutate: func(stored *model.Case) error {
				stored.LastError = "submission cancelled"
				stored.LastErrorCategory = ""
				return nil
			},
		}); err != nil {
			errutil.Handle(persist, err, "failed to record cancelled submission")
		}
		return nil, runErr

	default:
		category := gateway.Classify(runErr)
		if _, err := s.uc.transitionCase(persist, id, caseTransition{
			from:    types.CaseStatusSubmitting,
			to:      types.CaseStatusSubmissionFailed,
			event:   types.HistoryEventSubmissionFailed,
			message: runErr.Error(),
			details: map[string]string{
				CategoryKey:   string(category),
				"remediation": category.Remediation(),
			},
			mutate: func(stored *model.Case) error {
				stored.LastError = runErr.Error()
				stored.LastErrorCategory = category
				return nil
			},
		}); err != nil {
			errutil.Handle(persist, err, "failed to record failed submission")
		}
		return nil, goerr.Wrap(runErr, "case submission failed",
			goerr.V(CaseIDKey, id), goerr.V(CategoryKey, category))
	}
}

// casePayload returns the exported document of the case, or a freshly generated one when
// the export cannot be read back
func (s *SubmissionUseCase) casePayload(ctx context.Context, c *model.Case) ([]byte, error) {
	if s.uc.exporter != nil && c.ExportLocation != "" {
		data, err := s.uc.exporter.Read(ctx, c.ExportLocation)
		if err == nil {
			return data, nil
		}
		logging.From(ctx).Warn("exported document is not readable, regenerating",
			"case_id", c.ID, "location", c.ExportLocation, "error", err.Error())
	}

	result := icsr.GenerateCase(c, s.uc.codec)
	if !result.Success {
		return nil, goerr.Wrap(ErrGenerationFailed, "failed to generate case document",
			goerr.V(CaseIDKey, c.ID), goerr.V("errors", result.Errors.Summary()))
	}
	return result.XML, nil
}

// SubmitBatch runs the remote protocol for an exported batch using the exported envelope
func (s *SubmissionUseCase) SubmitBatch(ctx context.Context, id model.BatchID, opts ...SubmitOption) (*model.Batch, error) {
	if s.uc.gateway == nil {
		return nil, goerr.Wrap(ErrGatewayNotConfigured, "cannot submit batch", goerr.V(BatchIDKey, id))
	}
	if s.uc.exporter == nil {
		return nil, goerr.Wrap(ErrExportNotConfigured, "cannot read batch document", goerr.V(BatchIDKey, id))
	}

	cfg := &submitConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	batch, err := s.uc.getBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireBatchStatus(batch, types.BatchStatusExported); err != nil {
		return nil, err
	}

	payload, err := s.uc.exporter.Read(ctx, batch.ExportLocation)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read batch document",
			goerr.V(BatchIDKey, id), goerr.V("location", batch.ExportLocation))
	}

	cases, err := s.uc.Batch.memberCases(ctx, id)
	if err != nil {
		return nil, err
	}
	var receiver string
	if len(cases) > 0 {
		if receiver, err = s.uc.codec.Receiver(cases[0].MarketCategory); err != nil {
			return nil, goerr.Wrap(err, "failed to route batch", goerr.V(BatchIDKey, id))
		}
	}

	sub := &subject{
		batchID:   id,
		kind:      gateway.SubmissionKindBatch,
		reference: batch.Number,
		receiver:  receiver,
		payload:   payload,
	}

	runCtx, done, err := s.begin(ctx, sub.key())
	if err != nil {
		return nil, err
	}
	defer done()

	persist := context.WithoutCancel(ctx)

	result, runErr := s.run(runCtx, sub, cfg)
	switch {
	case runErr == nil:
		return s.uc.Batch.RecordSubmission(persist, id, result.ID, result.TrackingID)

	case errors.Is(runErr, ErrSubmissionCancelled):
		// the batch stays exported and can be submitted again
		s.uc.record(persist, &model.HistoryEntry{
			BatchID:    id,
			Event:      types.HistoryEventCancelled,
			FromStatus: string(types.BatchStatusExported),
			ToStatus:   string(types.BatchStatusExported),
			Message:    "batch submission cancelled",
		})
		return nil, runErr

	default:
		category := gateway.Classify(runErr)
		if _, err := s.uc.transitionBatch(persist, id, batchTransition{
			from:    types.BatchStatusExported,
			to:      types.BatchStatusFailed,
			event:   types.HistoryEventBatchFailed,
			message: runErr.Error(),
			details: map[string]string{
				CategoryKey:   string(category),
				"remediation": category.Remediation(),
			},
			mutate: func(stored *model.Batch) error {
				stored.LastError = runErr.Error()
				stored.LastErrorCategory = category
				return nil
			},
		}); err != nil {
			errutil.Handle(persist, err, "failed to record failed batch submission")
		}
		return nil, goerr.Wrap(runErr, "batch submission failed",
			goerr.V(BatchIDKey, id), goerr.V(CategoryKey, category))
	}
}

// run executes attempts until one succeeds, a non-retryable error occurs, the attempt budget
// is exhausted or ctx is cancelled. Every attempt is recorded.
func (s *SubmissionUseCase) run(ctx context.Context, sub *subject, cfg *submitConfig) (*gateway.Submission, error) {
	persist := context.WithoutCancel(ctx)
	logger := logging.From(ctx).With("subject", sub.key())
	maxAttempts := s.uc.backoff.Attempts()

	for n := 0; n < maxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return nil, goerr.Wrap(ErrSubmissionCancelled, "cancelled before attempt", goerr.V(AttemptKey, n+1))
		}

		attempt, err := s.uc.repo.Attempt().Create(persist, &model.SubmissionAttempt{
			CaseID:      sub.caseID,
			BatchID:     sub.batchID,
			Environment: s.uc.environment,
			StartedAt:   s.uc.timestamp(),
		})
		if err != nil {
			return nil, goerr.Wrap(err, "failed to record attempt")
		}

		result, step, err := s.protocol(ctx, sub, attempt.AttemptNumber, cfg)
		attempt.LastStep = step
		completedAt := s.uc.timestamp()
		attempt.CompletedAt = &completedAt

		if err == nil {
			attempt.Outcome = types.AttemptOutcomeSuccess
			attempt.SubmissionID = result.ID
			attempt.TrackingID = result.TrackingID
			s.complete(persist, attempt)
			logger.Info("submission succeeded", "attempt", attempt.AttemptNumber, "submission_id", result.ID)
			return result, nil
		}

		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			attempt.Outcome = types.AttemptOutcomeCancelled
			attempt.ErrorMessage = "cancelled during " + string(step)
			s.complete(persist, attempt)
			return nil, goerr.Wrap(ErrSubmissionCancelled, "cancelled during attempt",
				goerr.V(AttemptKey, attempt.AttemptNumber), goerr.V("step", step))
		}

		category := gateway.Classify(err)
		attempt.Outcome = types.AttemptOutcomeFailed
		attempt.ErrorCategory = category
		attempt.ErrorMessage = err.Error()
		attempt.HTTPStatus = gateway.StatusCode(err)
		s.complete(persist, attempt)

		logger.Warn("submission attempt failed",
			"attempt", attempt.AttemptNumber,
			"step", step,
			"category", category,
			"error", err.Error())

		if !category.IsRetryable() || n == maxAttempts-1 {
			return nil, err
		}

		delay := s.uc.backoff.RetryDelay(n, gateway.RetryAfter(err))
		s.uc.record(persist, &model.HistoryEntry{
			CaseID:  sub.caseID,
			BatchID: sub.batchID,
			Event:   types.HistoryEventRetried,
			Message: err.Error(),
			Details: map[string]string{
				AttemptKey:  strconv.Itoa(attempt.AttemptNumber),
				CategoryKey: string(category),
				"delay":     delay.String(),
			},
		})

		if err := sleep(ctx, delay); err != nil {
			return nil, goerr.Wrap(ErrSubmissionCancelled, "cancelled while waiting to retry",
				goerr.V(AttemptKey, attempt.AttemptNumber))
		}
	}

	// unreachable: the last iteration always returns
	return nil, goerr.New("submission attempts exhausted")
}

// RecoveryResult counts what RecoverStale released
type RecoveryResult struct {
	Cases    int
	Attempts int
}

// RecoverStale releases submissions left behind by a process that stopped mid-protocol.
// Cases in submitting with no submission running in this process and no activity for
// olderThan move to submission_failed, and their open attempts are completed as cancelled.
// Open attempts of batches that are not running are cancelled the same way.
func (s *SubmissionUseCase) RecoverStale(ctx context.Context, olderThan time.Duration) (*RecoveryResult, error) {
	result := &RecoveryResult{}
	now := s.uc.now().UTC()

	cases, err := s.uc.repo.Case().List(ctx, interfaces.WithStatus(types.CaseStatusSubmitting))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list submitting cases")
	}

	for _, c := range cases {
		if s.isRunning("case:" + string(c.ID)) {
			continue
		}
		open, err := s.openAttempts(func() ([]*model.SubmissionAttempt, error) {
			return s.uc.repo.Attempt().ListByCase(ctx, c.ID)
		})
		if err != nil {
			return nil, err
		}
		if !isStale(now, olderThan, c.UpdatedAt, open) {
			continue
		}

		if _, err := s.uc.transitionCase(ctx, c.ID, caseTransition{
			from:    types.CaseStatusSubmitting,
			to:      types.CaseStatusSubmissionFailed,
			event:   types.HistoryEventSubmissionFailed,
			message: "submission interrupted",
			details: map[string]string{"open_attempts": strconv.Itoa(len(open))},
			mutate: func(stored *model.Case) error {
				stored.LastError = "submission interrupted"
				stored.LastErrorCategory = ""
				return nil
			},
		}); err != nil {
			// resumed or finished elsewhere since it was listed
			if errors.Is(err, ErrStatusConflict) {
				continue
			}
			return nil, err
		}
		result.Cases++
		result.Attempts += s.cancelAttempts(ctx, open)
	}

	batches, err := s.uc.repo.Batch().List(ctx, interfaces.WithBatchStatus(types.BatchStatusExported))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list exported batches")
	}
	for _, b := range batches {
		if s.isRunning("batch:" + string(b.ID)) {
			continue
		}
		open, err := s.openAttempts(func() ([]*model.SubmissionAttempt, error) {
			return s.uc.repo.Attempt().ListByBatch(ctx, b.ID)
		})
		if err != nil {
			return nil, err
		}
		if len(open) == 0 || !isStale(now, olderThan, time.Time{}, open) {
			continue
		}
		result.Attempts += s.cancelAttempts(ctx, open)
	}

	if result.Cases > 0 || result.Attempts > 0 {
		logging.From(ctx).Warn("recovered interrupted submissions",
			"cases", result.Cases, "attempts", result.Attempts)
	}
	return result, nil
}

func (s *SubmissionUseCase) isRunning(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[key]
	return ok
}

func (s *SubmissionUseCase) openAttempts(list func() ([]*model.SubmissionAttempt, error)) ([]*model.SubmissionAttempt, error) {
	attempts, err := list()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list attempts")
	}
	var open []*model.SubmissionAttempt
	for _, a := range attempts {
		if !a.Outcome.IsFinal() {
			open = append(open, a)
		}
	}
	return open, nil
}

func (s *SubmissionUseCase) cancelAttempts(ctx context.Context, open []*model.SubmissionAttempt) int {
	n := 0
	for _, a := range open {
		completedAt := s.uc.timestamp()
		a.Outcome = types.AttemptOutcomeCancelled
		a.ErrorMessage = "interrupted"
		a.CompletedAt = &completedAt
		if err := s.uc.repo.Attempt().Complete(ctx, a); err != nil {
			if !errors.Is(err, interfaces.ErrAttemptCompleted) {
				errutil.Handle(ctx, err, "failed to cancel interrupted attempt")
			}
			continue
		}
		n++
	}
	return n
}

// isStale reports whether nothing happened within olderThan of now. A zero olderThan
// treats everything as stale.
func isStale(now time.Time, olderThan time.Duration, updatedAt time.Time, open []*model.SubmissionAttempt) bool {
	if olderThan <= 0 {
		return true
	}
	last := updatedAt
	for _, a := range open {
		if a.StartedAt.After(last) {
			last = a.StartedAt
		}
	}
	return now.Sub(last) >= olderThan
}

func (s *SubmissionUseCase) complete(ctx context.Context, attempt *model.SubmissionAttempt) {
	if err := s.uc.repo.Attempt().Complete(ctx, attempt); err != nil {
		errutil.Handle(ctx, err, "failed to complete attempt record")
	}
}

// protocol performs authenticate, create, upload and finalize, checking for cancellation
// between steps. The returned step is the last one started.
func (s *SubmissionUseCase) protocol(ctx context.Context, sub *subject, attempt int, cfg *submitConfig) (*gateway.Submission, types.ProtocolStep, error) {
	gw := s.uc.gateway
	progress := Progress{CaseID: sub.caseID, BatchID: sub.batchID, Attempt: attempt}

	step := types.ProtocolStepAuthenticate
	if err := gw.Authenticate(ctx); err != nil {
		return nil, step, err
	}
	progress.Step = step
	cfg.report(progress)

	step = types.ProtocolStepCreate
	if err := ctx.Err(); err != nil {
		return nil, step, err
	}
	created, err := gw.CreateSubmission(ctx, &gateway.SubmissionRequest{
		Reference:   sub.reference,
		Kind:        sub.kind,
		Environment: s.uc.environment,
		ReceiverID:  sub.receiver,
		ContentType: gateway.ContentTypeXML,
		Size:        len(sub.payload),
	})
	if err != nil {
		return nil, step, err
	}
	progress.Step = step
	progress.SubmissionID = created.ID
	cfg.report(progress)

	step = types.ProtocolStepUpload
	if err := ctx.Err(); err != nil {
		return nil, step, err
	}
	if err := gw.UploadContent(ctx, created.ID, sub.payload); err != nil {
		return nil, step, err
	}
	progress.Step = step
	cfg.report(progress)

	step = types.ProtocolStepFinalize
	if err := ctx.Err(); err != nil {
		return nil, step, err
	}
	final, err := gw.Finalize(ctx, created.ID)
	if err != nil {
		return nil, step, err
	}
	if final.ID == "" {
		final.ID = created.ID
	}
	progress.Step = step
	cfg.report(progress)

	return final, step, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
