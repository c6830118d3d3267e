package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/cli/config"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
	"github.com/secmon-lab/icsrlink/pkg/service/worker"
	"github.com/secmon-lab/icsrlink/pkg/usecase"
	"github.com/secmon-lab/icsrlink/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdExport() *cli.Command {
	var pipe pipeline
	var tgt target

	return &cli.Command{
		Name:  "export",
		Usage: "Validate, generate and write the document of a case or batch",
		Flags: append(tgt.Flags(), pipe.Flags()...),
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := tgt.Validate(); err != nil {
				return err
			}

			uc, closer, err := pipe.Configure(ctx)
			if err != nil {
				return err
			}
			defer closer()

			logger := logging.From(ctx)
			if tgt.caseID != "" {
				id := model.CaseID(tgt.caseID)
				current, err := uc.Case.GetCase(ctx, id)
				if err != nil {
					return err
				}
				// draft cases are validated first
				if current.Status == types.CaseStatusDraft {
					if _, result, err := uc.Case.MarkReadyForExport(ctx, id); err != nil {
						if result != nil {
							for _, e := range result.Errors.Errors() {
								logger.Warn("Validation error", "field", e.Field, "message", e.Message)
							}
						}
						return err
					}
				}

				exported, err := uc.Case.ExportCase(ctx, id)
				if err != nil {
					return err
				}
				logger.Info("Case exported", "case_id", exported.ID, "location", exported.ExportLocation)
				return nil
			}

			id := model.BatchID(tgt.batchID)
			v, err := uc.Batch.ValidateBatch(ctx, id)
			if err != nil {
				return err
			}
			if !v.IsValid {
				return goerr.Wrap(usecase.ErrInvalidBatchMembers, "batch has invalid cases",
					goerr.V("valid", v.ValidCases), goerr.V("invalid", v.InvalidCases))
			}
			exported, err := uc.Batch.ExportBatch(ctx, id)
			if err != nil {
				return err
			}
			logger.Info("Batch exported", "batch_id", exported.ID, "number", exported.Number, "location", exported.ExportLocation)
			return nil
		},
	}
}

func cmdSubmit() *cli.Command {
	var pipe pipeline
	var tgt target

	return &cli.Command{
		Name:  "submit",
		Usage: "Submit an exported case or batch to the intake service",
		Flags: append(tgt.Flags(), pipe.Flags()...),
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := tgt.Validate(); err != nil {
				return err
			}

			uc, closer, err := pipe.Configure(ctx)
			if err != nil {
				return err
			}
			defer closer()

			logger := logging.From(ctx)
			progress := usecase.WithProgress(func(p usecase.Progress) {
				logger.Info("Submission progress",
					"attempt", p.Attempt,
					"step", p.Step,
					"submission_id", p.SubmissionID)
			})

			if tgt.caseID != "" {
				submitted, err := uc.Submission.SubmitCase(ctx, model.CaseID(tgt.caseID), progress)
				if err != nil {
					return err
				}
				logger.Info("Case submitted",
					"case_id", submitted.ID,
					"submission_id", submitted.SubmissionID,
					"tracking_id", submitted.TrackingID)
				return nil
			}

			submitted, err := uc.Submission.SubmitBatch(ctx, model.BatchID(tgt.batchID), progress)
			if err != nil {
				return err
			}
			logger.Info("Batch submitted",
				"batch_id", submitted.ID,
				"submission_id", submitted.SubmissionID,
				"tracking_id", submitted.TrackingID)
			return nil
		},
	}
}

func cmdPoll() *cli.Command {
	var pipe pipeline
	var pollerCfg config.Poller
	var lockCfg config.Lock

	var flags []cli.Flag
	flags = append(flags, pipe.Flags()...)
	flags = append(flags, pollerCfg.Flags()...)
	flags = append(flags, lockCfg.Flags()...)

	return &cli.Command{
		Name:  "poll",
		Usage: "Run one acknowledgment poll cycle",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			var ucOpts []usecase.Option
			if d := pollerCfg.AckTimeout(); d > 0 {
				ucOpts = append(ucOpts, usecase.WithAckTimeout(d))
			}

			uc, closer, err := pipe.Configure(ctx, ucOpts...)
			if err != nil {
				return err
			}
			defer closer()

			locker, closeLock, err := lockCfg.Configure(ctx)
			if err != nil {
				return err
			}
			defer closeLock()

			result, err := worker.NewAckPoller(uc.Acknowledgment, locker, pollerCfg.WorkerConfig(),
				worker.WithRecoverer(uc.Submission)).RunOnce(ctx)
			if err != nil {
				return err
			}

			logging.From(ctx).Info("Poll cycle finished",
				"skipped", result.Skipped,
				"checked", result.Checked,
				"acknowledged", result.Acknowledged,
				"rejected", result.Rejected,
				"needs_attention", result.NeedsAttention,
				"pending", result.Pending,
				"failed", result.Failed,
				"recovered", result.Recovered)
			if result.Failed > 0 {
				return goerr.New("some acknowledgment queries failed", goerr.V("failed", result.Failed))
			}
			return nil
		},
	}
}
