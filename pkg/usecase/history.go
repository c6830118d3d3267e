package usecase

import (
	"context"

	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/utils/errutil"
	"github.com/secmon-lab/icsrlink/pkg/utils/logging"
)

// record appends a history entry and forwards it to the event stream and, for alerts, to the
// notifier. The transition it describes is already committed, so failures here are reported
// and swallowed.
func (uc *UseCases) record(ctx context.Context, entry *model.HistoryEntry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = uc.timestamp()
	}

	saved, err := uc.repo.History().Append(ctx, entry)
	if err != nil {
		errutil.Handle(ctx, err, "failed to append history entry")
		return
	}

	logging.From(ctx).Debug("history recorded",
		"event", saved.Event,
		"case_id", saved.CaseID,
		"batch_id", saved.BatchID,
		"to", saved.ToStatus)

	if uc.publisher != nil {
		if err := uc.publisher.Publish(ctx, saved); err != nil {
			errutil.Handle(ctx, err, "failed to publish history event")
		}
	}

	if uc.notifier != nil && saved.Event.IsAlert() {
		if err := uc.notifier.Notify(ctx, saved); err != nil {
			errutil.Handle(ctx, err, "failed to send notification")
		}
	}
}
