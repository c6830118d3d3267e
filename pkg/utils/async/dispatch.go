package async

import (
	"context"

	"github.com/getsentry/sentry-go"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/utils/errutil"
	"github.com/secmon-lab/icsrlink/pkg/utils/logging"
)

// Dispatch runs handler in a new goroutine detached from ctx cancellation. The logger and
// Sentry hub of ctx are carried over; errors and panics are handled, never propagated.
func Dispatch(ctx context.Context, handler func(ctx context.Context) error) {
	bgCtx := logging.With(context.WithoutCancel(ctx), logging.From(ctx))
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		bgCtx = sentry.SetHubOnContext(bgCtx, hub.Clone())
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				_ = errutil.Handle(bgCtx, goerr.New("panic in async handler", goerr.V("panic", r)), "async handler panicked")
			}
		}()

		if err := handler(bgCtx); err != nil {
			_ = errutil.Handle(bgCtx, err, "async handler failed")
		}
	}()
}
