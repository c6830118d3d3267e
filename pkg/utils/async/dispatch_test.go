package async_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/icsrlink/pkg/utils/async"
)

func TestDispatch(t *testing.T) {
	t.Run("runs after the caller context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)

		async.Dispatch(ctx, func(ctx context.Context) error {
			cancel()
			time.Sleep(10 * time.Millisecond)
			done <- ctx.Err()
			return nil
		})

		select {
		case err := <-done:
			gt.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("handler did not run")
		}
	})

	t.Run("errors and panics do not escape", func(t *testing.T) {
		finished := make(chan struct{}, 2)
		async.Dispatch(context.Background(), func(ctx context.Context) error {
			defer func() { finished <- struct{}{} }()
			return goerr.New("boom")
		})
		async.Dispatch(context.Background(), func(ctx context.Context) error {
			defer func() { finished <- struct{}{} }()
			panic("boom")
		})

		for range 2 {
			select {
			case <-finished:
			case <-time.After(time.Second):
				t.Fatal("handler did not run")
			}
		}
	})
}
