package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/cli/config"
	httpctrl "github.com/secmon-lab/icsrlink/pkg/controller/http"
	"github.com/secmon-lab/icsrlink/pkg/service/worker"
	"github.com/secmon-lab/icsrlink/pkg/usecase"
	"github.com/secmon-lab/icsrlink/pkg/utils/errutil"
	"github.com/secmon-lab/icsrlink/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdServe() *cli.Command {
	var addr string
	var apiToken string
	var pipe pipeline
	var pollerCfg config.Poller
	var lockCfg config.Lock

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "HTTP server address",
			Value:       ":8080",
			Sources:     cli.EnvVars("ICSRLINK_ADDR"),
			Destination: &addr,
		},
		&cli.StringFlag{
			Name:        "api-token",
			Usage:       "Bearer token required on /api requests (disabled when empty)",
			Sources:     cli.EnvVars("ICSRLINK_API_TOKEN"),
			Destination: &apiToken,
		},
	}

	flags = append(flags, pipe.Flags()...)
	flags = append(flags, pollerCfg.Flags()...)
	flags = append(flags, lockCfg.Flags()...)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start HTTP server and acknowledgment poller",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			var ucOpts []usecase.Option
			if d := pollerCfg.AckTimeout(); d > 0 {
				ucOpts = append(ucOpts, usecase.WithAckTimeout(d))
			}

			uc, closePipeline, err := pipe.Configure(ctx, ucOpts...)
			if err != nil {
				return goerr.Wrap(err, "failed to configure pipeline")
			}
			defer closePipeline()

			locker, closeLock, err := lockCfg.Configure(ctx)
			if err != nil {
				return err
			}
			defer closeLock()

			// submissions of a previous process cannot still be running in this one
			if _, err := uc.Submission.RecoverStale(ctx, pollerCfg.StaleAfter()); err != nil {
				errutil.Handle(ctx, err, "failed to recover interrupted submissions")
			}

			poller := worker.NewAckPoller(uc.Acknowledgment, locker, pollerCfg.WorkerConfig(),
				worker.WithRecoverer(uc.Submission))
			if pollerCfg.Enabled() && pipe.gateway.IsConfigured() {
				if err := poller.Start(ctx); err != nil {
					return goerr.Wrap(err, "failed to start acknowledgment poller")
				}
			} else {
				logging.Default().Info("Background acknowledgment poller disabled", "poller", pollerCfg)
			}

			httpOpts := []httpctrl.Options{
				httpctrl.WithPoller(poller),
			}
			if apiToken != "" {
				httpOpts = append(httpOpts, httpctrl.WithAPIToken(apiToken))
			} else {
				logging.Default().Warn("API token not configured, /api is unauthenticated")
			}

			server := &http.Server{
				Addr:              addr,
				Handler:           httpctrl.New(uc, httpOpts...),
				ReadHeaderTimeout: 30 * time.Second,
			}

			// Setup signal handling for graceful shutdown
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			errCh := make(chan error, 1)
			go func() {
				logging.Default().Info("Starting HTTP server", "addr", addr)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- goerr.Wrap(err, "failed to start server")
				}
			}()

			select {
			case err := <-errCh:
				poller.Stop()
				return err
			case sig := <-sigCh:
				logging.Default().Info("Received shutdown signal", "signal", sig)

				// Stop the poller first so no cycle starts during shutdown
				poller.Stop()

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				if err := server.Shutdown(shutdownCtx); err != nil {
					return goerr.Wrap(err, "failed to shutdown server gracefully")
				}

				logging.Default().Info("Server shutdown completed")
				return nil
			}
		},
	}
}
