package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/cli/config"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
	"github.com/secmon-lab/icsrlink/pkg/usecase"
	"github.com/secmon-lab/icsrlink/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// pipeline groups the settings every command touching stored cases needs
type pipeline struct {
	repo    config.Repository
	gateway config.Gateway
	icsr    config.ICSR
	export  config.Export
	events  config.Events
	notify  config.Notify
}

func (x *pipeline) Flags() []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, x.repo.Flags()...)
	flags = append(flags, x.gateway.Flags()...)
	flags = append(flags, x.icsr.Flags()...)
	flags = append(flags, x.export.Flags()...)
	flags = append(flags, x.events.Flags()...)
	flags = append(flags, x.notify.Flags()...)
	return flags
}

// Configure wires the use cases. The returned closer releases every opened client in
// reverse order.
func (x *pipeline) Configure(ctx context.Context, extra ...usecase.Option) (*usecase.UseCases, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*usecase.UseCases, func(), error) {
		closeAll()
		return nil, nil, err
	}

	settings, err := x.icsr.Load()
	if err != nil {
		return fail(goerr.Wrap(err, "failed to load ICSR settings"))
	}

	repo, closeRepo, err := x.repo.Configure(ctx)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeRepo)

	store, closeStore, err := x.export.Configure(ctx)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeStore)

	opts := []usecase.Option{
		usecase.WithExportStore(store),
		usecase.WithCodecOptions(settings.Options()),
		usecase.WithEnvironment(types.Environment(settings.Environment)),
		usecase.WithBackoff(x.gateway.Backoff()),
	}
	if d := settings.AckTimeout(); d > 0 {
		opts = append(opts, usecase.WithAckTimeout(d))
	}

	client, err := x.gateway.Configure()
	if err != nil {
		return fail(err)
	}
	if client != nil {
		opts = append(opts, usecase.WithGateway(client))
	} else {
		logging.Default().Warn("Gateway URL not configured, submissions and acknowledgment polling are disabled")
	}

	publisher, closePublisher, err := x.events.Configure()
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closePublisher)
	if publisher != nil {
		opts = append(opts, usecase.WithEventPublisher(publisher))
	}

	notifier, err := x.notify.Configure(ctx)
	if err != nil {
		return fail(err)
	}
	if notifier != nil {
		opts = append(opts, usecase.WithNotifier(notifier))
	}

	logging.Default().Info("Pipeline configured",
		"repository", x.repo,
		"gateway", x.gateway,
		"icsr", x.icsr,
		"export", x.export,
		"events", x.events,
		"notify", x.notify,
	)

	return usecase.New(repo, append(opts, extra...)...), closeAll, nil
}

// target is the --case-id / --batch-id pair shared by export and submit
type target struct {
	caseID  string
	batchID string
}

func (x *target) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "case-id",
			Usage:       "Case to process",
			Destination: &x.caseID,
		},
		&cli.StringFlag{
			Name:        "batch-id",
			Usage:       "Batch to process",
			Destination: &x.batchID,
		},
	}
}

func (x *target) Validate() error {
	if (x.caseID == "") == (x.batchID == "") {
		return goerr.New("exactly one of --case-id or --batch-id is required")
	}
	return nil
}
