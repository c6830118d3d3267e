package config

import (
	"context"
	"io"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/interfaces"
	"github.com/secmon-lab/icsrlink/pkg/service/event"
	"github.com/secmon-lab/icsrlink/pkg/service/export"
	"github.com/secmon-lab/icsrlink/pkg/service/slack"
	"github.com/secmon-lab/icsrlink/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// Export selects where generated documents are written
type Export struct {
	target string
}

func (x *Export) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "export-target",
			Usage:       "Directory or gs://bucket/prefix for exported documents",
			Category:    "Export",
			Value:       "./exports",
			Sources:     cli.EnvVars("ICSRLINK_EXPORT_TARGET"),
			Destination: &x.target,
		},
	}
}

func (x Export) LogValue() slog.Value {
	return slog.GroupValue(slog.String("target", x.target))
}

// Configure opens the export store
func (x *Export) Configure(ctx context.Context) (interfaces.ExportStore, func(), error) {
	store, err := export.New(ctx, x.target)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to configure export store", goerr.V("target", x.target))
	}

	closer := func() {}
	if c, ok := store.(io.Closer); ok {
		closer = closeWith("export store", c.Close)
	}
	return store, closer, nil
}

// Events configures the Kafka history stream
type Events struct {
	brokers []string
	topic   string
}

func (x *Events) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:        "kafka-broker",
			Usage:       "Kafka broker address (repeatable); enables the history event stream",
			Category:    "Events",
			Sources:     cli.EnvVars("ICSRLINK_KAFKA_BROKERS"),
			Destination: &x.brokers,
		},
		&cli.StringFlag{
			Name:        "kafka-topic",
			Usage:       "Kafka topic for history events",
			Category:    "Events",
			Value:       "icsrlink.history",
			Sources:     cli.EnvVars("ICSRLINK_KAFKA_TOPIC"),
			Destination: &x.topic,
		},
	}
}

func (x Events) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("brokers", x.brokers),
		slog.String("topic", x.topic),
	)
}

// Configure returns the publisher, or nil when no broker is set
func (x *Events) Configure() (interfaces.EventPublisher, func(), error) {
	if len(x.brokers) == 0 {
		return nil, func() {}, nil
	}

	publisher, err := event.NewKafka(x.brokers, x.topic)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to configure Kafka publisher")
	}
	logging.Default().Info("History events enabled", "topic", x.topic)
	return publisher, closeWith("kafka publisher", publisher.Close), nil
}

// Notify configures Slack alerts for submissions that need attention
type Notify struct {
	botToken  string
	channelID string
	baseURL   string
}

func (x *Notify) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "slack-bot-token",
			Usage:       "Slack Bot User OAuth Token for alerts",
			Category:    "Notify",
			Sources:     cli.EnvVars("ICSRLINK_SLACK_BOT_TOKEN"),
			Destination: &x.botToken,
		},
		&cli.StringFlag{
			Name:        "slack-channel-id",
			Usage:       "Slack channel receiving submission alerts",
			Category:    "Notify",
			Sources:     cli.EnvVars("ICSRLINK_SLACK_CHANNEL_ID"),
			Destination: &x.channelID,
		},
		&cli.StringFlag{
			Name:        "base-url",
			Usage:       "Public base URL of this service, used for links in alerts",
			Category:    "Notify",
			Sources:     cli.EnvVars("ICSRLINK_BASE_URL"),
			Destination: &x.baseURL,
		},
	}
}

func (x Notify) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("bot-token.len", len(x.botToken)),
		slog.String("channel-id", x.channelID),
		slog.String("base-url", x.baseURL),
	)
}

// Configure returns the Slack notifier, or nil when no bot token is set
func (x *Notify) Configure(ctx context.Context) (interfaces.Notifier, error) {
	if x.botToken == "" {
		return nil, nil
	}

	svc, err := slack.New(x.botToken)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to initialize slack service")
	}

	var opts []slack.NotifierOption
	if x.baseURL != "" {
		opts = append(opts, slack.WithBaseURL(x.baseURL))
	}
	notifier, err := slack.NewNotifier(svc, x.channelID, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to configure Slack notifier")
	}

	logging.Default().Info("Slack alerts enabled", "channel", notifier.ChannelName(ctx))
	return notifier, nil
}
