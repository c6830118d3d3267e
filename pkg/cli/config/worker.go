package config

import (
	"context"
	"log/slog"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/interfaces"
	"github.com/secmon-lab/icsrlink/pkg/service/lock"
	"github.com/secmon-lab/icsrlink/pkg/service/worker"
	"github.com/secmon-lab/icsrlink/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// Poller holds the acknowledgment poll loop settings
type Poller struct {
	disabled     bool
	interval     time.Duration
	concurrency  int
	queryTimeout time.Duration
	ackTimeout   time.Duration
	staleAfter   time.Duration
}

func (x *Poller) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:        "poll-disabled",
			Usage:       "Do not run the background acknowledgment poller",
			Category:    "Poller",
			Sources:     cli.EnvVars("ICSRLINK_POLL_DISABLED"),
			Destination: &x.disabled,
		},
		&cli.DurationFlag{
			Name:        "poll-interval",
			Usage:       "Interval between acknowledgment poll cycles",
			Category:    "Poller",
			Value:       5 * time.Minute,
			Sources:     cli.EnvVars("ICSRLINK_POLL_INTERVAL"),
			Destination: &x.interval,
		},
		&cli.IntFlag{
			Name:        "poll-concurrency",
			Usage:       "Number of acknowledgment queries in flight",
			Category:    "Poller",
			Value:       4,
			Sources:     cli.EnvVars("ICSRLINK_POLL_CONCURRENCY"),
			Destination: &x.concurrency,
		},
		&cli.DurationFlag{
			Name:        "poll-query-timeout",
			Usage:       "Timeout of a single acknowledgment query",
			Category:    "Poller",
			Value:       30 * time.Second,
			Sources:     cli.EnvVars("ICSRLINK_POLL_QUERY_TIMEOUT"),
			Destination: &x.queryTimeout,
		},
		&cli.DurationFlag{
			Name:        "ack-timeout",
			Usage:       "Flag submissions without acknowledgment after this duration (overrides the ICSR config)",
			Category:    "Poller",
			Sources:     cli.EnvVars("ICSRLINK_ACK_TIMEOUT"),
			Destination: &x.ackTimeout,
		},
		&cli.DurationFlag{
			Name:        "stale-submission-after",
			Usage:       "Release submissions left in submitting without activity for this duration",
			Category:    "Poller",
			Value:       15 * time.Minute,
			Sources:     cli.EnvVars("ICSRLINK_STALE_SUBMISSION_AFTER"),
			Destination: &x.staleAfter,
		},
	}
}

func (x Poller) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("disabled", x.disabled),
		slog.String("interval", x.interval.String()),
		slog.Int("concurrency", x.concurrency),
	)
}

// Enabled reports whether the background loop should run
func (x *Poller) Enabled() bool {
	return !x.disabled
}

// AckTimeout returns the flag override, or zero
func (x *Poller) AckTimeout() time.Duration {
	return x.ackTimeout
}

// StaleAfter returns how long a submission may sit idle before it is released
func (x *Poller) StaleAfter() time.Duration {
	return x.staleAfter
}

// WorkerConfig converts the settings into the poller configuration
func (x *Poller) WorkerConfig() worker.AckPollerConfig {
	return worker.AckPollerConfig{
		Interval:     x.interval,
		Concurrency:  x.concurrency,
		QueryTimeout: x.queryTimeout,
		StaleAfter:   x.staleAfter,
	}
}

// Lock selects where the poll lock lives. Without a Redis address the lock is process local.
type Lock struct {
	redisAddr     string
	redisPassword string
	redisDB       int
}

func (x *Lock) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "redis-addr",
			Usage:       "Redis address for the poll lock shared across replicas",
			Category:    "Lock",
			Sources:     cli.EnvVars("ICSRLINK_REDIS_ADDR"),
			Destination: &x.redisAddr,
		},
		&cli.StringFlag{
			Name:        "redis-password",
			Usage:       "Redis password",
			Category:    "Lock",
			Sources:     cli.EnvVars("ICSRLINK_REDIS_PASSWORD"),
			Destination: &x.redisPassword,
		},
		&cli.IntFlag{
			Name:        "redis-db",
			Usage:       "Redis database number",
			Category:    "Lock",
			Sources:     cli.EnvVars("ICSRLINK_REDIS_DB"),
			Destination: &x.redisDB,
		},
	}
}

func (x Lock) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("redis-addr", x.redisAddr),
		slog.Int("redis-password.len", len(x.redisPassword)),
		slog.Int("redis-db", x.redisDB),
	)
}

// Configure returns the locker and its closer
func (x *Lock) Configure(ctx context.Context) (interfaces.Locker, func(), error) {
	if x.redisAddr == "" {
		return lock.NewMemory(), func() {}, nil
	}

	locker, err := lock.Dial(ctx, x.redisAddr, x.redisPassword, x.redisDB)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to configure Redis lock")
	}
	logging.Default().Info("Using Redis poll lock", "addr", x.redisAddr)
	return locker, closeWith("redis lock", locker.Close), nil
}
