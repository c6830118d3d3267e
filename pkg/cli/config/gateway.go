package config

import (
	"log/slog"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/service/gateway"
	"github.com/urfave/cli/v3"
)

// Gateway holds the connection and retry settings of the intake service
type Gateway struct {
	baseURL      string
	tokenURL     string
	clientID     string
	clientSecret string
	scopes       []string
	timeout      time.Duration

	maxAttempts   int
	backoffBase   time.Duration
	backoffCap    time.Duration
	backoffJitter time.Duration
}

func (x *Gateway) Flags() []cli.Flag {
	def := gateway.DefaultBackoff()

	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gateway-url",
			Usage:       "Base URL of the submission intake API",
			Category:    "Gateway",
			Sources:     cli.EnvVars("ICSRLINK_GATEWAY_URL"),
			Destination: &x.baseURL,
		},
		&cli.StringFlag{
			Name:        "gateway-token-url",
			Usage:       "OAuth2 token endpoint for the client credentials grant",
			Category:    "Gateway",
			Sources:     cli.EnvVars("ICSRLINK_GATEWAY_TOKEN_URL"),
			Destination: &x.tokenURL,
		},
		&cli.StringFlag{
			Name:        "gateway-client-id",
			Usage:       "OAuth2 client ID",
			Category:    "Gateway",
			Sources:     cli.EnvVars("ICSRLINK_GATEWAY_CLIENT_ID"),
			Destination: &x.clientID,
		},
		&cli.StringFlag{
			Name:        "gateway-client-secret",
			Usage:       "OAuth2 client secret",
			Category:    "Gateway",
			Sources:     cli.EnvVars("ICSRLINK_GATEWAY_CLIENT_SECRET"),
			Destination: &x.clientSecret,
		},
		&cli.StringSliceFlag{
			Name:        "gateway-scope",
			Usage:       "OAuth2 scope (repeatable)",
			Category:    "Gateway",
			Sources:     cli.EnvVars("ICSRLINK_GATEWAY_SCOPES"),
			Destination: &x.scopes,
		},
		&cli.DurationFlag{
			Name:        "gateway-timeout",
			Usage:       "Timeout of a single request to the intake API",
			Category:    "Gateway",
			Value:       30 * time.Second,
			Sources:     cli.EnvVars("ICSRLINK_GATEWAY_TIMEOUT"),
			Destination: &x.timeout,
		},
		&cli.IntFlag{
			Name:        "submit-max-attempts",
			Usage:       "Attempts per submission including the first one",
			Category:    "Gateway",
			Value:       def.MaxAttempts,
			Sources:     cli.EnvVars("ICSRLINK_SUBMIT_MAX_ATTEMPTS"),
			Destination: &x.maxAttempts,
		},
		&cli.DurationFlag{
			Name:        "submit-backoff-base",
			Usage:       "Delay before the first retry; doubles on each retry",
			Category:    "Gateway",
			Value:       def.Base,
			Sources:     cli.EnvVars("ICSRLINK_SUBMIT_BACKOFF_BASE"),
			Destination: &x.backoffBase,
		},
		&cli.DurationFlag{
			Name:        "submit-backoff-cap",
			Usage:       "Upper bound of the retry delay",
			Category:    "Gateway",
			Value:       def.Cap,
			Sources:     cli.EnvVars("ICSRLINK_SUBMIT_BACKOFF_CAP"),
			Destination: &x.backoffCap,
		},
		&cli.DurationFlag{
			Name:        "submit-backoff-jitter",
			Usage:       "Maximum random delay added to every retry",
			Category:    "Gateway",
			Value:       def.Jitter,
			Sources:     cli.EnvVars("ICSRLINK_SUBMIT_BACKOFF_JITTER"),
			Destination: &x.backoffJitter,
		},
	}
}

func (x Gateway) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("url", x.baseURL),
		slog.String("token-url", x.tokenURL),
		slog.String("client-id", x.clientID),
		slog.Int("client-secret.len", len(x.clientSecret)),
		slog.Int("max-attempts", x.maxAttempts),
	)
}

// IsConfigured reports whether an intake API URL was given
func (x *Gateway) IsConfigured() bool {
	return x.baseURL != ""
}

// Configure creates the intake API client. It returns nil without error when no URL is set.
func (x *Gateway) Configure() (gateway.Client, error) {
	if !x.IsConfigured() {
		return nil, nil
	}
	if x.tokenURL == "" || x.clientID == "" {
		return nil, goerr.Wrap(ErrMissingSetting, "gateway-token-url and gateway-client-id are required with gateway-url",
			goerr.V(FlagKey, "gateway-token-url"))
	}

	client, err := gateway.New(gateway.Config{
		BaseURL:      x.baseURL,
		TokenURL:     x.tokenURL,
		ClientID:     x.clientID,
		ClientSecret: x.clientSecret,
		Scopes:       x.scopes,
		Timeout:      x.timeout,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create gateway client")
	}
	return client, nil
}

// Backoff returns the retry schedule of submissions
func (x *Gateway) Backoff() gateway.Backoff {
	return gateway.Backoff{
		Base:        x.backoffBase,
		Cap:         x.backoffCap,
		MaxAttempts: x.maxAttempts,
		Jitter:      x.backoffJitter,
	}
}
