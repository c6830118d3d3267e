package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
	"github.com/secmon-lab/icsrlink/pkg/service/icsr"
	"github.com/urfave/cli/v3"
)

// ICSRFile is the TOML document describing the sender identity and routing
type ICSRFile struct {
	SenderID       string         `toml:"sender_id"`
	Environment    string         `toml:"environment"`
	Receivers      Receivers      `toml:"receivers"`
	Acknowledgment Acknowledgment `toml:"acknowledgment"`
}

// Receivers maps market categories to receiver identifiers
type Receivers struct {
	Postmarket string `toml:"postmarket"`
	Premarket  string `toml:"premarket"`
}

// Acknowledgment holds the acknowledgment timeout as a duration string ("48h")
type Acknowledgment struct {
	Timeout string `toml:"timeout"`
}

// Validate checks if the ICSRFile is valid
func (f *ICSRFile) Validate() error {
	if f.SenderID != "" && !isIdentifier(f.SenderID) {
		return goerr.Wrap(ErrInvalidConfig, "sender_id must not contain spaces", goerr.V("sender_id", f.SenderID))
	}
	if f.Environment != "" && !types.Environment(f.Environment).IsValid() {
		return goerr.Wrap(ErrInvalidConfig, "environment must be test or production", goerr.V("environment", f.Environment))
	}
	for name, id := range map[string]string{"postmarket": f.Receivers.Postmarket, "premarket": f.Receivers.Premarket} {
		if id != "" && !isIdentifier(id) {
			return goerr.Wrap(ErrInvalidReceiver, "receiver must be an identifier", goerr.V("market", name), goerr.V("receiver", id))
		}
	}
	if f.Acknowledgment.Timeout != "" {
		d, err := time.ParseDuration(f.Acknowledgment.Timeout)
		if err != nil || d <= 0 {
			return goerr.Wrap(ErrInvalidConfig, "acknowledgment.timeout must be a positive duration",
				goerr.V("timeout", f.Acknowledgment.Timeout))
		}
	}
	return nil
}

func isIdentifier(s string) bool {
	for _, r := range s {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return false
		}
	}
	return s != ""
}

// LoadICSRFile loads the sender configuration from a TOML file
func LoadICSRFile(path string) (*ICSRFile, error) {
	// #nosec G304 - path is expected to be provided by CLI argument
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, goerr.Wrap(ErrConfigNotFound, "ICSR config file not found", goerr.V(ConfigPathKey, path))
		}
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V(ConfigPathKey, path))
	}

	var file ICSRFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, goerr.Wrap(ErrInvalidConfig, "failed to parse TOML config",
			goerr.V(ConfigPathKey, path), goerr.V("error", err.Error()))
	}

	if err := file.Validate(); err != nil {
		return nil, goerr.Wrap(err, "config validation failed", goerr.V(ConfigPathKey, path))
	}

	return &file, nil
}

// ICSR holds the sender identity used when generating and submitting documents. Flags
// override values from the TOML file.
type ICSR struct {
	path        string
	senderID    string
	environment string

	loaded *ICSRFile
}

func (x *ICSR) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "icsr-config",
			Usage:       "Path to the ICSR sender configuration (TOML)",
			Category:    "ICSR",
			Sources:     cli.EnvVars("ICSRLINK_ICSR_CONFIG"),
			Destination: &x.path,
		},
		&cli.StringFlag{
			Name:        "sender-id",
			Usage:       "Sender organization identifier written to the message header",
			Category:    "ICSR",
			Sources:     cli.EnvVars("ICSRLINK_SENDER_ID"),
			Destination: &x.senderID,
		},
		&cli.StringFlag{
			Name:        "environment",
			Usage:       "Intake environment [test|production]",
			Category:    "ICSR",
			Sources:     cli.EnvVars("ICSRLINK_ENVIRONMENT"),
			Destination: &x.environment,
		},
	}
}

func (x ICSR) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("config", x.path),
		slog.String("sender-id", x.senderID),
		slog.String("environment", x.environment),
	)
}

// Load reads the TOML file, if configured, and applies flag overrides
func (x *ICSR) Load() (*ICSRFile, error) {
	if x.loaded != nil {
		return x.loaded, nil
	}

	file := &ICSRFile{}
	if x.path != "" {
		loaded, err := LoadICSRFile(x.path)
		if err != nil {
			return nil, err
		}
		file = loaded
	}

	if x.senderID != "" {
		file.SenderID = strings.TrimSpace(x.senderID)
	}
	if x.environment != "" {
		file.Environment = x.environment
	}
	if file.Environment == "" {
		file.Environment = types.EnvironmentTest.String()
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}

	x.loaded = file
	return file, nil
}

// Options converts the settings into codec options
func (f *ICSRFile) Options() icsr.Options {
	return icsr.Options{
		SenderID:           f.SenderID,
		PostmarketReceiver: f.Receivers.Postmarket,
		PremarketReceiver:  f.Receivers.Premarket,
	}
}

// AckTimeout returns the configured acknowledgment timeout, or zero when unset
func (f *ICSRFile) AckTimeout() time.Duration {
	if f.Acknowledgment.Timeout == "" {
		return 0
	}
	d, _ := time.ParseDuration(f.Acknowledgment.Timeout)
	return d
}
