package config

import "github.com/m-mizutani/goerr/v2"

// Sentinel errors for configuration validation
var (
	ErrConfigNotFound  = goerr.New("configuration file not found")
	ErrInvalidConfig   = goerr.New("invalid configuration")
	ErrMissingSetting  = goerr.New("required setting is missing")
	ErrInvalidBackend  = goerr.New("invalid repository backend")
	ErrInvalidReceiver = goerr.New("invalid receiver identifier")
)

// Context keys for error values
const (
	ConfigPathKey = "config_path"
	FlagKey       = "flag"
	BackendKey    = "backend"
)
