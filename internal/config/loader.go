package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment variable galed reads.
const EnvPrefix = "GALED_"

// Loader handles configuration loading with layered precedence.
type Loader struct {
	logger  *slog.Logger
	environ map[string]string // nil = process environment
}

// NewLoader creates a new configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// WithEnvironment makes the loader read variables from m instead of the
// process environment.
func (l *Loader) WithEnvironment(m map[string]string) *Loader {
	l.environ = m
	return l
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. Project config (path, normally .galed/galed.yaml; may be absent)
// 3. Environment variables (GALED_*)
func (l *Loader) Load(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		fileConfig, err := LoadFromFile(path)
		switch {
		case err == nil:
			l.logger.Debug("Loaded project config", slog.String("path", path))
			config = fileConfig
		case errors.Is(err, fs.ErrNotExist):
			l.logger.Debug("No project config found", slog.String("path", path))
		default:
			return nil, err
		}
	}

	if err := l.applyEnv(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnv overlays GALED_* variables. Unset variables leave the value from
// the earlier layers in place.
func (l *Loader) applyEnv(config *Config) error {
	opts := env.Options{Prefix: EnvPrefix}
	if l.environ != nil {
		opts.Environment = l.environ
	}
	if err := env.ParseWithOptions(config, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
