// Package config loads galed settings.
//
// Settings are layered, later layers winning: built-in defaults, the
// project's .galed/galed.yaml, GALED_* environment variables, and finally
// command-line flags (applied by the CLI).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/galed/internal/ir"
)

// Config is the complete galed configuration.
type Config struct {
	// Dir is the project root to operate on (empty = search upward from the
	// working directory). Environment only.
	Dir string `yaml:"-" env:"DIR"`

	Log     LogConfig     `yaml:"log" envPrefix:"LOG_"`
	Engine  EngineConfig  `yaml:"engine" envPrefix:"ENGINE_"`
	Journal JournalConfig `yaml:"journal" envPrefix:"JOURNAL_"`
	Metrics MetricsConfig `yaml:"metrics" envPrefix:"METRICS_"`
	Author  AuthorConfig  `yaml:"author" envPrefix:"AUTHOR_"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
}

// EngineConfig configures proposal resolution behavior.
type EngineConfig struct {
	// ReopenOnReject reopens a CONFLICTING proposal when its last
	// counterpart is rejected.
	ReopenOnReject bool `yaml:"reopen_on_reject" env:"REOPEN_ON_REJECT"`

	// ImpactOnDirectWrite flags dependents after a direct write to an OPEN
	// field, not only after an accepted proposal.
	ImpactOnDirectWrite bool `yaml:"impact_on_direct_write" env:"IMPACT_ON_DIRECT_WRITE"`
}

// JournalConfig configures the SQLite audit journal.
type JournalConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

// MetricsConfig configures the Prometheus textfile export.
type MetricsConfig struct {
	// Textfile is where metrics are written after each command (empty = off).
	Textfile string `yaml:"textfile" env:"TEXTFILE"`
}

// AuthorConfig is the default identity commands act as.
type AuthorConfig struct {
	ID   string        `yaml:"id" env:"ID"`
	Kind ir.AuthorKind `yaml:"kind" env:"KIND"`

	// Token is the credential presented when resolving proposals. It is
	// never read from or written to galed.yaml.
	Token string `yaml:"-" env:"TOKEN"`
}

// DefaultConfig returns a Config with built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Log:     LogConfig{Level: "warn"},
		Journal: JournalConfig{Enabled: true},
		Author:  AuthorConfig{Kind: ir.AuthorHuman},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if !ir.ValidAuthorKinds[c.Author.Kind] {
		return fmt.Errorf("author.kind must be %q or %q, got %q", ir.AuthorHuman, ir.AuthorAI, c.Author.Kind)
	}
	return nil
}

// Level parses the configured log level.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

// Authority returns the configured identity as a resolver capability.
func (c *Config) Authority() ir.Authority {
	return ir.Authority{
		Author: ir.Author{ID: c.Author.ID, Kind: c.Author.Kind},
		Token:  c.Author.Token,
	}
}

// LoadFromFile reads a galed.yaml over the defaults. Keys absent from the
// file keep their default values.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// SaveToFile writes the configuration as YAML.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
