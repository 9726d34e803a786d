// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	relayerr "github.com/sigil-dev/relay/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Backend kinds accepted in configuration.
const (
	KindProcess    = "process"
	KindHTTPStream = "http-stream"
)

// Wire protocols accepted for http-stream backends. Empty means openai.
const (
	APIOpenAI    = "openai"
	APIAnthropic = "anthropic"
	APIGemini    = "gemini"
)

// Config is the top-level relay configuration.
type Config struct {
	DataDir      string             `mapstructure:"data_dir"`
	Log          LogConfig          `mapstructure:"log"`
	Server       ServerConfig       `mapstructure:"server"`
	Availability AvailabilityConfig `mapstructure:"availability"`
	Runs         RunsConfig         `mapstructure:"runs"`
	Backends     []BackendConfig    `mapstructure:"backends"`

	// Source is the config file that was read, empty when running on
	// defaults and environment only.
	Source string `mapstructure:"-"`
}

// LogConfig selects the default slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig controls the HTTP host.
type ServerConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// AvailabilityConfig controls the status tracker.
type AvailabilityConfig struct {
	StatusFile       string        `mapstructure:"status_file"`
	UsageLimitWait   time.Duration `mapstructure:"usage_limit_wait"`
	RateLimitWait    time.Duration `mapstructure:"rate_limit_wait"`
	FallbackPriority []string      `mapstructure:"fallback_priority"`
}

// RunsConfig controls run execution and the on-disk run store.
type RunsConfig struct {
	Dir                string        `mapstructure:"dir"`
	MaxActive          int           `mapstructure:"max_active"`
	PromptPreviewChars int           `mapstructure:"prompt_preview_chars"`
	DefaultTimeout     time.Duration `mapstructure:"default_timeout"`
}

// BackendConfig describes one backend entry.
type BackendConfig struct {
	ID       string            `mapstructure:"id"`
	Name     string            `mapstructure:"name"`
	Kind     string            `mapstructure:"kind"`
	Command  string            `mapstructure:"command"`
	Args     []string          `mapstructure:"args"`
	Env      map[string]string `mapstructure:"env"`
	Endpoint string            `mapstructure:"endpoint"`
	API      string            `mapstructure:"api"`
	APIKey   string            `mapstructure:"api_key"`
	Model    string            `mapstructure:"model"`
	Timeout  time.Duration     `mapstructure:"timeout"`
	Enabled  *bool             `mapstructure:"enabled"`
	Fallback string            `mapstructure:"fallback"`
}

// IsEnabled reports the enabled flag, treating an omitted flag as true.
func (b BackendConfig) IsEnabled() bool {
	return b.Enabled == nil || *b.Enabled
}

// Binding ties a command-line flag to a config key. A flag the user set
// overrides environment and file values.
type Binding struct {
	Key  string
	Flag *pflag.Flag
}

// Load reads configuration from the given path with environment variable
// overrides (prefix RELAY_). With an empty path, relay.yaml is searched in
// the working directory, $HOME/.config/relay and /etc/relay; finding none is
// not an error.
func Load(path string, bindings ...Binding) (*Config, error) {
	v := viper.New()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("server.listen", "127.0.0.1:18790")
	v.SetDefault("availability.usage_limit_wait", 24*time.Hour)
	v.SetDefault("availability.rate_limit_wait", 5*time.Minute)
	v.SetDefault("runs.max_active", 0)
	v.SetDefault("runs.prompt_preview_chars", 500)
	v.SetDefault("runs.default_timeout", 10*time.Minute)

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, b := range bindings {
		if b.Flag == nil {
			continue
		}
		if err := v.BindPFlag(b.Key, b.Flag); err != nil {
			return nil, relayerr.Errorf(relayerr.CodeConfigLoadReadFailure, "binding flag %s: %w", b.Flag.Name, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, relayerr.Errorf(relayerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("relay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "relay"))
		}
		v.AddConfigPath("/etc/relay")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, relayerr.Errorf(relayerr.CodeConfigLoadReadFailure, "reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, relayerr.Errorf(relayerr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}
	cfg.Source = v.ConfigFileUsed()
	cfg.resolvePaths()

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// DefaultDataDir returns ~/.local/share/relay, or .relay when the home
// directory cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relay"
	}
	return filepath.Join(home, ".local", "share", "relay")
}

func (c *Config) resolvePaths() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	if c.Availability.StatusFile == "" {
		c.Availability.StatusFile = filepath.Join(c.DataDir, "status.json")
	}
	if c.Runs.Dir == "" {
		c.Runs.Dir = filepath.Join(c.DataDir, "runs")
	}
}

// Validate checks the configuration for logical errors.
// It returns a slice of all validation errors found, collecting all issues
// rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateLog()...)
	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateAvailability()...)
	errs = append(errs, c.validateRuns()...)
	errs = append(errs, c.validateBackends()...)

	return errs
}

func invalid(format string, args ...any) error {
	return relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue, "config: "+format, args...)
}

func (c *Config) validateLog() []error {
	var errs []error

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, invalid("log.level must be one of [debug, info, warn, error], got %q", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, invalid("log.format must be one of [text, json], got %q", c.Log.Format))
	}

	return errs
}

func (c *Config) validateServer() []error {
	if c.Server.Listen == "" {
		return []error{invalid("server.listen must not be empty")}
	}

	_, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		return []error{invalid("server.listen must be a valid host:port address, got %q: %w", c.Server.Listen, err)}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return []error{invalid("server.listen port must be a number, got %q", portStr)}
	}
	if port < 1 || port > 65535 {
		return []error{invalid("server.listen port must be between 1 and 65535, got %d", port)}
	}
	return nil
}

func (c *Config) validateAvailability() []error {
	var errs []error

	if c.Availability.UsageLimitWait <= 0 {
		errs = append(errs, invalid("availability.usage_limit_wait must be greater than 0, got %s", c.Availability.UsageLimitWait))
	}
	if c.Availability.RateLimitWait <= 0 {
		errs = append(errs, invalid("availability.rate_limit_wait must be greater than 0, got %s", c.Availability.RateLimitWait))
	}

	known := c.backendIDs()
	for i, id := range c.Availability.FallbackPriority {
		if !known[id] {
			errs = append(errs, invalid("availability.fallback_priority[%d] references unknown backend %q", i, id))
		}
	}

	return errs
}

func (c *Config) validateRuns() []error {
	var errs []error

	if c.Runs.MaxActive < 0 {
		errs = append(errs, invalid("runs.max_active must not be negative, got %d", c.Runs.MaxActive))
	}
	if c.Runs.PromptPreviewChars <= 0 {
		errs = append(errs, invalid("runs.prompt_preview_chars must be greater than 0, got %d", c.Runs.PromptPreviewChars))
	}
	if c.Runs.DefaultTimeout <= 0 {
		errs = append(errs, invalid("runs.default_timeout must be greater than 0, got %s", c.Runs.DefaultTimeout))
	}

	return errs
}

func (c *Config) validateBackends() []error {
	var errs []error

	known := c.backendIDs()
	seen := make(map[string]bool, len(c.Backends))
	for i, b := range c.Backends {
		if strings.TrimSpace(b.ID) == "" {
			errs = append(errs, invalid("backends[%d].id must not be empty", i))
			continue
		}
		if seen[b.ID] {
			errs = append(errs, invalid("backends[%d].id %q is a duplicate", i, b.ID))
		}
		seen[b.ID] = true

		switch b.Kind {
		case KindProcess:
			if strings.TrimSpace(b.Command) == "" {
				errs = append(errs, invalid("backends[%d] %q: process backend requires command", i, b.ID))
			}
		case KindHTTPStream:
			if strings.TrimSpace(b.Endpoint) == "" {
				errs = append(errs, invalid("backends[%d] %q: http-stream backend requires endpoint", i, b.ID))
			}
			switch b.API {
			case "", APIOpenAI, APIAnthropic, APIGemini:
			default:
				errs = append(errs, invalid("backends[%d] %q: api must be one of [%s, %s, %s], got %q",
					i, b.ID, APIOpenAI, APIAnthropic, APIGemini, b.API))
			}
		default:
			errs = append(errs, invalid("backends[%d] %q: kind must be one of [%s, %s], got %q",
				i, b.ID, KindProcess, KindHTTPStream, b.Kind))
		}

		if b.Timeout < 0 {
			errs = append(errs, invalid("backends[%d] %q: timeout must not be negative, got %s", i, b.ID, b.Timeout))
		}

		if b.Fallback != "" {
			switch {
			case b.Fallback == b.ID:
				errs = append(errs, invalid("backends[%d] %q: fallback must not reference itself", i, b.ID))
			case !known[b.Fallback]:
				errs = append(errs, invalid("backends[%d] %q: fallback references unknown backend %q", i, b.ID, b.Fallback))
			}
		}
	}

	return errs
}

func (c *Config) backendIDs() map[string]bool {
	ids := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		ids[b.ID] = true
	}
	return ids
}
