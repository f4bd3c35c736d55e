// Package config loads spamhunter settings: built-in defaults, then an
// optional YAML file, then SPAMHUNTER_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sjlongland/hackaday.io-spam-hunter/internal/api"
	"github.com/sjlongland/hackaday.io-spam-hunter/internal/logging"
)

// Environment variables read by Load.
const (
	EnvAPI         = "SPAMHUNTER_API"
	EnvSource      = "SPAMHUNTER_SOURCE"
	EnvState       = "SPAMHUNTER_STATE"
	EnvLogLevel    = "SPAMHUNTER_LOG_LEVEL"
	EnvLogFormat   = "SPAMHUNTER_LOG_FORMAT"
	EnvMetricsAddr = "SPAMHUNTER_METRICS_ADDR"
)

// Config holds every tunable of the command line tool.
type Config struct {
	API         string     `yaml:"api"`
	Source      api.Source `yaml:"source"`
	State       string     `yaml:"state"`
	LogLevel    string     `yaml:"log_level"`
	LogFormat   string     `yaml:"log_format"`
	MetricsAddr string     `yaml:"metrics_addr"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	RetryCooldown  time.Duration `yaml:"retry_cooldown"`
	MaxChain       int           `yaml:"max_chain"`

	CommitCooldown    time.Duration `yaml:"commit_cooldown"`
	CommitConcurrency int           `yaml:"commit_concurrency"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		API:               "http://localhost:3000",
		Source:            api.SourceNewcomers,
		State:             "spamhunter.db",
		LogLevel:          "info",
		LogFormat:         logging.FormatText,
		MetricsAddr:       ":9090",
		RequestTimeout:    api.DefaultTimeout,
		PollInterval:      30 * time.Second,
		RetryCooldown:     5 * time.Second,
		MaxChain:          10,
		CommitCooldown:    3 * time.Second,
		CommitConcurrency: 8,
	}
}

// Load builds the configuration. path may be empty; a named file that
// does not exist is an error.
func Load(path string) (Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decode(raw); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.applyEnv(getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode overlays YAML onto c. Unknown keys are rejected.
func (c *Config) decode(raw []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.API, EnvAPI)
	set(&c.State, EnvState)
	set(&c.LogLevel, EnvLogLevel)
	set(&c.LogFormat, EnvLogFormat)
	set(&c.MetricsAddr, EnvMetricsAddr)
	if v := getenv(EnvSource); v != "" {
		c.Source = api.Source(v)
	}
}

// Validate rejects settings the tool cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.API == "" {
		errs = append(errs, errors.New("api: must be set"))
	}
	if _, err := api.ParseSource(string(c.Source)); err != nil {
		errs = append(errs, fmt.Errorf("source: %w", err))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	for _, f := range []struct {
		name string
		d    time.Duration
	}{
		{"request_timeout", c.RequestTimeout},
		{"poll_interval", c.PollInterval},
		{"retry_cooldown", c.RetryCooldown},
	} {
		if f.d <= 0 {
			errs = append(errs, fmt.Errorf("%s: must be positive, got %s", f.name, f.d))
		}
	}
	if c.CommitCooldown < 0 {
		errs = append(errs, fmt.Errorf("commit_cooldown: must not be negative, got %s", c.CommitCooldown))
	}
	if c.MaxChain <= 0 {
		errs = append(errs, fmt.Errorf("max_chain: must be positive, got %d", c.MaxChain))
	}
	if c.CommitConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("commit_concurrency: must be positive, got %d", c.CommitConcurrency))
	}
	return errors.Join(errs...)
}
