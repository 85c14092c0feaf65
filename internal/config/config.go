// Package config manages bgplab configuration using koanf/v2.
//
// Supports YAML files, environment variables, and CLI flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete bgplab configuration.
type Config struct {
	Lab     LabConfig     `koanf:"lab"`
	Retry   RetryConfig   `koanf:"retry"`
	Wait    WaitConfig    `koanf:"wait"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
}

// LabConfig identifies one lab run and its working area on the host.
type LabConfig struct {
	// Prefix namespaces every bridge and container name so concurrent
	// lab runs on a shared host stay disjoint. Empty means no prefix.
	// Two concurrent runs using the same prefix are unsupported.
	Prefix string `koanf:"prefix"`

	// BaseDir is the host directory under which per-container
	// configuration directories are created (e.g., "/tmp/bgplab").
	BaseDir string `koanf:"base_dir"`

	// Docker is the container CLI binary to invoke (e.g., "docker").
	Docker string `koanf:"docker"`

	// BootGrace is the fixed settling period a caller should wait after
	// a container starts before interacting with the daemon inside it.
	// This is a constant grace, not a readiness poll.
	BootGrace time.Duration `koanf:"boot_grace"`
}

// RetryConfig bounds the retry loop wrapped around every provisioning
// command (bridge, container, and wiring operations).
type RetryConfig struct {
	// Attempts is the maximum number of invocations per operation.
	Attempts int `koanf:"attempts"`

	// Interval is the fixed delay between attempts.
	Interval time.Duration `koanf:"interval"`
}

// WaitConfig holds the convergence polling parameters.
type WaitConfig struct {
	// PollInterval is the delay between successive neighbor-state or
	// reachability probes.
	PollInterval time.Duration `koanf:"poll_interval"`

	// StateTimeout bounds WaitForState polling for a peering FSM state.
	StateTimeout time.Duration `koanf:"state_timeout"`

	// ReachabilityTimeout bounds WaitReachable ping polling.
	ReachabilityTimeout time.Duration `koanf:"reachability_timeout"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration used
// by "bgplab up --wait".
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9101").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
//
// The retry defaults (3 attempts, 1s apart) match the observed flakiness
// profile of docker and ip(8) operations: a race with daemon state
// usually clears within a second. The 120s state timeout covers initial
// BGP session establishment including passive-mode hold-downs.
func DefaultConfig() *Config {
	return &Config{
		Lab: LabConfig{
			Prefix:    "",
			BaseDir:   "/tmp/bgplab",
			Docker:    "docker",
			BootGrace: 1 * time.Second,
		},
		Retry: RetryConfig{
			Attempts: 3,
			Interval: 1 * time.Second,
		},
		Wait: WaitConfig{
			PollInterval:        1 * time.Second,
			StateTimeout:        120 * time.Second,
			ReachabilityTimeout: 20 * time.Second,
		},
		Metrics: MetricsConfig{
			Addr: ":9101",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for bgplab configuration.
// Variables are named BGPLAB_<section>_<key>, e.g., BGPLAB_LAB_PREFIX.
const envPrefix = "BGPLAB_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (BGPLAB_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults. An empty path skips
// the file layer entirely and loads defaults plus environment only.
//
// Environment variable mapping:
//
//	BGPLAB_LAB_PREFIX   -> lab.prefix
//	BGPLAB_LAB_BASE_DIR -> lab.base_dir
//	BGPLAB_LOG_LEVEL    -> log.level
//	BGPLAB_METRICS_ADDR -> metrics.addr
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	// BGPLAB_LAB_PREFIX -> lab.prefix (strip prefix, lowercase, _ -> .).
	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// envKeyMapper transforms BGPLAB_LAB_PREFIX -> lab.prefix.
// Strips the BGPLAB_ prefix and lowercases; the first underscore
// separates the section, later underscores stay part of the key
// (BGPLAB_LAB_BASE_DIR -> lab.base_dir).
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"lab.prefix":                defaults.Lab.Prefix,
		"lab.base_dir":              defaults.Lab.BaseDir,
		"lab.docker":                defaults.Lab.Docker,
		"lab.boot_grace":            defaults.Lab.BootGrace.String(),
		"retry.attempts":            defaults.Retry.Attempts,
		"retry.interval":            defaults.Retry.Interval.String(),
		"wait.poll_interval":        defaults.Wait.PollInterval.String(),
		"wait.state_timeout":        defaults.Wait.StateTimeout.String(),
		"wait.reachability_timeout": defaults.Wait.ReachabilityTimeout.String(),
		"metrics.addr":              defaults.Metrics.Addr,
		"metrics.path":              defaults.Metrics.Path,
		"log.level":                 defaults.Log.Level,
		"log.format":                defaults.Log.Format,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyBaseDir indicates the lab base directory is empty.
	ErrEmptyBaseDir = errors.New("lab.base_dir must not be empty")

	// ErrEmptyDocker indicates the container CLI binary name is empty.
	ErrEmptyDocker = errors.New("lab.docker must not be empty")

	// ErrInvalidPrefix indicates the lab prefix contains characters that
	// are not safe in bridge and container names.
	ErrInvalidPrefix = errors.New("lab.prefix must be alphanumeric")

	// ErrInvalidRetryAttempts indicates the retry attempt count is < 1.
	ErrInvalidRetryAttempts = errors.New("retry.attempts must be >= 1")

	// ErrInvalidRetryInterval indicates the retry interval is not positive.
	ErrInvalidRetryInterval = errors.New("retry.interval must be > 0")

	// ErrInvalidPollInterval indicates the poll interval is not positive.
	ErrInvalidPollInterval = errors.New("wait.poll_interval must be > 0")

	// ErrInvalidStateTimeout indicates the state timeout is not positive.
	ErrInvalidStateTimeout = errors.New("wait.state_timeout must be > 0")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Lab.BaseDir == "" {
		return ErrEmptyBaseDir
	}

	if cfg.Lab.Docker == "" {
		return ErrEmptyDocker
	}

	for _, r := range cfg.Lab.Prefix {
		alnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !alnum {
			return fmt.Errorf("%w: got %q", ErrInvalidPrefix, cfg.Lab.Prefix)
		}
	}

	if cfg.Retry.Attempts < 1 {
		return ErrInvalidRetryAttempts
	}

	if cfg.Retry.Interval <= 0 {
		return ErrInvalidRetryInterval
	}

	if cfg.Wait.PollInterval <= 0 {
		return ErrInvalidPollInterval
	}

	if cfg.Wait.StateTimeout <= 0 {
		return ErrInvalidStateTimeout
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
