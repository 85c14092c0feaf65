package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dantte-lp/bgplab/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Lab.BaseDir != "/tmp/bgplab" {
		t.Errorf("Lab.BaseDir = %q, want /tmp/bgplab", cfg.Lab.BaseDir)
	}
	if cfg.Lab.Prefix != "" {
		t.Errorf("Lab.Prefix = %q, want empty", cfg.Lab.Prefix)
	}
	if cfg.Retry.Attempts != 3 {
		t.Errorf("Retry.Attempts = %d, want 3", cfg.Retry.Attempts)
	}
	if cfg.Retry.Interval != time.Second {
		t.Errorf("Retry.Interval = %v, want 1s", cfg.Retry.Interval)
	}
	if cfg.Wait.StateTimeout != 120*time.Second {
		t.Errorf("Wait.StateTimeout = %v, want 120s", cfg.Wait.StateTimeout)
	}
	if cfg.Wait.ReachabilityTimeout != 20*time.Second {
		t.Errorf("Wait.ReachabilityTimeout = %v, want 20s", cfg.Wait.ReachabilityTimeout)
	}

	if err := config.Validate(cfg); err != nil {
		t.Errorf("Validate(DefaultConfig()) = %v, want nil", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bgplab.yaml")
	content := `
lab:
  prefix: ci42
  base_dir: /var/tmp/bgplab
retry:
  attempts: 5
wait:
  poll_interval: 500ms
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Lab.Prefix != "ci42" {
		t.Errorf("Lab.Prefix = %q, want ci42", cfg.Lab.Prefix)
	}
	if cfg.Lab.BaseDir != "/var/tmp/bgplab" {
		t.Errorf("Lab.BaseDir = %q, want /var/tmp/bgplab", cfg.Lab.BaseDir)
	}
	if cfg.Retry.Attempts != 5 {
		t.Errorf("Retry.Attempts = %d, want 5", cfg.Retry.Attempts)
	}
	if cfg.Wait.PollInterval != 500*time.Millisecond {
		t.Errorf("Wait.PollInterval = %v, want 500ms", cfg.Wait.PollInterval)
	}
	// Unset fields inherit defaults.
	if cfg.Lab.Docker != "docker" {
		t.Errorf("Lab.Docker = %q, want docker default", cfg.Lab.Docker)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("BGPLAB_LAB_PREFIX", "env7")
	t.Setenv("BGPLAB_METRICS_ADDR", ":9999")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Lab.Prefix != "env7" {
		t.Errorf("Lab.Prefix = %q, want env7", cfg.Lab.Prefix)
	}
	if cfg.Metrics.Addr != ":9999" {
		t.Errorf("Metrics.Addr = %q, want :9999", cfg.Metrics.Addr)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr error
	}{
		{
			name:    "empty base dir",
			mutate:  func(c *config.Config) { c.Lab.BaseDir = "" },
			wantErr: config.ErrEmptyBaseDir,
		},
		{
			name:    "empty docker binary",
			mutate:  func(c *config.Config) { c.Lab.Docker = "" },
			wantErr: config.ErrEmptyDocker,
		},
		{
			name:    "prefix with separator",
			mutate:  func(c *config.Config) { c.Lab.Prefix = "run_1" },
			wantErr: config.ErrInvalidPrefix,
		},
		{
			name:    "zero retry attempts",
			mutate:  func(c *config.Config) { c.Retry.Attempts = 0 },
			wantErr: config.ErrInvalidRetryAttempts,
		},
		{
			name:    "negative retry interval",
			mutate:  func(c *config.Config) { c.Retry.Interval = -time.Second },
			wantErr: config.ErrInvalidRetryInterval,
		},
		{
			name:    "zero poll interval",
			mutate:  func(c *config.Config) { c.Wait.PollInterval = 0 },
			wantErr: config.ErrInvalidPollInterval,
		},
		{
			name:    "zero state timeout",
			mutate:  func(c *config.Config) { c.Wait.StateTimeout = 0 },
			wantErr: config.ErrInvalidStateTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.mutate(cfg)

			if err := config.Validate(cfg); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := config.ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
