package config

import (
	"errors"
	"testing"
	"time"

	"github.com/bft-labs/relayvault/internal/domain"
)

func TestValidateRequiresDataDir(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig without data dir, got %v", err)
	}

	cfg.DataDir = "/var/lib/relayvault"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.DataFile == "" {
		t.Fatalf("expected derived data file path")
	}
}

func TestValidateRejectsBadTuning(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative retries", func(c *Config) { c.MaxWriteRetries = -1 }},
		{"zero backups", func(c *Config) { c.MaxBackupsRetained = 0 }},
		{"timeout below interval", func(c *Config) { c.HeartbeatTimeout = c.HeartbeatInterval / 2 }},
		{"multiplier below one", func(c *Config) { c.BackoffMultiplier = 0.5 }},
		{"max backoff below initial", func(c *Config) { c.MaxBackoff = c.InitialBackoff / 2 }},
		{"zero queue cap", func(c *Config) { c.MaxQueuePerClient = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.DataDir = "/tmp/rv"
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, domain.ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestApplyFileConfig(t *testing.T) {
	tests := []struct {
		name        string
		fileConfig  fileConfig
		changed     map[string]bool
		initial     Config
		expected    Config
		expectError bool
	}{
		{
			name: "applies valid values",
			fileConfig: fileConfig{
				DataDir:           "/srv/contest",
				HeartbeatInterval: "30s",
				MessageTTL:        "2m",
				MaxQueuePerClient: 50,
				BackoffMultiplier: 1.5,
			},
			changed: map[string]bool{},
			initial: Config{},
			expected: Config{
				DataDir:           "/srv/contest",
				HeartbeatInterval: 30 * time.Second,
				MessageTTL:        2 * time.Minute,
				MaxQueuePerClient: 50,
				BackoffMultiplier: 1.5,
			},
		},
		{
			name: "respects changed flags",
			fileConfig: fileConfig{
				DataDir:    "/config/dir",
				ListenAddr: ":7000",
			},
			changed: map[string]bool{"data-dir": true},
			initial: Config{DataDir: "/flag/dir"},
			expected: Config{
				DataDir:    "/flag/dir",
				ListenAddr: ":7000",
			},
		},
		{
			name:        "rejects malformed duration",
			fileConfig:  fileConfig{HeartbeatInterval: "soon"},
			changed:     map[string]bool{},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.initial
			err := ApplyFileConfig(&cfg, tt.fileConfig, tt.changed)
			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("apply: %v", err)
			}
			if cfg != tt.expected {
				t.Fatalf("got %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}

func TestApplyEnvConfig(t *testing.T) {
	t.Setenv("RELAYVAULT_DATA_DIR", "/env/dir")
	t.Setenv("RELAYVAULT_MESSAGE_TTL", "90s")
	t.Setenv("RELAYVAULT_MAX_QUEUE_PER_CLIENT", "25")

	cfg := Config{}
	if err := ApplyEnvConfig(&cfg, map[string]bool{}); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.DataDir != "/env/dir" {
		t.Fatalf("data dir %q, want /env/dir", cfg.DataDir)
	}
	if cfg.MessageTTL != 90*time.Second {
		t.Fatalf("ttl %v, want 90s", cfg.MessageTTL)
	}
	if cfg.MaxQueuePerClient != 25 {
		t.Fatalf("queue cap %d, want 25", cfg.MaxQueuePerClient)
	}

	// Flags win over env.
	cfg = Config{DataDir: "/flag/dir"}
	if err := ApplyEnvConfig(&cfg, map[string]bool{"data-dir": true}); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.DataDir != "/flag/dir" {
		t.Fatalf("env overrode explicit flag: %q", cfg.DataDir)
	}

	t.Setenv("RELAYVAULT_HEARTBEAT_INTERVAL", "not-a-duration")
	if err := ApplyEnvConfig(&Config{}, map[string]bool{}); err == nil {
		t.Fatalf("expected error for malformed env duration")
	}
}
