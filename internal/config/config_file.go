package config

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// fileConfig mirrors Config but uses strings for durations to make TOML
// friendly.
type fileConfig struct {
	DataDir  string `toml:"data_dir"`
	DataFile string `toml:"data_file"`

	MaxWriteRetries    int    `toml:"max_write_retries"`
	RetryBaseDelay     string `toml:"retry_base_delay"`
	MaxBackupsRetained int    `toml:"max_backups_retained"`
	TempMaxAge         string `toml:"temp_max_age"`

	HeartbeatInterval string  `toml:"heartbeat_interval"`
	HeartbeatTimeout  string  `toml:"heartbeat_timeout"`
	MaxQueuePerClient int     `toml:"max_queue_per_client"`
	MessageTTL        string  `toml:"message_ttl"`
	CleanupInterval   string  `toml:"cleanup_interval"`
	InitialBackoff    string  `toml:"initial_backoff"`
	BackoffMultiplier float64 `toml:"backoff_multiplier"`
	MaxBackoff        string  `toml:"max_backoff"`

	FallbackHeartbeatFailures int `toml:"fallback_heartbeat_failures"`
	FallbackQueueDepth        int `toml:"fallback_queue_depth"`

	ListenAddr  string `toml:"listen_addr"`
	MetricsAddr string `toml:"metrics_addr"`
}

// LoadFileConfig reads and parses a TOML config file.
func LoadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns ~/.relayvault/config.toml if the user home
// directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".relayvault", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc fileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("data-dir", fc.DataDir, &cfg.DataDir)
	s.setString("data-file", fc.DataFile, &cfg.DataFile)
	s.setString("listen", fc.ListenAddr, &cfg.ListenAddr)
	s.setString("metrics-listen", fc.MetricsAddr, &cfg.MetricsAddr)

	s.setInt("max-write-retries", fc.MaxWriteRetries, &cfg.MaxWriteRetries)
	s.setInt("max-backups-retained", fc.MaxBackupsRetained, &cfg.MaxBackupsRetained)
	s.setInt("max-queue-per-client", fc.MaxQueuePerClient, &cfg.MaxQueuePerClient)
	s.setInt("fallback-heartbeat-failures", fc.FallbackHeartbeatFailures, &cfg.FallbackHeartbeatFailures)
	s.setInt("fallback-queue-depth", fc.FallbackQueueDepth, &cfg.FallbackQueueDepth)

	s.setFloat("backoff-multiplier", fc.BackoffMultiplier, &cfg.BackoffMultiplier)

	if err := s.setDuration("retry-base-delay", fc.RetryBaseDelay, &cfg.RetryBaseDelay); err != nil {
		return err
	}
	if err := s.setDuration("temp-max-age", fc.TempMaxAge, &cfg.TempMaxAge); err != nil {
		return err
	}
	if err := s.setDuration("heartbeat-interval", fc.HeartbeatInterval, &cfg.HeartbeatInterval); err != nil {
		return err
	}
	if err := s.setDuration("heartbeat-timeout", fc.HeartbeatTimeout, &cfg.HeartbeatTimeout); err != nil {
		return err
	}
	if err := s.setDuration("message-ttl", fc.MessageTTL, &cfg.MessageTTL); err != nil {
		return err
	}
	if err := s.setDuration("cleanup-interval", fc.CleanupInterval, &cfg.CleanupInterval); err != nil {
		return err
	}
	if err := s.setDuration("initial-backoff", fc.InitialBackoff, &cfg.InitialBackoff); err != nil {
		return err
	}
	if err := s.setDuration("max-backoff", fc.MaxBackoff, &cfg.MaxBackoff); err != nil {
		return err
	}

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
