package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bft-labs/relayvault/internal/domain"
)

// Config is the full tuning surface for the durable store and the delivery
// reliability layer, plus the serve command's listen addresses.
type Config struct {
	// DataDir is where the store keeps its destination file and the backups/,
	// wal/ and tmp/ directories.
	DataDir  string
	DataFile string

	// Durable store tuning.
	MaxWriteRetries    int
	RetryBaseDelay     time.Duration
	MaxBackupsRetained int
	TempMaxAge         time.Duration

	// Delivery layer tuning.
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	MaxQueuePerClient int
	MessageTTL        time.Duration
	CleanupInterval   time.Duration
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration

	// Fallback thresholds; zero disables the check.
	FallbackHeartbeatFailures int
	FallbackQueueDepth        int

	// Serve command surfaces.
	ListenAddr  string
	MetricsAddr string
}

// DefaultConfig returns a Config with default values. At minimum DataDir must
// be set before use.
func DefaultConfig() Config {
	return Config{
		MaxWriteRetries:    3,
		RetryBaseDelay:     100 * time.Millisecond,
		MaxBackupsRetained: 10,
		TempMaxAge:         time.Hour,

		HeartbeatInterval: 25 * time.Second,
		HeartbeatTimeout:  60 * time.Second,
		MaxQueuePerClient: 100,
		MessageTTL:        5 * time.Minute,
		CleanupInterval:   time.Minute,
		InitialBackoff:    time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,

		FallbackHeartbeatFailures: 10,
		FallbackQueueDepth:        500,

		ListenAddr:  ":8090",
		MetricsAddr: ":9190",
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data-dir is required", domain.ErrInvalidConfig)
	}
	if c.DataFile == "" {
		c.DataFile = filepath.Join(c.DataDir, "data.json")
	}
	if c.MaxWriteRetries < 0 {
		return fmt.Errorf("%w: max-write-retries must be >= 0", domain.ErrInvalidConfig)
	}
	if c.MaxBackupsRetained <= 0 {
		return fmt.Errorf("%w: max-backups-retained must be positive", domain.ErrInvalidConfig)
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("%w: heartbeat interval and timeout must be positive", domain.ErrInvalidConfig)
	}
	if c.HeartbeatTimeout < c.HeartbeatInterval {
		return fmt.Errorf("%w: heartbeat-timeout below heartbeat-interval", domain.ErrInvalidConfig)
	}
	if c.MaxQueuePerClient <= 0 {
		return fmt.Errorf("%w: max-queue-per-client must be positive", domain.ErrInvalidConfig)
	}
	if c.MessageTTL <= 0 || c.CleanupInterval <= 0 {
		return fmt.Errorf("%w: message-ttl and cleanup-interval must be positive", domain.ErrInvalidConfig)
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("%w: backoff-multiplier must be >= 1", domain.ErrInvalidConfig)
	}
	if c.InitialBackoff <= 0 || c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("%w: backoff window invalid", domain.ErrInvalidConfig)
	}
	return nil
}

// configSetter helps apply configuration values while respecting flag
// precedence. It only applies values if the corresponding flag hasn't been
// explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setFloat(flag string, value float64, dst *float64) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not
// changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setIntFromString parses a string to int, used for environment variables.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setFloatFromString parses a string to float64, used for environment
// variables.
func (s *configSetter) setFloatFromString(flag, value string, dst *float64) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if f <= 0 {
		return nil
	}
	*dst = f
	return nil
}
