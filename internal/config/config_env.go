package config

import "os"

// ApplyEnvConfig applies configuration from environment variables
// (RELAYVAULT_*). It respects flags that have been explicitly set (changed
// map). Returns an error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("data-dir", os.Getenv("RELAYVAULT_DATA_DIR"), &cfg.DataDir)
	s.setString("data-file", os.Getenv("RELAYVAULT_DATA_FILE"), &cfg.DataFile)
	s.setString("listen", os.Getenv("RELAYVAULT_LISTEN_ADDR"), &cfg.ListenAddr)
	s.setString("metrics-listen", os.Getenv("RELAYVAULT_METRICS_ADDR"), &cfg.MetricsAddr)

	if err := s.setIntFromString("max-write-retries", os.Getenv("RELAYVAULT_MAX_WRITE_RETRIES"), &cfg.MaxWriteRetries); err != nil {
		return err
	}
	if err := s.setIntFromString("max-backups-retained", os.Getenv("RELAYVAULT_MAX_BACKUPS_RETAINED"), &cfg.MaxBackupsRetained); err != nil {
		return err
	}
	if err := s.setIntFromString("max-queue-per-client", os.Getenv("RELAYVAULT_MAX_QUEUE_PER_CLIENT"), &cfg.MaxQueuePerClient); err != nil {
		return err
	}
	if err := s.setIntFromString("fallback-heartbeat-failures", os.Getenv("RELAYVAULT_FALLBACK_HEARTBEAT_FAILURES"), &cfg.FallbackHeartbeatFailures); err != nil {
		return err
	}
	if err := s.setIntFromString("fallback-queue-depth", os.Getenv("RELAYVAULT_FALLBACK_QUEUE_DEPTH"), &cfg.FallbackQueueDepth); err != nil {
		return err
	}

	if err := s.setFloatFromString("backoff-multiplier", os.Getenv("RELAYVAULT_BACKOFF_MULTIPLIER"), &cfg.BackoffMultiplier); err != nil {
		return err
	}

	if err := s.setDuration("retry-base-delay", os.Getenv("RELAYVAULT_RETRY_BASE_DELAY"), &cfg.RetryBaseDelay); err != nil {
		return err
	}
	if err := s.setDuration("temp-max-age", os.Getenv("RELAYVAULT_TEMP_MAX_AGE"), &cfg.TempMaxAge); err != nil {
		return err
	}
	if err := s.setDuration("heartbeat-interval", os.Getenv("RELAYVAULT_HEARTBEAT_INTERVAL"), &cfg.HeartbeatInterval); err != nil {
		return err
	}
	if err := s.setDuration("heartbeat-timeout", os.Getenv("RELAYVAULT_HEARTBEAT_TIMEOUT"), &cfg.HeartbeatTimeout); err != nil {
		return err
	}
	if err := s.setDuration("message-ttl", os.Getenv("RELAYVAULT_MESSAGE_TTL"), &cfg.MessageTTL); err != nil {
		return err
	}
	if err := s.setDuration("cleanup-interval", os.Getenv("RELAYVAULT_CLEANUP_INTERVAL"), &cfg.CleanupInterval); err != nil {
		return err
	}
	if err := s.setDuration("initial-backoff", os.Getenv("RELAYVAULT_INITIAL_BACKOFF"), &cfg.InitialBackoff); err != nil {
		return err
	}
	if err := s.setDuration("max-backoff", os.Getenv("RELAYVAULT_MAX_BACKOFF"), &cfg.MaxBackoff); err != nil {
		return err
	}

	return nil
}
