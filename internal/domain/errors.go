package domain

import "errors"

// Domain errors represent error conditions in the relayvault domain.
// These errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("relayvault: invalid configuration")

	// ErrVerification is returned when a freshly written temp file (or the
	// destination after rename) does not byte-match the serialized state.
	// The transaction is aborted and the destination is left untouched.
	ErrVerification = errors.New("relayvault: post-write verification mismatch")

	// ErrCorruptState is returned when the destination file exists but cannot
	// be parsed. Load attempts a backup restore before surfacing it.
	ErrCorruptState = errors.New("relayvault: corrupt state file")

	// ErrBackupUnavailable is returned when recovery needs a backup and none
	// exists. This is unrecoverable and must not be defaulted away.
	ErrBackupUnavailable = errors.New("relayvault: no backup available")

	// ErrRetriesExhausted is returned when the atomic write fails on every
	// permitted attempt.
	ErrRetriesExhausted = errors.New("relayvault: write retries exhausted")

	// ErrTransport is returned when a single peer's send fails. It is isolated
	// to that peer and never aborts a broadcast.
	ErrTransport = errors.New("relayvault: transport send failed")

	// ErrUnknownClient is returned for operations against a client ID that was
	// never registered.
	ErrUnknownClient = errors.New("relayvault: unknown client")

	// ErrLayerClosed is returned when the delivery layer is used after Shutdown.
	ErrLayerClosed = errors.New("relayvault: delivery layer closed")

	// ErrShutdownTimeout is returned when the final flush window expires before
	// all pending work drains.
	ErrShutdownTimeout = errors.New("relayvault: shutdown timeout")
)
