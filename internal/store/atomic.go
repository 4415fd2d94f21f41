package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/bft-labs/relayvault/internal/domain"
	"github.com/rs/zerolog"
)

// atomicWriter performs the crash-safe replacement of the destination file:
// serialize to a uniquely named temp file, read it back and byte-compare,
// then rename over the destination. The rename is the atomicity boundary.
type atomicWriter struct {
	dest      string
	tmpDir    string
	retries   int
	baseDelay time.Duration
	log       zerolog.Logger
}

func newAtomicWriter(dest, tmpDir string, retries int, baseDelay time.Duration, log zerolog.Logger) *atomicWriter {
	return &atomicWriter{dest: dest, tmpDir: tmpDir, retries: retries, baseDelay: baseDelay, log: log}
}

// Write replaces the destination with data, retrying transient I/O failures
// with exponentially increasing, jittered delay. A verification mismatch is
// fatal immediately: the temp file is discarded and the destination untouched.
func (a *atomicWriter) Write(ctx context.Context, data []byte) error {
	var lastErr error
	for attempt := 0; attempt <= a.retries; attempt++ {
		if attempt > 0 {
			if err := a.sleep(ctx, attempt); err != nil {
				return err
			}
			a.log.Warn().Int("attempt", attempt).Err(lastErr).Msg("retrying atomic write")
		}
		err := a.writeOnce(data)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrVerification) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w after %d attempts: %v", domain.ErrRetriesExhausted, a.retries+1, lastErr)
}

func (a *atomicWriter) writeOnce(data []byte) error {
	tmp := filepath.Join(a.tmpDir, stampName("tmp", time.Now()))
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	back, err := os.ReadFile(tmp)
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("read back temp: %w", err)
	}
	if !bytes.Equal(back, data) {
		os.Remove(tmp)
		return fmt.Errorf("%w: temp file %s", domain.ErrVerification, filepath.Base(tmp))
	}
	if err := os.Rename(tmp, a.dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp over destination: %w", err)
	}
	return nil
}

// sleep waits for the attempt's backoff delay using a real timer, honoring
// context cancellation. Delay doubles per attempt with 20% jitter.
func (a *atomicWriter) sleep(ctx context.Context, attempt int) error {
	d := a.baseDelay << (attempt - 1)
	j := 0.8 + 0.4*rand.Float64()
	t := time.NewTimer(time.Duration(float64(d) * j))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
