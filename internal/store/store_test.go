package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/bft-labs/relayvault/internal/domain"
	"github.com/rs/zerolog"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(Options{
		DataFile:           filepath.Join(dir, "submissions.json"),
		MaxBackupsRetained: 3,
		RetryBaseDelay:     time.Millisecond,
		Logger:             zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

type testState struct {
	X []string `json:"x"`
	N int      `json:"n"`
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	want := testState{X: []string{"first entry"}, N: 7}
	res, err := s.Save(ctx, want, "submit")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success result, got %+v", res)
	}
	if res.TransactionID == "" || res.WALRef == "" {
		t.Fatalf("expected transaction and wal refs, got %+v", res)
	}
	if res.BackupRef != "" {
		t.Fatalf("first save should not create a backup, got %q", res.BackupRef)
	}

	raw, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var got testState
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal loaded state: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("loaded state %+v, want %+v", got, want)
	}
}

func TestLoadIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Save(ctx, testState{N: 1}, "submit"); err != nil {
		t.Fatalf("save: %v", err)
	}
	a, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	b, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("loads differ: %s vs %s", a, b)
	}
}

func TestLoadFirstRunReturnsEmptyState(t *testing.T) {
	s := openTestStore(t)
	raw, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(raw) != string(EmptyState) {
		t.Fatalf("expected empty state, got %s", raw)
	}
}

func TestSecondSaveCreatesBackup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Save(ctx, testState{N: 1}, "submit"); err != nil {
		t.Fatalf("first save: %v", err)
	}
	res, err := s.Save(ctx, testState{N: 2}, "update")
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if res.BackupRef == "" {
		t.Fatalf("expected backup ref on second save")
	}
	if !s.backups.Exists(res.BackupRef) {
		t.Fatalf("backup %s not on disk", res.BackupRef)
	}
}

func TestBackupRetentionCap(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		if _, err := s.Save(ctx, testState{N: i}, "submit"); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	m, err := s.Metrics()
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.Backups.Count > m.Backups.MaxRetained {
		t.Fatalf("retained %d backups, cap is %d", m.Backups.Count, m.Backups.MaxRetained)
	}
}

// Simulates a crash after the backup and pending WAL entry were written but
// before the temp file was renamed: recovery must yield the prior state.
func TestCrashMidWriteRecoversPriorState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	prior := testState{X: []string{"one item"}}
	if _, err := s.Save(ctx, prior, "submit"); err != nil {
		t.Fatalf("save prior: %v", err)
	}

	// Hand-craft the interrupted transaction.
	backupRef, err := s.backups.Create(s.dest, "update")
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	walRef, err := s.wal.Begin("update", backupRef, "partial")
	if err != nil {
		t.Fatalf("begin wal: %v", err)
	}
	tmp := filepath.Join(s.tmpDir, stampName("tmp", time.Now()))
	if err := os.WriteFile(tmp, []byte(`{"x":["torn`), 0o600); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	// Destination is also clobbered, as if the crash tore it.
	if err := os.WriteFile(s.dest, []byte(`{"x":["torn`), 0o600); err != nil {
		t.Fatalf("clobber destination: %v", err)
	}

	raw, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load with recovery: %v", err)
	}
	var got testState
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal recovered state: %v", err)
	}
	if !reflect.DeepEqual(got, prior) {
		t.Fatalf("recovered %+v, want prior %+v", got, prior)
	}

	rec, err := s.wal.read(walRef)
	if err != nil {
		t.Fatalf("read wal entry: %v", err)
	}
	if rec.Status != walRecovered {
		t.Fatalf("wal entry status %s, want %s", rec.Status, walRecovered)
	}
}

func TestLoadRestoresLatestBackupWhenCorrupt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	want := testState{N: 42}
	if _, err := s.Save(ctx, want, "submit"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.Save(ctx, want, "submit"); err != nil {
		t.Fatalf("second save: %v", err)
	}
	if err := os.WriteFile(s.dest, []byte("not json at all"), 0o600); err != nil {
		t.Fatalf("corrupt destination: %v", err)
	}

	raw, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load after corruption: %v", err)
	}
	var got testState
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal restored state: %v", err)
	}
	if got.N != want.N {
		t.Fatalf("restored N=%d, want %d", got.N, want.N)
	}
}

func TestLoadCorruptWithoutBackupFails(t *testing.T) {
	s := openTestStore(t)
	if err := os.WriteFile(s.dest, []byte("garbage"), 0o600); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	_, err := s.Load(context.Background())
	if !errors.Is(err, domain.ErrCorruptState) {
		t.Fatalf("expected ErrCorruptState, got %v", err)
	}
	if !errors.Is(err, domain.ErrBackupUnavailable) {
		t.Fatalf("expected ErrBackupUnavailable, got %v", err)
	}
}

func TestSaveFailureLeavesDestinationUntouched(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "data.json")
	s, err := Open(Options{
		DataFile:       dest,
		RetryBaseDelay: time.Millisecond,
		Logger:         zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	if _, err := s.Save(ctx, testState{N: 1}, "submit"); err != nil {
		t.Fatalf("save: %v", err)
	}
	before, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read destination: %v", err)
	}

	// Remove the temp directory so every write attempt fails before the
	// destination is ever touched.
	if err := os.RemoveAll(s.tmpDir); err != nil {
		t.Fatalf("remove temp dir: %v", err)
	}
	res, err := s.Save(ctx, testState{N: 2}, "update")
	if err == nil {
		t.Fatalf("expected save to fail")
	}
	if res.Success {
		t.Fatalf("failed save reported success")
	}
	if !errors.Is(err, domain.ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}

	after, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("re-read destination: %v", err)
	}
	if string(after) != string(before) {
		t.Fatalf("failed save modified destination: %s", after)
	}
	raw, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var got testState
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.N != 1 {
		t.Fatalf("expected pre-transaction state N=1, got N=%d", got.N)
	}
}

// A failed save must settle its own WAL entry: left pending, the next Load
// would replay its backup over state committed after the failure.
func TestFailedSaveDoesNotRollBackLaterSave(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "data.json")
	s, err := Open(Options{
		DataFile:       dest,
		RetryBaseDelay: time.Millisecond,
		Logger:         zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()

	if _, err := s.Save(ctx, testState{N: 1}, "submit"); err != nil {
		t.Fatalf("first save: %v", err)
	}

	if err := os.RemoveAll(s.tmpDir); err != nil {
		t.Fatalf("remove temp dir: %v", err)
	}
	if _, err := s.Save(ctx, testState{N: 2}, "update"); !errors.Is(err, domain.ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if err := os.MkdirAll(s.tmpDir, 0o700); err != nil {
		t.Fatalf("recreate temp dir: %v", err)
	}

	if _, err := s.Save(ctx, testState{N: 3}, "update"); err != nil {
		t.Fatalf("third save: %v", err)
	}

	pending, err := s.wal.Pending()
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("failed save left %d pending wal entries", len(pending))
	}

	raw, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var got testState
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.N != 3 {
		t.Fatalf("load after committed save returned N=%d, want 3", got.N)
	}
}

func TestSaveContextCancelledDuringRetry(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "data.json")
	s, err := Open(Options{
		DataFile:        dest,
		MaxWriteRetries: 5,
		RetryBaseDelay:  time.Hour,
		Logger:          zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := os.RemoveAll(s.tmpDir); err != nil {
		t.Fatalf("remove temp dir: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Save(ctx, testState{N: 1}, "submit")
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("save did not honor cancellation promptly")
	}
}

func TestMetricsCounts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m, err := s.Metrics()
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.DataFile.Exists {
		t.Fatalf("data file should not exist before first save")
	}

	if _, err := s.Save(ctx, testState{N: 1}, "submit"); err != nil {
		t.Fatalf("save: %v", err)
	}
	m, err = s.Metrics()
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if !m.DataFile.Exists || m.DataFile.SizeBytes == 0 {
		t.Fatalf("expected live data file, got %+v", m.DataFile)
	}
	if m.WAL.Count != 1 {
		t.Fatalf("expected 1 wal entry, got %d", m.WAL.Count)
	}
}

func TestPurgeTempFiles(t *testing.T) {
	s := openTestStore(t)

	stale := filepath.Join(s.tmpDir, stampName("tmp", time.Now()))
	if err := os.WriteFile(stale, []byte("{}"), 0o600); err != nil {
		t.Fatalf("write stale temp: %v", err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("age temp file: %v", err)
	}
	fresh := filepath.Join(s.tmpDir, stampName("tmp", time.Now()))
	if err := os.WriteFile(fresh, []byte("{}"), 0o600); err != nil {
		t.Fatalf("write fresh temp: %v", err)
	}

	s.PurgeTempFiles(time.Hour)

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale temp file survived purge")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh temp file was purged: %v", err)
	}
}
