package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bft-labs/relayvault/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Default tuning values, overridable via Options.
const (
	DefaultMaxWriteRetries    = 3
	DefaultRetryBaseDelay     = 100 * time.Millisecond
	DefaultMaxBackupsRetained = 10
	DefaultTempMaxAge         = time.Hour
	DefaultWALRetained        = 50
)

// EmptyState is what Load returns on a true first run, before any Save.
var EmptyState = json.RawMessage("{}")

// Options configures a Store. DataFile is required; zero-valued tuning fields
// take the package defaults.
type Options struct {
	// DataFile is the destination file the store exclusively owns. The backup,
	// wal and tmp directories are created alongside it.
	DataFile string

	MaxWriteRetries    int
	RetryBaseDelay     time.Duration
	MaxBackupsRetained int
	TempMaxAge         time.Duration
	WALRetained        int

	Logger zerolog.Logger
}

func (o *Options) validate() error {
	if o.DataFile == "" {
		return fmt.Errorf("%w: data file is required", domain.ErrInvalidConfig)
	}
	if o.MaxWriteRetries < 0 {
		return fmt.Errorf("%w: max write retries must be >= 0", domain.ErrInvalidConfig)
	}
	if o.RetryBaseDelay < 0 {
		return fmt.Errorf("%w: retry base delay must be >= 0", domain.ErrInvalidConfig)
	}
	if o.MaxBackupsRetained < 0 {
		return fmt.Errorf("%w: max backups retained must be >= 0", domain.ErrInvalidConfig)
	}
	if o.MaxWriteRetries == 0 {
		o.MaxWriteRetries = DefaultMaxWriteRetries
	}
	if o.RetryBaseDelay == 0 {
		o.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if o.MaxBackupsRetained == 0 {
		o.MaxBackupsRetained = DefaultMaxBackupsRetained
	}
	if o.TempMaxAge == 0 {
		o.TempMaxAge = DefaultTempMaxAge
	}
	if o.WALRetained == 0 {
		o.WALRetained = DefaultWALRetained
	}
	return nil
}

// TxResult reports the outcome of one Save. Success=true is the only
// condition under which the caller may assume durability.
type TxResult struct {
	Success       bool
	TransactionID string
	Duration      time.Duration
	BackupRef     string
	WALRef        string
}

// Metrics is a read-only view of the store's on-disk footprint.
type Metrics struct {
	Backups struct {
		Count       int `json:"count"`
		MaxRetained int `json:"max_retained"`
	} `json:"backups"`
	WAL struct {
		Count int `json:"count"`
	} `json:"wal"`
	Temp struct {
		Count int `json:"count"`
	} `json:"temp"`
	DataFile struct {
		Exists    bool  `json:"exists"`
		SizeBytes int64 `json:"size_bytes"`
	} `json:"data_file"`
}

// Store is a write-ahead-logged, backup-protected persistence engine for a
// single JSON state blob. It exclusively owns the destination file and the
// backups/, wal/ and tmp/ directories next to it.
//
// Saves are serialized: concurrent callers queue on an internal mutex and are
// served in arrival order, never interleaved at the file-system level.
type Store struct {
	mu sync.Mutex

	dest    string
	tmpDir  string
	backups *backupManager
	wal     *walWriter
	writer  *atomicWriter

	tempMaxAge  time.Duration
	walRetained int
	log         zerolog.Logger
}

// Open validates opts, creates the owned directories and returns a Store.
// It does not read the destination; call Load for that.
func Open(opts Options) (*Store, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	base := filepath.Dir(opts.DataFile)
	backupDir := filepath.Join(base, "backups")
	walDir := filepath.Join(base, "wal")
	tmpDir := filepath.Join(base, "tmp")
	for _, d := range []string{base, backupDir, walDir, tmpDir} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return nil, fmt.Errorf("create %s: %w", d, err)
		}
	}
	log := opts.Logger.With().Str("component", "store").Logger()
	return &Store{
		dest:        opts.DataFile,
		tmpDir:      tmpDir,
		backups:     newBackupManager(backupDir, opts.MaxBackupsRetained, log),
		wal:         newWALWriter(walDir, log),
		writer:      newAtomicWriter(opts.DataFile, tmpDir, opts.MaxWriteRetries, opts.RetryBaseDelay, log),
		tempMaxAge:  opts.TempMaxAge,
		walRetained: opts.WALRetained,
		log:         log,
	}, nil
}

// Save durably persists state under the given operation label.
//
// Order of operations: backup the current destination (if any), record a
// pending WAL entry carrying the backup reference, atomically replace the
// destination, corroborate by re-reading it, then mark the WAL entry
// completed. On any failure the destination still holds its pre-transaction
// content and the returned result has Success=false alongside the error.
func (s *Store) Save(ctx context.Context, state any, label string) (TxResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	res := TxResult{TransactionID: uuid.NewString()}
	fail := func(err error) (TxResult, error) {
		res.Duration = time.Since(start)
		s.log.Error().Err(err).Str("tx", res.TransactionID).Str("op", label).Msg("save failed")
		return res, err
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fail(fmt.Errorf("serialize state: %w", err))
	}

	if _, err := os.Stat(s.dest); err == nil {
		ref, err := s.backups.Create(s.dest, label)
		if err != nil {
			return fail(fmt.Errorf("backup before write: %w", err))
		}
		res.BackupRef = ref
	}

	walRef, err := s.wal.Begin(label, res.BackupRef, fmt.Sprintf("%d bytes", len(data)))
	if err != nil {
		return fail(err)
	}
	res.WALRef = walRef

	if err := s.writer.Write(ctx, data); err != nil {
		s.settleFailedLocked(res, false)
		return fail(err)
	}

	// Second, corroborating check against the now-live destination.
	live, err := os.ReadFile(s.dest)
	if err != nil {
		s.settleFailedLocked(res, true)
		return fail(fmt.Errorf("re-read destination: %w", err))
	}
	if !bytes.Equal(live, data) {
		s.settleFailedLocked(res, true)
		return fail(fmt.Errorf("%w: destination after rename", domain.ErrVerification))
	}

	if err := s.wal.Complete(walRef); err != nil {
		s.settleFailedLocked(res, true)
		return fail(err)
	}

	s.purgeTempLocked(time.Now().Add(-s.tempMaxAge))
	if err := s.wal.Prune(s.walRetained); err != nil {
		s.log.Warn().Err(err).Msg("wal prune failed")
	}

	res.Success = true
	res.Duration = time.Since(start)
	s.log.Info().
		Str("tx", res.TransactionID).
		Str("op", label).
		Int("bytes", len(data)).
		Dur("duration", res.Duration).
		Msg("state saved")
	return res, nil
}

// settleFailedLocked rolls a failed transaction back in-process. When restore
// is set the write may have reached the destination, so the pre-transaction
// content is put back first (the backup, or no file at all for a first write).
// The pending WAL entry is then marked recovered; leaving it pending would
// make a later Load replay it over newer committed state.
func (s *Store) settleFailedLocked(res TxResult, restore bool) {
	if restore {
		if res.BackupRef != "" {
			if !s.backups.Exists(res.BackupRef) {
				s.log.Error().Str("backup", res.BackupRef).Msg("rollback backup missing, leaving transaction pending")
				return
			}
			if err := s.backups.Restore(res.BackupRef, s.dest); err != nil {
				// Load will replay the still-pending entry instead.
				s.log.Error().Err(err).Str("backup", res.BackupRef).Msg("rollback restore failed, leaving transaction pending")
				return
			}
		} else if err := os.Remove(s.dest); err != nil && !os.IsNotExist(err) {
			s.log.Error().Err(err).Msg("rollback of first write failed, leaving transaction pending")
			return
		}
	}
	if err := s.wal.MarkRecovered(res.WALRef); err != nil {
		s.log.Warn().Err(err).Str("wal", res.WALRef).Msg("could not settle failed transaction")
	}
}

// Load returns the current durable state, replaying incomplete WAL entries
// first. For every pending entry the referenced backup (if any) is restored
// over the destination and the entry marked recovered. An unparsable
// destination triggers one restore-from-latest-backup retry; if no backup
// exists the corruption is surfaced, never silently defaulted.
func (s *Store) Load(ctx context.Context) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, err := s.wal.Pending()
	if err != nil {
		return nil, fmt.Errorf("scan wal: %w", err)
	}
	for _, e := range pending {
		if e.Record.Backup != "" && s.backups.Exists(e.Record.Backup) {
			if err := s.backups.Restore(e.Record.Backup, s.dest); err != nil {
				return nil, fmt.Errorf("restore %s for wal %s: %w", e.Record.Backup, e.Name, err)
			}
			s.log.Info().Str("wal", e.Name).Str("backup", e.Record.Backup).Msg("replayed incomplete transaction")
		} else if e.Record.Backup == "" {
			// First-ever write crashed before rename: nothing to restore, the
			// (possibly absent) destination already is the prior state.
			s.log.Info().Str("wal", e.Name).Msg("incomplete first write, no backup to restore")
		} else {
			s.log.Warn().Str("wal", e.Name).Str("backup", e.Record.Backup).Msg("referenced backup missing")
		}
		if err := s.wal.MarkRecovered(e.Name); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(s.dest)
	if err != nil {
		if os.IsNotExist(err) {
			return EmptyState, nil
		}
		return nil, fmt.Errorf("read destination: %w", err)
	}
	if json.Valid(data) {
		return json.RawMessage(data), nil
	}

	// Corrupt destination: restore the latest backup and retry once.
	latest, err := s.backups.Latest()
	if err != nil {
		return nil, err
	}
	if latest == "" {
		return nil, fmt.Errorf("%w and %w", domain.ErrCorruptState, domain.ErrBackupUnavailable)
	}
	s.log.Warn().Str("backup", latest).Msg("destination corrupt, restoring latest backup")
	if err := s.backups.Restore(latest, s.dest); err != nil {
		return nil, fmt.Errorf("restore latest backup: %w", err)
	}
	data, err = os.ReadFile(s.dest)
	if err != nil {
		return nil, fmt.Errorf("re-read destination: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: backup %s also unparsable", domain.ErrCorruptState, latest)
	}
	return json.RawMessage(data), nil
}

// Metrics reports current on-disk counts. Read-only, no side effects.
func (s *Store) Metrics() (Metrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var m Metrics
	var err error
	if m.Backups.Count, err = s.backups.Count(); err != nil {
		return m, err
	}
	m.Backups.MaxRetained = s.backups.max
	if m.WAL.Count, err = s.wal.Count(); err != nil {
		return m, err
	}
	ents, err := os.ReadDir(s.tmpDir)
	if err != nil && !os.IsNotExist(err) {
		return m, err
	}
	for _, e := range ents {
		if strings.HasPrefix(e.Name(), "tmp-") {
			m.Temp.Count++
		}
	}
	if info, err := os.Stat(s.dest); err == nil {
		m.DataFile.Exists = true
		m.DataFile.SizeBytes = info.Size()
	}
	return m, nil
}

// PurgeTempFiles removes temp files older than olderThan, regardless of
// whether the writes that created them succeeded.
func (s *Store) PurgeTempFiles(olderThan time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeTempLocked(time.Now().Add(-olderThan))
}

func (s *Store) purgeTempLocked(cutoff time.Time) {
	ents, err := os.ReadDir(s.tmpDir)
	if err != nil {
		return
	}
	for _, e := range ents {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "tmp-") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.tmpDir, e.Name())); err == nil {
			s.log.Debug().Str("temp", e.Name()).Msg("purged stale temp file")
		}
	}
}

// Snapshots lists retained backups, newest first.
func (s *Store) Snapshots() ([]Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backups.List()
}
