package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type walStatus string

const (
	walPending   walStatus = "pending"
	walCompleted walStatus = "completed"
	walRecovered walStatus = "recovered"
)

// walRecord is the on-disk shape of a single WAL entry. Backup carries the
// exact backup file name the entry refers to; recovery restores that file and
// never guesses by name prefix.
type walRecord struct {
	Timestamp   time.Time  `json:"timestamp"`
	Operation   string     `json:"operation"`
	Data        string     `json:"data"`
	Status      walStatus  `json:"status"`
	Backup      string     `json:"backup,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// walEntry pairs a record with the file it lives in.
type walEntry struct {
	Name   string
	Record walRecord
}

// walWriter owns the WAL directory and the single-transition rule: a pending
// entry becomes completed (normal path) or recovered (crash path), never both.
type walWriter struct {
	dir string
	log zerolog.Logger
}

func newWALWriter(dir string, log zerolog.Logger) *walWriter {
	return &walWriter{dir: dir, log: log}
}

// Begin records transaction intent as a pending entry and returns its file name.
func (w *walWriter) Begin(operation, backupRef, summary string) (string, error) {
	now := time.Now()
	rec := walRecord{
		Timestamp: now,
		Operation: operation,
		Data:      summary,
		Status:    walPending,
		Backup:    backupRef,
	}
	name := stampName("wal", now)
	if err := w.write(name, rec); err != nil {
		return "", fmt.Errorf("wal begin: %w", err)
	}
	return name, nil
}

// Complete transitions the named entry from pending to completed.
func (w *walWriter) Complete(name string) error {
	return w.transition(name, walCompleted)
}

// MarkRecovered transitions the named entry from pending to recovered.
func (w *walWriter) MarkRecovered(name string) error {
	return w.transition(name, walRecovered)
}

func (w *walWriter) transition(name string, to walStatus) error {
	rec, err := w.read(name)
	if err != nil {
		return err
	}
	if rec.Status != walPending {
		return fmt.Errorf("wal entry %s already %s", name, rec.Status)
	}
	now := time.Now()
	rec.Status = to
	rec.CompletedAt = &now
	return w.write(name, rec)
}

// Pending returns pending entries sorted oldest first.
func (w *walWriter) Pending() ([]walEntry, error) {
	entries, err := w.scan()
	if err != nil {
		return nil, err
	}
	var pending []walEntry
	for _, e := range entries {
		if e.Record.Status == walPending {
			pending = append(pending, e)
		}
	}
	return pending, nil
}

// Count returns the number of WAL files on disk.
func (w *walWriter) Count() (int, error) {
	entries, err := w.scan()
	return len(entries), err
}

// Prune removes settled (non-pending) WAL files beyond keep, oldest first.
// Pending entries are never pruned.
func (w *walWriter) Prune(keep int) error {
	if keep < 0 {
		return nil
	}
	entries, err := w.scan()
	if err != nil {
		return err
	}
	var settled []walEntry
	for _, e := range entries {
		if e.Record.Status != walPending {
			settled = append(settled, e)
		}
	}
	for i := 0; i < len(settled)-keep; i++ {
		path := filepath.Join(w.dir, settled[i].Name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("prune wal %s: %w", settled[i].Name, err)
		}
	}
	return nil
}

// scan returns all parseable WAL entries sorted oldest first. Unparseable
// files are skipped with a warning rather than failing the scan.
func (w *walWriter) scan() ([]walEntry, error) {
	ents, err := os.ReadDir(w.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entries []walEntry
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "wal-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		rec, err := w.read(name)
		if err != nil {
			w.log.Warn().Err(err).Str("wal", name).Msg("skipping unreadable wal entry")
			continue
		}
		entries = append(entries, walEntry{Name: name, Record: rec})
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Record.Timestamp.Equal(entries[j].Record.Timestamp) {
			return entries[i].Record.Timestamp.Before(entries[j].Record.Timestamp)
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

func (w *walWriter) read(name string) (walRecord, error) {
	b, err := os.ReadFile(filepath.Join(w.dir, name))
	if err != nil {
		return walRecord{}, err
	}
	var rec walRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return walRecord{}, fmt.Errorf("parse wal %s: %w", name, err)
	}
	return rec, nil
}

func (w *walWriter) write(name string, rec walRecord) error {
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(w.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
