package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Snapshot describes one retained backup file.
type Snapshot struct {
	Name      string
	CreatedAt time.Time
	Operation string
	SizeBytes int64
}

// backupManager owns the backup directory: it creates labeled snapshots of the
// destination file and evicts the oldest ones beyond the retention cap.
type backupManager struct {
	dir string
	max int
	log zerolog.Logger
}

func newBackupManager(dir string, max int, log zerolog.Logger) *backupManager {
	return &backupManager{dir: dir, max: max, log: log}
}

// Create copies srcPath into the backup directory under a
// `<label>-<millis>-<rand>.json` name and prunes beyond the retention cap.
// Returns the backup file name.
func (m *backupManager) Create(srcPath, label string) (string, error) {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return "", fmt.Errorf("read source for backup: %w", err)
	}
	name := stampName(sanitizeLabel(label), time.Now())
	if err := os.WriteFile(filepath.Join(m.dir, name), data, 0o600); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	if err := m.prune(); err != nil {
		m.log.Warn().Err(err).Msg("backup prune failed")
	}
	return name, nil
}

// Restore copies the named backup over destPath using a temp-then-rename so a
// crash mid-restore never leaves a torn destination.
func (m *backupManager) Restore(name, destPath string) error {
	data, err := os.ReadFile(filepath.Join(m.dir, name))
	if err != nil {
		return fmt.Errorf("read backup %s: %w", name, err)
	}
	tmp := destPath + ".restore"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("stage restore: %w", err)
	}
	return os.Rename(tmp, destPath)
}

// Exists reports whether the named backup is present.
func (m *backupManager) Exists(name string) bool {
	if name == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(m.dir, name))
	return err == nil
}

// Latest returns the most recent backup name, or "" when none exist.
func (m *backupManager) Latest() (string, error) {
	snaps, err := m.List()
	if err != nil || len(snaps) == 0 {
		return "", err
	}
	return snaps[0].Name, nil
}

// List returns retained snapshots sorted newest first.
func (m *backupManager) List() ([]Snapshot, error) {
	ents, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var snaps []Snapshot
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		s := Snapshot{Name: e.Name(), SizeBytes: info.Size(), CreatedAt: info.ModTime()}
		if ms, ok := stampMillis(e.Name()); ok {
			s.CreatedAt = time.UnixMilli(ms)
		}
		if i := strings.Index(e.Name(), "-"); i > 0 {
			s.Operation = e.Name()[:i]
		}
		snaps = append(snaps, s)
	}
	sort.Slice(snaps, func(i, j int) bool {
		if !snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
		}
		return snaps[i].Name > snaps[j].Name
	})
	return snaps, nil
}

// Count returns the number of retained backups.
func (m *backupManager) Count() (int, error) {
	snaps, err := m.List()
	return len(snaps), err
}

// prune removes the oldest backups until the retained count is within the cap.
func (m *backupManager) prune() error {
	if m.max <= 0 {
		return nil
	}
	snaps, err := m.List()
	if err != nil {
		return err
	}
	for i := m.max; i < len(snaps); i++ {
		path := filepath.Join(m.dir, snaps[i].Name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("evict backup %s: %w", snaps[i].Name, err)
		}
		m.log.Debug().Str("backup", snaps[i].Name).Msg("evicted oldest backup")
	}
	return nil
}
