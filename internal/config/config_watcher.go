package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher monitors the TOML config file via fsnotify and pushes reloaded
// tunables to a callback. Only file-sourced values change at runtime; flags
// and environment keep their precedence through the changed map captured at
// startup.
type Watcher struct {
	path    string
	changed map[string]bool
	onApply func(Config)
	base    Config
	log     zerolog.Logger

	mu       sync.Mutex
	debounce *time.Timer
}

// NewWatcher builds a watcher for path. base is the config as resolved at
// startup; onApply receives the merged result after every reload.
func NewWatcher(path string, base Config, changed map[string]bool, onApply func(Config), log zerolog.Logger) *Watcher {
	return &Watcher{
		path:    path,
		changed: changed,
		onApply: onApply,
		base:    base,
		log:     log.With().Str("component", "config-watcher").Logger(),
	}
}

// Run watches the config file's directory until the context is cancelled.
// Watching the directory rather than the file survives editors that replace
// the file on save.
func (w *Watcher) Run(ctx context.Context) {
	if w.path == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Error().Err(err).Msg("failed to create watcher")
		return
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		w.log.Error().Err(err).Str("dir", filepath.Dir(w.path)).Msg("failed to watch config dir")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.debounceReload(100 * time.Millisecond)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("watch error")
		}
	}
}

func (w *Watcher) debounceReload(delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(delay, w.reload)
}

func (w *Watcher) reload() {
	fc, err := LoadFileConfig(w.path)
	if err != nil {
		w.log.Warn().Err(err).Msg("reload skipped, unreadable config file")
		return
	}
	cfg := w.base
	if err := ApplyFileConfig(&cfg, fc, w.changed); err != nil {
		w.log.Warn().Err(err).Msg("reload skipped, invalid config file")
		return
	}
	if err := cfg.Validate(); err != nil {
		w.log.Warn().Err(err).Msg("reload skipped, config failed validation")
		return
	}
	w.log.Info().Msg("configuration reloaded")
	w.onApply(cfg)
}
