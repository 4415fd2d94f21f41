package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("data_dir = \"/srv/a\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	base := DefaultConfig()
	base.DataDir = "/srv/a"

	applied := make(chan Config, 1)
	w := NewWatcher(path, base, map[string]bool{}, func(c Config) {
		select {
		case applied <- c:
		default:
		}
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Give the watcher a moment to register before the write lands.
	time.Sleep(100 * time.Millisecond)

	update := "data_dir = \"/srv/a\"\nmessage_ttl = \"45s\"\n"
	if err := os.WriteFile(path, []byte(update), 0o644); err != nil {
		t.Fatalf("update config: %v", err)
	}

	select {
	case cfg := <-applied:
		if cfg.MessageTTL != 45*time.Second {
			t.Fatalf("reloaded ttl %v, want 45s", cfg.MessageTTL)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("reload callback never fired")
	}
}

func TestWatcherSkipsInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("data_dir = \"/srv/a\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	base := DefaultConfig()
	base.DataDir = "/srv/a"

	applied := make(chan Config, 1)
	w := NewWatcher(path, base, map[string]bool{}, func(c Config) {
		applied <- c
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	time.Sleep(100 * time.Millisecond)

	// Multiplier below 1 fails validation; the callback must not fire.
	bad := "data_dir = \"/srv/a\"\nbackoff_multiplier = 0.5\n"
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatalf("update config: %v", err)
	}

	select {
	case cfg := <-applied:
		t.Fatalf("invalid config applied: %+v", cfg)
	case <-time.After(500 * time.Millisecond):
	}
}
