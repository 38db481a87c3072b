package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadQuiet is how long the watcher waits after the last filesystem
// event before re-reading the file. Editors and atomic-rename writers
// emit a burst of events for one logical save.
const reloadQuiet = 500 * time.Millisecond

// Manager owns the live configuration and its hot reload. Readers always
// see a complete config via an atomic pointer; a reload that fails to
// parse or validate leaves the current config in place. Rewrites that do
// not change the file's content are detected by digest and skipped, so
// subscribers only hear about real changes.
type Manager struct {
	path    string
	current atomic.Pointer[Config]
	digest  atomic.Pointer[[sha256.Size]byte]

	subscribers []func(*Config)
	watcher     *fsnotify.Watcher
	logger      *slog.Logger
}

// NewManager loads the file once and returns a manager for it.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	m := &Manager{path: path, logger: logger}
	if _, err := m.refresh(); err != nil {
		return nil, err
	}
	return m, nil
}

// Get returns the current configuration. Safe for concurrent use.
func (m *Manager) Get() *Config {
	return m.current.Load()
}

// OnChange registers a callback invoked after each reload that actually
// changed the configuration. Register all callbacks before Watch.
func (m *Manager) OnChange(fn func(*Config)) {
	m.subscribers = append(m.subscribers, fn)
}

// Watch starts watching the configuration file. Event bursts are
// coalesced into one reload after a short quiet period.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(m.path); err != nil {
		_ = watcher.Close()
		return err
	}
	m.watcher = watcher

	go m.watchLoop(ctx)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context) {
	defer m.watcher.Close()

	quiet := time.NewTimer(reloadQuiet)
	if !quiet.Stop() {
		<-quiet.C
	}
	arm := func() {
		if !quiet.Stop() {
			select {
			case <-quiet.C:
			default:
			}
		}
		quiet.Reset(reloadQuiet)
	}

	for {
		select {
		case <-ctx.Done():
			quiet.Stop()
			return

		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			switch {
			case ev.Op&(fsnotify.Write|fsnotify.Create) != 0:
				arm()
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// Atomic-rename writers replace the inode; the watch
				// must be re-armed on the new file.
				if err := m.watcher.Add(m.path); err != nil {
					m.logger.Warn("config watch lost after rename", "error", err)
				}
				arm()
			}

		case <-quiet.C:
			changed, err := m.refresh()
			switch {
			case err != nil:
				m.logger.Error("config reload failed, keeping current", "error", err)
			case changed:
				m.logger.Info("configuration reloaded")
				cfg := m.current.Load()
				for _, fn := range m.subscribers {
					fn(cfg)
				}
			default:
				m.logger.Debug("config file rewritten without changes")
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("config watcher error", "error", err)
		}
	}
}

// refresh re-reads the file and swaps the config in if its content
// changed. It reports whether a swap happened.
func (m *Manager) refresh() (bool, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return false, fmt.Errorf("read config file: %w", err)
	}

	sum := sha256.Sum256(data)
	if prev := m.digest.Load(); prev != nil && *prev == sum {
		return false, nil
	}

	cfg, err := parse(data)
	if err != nil {
		return false, err
	}

	m.current.Store(cfg)
	m.digest.Store(&sum)
	return true, nil
}

// Close stops the watcher.
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}
