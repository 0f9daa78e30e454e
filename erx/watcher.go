package erx

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig controls catalog hot reload.
type WatchConfig struct {
	// Enabled turns the watcher on.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// DebounceDelay batches rapid file changes into one reload
	// (duration string, default "500ms").
	DebounceDelay string `json:"debounce_delay,omitempty" yaml:"debounce_delay,omitempty"`
}

// DefaultWatchConfig returns the watcher defaults: disabled, 500ms
// debounce.
func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		Enabled:       false,
		DebounceDelay: "500ms",
	}
}

// GetDebounceDelay parses the debounce delay with a 500ms default.
func (c WatchConfig) GetDebounceDelay() time.Duration {
	if c.DebounceDelay == "" {
		return 500 * time.Millisecond
	}
	d, err := time.ParseDuration(c.DebounceDelay)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

// CatalogWatcher reloads the catalog directory when its YAML files
// change, swapping the result into a CatalogStore. Changes are
// debounced so an editor save touching several files triggers one
// reload.
type CatalogWatcher struct {
	config  WatchConfig
	dir     string
	store   *CatalogStore
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	// reloads receives stats after each successful reload. Buffered;
	// slow consumers drop notifications, not reloads.
	reloads chan CatalogStats

	mu      sync.Mutex
	pending bool
	started bool

	reloadCount  atomic.Int64
	droppedCount atomic.Int64
}

// NewCatalogWatcher creates a watcher over the catalog directory.
func NewCatalogWatcher(config WatchConfig, dir string, store *CatalogStore, logger *slog.Logger) (*CatalogWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		return nil, fmt.Errorf("catalog watcher requires a store")
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat catalog dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("catalog path is not a directory: %s", dir)
	}

	return &CatalogWatcher{
		config:  config,
		dir:     dir,
		store:   store,
		logger:  logger,
		reloads: make(chan CatalogStats, 16),
	}, nil
}

// Start begins watching. It returns once watches are registered; the
// reload loop runs until the context is cancelled or Stop is called.
func (w *CatalogWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return fmt.Errorf("catalog watcher already started")
	}
	w.started = true
	w.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w.watcher = watcher

	if err := w.addWatches(w.dir); err != nil {
		watcher.Close()
		return err
	}

	w.logger.Info("catalog watcher started",
		"dir", w.dir,
		"debounce", w.config.GetDebounceDelay())

	go w.processEvents(ctx)
	return nil
}

// Stop closes the underlying watcher, ending the reload loop.
func (w *CatalogWatcher) Stop() error {
	if w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}

// Reloads returns the channel of post-reload catalog stats.
func (w *CatalogWatcher) Reloads() <-chan CatalogStats {
	return w.reloads
}

// ReloadCount returns how many reloads have succeeded.
func (w *CatalogWatcher) ReloadCount() int64 {
	return w.reloadCount.Load()
}

// DroppedNotifications returns how many stats messages were dropped
// because the reloads channel was full.
func (w *CatalogWatcher) DroppedNotifications() int64 {
	return w.droppedCount.Load()
}

// addWatches registers the directory and all subdirectories.
func (w *CatalogWatcher) addWatches(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if name := info.Name(); strings.HasPrefix(name, ".") && path != root {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// processEvents drains fsnotify events, marking a pending reload that
// the debounce ticker flushes.
func (w *CatalogWatcher) processEvents(ctx context.Context) {
	ticker := time.NewTicker(w.config.GetDebounceDelay())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("catalog watcher error", "error", err)

		case <-ticker.C:
			w.flushPending()
		}
	}
}

// handleEvent marks YAML changes pending and registers watches on new
// subdirectories.
func (w *CatalogWatcher) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addWatches(event.Name); err != nil {
				w.logger.Warn("watch new catalog dir", "dir", event.Name, "error", err)
			}
			return
		}
	}

	if !isCatalogFile(event.Name) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	w.mu.Lock()
	w.pending = true
	w.mu.Unlock()
}

// flushPending reloads the catalog if any change is pending. A failed
// reload keeps the previous catalog active.
func (w *CatalogWatcher) flushPending() {
	w.mu.Lock()
	pending := w.pending
	w.pending = false
	w.mu.Unlock()

	if !pending {
		return
	}

	catalog, err := LoadCatalogDir(w.dir)
	if err != nil {
		w.logger.Error("catalog reload failed, keeping previous catalog",
			"dir", w.dir,
			"error", err)
		return
	}

	w.store.Replace(catalog)
	w.reloadCount.Add(1)
	stats := w.store.Stats()
	w.logger.Info("catalog reloaded",
		"patients", stats.Patients,
		"medications", stats.Medications,
		"pharmacies", stats.Pharmacies)

	select {
	case w.reloads <- stats:
	default:
		w.droppedCount.Add(1)
	}
}

// isCatalogFile reports whether a path looks like catalog YAML.
func isCatalogFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
