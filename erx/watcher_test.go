package erx

import (
	"context"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestWatchConfigGetDebounceDelay(t *testing.T) {
	tests := []struct {
		name   string
		delay  string
		expect time.Duration
	}{
		{
			name:   "valid duration",
			delay:  "100ms",
			expect: 100 * time.Millisecond,
		},
		{
			name:   "empty string uses default",
			delay:  "",
			expect: 500 * time.Millisecond,
		},
		{
			name:   "invalid duration uses default",
			delay:  "invalid",
			expect: 500 * time.Millisecond,
		},
		{
			name:   "negative duration uses default",
			delay:  "-1s",
			expect: 500 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := WatchConfig{DebounceDelay: tt.delay}
			if got := config.GetDebounceDelay(); got != tt.expect {
				t.Errorf("GetDebounceDelay() = %v, want %v", got, tt.expect)
			}
		})
	}
}

func TestDefaultWatchConfig(t *testing.T) {
	config := DefaultWatchConfig()
	if config.Enabled {
		t.Error("default config should have watching disabled")
	}
	if config.DebounceDelay != "500ms" {
		t.Errorf("unexpected default debounce delay: %s", config.DebounceDelay)
	}
}

func TestCatalogWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFile(t, dir, "patients.yaml", `
patients:
  patient-a:
    plan_id: plan-basic
    medications:
      - name: lisinopril
        refills_remaining: 3
`)

	initial, err := LoadCatalogDir(dir)
	if err != nil {
		t.Fatalf("initial load error = %v", err)
	}
	store := NewCatalogStore(initial)

	watcher, err := NewCatalogWatcher(WatchConfig{Enabled: true, DebounceDelay: "50ms"}, dir, store, nil)
	if err != nil {
		t.Fatalf("NewCatalogWatcher() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := watcher.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer watcher.Stop()

	// Give watcher time to set up
	time.Sleep(100 * time.Millisecond)

	writeCatalogFile(t, dir, "patients.yaml", `
patients:
  patient-a:
    plan_id: plan-basic
    medications:
      - name: lisinopril
        refills_remaining: 3
      - name: amlodipine
        refills_remaining: 2
`)

	select {
	case stats := <-watcher.Reloads():
		if stats.Medications != 2 {
			t.Errorf("reloaded stats = %+v, want 2 medications", stats)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for catalog reload")
	}

	if store.Stats().Medications != 2 {
		t.Errorf("store not updated after reload: %+v", store.Stats())
	}
	if watcher.ReloadCount() != 1 {
		t.Errorf("reload count = %d, want 1", watcher.ReloadCount())
	}
}

func TestCatalogWatcherKeepsCatalogOnBadReload(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFile(t, dir, "patients.yaml", `
patients:
  patient-a:
    plan_id: plan-basic
    medications:
      - name: lisinopril
        refills_remaining: 3
`)

	initial, err := LoadCatalogDir(dir)
	if err != nil {
		t.Fatalf("initial load error = %v", err)
	}
	store := NewCatalogStore(initial)

	watcher, err := NewCatalogWatcher(DefaultWatchConfig(), dir, store, nil)
	if err != nil {
		t.Fatalf("NewCatalogWatcher() error = %v", err)
	}

	// Break the file, then drive the reload path directly so the test
	// does not depend on fsnotify timing.
	writeCatalogFile(t, dir, "patients.yaml", "patients: [broken")
	watcher.handleEvent(fsnotify.Event{Name: dir + "/patients.yaml", Op: fsnotify.Write})
	watcher.flushPending()

	if store.Stats().Medications != 1 {
		t.Errorf("store should keep previous catalog after failed reload: %+v", store.Stats())
	}
	if watcher.ReloadCount() != 0 {
		t.Errorf("failed reload should not count, got %d", watcher.ReloadCount())
	}
}

func TestCatalogWatcherIgnoresNonYAML(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFile(t, dir, "patients.yaml", `
patients:
  patient-a:
    plan_id: plan-basic
    medications:
      - name: lisinopril
        refills_remaining: 3
`)

	initial, err := LoadCatalogDir(dir)
	if err != nil {
		t.Fatalf("initial load error = %v", err)
	}
	watcher, err := NewCatalogWatcher(DefaultWatchConfig(), dir, NewCatalogStore(initial), nil)
	if err != nil {
		t.Fatalf("NewCatalogWatcher() error = %v", err)
	}

	watcher.handleEvent(fsnotify.Event{Name: dir + "/notes.txt", Op: fsnotify.Write})
	watcher.flushPending()

	if watcher.ReloadCount() != 0 {
		t.Errorf("non-YAML change should not reload, got %d reloads", watcher.ReloadCount())
	}
}

func TestNewCatalogWatcherValidation(t *testing.T) {
	if _, err := NewCatalogWatcher(DefaultWatchConfig(), t.TempDir(), nil, nil); err == nil {
		t.Error("expected error for nil store")
	}
	if _, err := NewCatalogWatcher(DefaultWatchConfig(), "/does/not/exist", NewCatalogStore(Catalog{}), nil); err == nil {
		t.Error("expected error for missing directory")
	}
}
