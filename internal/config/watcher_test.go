package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/purescribe/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
transcription:
  provider:
    name: whisper-server
    base_url: http://localhost:8081
translation:
  providers:
    - name: openai
      model: gpt-4o-mini
`

const watcherUpdatedYAML = `
server:
  log_level: debug
transcription:
  provider:
    name: whisper-server
    base_url: http://localhost:8081
translation:
  providers:
    - name: openai
      model: gpt-4o
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

// writeFile writes content and moves the modification time forward so the
// watcher sees a change even on coarse-grained filesystems.
func writeFile(t *testing.T, path, content string, age time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
	mtime := time.Now().Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %q: %v", path, err)
	}
}

type changeRecorder struct {
	mu    sync.Mutex
	diffs []config.ConfigDiff
	ch    chan struct{}
}

func newRecorder() *changeRecorder {
	return &changeRecorder{ch: make(chan struct{}, 8)}
}

func (r *changeRecorder) record(_, _ *config.Config, d config.ConfigDiff) {
	r.mu.Lock()
	r.diffs = append(r.diffs, d)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *changeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.diffs)
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML, time.Hour)

	w, err := config.NewWatcher(path, nil, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if cfg := w.Current(); cfg == nil || cfg.Server.LogLevel != config.LogInfo {
		t.Fatalf("Current() = %+v", cfg)
	}
}

func TestWatcher_InitialLoadInvalid(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherInvalidYAML, time.Hour)

	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for invalid initial config")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML, time.Hour)

	rec := newRecorder()
	w, err := config.NewWatcher(path, rec.record, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeFile(t, path, watcherUpdatedYAML, 0)

	select {
	case <-rec.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change callback")
	}

	rec.mu.Lock()
	d := rec.diffs[0]
	rec.mu.Unlock()
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %+v", d)
	}
	if !d.TranslationChanged {
		t.Error("TranslationChanged = false, want true")
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("Current log level = %q, want debug", w.Current().Server.LogLevel)
	}
}

func TestWatcher_InvalidEditKeepsCurrent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML, time.Hour)

	rec := newRecorder()
	w, err := config.NewWatcher(path, rec.record, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeFile(t, path, watcherInvalidYAML, 0)
	time.Sleep(150 * time.Millisecond)

	if rec.count() != 0 {
		t.Errorf("callback called %d times for invalid config", rec.count())
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Errorf("Current log level = %q, want info", w.Current().Server.LogLevel)
	}
}

func TestWatcher_TouchWithoutEdit(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML, time.Hour)

	rec := newRecorder()
	w, err := config.NewWatcher(path, rec.record, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeFile(t, path, watcherValidYAML, 0)
	time.Sleep(150 * time.Millisecond)

	if rec.count() != 0 {
		t.Errorf("callback called %d times for identical content", rec.count())
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML, time.Hour)

	w, err := config.NewWatcher(path, nil, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.Stop()
	w.Stop()
}
