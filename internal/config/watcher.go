package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

const defaultPollInterval = 5 * time.Second

// ChangeFunc is called with the previous config, the newly loaded one, and
// the difference between them.
type ChangeFunc func(old, new *Config, d ConfigDiff)

// fileState is what the watcher knows about one version of the file.
type fileState struct {
	cfg   *Config
	sum   [sha256.Size]byte
	mtime time.Time
}

// Watcher polls a config file and reports validated changes to a callback.
//
// The modification time decides whether the file is read at all; a SHA-256
// of the content decides whether it really changed. Touching the file is
// therefore not a reload.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc

	mu    sync.Mutex
	state fileState
	// seen is the last mtime examined, valid or not.
	seen time.Time

	quit     chan struct{}
	quitOnce sync.Once
	exited   chan struct{}
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path and starts polling it in the
// background. Edits that fail validation are logged and skipped, leaving the
// last valid config current.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: defaultPollInterval,
		onChange: onChange,
		quit:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	st, err := readState(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.state, w.seen = st, st.mtime

	go w.run()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.cfg
}

// Stop ends polling and waits for a running check to return. It is safe to
// call more than once.
func (w *Watcher) Stop() {
	w.quitOnce.Do(func() { close(w.quit) })
	<-w.exited
}

func (w *Watcher) run() {
	defer close(w.exited)
	tick := time.NewTicker(w.interval)
	defer tick.Stop()
	for {
		select {
		case <-w.quit:
			return
		case <-tick.C:
			if old, cur, ok := w.reload(); ok {
				w.report(old, cur)
			}
		}
	}
}

// reload re-reads the file when its mtime moved and swaps in the new config
// if the content differs. It reports whether a swap happened.
func (w *Watcher) reload() (old, cur *Config, ok bool) {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: stat failed", "path", w.path, "err", err)
		return nil, nil, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if info.ModTime().Equal(w.seen) {
		return nil, nil, false
	}
	w.seen = info.ModTime()

	st, err := readState(w.path)
	if err != nil {
		slog.Warn("config: reload rejected, keeping previous config", "path", w.path, "err", err)
		return nil, nil, false
	}
	if st.sum == w.state.sum {
		return nil, nil, false
	}
	old = w.state.cfg
	w.state = st
	return old, st.cfg, true
}

// report logs the change and runs the callback. It holds no lock, so the
// callback may call Current.
func (w *Watcher) report(old, cur *Config) {
	d := Diff(old, cur)
	slog.Info("config: reloaded",
		"path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"translation_changed", d.TranslationChanged,
	)
	for _, field := range d.RestartRequired {
		slog.Warn("config: change needs a restart to apply", "field", field)
	}
	if w.onChange != nil {
		w.onChange(old, cur, d)
	}
}

func readState(path string) (fileState, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileState{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fileState{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return fileState{}, err
	}
	return fileState{cfg: cfg, sum: sha256.Sum256(data), mtime: info.ModTime()}, nil
}
