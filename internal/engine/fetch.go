package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
)

// progressStep is the minimum percentage change between two progress events
// for the same file.
const progressStep = 1.0

// Fetcher downloads model files into a local cache directory.
type Fetcher struct {
	// CacheDir receives downloaded files. It is created on demand.
	CacheDir string

	// Client performs the downloads. nil means http.DefaultClient.
	Client *http.Client
}

// Fetch returns the local path of the file at rawURL, downloading it first
// when it is not cached yet. Download progress is reported through progress,
// which may be nil. A cached file produces no progress events.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, progress ProgressFunc) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("engine: parse model url: %w", err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("engine: model url %q has no file name", rawURL)
	}

	dst := filepath.Join(f.CacheDir, name)
	if fi, err := os.Stat(dst); err == nil && fi.Size() > 0 {
		return dst, nil
	}
	if err := os.MkdirAll(f.CacheDir, 0o755); err != nil {
		return "", fmt.Errorf("engine: create cache dir: %w", err)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("engine: create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("engine: download %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("engine: download %s: HTTP %d", name, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(f.CacheDir, name+".*.part")
	if err != nil {
		return "", fmt.Errorf("engine: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	slog.Info("downloading model file", "file", name, "bytes", resp.ContentLength)
	pw := &progressWriter{file: name, total: max(resp.ContentLength, 0), report: progress, last: -progressStep}
	_, copyErr := io.Copy(io.MultiWriter(tmp, pw), resp.Body)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		return "", fmt.Errorf("engine: download %s: %w", name, err)
	}
	pw.finish()

	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("engine: store %s: %w", name, err)
	}
	return dst, nil
}

// progressWriter counts bytes written and reports progress at most once per
// progressStep percent.
type progressWriter struct {
	file   string
	total  int64
	loaded int64
	last   float64
	report ProgressFunc
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.loaded += int64(len(p))
	w.emit(false)
	return len(p), nil
}

func (w *progressWriter) finish() {
	if w.total == 0 {
		w.total = w.loaded
	}
	w.emit(true)
}

func (w *progressWriter) emit(final bool) {
	if w.report == nil {
		return
	}
	pct := 0.0
	if w.total > 0 {
		pct = min(float64(w.loaded)/float64(w.total)*100, 100)
	}
	if !final && pct-w.last < progressStep {
		return
	}
	if final && pct == w.last {
		return
	}
	w.last = pct
	w.report(DownloadProgress{File: w.file, Progress: pct, Loaded: w.loaded, Total: w.total})
}
