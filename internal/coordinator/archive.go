package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/purescribe/internal/store"
)

const archiveTimeout = 10 * time.Second

// archiver writes transcripts to a store on a single goroutine, in the order
// they were enqueued. Each write merges with the stored record, so a
// translation-only update keeps the segments and a transcription update keeps
// the translation.
type archiver struct {
	store store.Store

	mu     sync.Mutex
	queue  []store.Transcript
	closed bool

	wake chan struct{}
	done chan struct{}
}

func newArchiver(s store.Store) *archiver {
	a := &archiver{
		store: s,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

// enqueue schedules t for saving. It never blocks.
func (a *archiver) enqueue(t store.Transcript) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		slog.Warn("archive: dropped after close", "job_id", t.ID)
		return
	}
	a.queue = append(a.queue, t)
	a.mu.Unlock()
	a.signal()
}

// close saves everything still queued and stops the archiver.
func (a *archiver) close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.signal()
	<-a.done
}

func (a *archiver) signal() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *archiver) run() {
	defer close(a.done)
	for {
		a.mu.Lock()
		batch, closed := a.queue, a.closed
		a.queue = nil
		a.mu.Unlock()

		for _, t := range batch {
			a.save(t)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-a.wake
	}
}

func (a *archiver) save(t store.Transcript) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	prev, err := a.store.Get(ctx, t.ID)
	if err != nil {
		slog.Warn("archive: load transcript", "job_id", t.ID, "err", err)
		return
	}
	if prev != nil {
		if len(t.Segments) == 0 {
			t.Segments = prev.Segments
		}
		if t.Translation == "" {
			t.SourceLang, t.TargetLang, t.Translation = prev.SourceLang, prev.TargetLang, prev.Translation
		}
	}
	if err := a.store.Save(ctx, &t); err != nil {
		slog.Warn("archive: save transcript", "job_id", t.ID, "err", err)
		return
	}
	slog.Debug("transcript archived", "job_id", t.ID, "segments", len(t.Segments))
}
