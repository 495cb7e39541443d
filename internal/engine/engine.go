// Package engine owns the process-wide inference engine instances.
//
// Each task kind (transcription, translation) has one [Slot] that loads its
// engine lazily on first use. Concurrent callers that arrive before the load
// has finished share the same in-flight load and all receive its download
// progress. A failed load is reported to every waiting caller and is not
// cached, so the next call retries. Closing a slot while a load is in flight
// discards that load's result; its waiters start a fresh load.
//
// The [Registry] bundles the slots and is injected into workers; nothing in
// this package is global.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/purescribe/pkg/provider/asr"
	"github.com/MrWong99/purescribe/pkg/provider/translate"
)

// Kind names a task an engine performs.
type Kind string

// Task kinds.
const (
	KindTranscription Kind = "transcription"
	KindTranslation   Kind = "translation"
)

// ErrNoEngine is returned by a [Slot] that was constructed without a loader.
var ErrNoEngine = errors.New("engine: no engine configured")

// errSuperseded ends a load that finished after the slot was closed.
var errSuperseded = errors.New("engine: slot closed during load")

// DownloadProgress reports model-weight fetch progress for one file.
type DownloadProgress struct {
	File     string  `json:"file"`
	Progress float64 `json:"progress"` // 0–100
	Loaded   int64   `json:"loaded"`   // bytes
	Total    int64   `json:"total"`    // bytes, 0 if unknown
}

// ProgressFunc receives download progress during a load.
type ProgressFunc func(DownloadProgress)

// Loader creates an engine instance. It reports weight downloads through
// progress, which is never nil.
type Loader[T any] func(ctx context.Context, progress ProgressFunc) (T, error)

// Slot holds the lazily-initialised engine for one task kind.
type Slot[T any] struct {
	kind  Kind
	load  Loader[T]
	group singleflight.Group
	loads atomic.Int64

	mu        sync.Mutex
	ready     bool
	value     T
	gen       uint64 // bumped by Close
	listeners map[uint64]ProgressFunc
	nextID    uint64
}

// NewSlot returns a Slot that creates its engine with load. A nil load makes
// every Get fail with [ErrNoEngine].
func NewSlot[T any](kind Kind, load Loader[T]) *Slot[T] {
	return &Slot[T]{
		kind:      kind,
		load:      load,
		listeners: make(map[uint64]ProgressFunc),
	}
}

// NewReadySlot returns a Slot that already holds v.
func NewReadySlot[T any](kind Kind, v T) *Slot[T] {
	s := NewSlot[T](kind, nil)
	s.ready = true
	s.value = v
	return s
}

// Kind returns the task kind of the slot.
func (s *Slot[T]) Kind() Kind { return s.kind }

// Get returns the engine, loading it first if needed. onProgress, if
// non-nil, receives every progress event of a load that is in flight while
// this caller waits.
//
// Cancelling ctx stops this caller from waiting; the shared load keeps going
// for the others and its result is still cached on success.
func (s *Slot[T]) Get(ctx context.Context, onProgress ProgressFunc) (T, error) {
	var zero T

	s.mu.Lock()
	if s.ready {
		v := s.value
		s.mu.Unlock()
		return v, nil
	}
	var id uint64
	if onProgress != nil {
		s.nextID++
		id = s.nextID
		s.listeners[id] = onProgress
	}
	s.mu.Unlock()

	if id != 0 {
		defer func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		}()
	}

	if s.load == nil {
		return zero, fmt.Errorf("%w: %s", ErrNoEngine, s.kind)
	}

	for {
		v, err := s.shared(ctx)
		if errors.Is(err, errSuperseded) {
			continue
		}
		return v, err
	}
}

// shared joins or starts the load. A load that outlives a Close is discarded
// and reports errSuperseded.
func (s *Slot[T]) shared(ctx context.Context) (T, error) {
	var zero T
	ch := s.group.DoChan(string(s.kind), func() (any, error) {
		s.mu.Lock()
		if s.ready {
			v := s.value
			s.mu.Unlock()
			return v, nil
		}
		gen := s.gen
		s.mu.Unlock()

		s.loads.Add(1)
		v, err := s.load(context.WithoutCancel(ctx), s.broadcast)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			if c, ok := any(v).(io.Closer); ok {
				_ = c.Close()
			}
			return nil, errSuperseded
		}
		s.value = v
		s.ready = true
		s.mu.Unlock()
		return v, nil
	})

	select {
	case res := <-ch:
		if errors.Is(res.Err, errSuperseded) {
			return zero, res.Err
		}
		if res.Err != nil {
			return zero, fmt.Errorf("engine: load %s: %w", s.kind, res.Err)
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// broadcast fans a progress event out to every waiting caller.
func (s *Slot[T]) broadcast(p DownloadProgress) {
	s.mu.Lock()
	fns := make([]ProgressFunc, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(p)
	}
}

// Ready reports whether the engine has been loaded.
func (s *Slot[T]) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Loads returns how many times the loader has been invoked.
func (s *Slot[T]) Loads() int64 { return s.loads.Load() }

// Close releases the loaded engine if it implements io.Closer. The slot
// becomes empty and the next Get loads again. A load still in flight is
// discarded when it finishes.
func (s *Slot[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.group.Forget(string(s.kind))
	if !s.ready {
		return nil
	}
	var err error
	if c, ok := any(s.value).(io.Closer); ok {
		err = c.Close()
	}
	var zero T
	s.value = zero
	s.ready = false
	return err
}

// Registry holds one engine slot per task kind.
type Registry struct {
	Transcription *Slot[asr.Engine]
	Translation   *Slot[translate.Engine]
}

// NewRegistry returns a Registry with the given loaders. Either may be nil
// when that task kind is not configured.
func NewRegistry(transcription Loader[asr.Engine], translation Loader[translate.Engine]) *Registry {
	return &Registry{
		Transcription: NewSlot(KindTranscription, transcription),
		Translation:   NewSlot(KindTranslation, translation),
	}
}

// Status reports, per task kind, whether its engine is loaded.
func (r *Registry) Status() map[Kind]bool {
	return map[Kind]bool{
		KindTranscription: r.Transcription.Ready(),
		KindTranslation:   r.Translation.Ready(),
	}
}

// Close releases every loaded engine.
func (r *Registry) Close() error {
	return errors.Join(r.Transcription.Close(), r.Translation.Close())
}
