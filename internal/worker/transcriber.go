// Package worker runs inference jobs in the background and reports their
// progress as protocol events over channels.
//
// A [Transcriber] is single-use: it accepts one request, emits the events of
// that job, and closes its event channel. A new job always gets a new
// Transcriber; old ones are abandoned, never interrupted. The [Translator]
// is long-lived and runs at most one job at a time.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/purescribe/internal/engine"
	"github.com/MrWong99/purescribe/internal/observe"
	"github.com/MrWong99/purescribe/internal/protocol"
	"github.com/MrWong99/purescribe/internal/reconcile"
	"github.com/MrWong99/purescribe/pkg/audio"
	"github.com/MrWong99/purescribe/pkg/provider/asr"
)

// ErrWorkerUsed is returned when a second request is submitted to a
// [Transcriber].
var ErrWorkerUsed = errors.New("worker: transcriber already used")

// eventBuffer is the capacity of a worker's event channel.
const eventBuffer = 64

// Settings control how a transcription run decodes the recording.
type Settings struct {
	// ChunkLength is the decode window. Zero means asr.DefaultChunkLength.
	ChunkLength time.Duration
	// StrideLength is the window overlap. Zero means asr.DefaultStrideLength.
	StrideLength time.Duration
	// PartialEvery is the decode-step interval between partial results.
	// Zero means reconcile.DefaultPartialEvery.
	PartialEvery int
	// Language is the spoken language as ISO-639-1; empty auto-detects.
	Language string
}

// TranscriberOption configures a [Transcriber].
type TranscriberOption func(*Transcriber)

// WithSettings sets the decoding settings.
func WithSettings(s Settings) TranscriberOption {
	return func(t *Transcriber) { t.settings = s }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) TranscriberOption {
	return func(t *Transcriber) { t.metrics = m }
}

// WithProviderName labels provider metrics of this worker.
func WithProviderName(name string) TranscriberOption {
	return func(t *Transcriber) { t.provider = name }
}

// Transcriber runs one transcription job.
type Transcriber struct {
	id       string
	slot     *engine.Slot[asr.Engine]
	settings Settings
	metrics  *observe.Metrics
	provider string

	requests chan protocol.InferenceRequest
	events   chan protocol.TranscriptionEvent
	used     atomic.Bool
}

// NewTranscriber starts a worker that waits for a single request and
// transcribes it with the engine held by slot. The worker exits when the job
// ends or ctx is cancelled, closing [Transcriber.Events].
func NewTranscriber(ctx context.Context, id string, slot *engine.Slot[asr.Engine], opts ...TranscriberOption) *Transcriber {
	t := &Transcriber{
		id:       id,
		slot:     slot,
		provider: "asr",
		requests: make(chan protocol.InferenceRequest, 1),
		events:   make(chan protocol.TranscriptionEvent, eventBuffer),
	}
	for _, o := range opts {
		o(t)
	}
	if t.metrics == nil {
		t.metrics = observe.DefaultMetrics()
	}
	go t.loop(ctx)
	return t
}

// ID returns the job identifier.
func (t *Transcriber) ID() string { return t.id }

// Events returns the job's event stream. It is closed after the terminal
// event.
func (t *Transcriber) Events() <-chan protocol.TranscriptionEvent { return t.events }

// Submit hands the job's request to the worker. Only the first call is
// accepted; later calls return [ErrWorkerUsed].
func (t *Transcriber) Submit(req protocol.InferenceRequest) error {
	if !t.used.CompareAndSwap(false, true) {
		return ErrWorkerUsed
	}
	t.requests <- req
	close(t.requests)
	return nil
}

func (t *Transcriber) loop(ctx context.Context) {
	defer close(t.events)
	select {
	case req, ok := <-t.requests:
		if ok {
			t.run(ctx, req)
		}
	case <-ctx.Done():
	}
}

func (t *Transcriber) run(ctx context.Context, req protocol.InferenceRequest) {
	const kind = string(engine.KindTranscription)
	start := time.Now()
	defer t.metrics.JobStarted(ctx, kind)()

	ctx, span := observe.StartSpan(ctx, "transcription",
		trace.WithAttributes(attribute.String("job_id", t.id), attribute.Int("audio_bytes", len(req.Audio))))
	err := t.transcribe(ctx, req)
	observe.EndSpan(span, err)

	if err != nil {
		observe.Logger(ctx).Error("transcription failed", "job_id", t.id, "err", err)
		t.metrics.RecordJob(ctx, kind, "failed", time.Since(start).Seconds())
		t.emit(ctx, protocol.Failed{Error: err.Error()})
		return
	}
	t.metrics.RecordJob(ctx, kind, "done", time.Since(start).Seconds())
	t.emit(ctx, protocol.InferenceDone{})
}

func (t *Transcriber) transcribe(ctx context.Context, req protocol.InferenceRequest) error {
	t.emit(ctx, protocol.Loading{Status: protocol.LoadingStarted})
	clip, err := audio.Decode(req.Audio, req.ContentType)
	if err != nil {
		return fmt.Errorf("worker: decode audio: %w", err)
	}

	loadStart := time.Now()
	eng, err := acquire(ctx, t.slot, func(p engine.DownloadProgress) {
		t.emit(ctx, protocol.Downloading{DownloadProgress: p})
	})
	if err != nil {
		return fmt.Errorf("worker: acquire transcription engine: %w", err)
	}
	t.metrics.ModelLoadDuration.Record(ctx, time.Since(loadStart).Seconds(),
		observe.WithKind(string(engine.KindTranscription)))
	t.emit(ctx, protocol.Loading{Status: protocol.LoadingSuccess})

	areq := asr.Request{
		Clip:         clip,
		ChunkLength:  t.settings.ChunkLength,
		StrideLength: t.settings.StrideLength,
		Language:     t.settings.Language,
		Timestamps:   true,
	}
	_, stride := areq.Geometry()
	tracker := reconcile.NewTracker(stride.Seconds(), t.settings.PartialEvery)

	onStep := func(s asr.Step) {
		p, ok := tracker.Step(s.Text)
		if !ok {
			return
		}
		t.emit(ctx, protocol.ResultPartial{Result: protocol.PartialResult{Text: p.Text, Start: p.Start}})
	}
	onChunk := func(c asr.Chunk) {
		segments := tracker.AddChunk(c)
		t.metrics.Chunks.Add(ctx, 1)
		t.emit(ctx, protocol.Result{Results: segments, CompletedUntil: tracker.CompletedUntil()})
	}

	if _, err := eng.Transcribe(ctx, areq, onStep, onChunk); err != nil {
		t.metrics.RecordProviderRequest(ctx, t.provider, string(engine.KindTranscription), "error")
		t.metrics.RecordProviderError(ctx, t.provider, string(engine.KindTranscription))
		return fmt.Errorf("worker: transcribe: %w", err)
	}
	t.metrics.RecordProviderRequest(ctx, t.provider, string(engine.KindTranscription), "ok")
	return nil
}

// emit delivers ev unless ctx is done.
func (t *Transcriber) emit(ctx context.Context, ev protocol.TranscriptionEvent) {
	select {
	case t.events <- ev:
	case <-ctx.Done():
	}
}

// acquire gets the engine from slot and forwards its download progress to
// onProgress. onProgress is never invoked after acquire returns.
func acquire[T any](ctx context.Context, slot *engine.Slot[T], onProgress engine.ProgressFunc) (T, error) {
	var (
		mu   sync.Mutex
		open = true
	)
	v, err := slot.Get(ctx, func(p engine.DownloadProgress) {
		mu.Lock()
		defer mu.Unlock()
		if open {
			onProgress(p)
		}
	})
	mu.Lock()
	open = false
	mu.Unlock()
	return v, err
}
