package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/purescribe/internal/engine"
	"github.com/MrWong99/purescribe/internal/observe"
	"github.com/MrWong99/purescribe/internal/protocol"
	"github.com/MrWong99/purescribe/pkg/provider/translate"
)

// TranslatorOption configures a [Translator].
type TranslatorOption func(*Translator)

// WithTranslatorMetrics sets the metrics sink. Defaults to
// observe.DefaultMetrics().
func WithTranslatorMetrics(m *observe.Metrics) TranslatorOption {
	return func(t *Translator) { t.metrics = m }
}

// WithTranslatorProvider labels provider metrics of this worker.
func WithTranslatorProvider(name string) TranslatorOption {
	return func(t *Translator) { t.provider = name }
}

// Translator runs translation jobs one at a time. Start it with
// [Translator.Run]; requests are handed over with [Translator.Submit].
type Translator struct {
	slot     *engine.Slot[translate.Engine]
	metrics  *observe.Metrics
	provider string

	requests chan protocol.TranslationRequest
	events   chan protocol.TranslationEvent
	busy     atomic.Bool
}

// NewTranslator returns a Translator using the engine held by slot.
func NewTranslator(slot *engine.Slot[translate.Engine], opts ...TranslatorOption) *Translator {
	t := &Translator{
		slot:     slot,
		provider: "translate",
		requests: make(chan protocol.TranslationRequest, 1),
		events:   make(chan protocol.TranslationEvent, eventBuffer),
	}
	for _, o := range opts {
		o(t)
	}
	if t.metrics == nil {
		t.metrics = observe.DefaultMetrics()
	}
	return t
}

// Events returns the translation event stream. It is closed when Run
// returns.
func (t *Translator) Events() <-chan protocol.TranslationEvent { return t.events }

// Busy reports whether a translation is in flight. It turns false only after
// the job's complete or error event has been queued.
func (t *Translator) Busy() bool { return t.busy.Load() }

// Submit queues req. It is a no-op returning false when a translation is
// already in flight or req names no usable target language.
func (t *Translator) Submit(req protocol.TranslationRequest) bool {
	if !req.HasTarget() {
		return false
	}
	if !t.busy.CompareAndSwap(false, true) {
		return false
	}
	t.requests <- req
	return true
}

// Run processes submitted requests until ctx is cancelled. It closes the
// event channel on return.
func (t *Translator) Run(ctx context.Context) error {
	defer close(t.events)
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-t.requests:
			t.run(ctx, req)
		}
	}
}

func (t *Translator) run(ctx context.Context, req protocol.TranslationRequest) {
	const kind = string(engine.KindTranslation)
	start := time.Now()
	// Cleared after the terminal event is queued.
	defer t.busy.Store(false)
	defer t.metrics.JobStarted(ctx, kind)()

	ctx, span := observe.StartSpan(ctx, "translation",
		trace.WithAttributes(attribute.String("src_lang", req.SrcLang), attribute.String("tgt_lang", req.TgtLang)))
	out, err := t.translate(ctx, req)
	observe.EndSpan(span, err)

	if err != nil {
		observe.Logger(ctx).Error("translation failed", "tgt_lang", req.TgtLang, "err", err)
		t.metrics.RecordJob(ctx, kind, "failed", time.Since(start).Seconds())
		t.emit(ctx, protocol.TranslationFailed{Error: err.Error()})
		return
	}
	t.metrics.RecordJob(ctx, kind, "done", time.Since(start).Seconds())
	t.emit(ctx, protocol.Complete{Output: out})
}

func (t *Translator) translate(ctx context.Context, req protocol.TranslationRequest) (string, error) {
	t.emit(ctx, protocol.Initiate{Target: req.TgtLang})

	ereq := req.Engine()
	if err := ereq.Validate(); err != nil {
		return "", fmt.Errorf("worker: %w", err)
	}

	loadStart := time.Now()
	eng, err := acquire(ctx, t.slot, func(p engine.DownloadProgress) {
		t.emit(ctx, protocol.Progress{DownloadProgress: p})
	})
	if err != nil {
		return "", fmt.Errorf("worker: acquire translation engine: %w", err)
	}
	t.metrics.ModelLoadDuration.Record(ctx, time.Since(loadStart).Seconds(),
		observe.WithKind(string(engine.KindTranslation)))

	out, err := eng.Translate(ctx, ereq, func(s string) {
		t.emit(ctx, protocol.Update{Output: s})
	})
	if err != nil {
		t.metrics.RecordProviderRequest(ctx, t.provider, string(engine.KindTranslation), "error")
		t.metrics.RecordProviderError(ctx, t.provider, string(engine.KindTranslation))
		return "", fmt.Errorf("worker: translate: %w", err)
	}
	t.metrics.RecordProviderRequest(ctx, t.provider, string(engine.KindTranslation), "ok")
	if out == "" {
		return "", errors.New("worker: translate: empty output")
	}
	return out, nil
}

func (t *Translator) emit(ctx context.Context, ev protocol.TranslationEvent) {
	select {
	case t.events <- ev:
	case <-ctx.Done():
	}
}
