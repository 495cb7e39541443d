// Package coordinator owns the worker lifecycle and turns worker events into
// observable presentation state.
//
// A [Coordinator] is an actor: all state lives in the goroutine running
// [Coordinator.Run], which selects over incoming commands and the event
// channels of the current workers. Submitting a new transcription abandons
// the previous worker. Its remaining events are drained and discarded, so a
// stale "inference-done" can never touch the state of a newer job.
package coordinator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/MrWong99/purescribe/internal/engine"
	"github.com/MrWong99/purescribe/internal/observe"
	"github.com/MrWong99/purescribe/internal/protocol"
	"github.com/MrWong99/purescribe/internal/store"
	"github.com/MrWong99/purescribe/internal/worker"
	"github.com/MrWong99/purescribe/pkg/language"
)

// ErrClosed is returned by commands issued after Run has returned.
var ErrClosed = errors.New("coordinator: closed")

const defaultSubscriberBuffer = 256

// Option configures a [Coordinator].
type Option func(*Coordinator)

// WithSettings sets the decoding settings of transcription workers.
func WithSettings(s worker.Settings) Option {
	return func(c *Coordinator) { c.settings = s }
}

// WithStore archives finished transcripts and translations in s.
func WithStore(s store.Store) Option {
	return func(c *Coordinator) { c.store = s }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithIDFunc overrides job ID generation. Defaults to random UUIDs.
func WithIDFunc(fn func() string) Option {
	return func(c *Coordinator) { c.newID = fn }
}

// WithSubscriberBuffer sets the per-subscriber queue length. A subscriber
// whose queue is full is dropped.
func WithSubscriberBuffer(n int) Option {
	return func(c *Coordinator) { c.subBuffer = n }
}

// WithProviderNames labels worker metrics with the configured provider
// names.
func WithProviderNames(transcription, translation string) Option {
	return func(c *Coordinator) {
		c.asrProvider = transcription
		c.translateProvider = translation
	}
}

// Coordinator routes requests to workers and worker events to subscribers.
type Coordinator struct {
	registry          *engine.Registry
	settings          worker.Settings
	store             store.Store
	metrics           *observe.Metrics
	newID             func() string
	subBuffer         int
	asrProvider       string
	translateProvider string

	cmds chan func(*loop)
	done chan struct{}
}

// New returns a Coordinator that acquires engines from registry. Call Run to
// start it.
func New(registry *engine.Registry, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry:  registry,
		newID:     uuid.NewString,
		subBuffer: defaultSubscriberBuffer,
		cmds:      make(chan func(*loop)),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// loop is the state owned by the Run goroutine.
type loop struct {
	ctx         context.Context
	current     *worker.Transcriber
	translator  *worker.Translator
	job         TranscriptionJob
	translation TranslationJob
	subs        map[uint64]chan Update
	nextSub     uint64
	archiver    *archiver
}

// Run processes commands and worker events until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.done)

	tctx, cancelTranslator := context.WithCancel(ctx)
	translator := worker.NewTranslator(c.registry.Translation,
		worker.WithTranslatorMetrics(c.metrics),
		worker.WithTranslatorProvider(c.translateProvider),
	)
	translatorDone := make(chan struct{})
	go func() {
		defer close(translatorDone)
		_ = translator.Run(tctx)
	}()

	l := &loop{
		ctx:         ctx,
		translator:  translator,
		job:         TranscriptionJob{Status: TranscriptionIdle},
		translation: TranslationJob{Status: TranslationIdle},
		subs:        make(map[uint64]chan Update),
	}
	if c.store != nil {
		l.archiver = newArchiver(c.store)
	}
	defer func() {
		cancelTranslator()
		<-translatorDone
		c.abandon(l)
		for id, ch := range l.subs {
			close(ch)
			delete(l.subs, id)
			c.metrics.Subscribers.Add(context.WithoutCancel(ctx), -1)
		}
		if l.archiver != nil {
			l.archiver.close()
		}
	}()

	translations := translator.Events()
	for {
		var transcriptions <-chan protocol.TranscriptionEvent
		if l.current != nil {
			transcriptions = l.current.Events()
		}

		select {
		case <-ctx.Done():
			return nil
		case cmd := <-c.cmds:
			cmd(l)
		case ev, ok := <-transcriptions:
			if !ok {
				l.current = nil
				continue
			}
			c.applyTranscription(l, ev)
		case ev, ok := <-translations:
			if !ok {
				translations = nil
				continue
			}
			c.applyTranslation(l, ev)
		}
	}
}

// do runs cmd on the loop goroutine and waits for it to be accepted.
func (c *Coordinator) do(ctx context.Context, cmd func(*loop)) error {
	select {
	case c.cmds <- cmd:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call runs fn on the loop goroutine and returns its result.
func call[T any](ctx context.Context, c *Coordinator, fn func(*loop) T) (T, error) {
	reply := make(chan T, 1)
	if err := c.do(ctx, func(l *loop) { reply <- fn(l) }); err != nil {
		var zero T
		return zero, err
	}
	return <-reply, nil
}

// SubmitTranscription starts a new transcription job for req and returns
// its ID. Any job in progress is abandoned.
func (c *Coordinator) SubmitTranscription(ctx context.Context, req protocol.InferenceRequest) (string, error) {
	return call(ctx, c, func(l *loop) string {
		c.abandon(l)

		id := c.newID()
		w := worker.NewTranscriber(l.ctx, id, c.registry.Transcription,
			worker.WithSettings(c.settings),
			worker.WithMetrics(c.metrics),
			worker.WithProviderName(c.asrProvider),
		)
		if err := w.Submit(req); err != nil {
			// A fresh worker always accepts its first request.
			slog.Error("coordinator: submit to new transcriber", "job_id", id, "err", err)
		}
		l.current = w
		l.job = TranscriptionJob{ID: id, Status: TranscriptionIdle}
		if !l.translation.Status.InFlight() {
			l.translation = TranslationJob{Status: TranslationIdle}
		}
		slog.Info("transcription submitted", "job_id", id, "audio_bytes", len(req.Audio))
		return id
	})
}

// SubmitTranslation asks the translator to translate req. When req.Text is
// empty the segments of the current transcription are used; an empty source
// language means English. It reports false, without emitting anything, when
// a translation is already in flight, no target language is chosen, or there
// is nothing to translate.
func (c *Coordinator) SubmitTranslation(ctx context.Context, req protocol.TranslationRequest) (bool, error) {
	return call(ctx, c, func(l *loop) bool {
		if len(req.Text) == 0 {
			for _, s := range l.job.Segments {
				req.Text = append(req.Text, s.Text)
			}
		}
		if req.SrcLang == "" {
			req.SrcLang = language.DefaultSource
		}
		// The applied state gates first: the worker may already be idle
		// while its complete event is still queued for this loop.
		if l.translation.Status.InFlight() || len(req.Text) == 0 || !l.translator.Submit(req) {
			return false
		}
		l.translation = TranslationJob{
			JobID:          l.job.ID,
			Status:         TranslationDownloading,
			SourceLanguage: req.SrcLang,
			TargetLanguage: req.TgtLang,
		}
		return true
	})
}

// Reset abandons the current transcription and clears the presentation
// state. A translation in flight keeps running and reporting.
func (c *Coordinator) Reset(ctx context.Context) error {
	_, err := call(ctx, c, func(l *loop) struct{} {
		c.abandon(l)
		l.job = TranscriptionJob{Status: TranscriptionIdle}
		if !l.translation.Status.InFlight() {
			l.translation = TranslationJob{Status: TranslationIdle}
		}
		c.broadcast(l, Update{Reset: true})
		return struct{}{}
	})
	return err
}

// Snapshot returns a copy of the current state.
func (c *Coordinator) Snapshot(ctx context.Context) (Snapshot, error) {
	return call(ctx, c, c.snapshot)
}

func (c *Coordinator) snapshot(l *loop) Snapshot {
	return Snapshot{
		Transcription: l.job.clone(),
		Translation:   l.translation.clone(),
		Engines:       c.registry.Status(),
	}
}

// Subscription receives every update the coordinator applies, in order.
type Subscription struct {
	// C is closed when the subscriber is dropped or the coordinator stops.
	C <-chan Update

	id uint64
	c  *Coordinator
}

// Close ends the subscription.
func (s *Subscription) Close() {
	_ = s.c.do(context.Background(), func(l *loop) {
		if ch, ok := l.subs[s.id]; ok {
			close(ch)
			delete(l.subs, s.id)
			s.c.metrics.Subscribers.Add(l.ctx, -1)
		}
	})
}

// Subscribe registers a new subscriber.
func (c *Coordinator) Subscribe(ctx context.Context) (*Subscription, error) {
	return call(ctx, c, c.subscribe)
}

// SubscribeWithSnapshot registers a subscriber and returns the state it
// starts from. The first update on the subscription is the first one applied
// after the snapshot.
func (c *Coordinator) SubscribeWithSnapshot(ctx context.Context) (*Subscription, Snapshot, error) {
	type result struct {
		sub  *Subscription
		snap Snapshot
	}
	r, err := call(ctx, c, func(l *loop) result {
		return result{sub: c.subscribe(l), snap: c.snapshot(l)}
	})
	return r.sub, r.snap, err
}

func (c *Coordinator) subscribe(l *loop) *Subscription {
	l.nextSub++
	ch := make(chan Update, c.subBuffer)
	l.subs[l.nextSub] = ch
	c.metrics.Subscribers.Add(l.ctx, 1)
	return &Subscription{C: ch, id: l.nextSub, c: c}
}

// abandon stops observing the current transcriber. Its remaining events are
// drained in the background so the worker never blocks on a full channel.
func (c *Coordinator) abandon(l *loop) {
	if l.current == nil {
		return
	}
	w := l.current
	l.current = nil
	if !l.job.Status.Terminal() {
		slog.Info("transcription abandoned", "job_id", w.ID(), "status", l.job.Status)
	}
	go func() {
		for range w.Events() {
		}
	}()
}

func (c *Coordinator) applyTranscription(l *loop, ev protocol.TranscriptionEvent) {
	l.job.apply(ev)
	c.broadcast(l, Update{JobID: l.job.ID, Transcription: ev})

	if _, ok := ev.(protocol.InferenceDone); ok {
		c.archive(l, store.Transcript{ID: l.job.ID, Segments: l.job.clone().Segments})
	}
}

func (c *Coordinator) applyTranslation(l *loop, ev protocol.TranslationEvent) {
	l.translation.apply(ev)
	c.broadcast(l, Update{JobID: l.translation.JobID, Translation: ev})

	if _, ok := ev.(protocol.Complete); ok && l.translation.JobID != "" {
		t := store.Transcript{
			ID:          l.translation.JobID,
			SourceLang:  l.translation.SourceLanguage,
			TargetLang:  l.translation.TargetLanguage,
			Translation: l.translation.FinalText,
		}
		if t.ID == l.job.ID {
			t.Segments = l.job.clone().Segments
		}
		c.archive(l, t)
	}
}

// broadcast delivers u to every subscriber. Subscribers that cannot keep up
// are dropped.
func (c *Coordinator) broadcast(l *loop, u Update) {
	for id, ch := range l.subs {
		select {
		case ch <- u:
		default:
			slog.Warn("dropping slow subscriber", "subscriber", id)
			close(ch)
			delete(l.subs, id)
			c.metrics.Subscribers.Add(l.ctx, -1)
		}
	}
}

// archive queues t for the archiver. Writes for one job land in the order
// the loop applied its events.
func (c *Coordinator) archive(l *loop, t store.Transcript) {
	if l.archiver == nil || t.ID == "" {
		return
	}
	l.archiver.enqueue(t)
}
