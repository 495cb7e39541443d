package worker_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/purescribe/internal/engine"
	"github.com/MrWong99/purescribe/internal/observe"
	"github.com/MrWong99/purescribe/internal/protocol"
	"github.com/MrWong99/purescribe/internal/worker"
	"github.com/MrWong99/purescribe/pkg/audio"
	"github.com/MrWong99/purescribe/pkg/provider/asr"
	asrmock "github.com/MrWong99/purescribe/pkg/provider/asr/mock"
	"github.com/MrWong99/purescribe/pkg/provider/translate"
	translatemock "github.com/MrWong99/purescribe/pkg/provider/translate/mock"
)

const waitTimeout = 5 * time.Second

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// wavClip returns d of a quiet sine tone encoded as WAV.
func wavClip(d time.Duration) []byte {
	s := make([]float32, audio.Samples(d))
	for i := range s {
		s[i] = float32(0.2 * math.Sin(2*math.Pi*330*float64(i)/audio.SampleRate))
	}
	return audio.EncodeWAV(s)
}

// asrSlot returns a slot whose loader reports two download events and then
// yields eng.
func asrSlot(eng asr.Engine, loadErr error) *engine.Slot[asr.Engine] {
	return engine.NewSlot(engine.KindTranscription, func(_ context.Context, progress engine.ProgressFunc) (asr.Engine, error) {
		progress(engine.DownloadProgress{File: "ggml-base.bin", Progress: 50, Loaded: 50, Total: 100})
		progress(engine.DownloadProgress{File: "ggml-base.bin", Progress: 100, Loaded: 100, Total: 100})
		if loadErr != nil {
			return nil, loadErr
		}
		return eng, nil
	})
}

// drain collects events until the channel closes.
func drain[E any](t *testing.T, ch <-chan E) []E {
	t.Helper()
	var out []E
	timeout := time.After(waitTimeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out after %d events", len(out))
		}
	}
}

func types(events []protocol.TranscriptionEvent) []protocol.Type {
	out := make([]protocol.Type, len(events))
	for i, ev := range events {
		out[i] = ev.EventType()
	}
	return out
}

func TestTranscriber_TwelveSecondClip(t *testing.T) {
	t.Parallel()

	eng := &asrmock.Engine{StepsPerWindow: 35}
	w := worker.NewTranscriber(context.Background(), "job-1", asrSlot(eng, nil), worker.WithMetrics(testMetrics(t)))
	if err := w.Submit(protocol.InferenceRequest{Audio: wavClip(12 * time.Second), ContentType: "audio/wav"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	events := drain(t, w.Events())

	want := []protocol.Type{
		protocol.TypeLoading,
		protocol.TypeDownloading, protocol.TypeDownloading,
		protocol.TypeLoading,
		protocol.TypeResultPartial, protocol.TypeResultPartial, protocol.TypeResultPartial,
		protocol.TypeResult,
		protocol.TypeInferenceDone,
	}
	got := types(events)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("event types:\n got %v\nwant %v", got, want)
	}

	if l := events[0].(protocol.Loading); l.Status != protocol.LoadingStarted {
		t.Errorf("first loading status = %q", l.Status)
	}
	if l := events[3].(protocol.Loading); l.Status != protocol.LoadingSuccess {
		t.Errorf("second loading status = %q", l.Status)
	}
	for i, step := range []int{10, 20, 30} {
		p := events[4+i].(protocol.ResultPartial)
		if want := fmt.Sprintf("window 0 step %d", step); p.Result.Text != want || p.Result.Start != 0 || p.Result.End != nil {
			t.Errorf("partial %d = %+v, want text %q", i, p.Result, want)
		}
	}
	res := events[7].(protocol.Result)
	if res.IsDone || len(res.Results) != 1 || res.Results[0].Text != "window 0" || res.CompletedUntil != 1 {
		t.Errorf("result = %+v", res)
	}

	if len(eng.Calls) != 1 {
		t.Fatalf("engine calls = %d", len(eng.Calls))
	}
	req := eng.Calls[0]
	if !req.Timestamps || req.Sampling {
		t.Errorf("request flags = %+v, want timestamps and greedy decoding", req)
	}
	if chunk, stride := req.Geometry(); chunk != 30*time.Second || stride != 5*time.Second {
		t.Errorf("geometry = %v/%v, want 30s/5s", chunk, stride)
	}
}

func TestTranscriber_ResultsGrowPerWindow(t *testing.T) {
	t.Parallel()

	w := worker.NewTranscriber(context.Background(), "job-2", asrSlot(&asrmock.Engine{}, nil), worker.WithMetrics(testMetrics(t)))
	if err := w.Submit(protocol.InferenceRequest{Audio: wavClip(50 * time.Second)}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	var results []protocol.Result
	events := drain(t, w.Events())
	for _, ev := range events {
		if r, ok := ev.(protocol.Result); ok {
			results = append(results, r)
		}
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if len(results[0].Results) != 1 || len(results[1].Results) != 2 {
		t.Errorf("segment counts = %d, %d; want 1, 2", len(results[0].Results), len(results[1].Results))
	}
	if s := results[1].Results[1]; s.Text != "window 1" || s.Start != 26 || s.End != 27 || s.Index != 1 {
		t.Errorf("second segment = %+v", s)
	}
	if last := events[len(events)-1]; last.EventType() != protocol.TypeInferenceDone {
		t.Errorf("last event = %s, want inference-done", last.EventType())
	}
}

func TestTranscriber_SingleUse(t *testing.T) {
	t.Parallel()

	w := worker.NewTranscriber(context.Background(), "job-3", asrSlot(&asrmock.Engine{}, nil), worker.WithMetrics(testMetrics(t)))
	if err := w.Submit(protocol.InferenceRequest{Audio: wavClip(time.Second)}); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if err := w.Submit(protocol.InferenceRequest{Audio: wavClip(time.Second)}); !errors.Is(err, worker.ErrWorkerUsed) {
		t.Fatalf("second Submit err = %v, want ErrWorkerUsed", err)
	}
	drain(t, w.Events())
	if w.ID() != "job-3" {
		t.Errorf("ID = %q", w.ID())
	}
}

func TestTranscriber_EngineLoadFailure(t *testing.T) {
	t.Parallel()

	w := worker.NewTranscriber(context.Background(), "job-4", asrSlot(nil, errors.New("disk full")), worker.WithMetrics(testMetrics(t)))
	if err := w.Submit(protocol.InferenceRequest{Audio: wavClip(time.Second)}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	events := drain(t, w.Events())

	got := types(events)
	want := []protocol.Type{protocol.TypeLoading, protocol.TypeDownloading, protocol.TypeDownloading, protocol.TypeError}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	if f := events[3].(protocol.Failed); f.Error == "" {
		t.Error("error event has empty message")
	}
}

func TestTranscriber_InferenceFailure(t *testing.T) {
	t.Parallel()

	eng := &asrmock.Engine{Err: errors.New("gpu lost")}
	w := worker.NewTranscriber(context.Background(), "job-5", asrSlot(eng, nil), worker.WithMetrics(testMetrics(t)))
	_ = w.Submit(protocol.InferenceRequest{Audio: wavClip(time.Second)})
	events := drain(t, w.Events())

	last := events[len(events)-1]
	if last.EventType() != protocol.TypeError {
		t.Fatalf("last event = %s, want error", last.EventType())
	}
	for _, ev := range events {
		if ev.EventType() == protocol.TypeInferenceDone {
			t.Error("inference-done emitted for failed job")
		}
	}
}

func TestTranscriber_InvalidAudio(t *testing.T) {
	t.Parallel()

	eng := &asrmock.Engine{}
	w := worker.NewTranscriber(context.Background(), "job-6", asrSlot(eng, nil), worker.WithMetrics(testMetrics(t)))
	_ = w.Submit(protocol.InferenceRequest{Audio: []byte("definitely not audio")})
	events := drain(t, w.Events())

	if got := types(events); fmt.Sprint(got) != fmt.Sprint([]protocol.Type{protocol.TypeLoading, protocol.TypeError}) {
		t.Fatalf("events = %v, want loading then error", got)
	}
	if l := events[0].(protocol.Loading); l.Status != protocol.LoadingStarted {
		t.Errorf("first event status = %q, want loading", l.Status)
	}
	if eng.CallCount() != 0 {
		t.Error("engine called for undecodable audio")
	}
}

func TestTranscriber_CancelBeforeSubmit(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	w := worker.NewTranscriber(ctx, "job-7", asrSlot(&asrmock.Engine{}, nil), worker.WithMetrics(testMetrics(t)))
	cancel()
	if events := drain(t, w.Events()); len(events) != 0 {
		t.Errorf("events = %v, want none", types(events))
	}
}

func TestTranscriber_PartialEverySetting(t *testing.T) {
	t.Parallel()

	eng := &asrmock.Engine{StepsPerWindow: 9}
	w := worker.NewTranscriber(context.Background(), "job-8", asrSlot(eng, nil),
		worker.WithMetrics(testMetrics(t)),
		worker.WithSettings(worker.Settings{PartialEvery: 3, Language: "de"}),
	)
	_ = w.Submit(protocol.InferenceRequest{Audio: wavClip(2 * time.Second)})

	var partials int
	for _, ev := range drain(t, w.Events()) {
		if ev.EventType() == protocol.TypeResultPartial {
			partials++
		}
	}
	if partials != 3 {
		t.Errorf("partials = %d, want 3", partials)
	}
	if eng.Calls[0].Language != "de" {
		t.Errorf("language = %q, want de", eng.Calls[0].Language)
	}
}

// ---- translator -------------------------------------------------------------

func translateSlot(eng translate.Engine) *engine.Slot[translate.Engine] {
	return engine.NewSlot(engine.KindTranslation, func(_ context.Context, progress engine.ProgressFunc) (translate.Engine, error) {
		progress(engine.DownloadProgress{File: "nllb-200", Progress: 100, Loaded: 1, Total: 1})
		return eng, nil
	})
}

func startTranslator(t *testing.T, eng translate.Engine) *worker.Translator {
	t.Helper()
	tr := worker.NewTranslator(translateSlot(eng), worker.WithTranslatorMetrics(testMetrics(t)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tr.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return tr
}

// waitIdle waits for tr to accept new requests.
func waitIdle(t *testing.T, tr *worker.Translator) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for tr.Busy() {
		if time.Now().After(deadline) {
			t.Fatal("translator still busy")
		}
		time.Sleep(time.Millisecond)
	}
}

// untilTerminal collects translation events up to and including complete or
// error.
func untilTerminal(t *testing.T, ch <-chan protocol.TranslationEvent) []protocol.TranslationEvent {
	t.Helper()
	var out []protocol.TranslationEvent
	timeout := time.After(waitTimeout)
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
			if s := ev.EventStatus(); s == protocol.StatusComplete || s == protocol.StatusError {
				return out
			}
		case <-timeout:
			t.Fatalf("timed out after %d events", len(out))
		}
	}
}

func TestTranslator_HelloToFrench(t *testing.T) {
	t.Parallel()

	eng := &translatemock.Engine{Output: "bonjour tout le monde"}
	tr := startTranslator(t, eng)

	if !tr.Submit(protocol.TranslationRequest{Text: []string{"hello"}, SrcLang: "eng_Latn", TgtLang: "fra_Latn"}) {
		t.Fatal("Submit rejected")
	}
	events := untilTerminal(t, tr.Events())

	if events[0].EventStatus() != protocol.StatusInitiate {
		t.Errorf("first event = %s, want initiate", events[0].EventStatus())
	}
	var updates int
	for _, ev := range events[1 : len(events)-1] {
		switch ev.EventStatus() {
		case protocol.StatusUpdate:
			updates++
		case protocol.StatusProgress:
		default:
			t.Errorf("unexpected event %s before completion", ev.EventStatus())
		}
	}
	if updates != 4 {
		t.Errorf("updates = %d, want 4", updates)
	}
	c, ok := events[len(events)-1].(protocol.Complete)
	if !ok || c.Output != "bonjour tout le monde" {
		t.Fatalf("last event = %#v", events[len(events)-1])
	}
	waitIdle(t, tr)
	if got := eng.Calls[0]; got.Source != "eng_Latn" || got.Target != "fra_Latn" {
		t.Errorf("engine request = %+v", got)
	}
}

func TestTranslator_RejectsWhileInFlight(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	eng := &translatemock.Engine{Gate: gate}
	tr := startTranslator(t, eng)

	if !tr.Submit(protocol.TranslationRequest{Text: []string{"one"}, TgtLang: "deu_Latn"}) {
		t.Fatal("first Submit rejected")
	}
	if tr.Submit(protocol.TranslationRequest{Text: []string{"two"}, TgtLang: "fra_Latn"}) {
		t.Fatal("second Submit accepted while first in flight")
	}
	if !tr.Busy() {
		t.Error("Busy = false while in flight")
	}
	close(gate)

	events := untilTerminal(t, tr.Events())
	var initiates int
	for _, ev := range events {
		if i, ok := ev.(protocol.Initiate); ok {
			initiates++
			if i.Target != "deu_Latn" {
				t.Errorf("initiate target = %q", i.Target)
			}
		}
	}
	if initiates != 1 {
		t.Errorf("initiate events = %d, want 1", initiates)
	}
	if c := events[len(events)-1].(protocol.Complete); c.Output != "[deu_Latn] one" {
		t.Errorf("output = %q", c.Output)
	}
	if eng.CallCount() != 1 {
		t.Errorf("engine calls = %d, want 1", eng.CallCount())
	}

	// The next request is accepted once the first completed.
	waitIdle(t, tr)
	if !tr.Submit(protocol.TranslationRequest{Text: []string{"three"}, TgtLang: "fra_Latn"}) {
		t.Fatal("Submit after completion rejected")
	}
	untilTerminal(t, tr.Events())
}

func TestTranslator_IdleOnlyAfterTerminalQueued(t *testing.T) {
	t.Parallel()

	for _, eng := range []*translatemock.Engine{
		{Output: "hallo welt"},
		{Err: errors.New("backend down")},
	} {
		gate := make(chan struct{})
		eng.Gate = gate
		tr := startTranslator(t, eng)
		if !tr.Submit(protocol.TranslationRequest{Text: []string{"hello world"}, TgtLang: "deu_Latn"}) {
			t.Fatal("Submit rejected")
		}
		close(gate)
		waitIdle(t, tr)

		// Every event of the finished job must already be buffered.
		var last protocol.TranslationEvent
	drain:
		for {
			select {
			case ev := <-tr.Events():
				last = ev
			default:
				break drain
			}
		}
		if last == nil {
			t.Fatal("no events queued when translator turned idle")
		}
		if s := last.EventStatus(); s != protocol.StatusComplete && s != protocol.StatusError {
			t.Errorf("last queued event = %s, want complete or error", s)
		}
	}
}

func TestTranslator_RejectsMissingTarget(t *testing.T) {
	t.Parallel()

	eng := &translatemock.Engine{}
	tr := startTranslator(t, eng)

	for _, tgt := range []string{"", "Select language", "klingon"} {
		if tr.Submit(protocol.TranslationRequest{Text: []string{"hi"}, TgtLang: tgt}) {
			t.Errorf("Submit accepted target %q", tgt)
		}
	}
	select {
	case ev := <-tr.Events():
		t.Fatalf("unexpected event %s", ev.EventStatus())
	case <-time.After(50 * time.Millisecond):
	}
	if tr.Busy() {
		t.Error("rejected request left translator busy")
	}
}

func TestTranslator_EngineError(t *testing.T) {
	t.Parallel()

	tr := startTranslator(t, &translatemock.Engine{Err: errors.New("quota exceeded")})
	if !tr.Submit(protocol.TranslationRequest{Text: []string{"hi"}, TgtLang: "ita_Latn"}) {
		t.Fatal("Submit rejected")
	}
	events := untilTerminal(t, tr.Events())
	if _, ok := events[len(events)-1].(protocol.TranslationFailed); !ok {
		t.Fatalf("last event = %#v, want error", events[len(events)-1])
	}
	waitIdle(t, tr)
}

func TestTranslator_EmptyText(t *testing.T) {
	t.Parallel()

	eng := &translatemock.Engine{}
	tr := startTranslator(t, eng)
	if !tr.Submit(protocol.TranslationRequest{TgtLang: "fra_Latn"}) {
		t.Fatal("Submit rejected")
	}
	events := untilTerminal(t, tr.Events())
	if _, ok := events[len(events)-1].(protocol.TranslationFailed); !ok {
		t.Fatalf("last event = %#v, want error", events[len(events)-1])
	}
	if eng.CallCount() != 0 {
		t.Error("engine called for empty text")
	}
}
