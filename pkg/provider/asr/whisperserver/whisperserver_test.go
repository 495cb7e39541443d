package whisperserver_test

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/purescribe/pkg/audio"
	"github.com/MrWong99/purescribe/pkg/provider/asr"
	"github.com/MrWong99/purescribe/pkg/provider/asr/whisperserver"
)

// ---- helpers ----------------------------------------------------------------

// newMockServer creates a test server that answers POST /inference with the
// given verbose_json segments and records the form fields of every request.
func newMockServer(t *testing.T, segments []map[string]any, callCount *atomic.Int32, fields *sync.Map) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, _, err := r.FormFile("file"); err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		if callCount != nil {
			callCount.Add(1)
		}
		if fields != nil {
			for k, v := range r.MultipartForm.Value {
				fields.Store(k, v[0])
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"text": "ignored", "segments": segments})
	}))
}

// makeSpeech returns d of a 440 Hz sine wave, well above the silence threshold.
func makeSpeech(d time.Duration) audio.Clip {
	n := audio.Samples(d)
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/audio.SampleRate))
	}
	return audio.Clip{Samples: s}
}

// ---- construction -----------------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	if _, err := whisperserver.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNew_WithOptions_DoesNotError(t *testing.T) {
	e, err := whisperserver.New("http://localhost:8080",
		whisperserver.WithLanguage("de"),
		whisperserver.WithSilenceThreshold(0.01),
		whisperserver.WithHTTPClient(http.DefaultClient),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e == nil {
		t.Fatal("expected non-nil Engine")
	}
}

// ---- transcription ----------------------------------------------------------

func TestTranscribe_MapsSegmentsToPieces(t *testing.T) {
	var calls atomic.Int32
	var fields sync.Map
	srv := newMockServer(t, []map[string]any{
		{"text": " Hello", "start": 0.0, "end": 1.5, "tokens": []int{50364, 2425}},
		{"text": " world.", "start": 1.5, "end": 3.0, "tokens": []int{1002, 13}},
	}, &calls, &fields)
	defer srv.Close()

	e, _ := whisperserver.New(srv.URL, whisperserver.WithLanguage("en"))

	var (
		steps  []asr.Step
		chunks []asr.Chunk
	)
	res, err := e.Transcribe(context.Background(), asr.Request{Clip: makeSpeech(12 * time.Second)},
		func(s asr.Step) { steps = append(steps, s) },
		func(c asr.Chunk) { chunks = append(chunks, c) },
	)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}
	if res.Chunks != 1 || len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}

	c := chunks[0]
	if !c.IsLast || c.Offset != 0 || c.Length != 12 {
		t.Errorf("chunk geometry = %+v", c)
	}
	if len(c.Pieces) != 2 {
		t.Fatalf("pieces = %d, want 2", len(c.Pieces))
	}
	if p := c.Pieces[1]; p.Text != " world." || p.Start != 1.5 || p.End != 3 || p.Unresolved {
		t.Errorf("piece[1] = %+v", p)
	}
	if ids := c.Pieces[0].TokenIDs(); len(ids) != 2 || ids[1] != 2425 {
		t.Errorf("piece[0] token IDs = %v", ids)
	}

	if len(steps) != 2 || steps[1].Text != "Hello world." {
		t.Errorf("steps = %+v", steps)
	}

	if v, _ := fields.Load("response_format"); v != "verbose_json" {
		t.Errorf("response_format = %v, want verbose_json", v)
	}
	if v, _ := fields.Load("temperature"); v != "0.0" {
		t.Errorf("temperature = %v, want 0.0 for greedy decoding", v)
	}
	if v, _ := fields.Load("language"); v != "en" {
		t.Errorf("language = %v, want en", v)
	}
}

func TestTranscribe_RequestLanguageOverridesDefault(t *testing.T) {
	var fields sync.Map
	srv := newMockServer(t, nil, nil, &fields)
	defer srv.Close()

	e, _ := whisperserver.New(srv.URL, whisperserver.WithLanguage("en"))
	if _, err := e.Transcribe(context.Background(), asr.Request{Clip: makeSpeech(time.Second), Language: "de"}, nil, nil); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if v, _ := fields.Load("language"); v != "de" {
		t.Errorf("language = %v, want de", v)
	}
}

func TestTranscribe_SilentWindowSkipsRequest(t *testing.T) {
	var calls atomic.Int32
	srv := newMockServer(t, nil, &calls, nil)
	defer srv.Close()

	e, _ := whisperserver.New(srv.URL)
	var chunks int
	_, err := e.Transcribe(context.Background(),
		asr.Request{Clip: audio.Clip{Samples: make([]float32, audio.Samples(5*time.Second))}},
		nil, func(asr.Chunk) { chunks++ })
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("server calls = %d, want 0 for silence", calls.Load())
	}
	if chunks != 1 {
		t.Errorf("chunks = %d, want 1 (empty chunk still reported)", chunks)
	}
}

func TestTranscribe_MultipleWindows(t *testing.T) {
	var calls atomic.Int32
	srv := newMockServer(t, []map[string]any{
		{"text": " x", "start": 6.0, "end": 7.0},
	}, &calls, nil)
	defer srv.Close()

	e, _ := whisperserver.New(srv.URL)
	var chunks []asr.Chunk
	_, err := e.Transcribe(context.Background(), asr.Request{Clip: makeSpeech(50 * time.Second)}, nil,
		func(c asr.Chunk) { chunks = append(chunks, c) })
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if calls.Load() != 2 || len(chunks) != 2 {
		t.Fatalf("calls = %d chunks = %d, want 2/2", calls.Load(), len(chunks))
	}
	if chunks[1].Offset != 20 || chunks[1].StrideLeft != 5 {
		t.Errorf("second chunk = %+v", chunks[1])
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e, _ := whisperserver.New(srv.URL)
	if _, err := e.Transcribe(context.Background(), asr.Request{Clip: makeSpeech(time.Second)}, nil, nil); err == nil {
		t.Fatal("expected error for HTTP 500, got nil")
	}
}

func TestPing(t *testing.T) {
	srv := newMockServer(t, nil, nil, nil)
	defer srv.Close()

	e, _ := whisperserver.New(srv.URL)
	// The mock answers GET / with 404, which still proves reachability.
	if err := e.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	srv.Close()
	if err := e.Ping(context.Background()); err == nil {
		t.Fatal("expected error after server shutdown")
	}
}
