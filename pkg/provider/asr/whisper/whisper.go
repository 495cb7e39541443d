// Package whisper provides an asr.Engine backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
//
// The model is loaded once and shared. Every decode window gets a fresh
// whisper context; runs are serialised because the bindings are not safe
// for concurrent inference on one model.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/purescribe/pkg/provider/asr"
)

const defaultLanguage = "en"

// Compile-time assertion that Engine satisfies asr.Engine.
var _ asr.Engine = (*Engine)(nil)

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithLanguage sets the ISO-639-1 language code used when a request does not
// name one (e.g., "en", "de", "auto"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(e *Engine) { e.language = lang }
}

// WithThreads sets the number of CPU threads per inference. Zero keeps the
// library default.
func WithThreads(n uint) Option {
	return func(e *Engine) { e.threads = n }
}

// WithBeamSize sets the beam width for deterministic decoding. Zero keeps
// the library default (greedy).
func WithBeamSize(n int) Option {
	return func(e *Engine) { e.beamSize = n }
}

// Engine implements asr.Engine using whisper.cpp Go bindings (CGO).
type Engine struct {
	model    whisperlib.Model
	language string
	threads  uint
	beamSize int

	mu sync.Mutex // serialises inference
}

// Load creates an Engine from the whisper.cpp model file at modelPath. The
// caller must call Close when the engine is no longer needed.
func Load(modelPath string, opts ...Option) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	e := &Engine{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Close releases the whisper model.
func (e *Engine) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}

// Transcribe decodes req.Clip window by window. A decode step is reported
// for every segment whisper.cpp emits, carrying the window text so far.
func (e *Engine) Transcribe(ctx context.Context, req asr.Request, onStep func(asr.Step), onChunk func(asr.Chunk)) (asr.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	lang := req.Language
	if lang == "" {
		lang = e.language
	}
	decode := func(_ context.Context, samples []float32, step func(string)) ([]asr.Piece, error) {
		return e.decodeWindow(samples, lang, req, step)
	}
	return asr.RunWindowed(ctx, req, decode, onStep, onChunk)
}

// decodeWindow runs whisper.cpp inference over one window using a fresh
// context and returns its segments as pieces.
func (e *Engine) decodeWindow(samples []float32, lang string, req asr.Request, step func(string)) ([]asr.Piece, error) {
	// Each context is NOT thread-safe, but the model can be shared.
	wctx, err := e.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}
	wctx.SetTranslate(false)
	wctx.SetTokenTimestamps(req.Timestamps)
	if e.threads > 0 {
		wctx.SetThreads(e.threads)
	}
	if !req.Sampling {
		wctx.SetTemperature(0)
		if e.beamSize > 0 {
			wctx.SetBeamSize(e.beamSize)
		}
	}

	var sb strings.Builder
	onSegment := func(seg whisperlib.Segment) {
		sb.WriteString(seg.Text)
		step(strings.TrimSpace(sb.String()))
	}
	if err := wctx.Process(samples, nil, onSegment, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var pieces []asr.Piece
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		if strings.TrimSpace(seg.Text) == "" {
			continue
		}
		p := asr.Piece{
			Text:       seg.Text,
			Start:      seg.Start.Seconds(),
			End:        seg.End.Seconds(),
			Unresolved: seg.End <= seg.Start,
		}
		for _, tok := range seg.Tokens {
			if !wctx.IsText(tok) {
				continue
			}
			p.Tokens = append(p.Tokens, asr.Token{ID: tok.Id, Text: tok.Text})
		}
		pieces = append(pieces, p)
	}
	return pieces, nil
}
