// Package asr defines the Engine interface for batch speech recognition
// backends that decode a complete recording in overlapping windows.
//
// An engine wraps a speech model (a local whisper.cpp model, a whisper-server
// instance, …) and reports its work through two callbacks: a decode step for
// every incremental best guess, and a [Chunk] for every finished window. The
// chunk stream is the raw, overlapping decoder output; turning it into a
// clean transcript is the caller's job.
//
// Implementations must be safe for concurrent use. The callbacks of a single
// Transcribe call are invoked sequentially from one goroutine.
package asr

import (
	"context"
	"time"

	"github.com/MrWong99/purescribe/pkg/audio"
)

// Default decoding geometry.
const (
	DefaultChunkLength  = 30 * time.Second
	DefaultStrideLength = 5 * time.Second
)

// Request describes one transcription run.
type Request struct {
	// Clip is the decoded recording. Engines must not modify it.
	Clip audio.Clip

	// ChunkLength is the length of each decode window. Zero means
	// [DefaultChunkLength].
	ChunkLength time.Duration

	// StrideLength is the overlap on each side of a window shared with its
	// neighbour. Zero means [DefaultStrideLength].
	StrideLength time.Duration

	// Language is the spoken language as an ISO-639-1 code (e.g. "en").
	// Empty lets the engine auto-detect.
	Language string

	// Sampling enables temperature sampling. The default is deterministic
	// greedy decoding.
	Sampling bool

	// Timestamps requests per-piece timestamps. Engines that cannot produce
	// them return whole-window pieces.
	Timestamps bool
}

// Geometry returns the effective chunk and stride lengths.
func (r Request) Geometry() (chunk, stride time.Duration) {
	chunk, stride = r.ChunkLength, r.StrideLength
	if chunk <= 0 {
		chunk = DefaultChunkLength
	}
	if stride <= 0 {
		stride = DefaultStrideLength
	}
	return chunk, stride
}

// Token is a single decoded vocabulary item.
type Token struct {
	ID   int
	Text string
}

// Piece is one timestamped run of tokens inside a window. Start and End are
// seconds relative to the window start.
type Piece struct {
	// Tokens are the decoded tokens. They may be empty when the backend only
	// reports text.
	Tokens []Token

	// Text is the decoded text. When Tokens carry text it is their
	// concatenation.
	Text string

	Start float64
	End   float64

	// Unresolved is set when the decoder did not close the piece before the
	// window ended; End is meaningless in that case.
	Unresolved bool
}

// TokenIDs returns the IDs of p's tokens.
func (p Piece) TokenIDs() []int { return TokenIDs(p.Tokens) }

// TokenIDs returns the ID of every token in order.
func TokenIDs(tokens []Token) []int {
	ids := make([]int, len(tokens))
	for i, t := range tokens {
		ids[i] = t.ID
	}
	return ids
}

// Chunk is the decoder output for one window. Offset, Length and the
// strides are in seconds on the recording's timeline.
type Chunk struct {
	Index       int
	Offset      float64
	Length      float64
	StrideLeft  float64
	StrideRight float64
	IsLast      bool
	Pieces      []Piece
}

// Step is one incremental decode state: the engine's current best guess for
// the window it is working on.
type Step struct {
	Window int
	Text   string
}

// Result is what a finished run resolves with.
type Result struct {
	Text   string
	Chunks int
}

// Engine is the abstraction over any batch speech recognition backend.
type Engine interface {
	// Transcribe decodes req.Clip window by window. onStep is invoked for
	// every incremental decode step and onChunk once per finished window, in
	// window order. Either callback may be nil.
	//
	// Transcribe returns when every window has been decoded, or early with
	// ctx's error.
	Transcribe(ctx context.Context, req Request, onStep func(Step), onChunk func(Chunk)) (Result, error)
}
