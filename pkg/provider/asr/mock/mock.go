// Package mock provides a scripted test double for asr.Engine.
//
// Engine decodes any clip through asr.RunWindowed, so callers observe real
// window geometry while controlling the text and timing of every window.
//
// Example:
//
//	eng := &mock.Engine{StepsPerWindow: 35}
//	res, _ := eng.Transcribe(ctx, asr.Request{Clip: clip}, onStep, onChunk)
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/purescribe/pkg/provider/asr"
)

// Engine is a mock implementation of asr.Engine.
type Engine struct {
	mu sync.Mutex

	// StepsPerWindow is the number of decode steps reported for each window.
	StepsPerWindow int

	// Pieces returns the pieces for the window with the given index. If nil,
	// every window yields a single resolved piece "window N" one second long,
	// starting at 0 in the first window and 6s into later ones so it lies
	// past the default left stride.
	Pieces func(window int) []asr.Piece

	// Gate, if non-nil, is received from before each window is decoded, so a
	// test can hold the engine mid-run.
	Gate <-chan struct{}

	// Err, if non-nil, is returned by Transcribe before decoding anything.
	Err error

	// Calls records the request of every Transcribe call.
	Calls []asr.Request
}

// Transcribe records the call and decodes req.Clip window by window.
func (e *Engine) Transcribe(ctx context.Context, req asr.Request, onStep func(asr.Step), onChunk func(asr.Chunk)) (asr.Result, error) {
	e.mu.Lock()
	e.Calls = append(e.Calls, req)
	err, steps, pieces, gate := e.Err, e.StepsPerWindow, e.Pieces, e.Gate
	e.mu.Unlock()

	if err != nil {
		return asr.Result{}, err
	}

	window := 0
	decode := func(ctx context.Context, _ []float32, onStep func(string)) ([]asr.Piece, error) {
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		idx := window
		window++
		for i := range steps {
			onStep(fmt.Sprintf("window %d step %d", idx, i+1))
		}
		if pieces != nil {
			return pieces(idx), nil
		}
		start := 0.0
		if idx > 0 {
			start = 6
		}
		return []asr.Piece{{
			Tokens: []asr.Token{{ID: 1000 + idx, Text: fmt.Sprintf(" window %d", idx)}},
			Text:   fmt.Sprintf(" window %d", idx),
			Start:  start,
			End:    start + 1,
		}}, nil
	}
	return asr.RunWindowed(ctx, req, decode, onStep, onChunk)
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (e *Engine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Calls)
}

// Ensure Engine implements asr.Engine at compile time.
var _ asr.Engine = (*Engine)(nil)
