package asr

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/purescribe/pkg/audio"
)

// WindowDecoder decodes the samples of a single window and returns its
// pieces with window-relative timestamps. It reports incremental best
// guesses through onStep, which is never nil.
type WindowDecoder func(ctx context.Context, samples []float32, onStep func(text string)) ([]Piece, error)

// RunWindowed drives decode over the overlapping windows of req.Clip and
// translates the results into [Step] and [Chunk] callbacks. Backends that
// decode one window at a time build their Transcribe on top of it.
//
// The returned Result.Text is the raw concatenation of every window's text,
// overlaps included.
func RunWindowed(ctx context.Context, req Request, decode WindowDecoder, onStep func(Step), onChunk func(Chunk)) (Result, error) {
	chunkLen, strideLen := req.Geometry()
	windows := audio.Windows(req.Clip.Len(), audio.Samples(chunkLen), audio.Samples(strideLen))

	var sb strings.Builder
	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		step := func(text string) {
			if onStep != nil {
				onStep(Step{Window: w.Index, Text: text})
			}
		}
		pieces, err := decode(ctx, w.Slice(req.Clip), step)
		if err != nil {
			return Result{}, fmt.Errorf("asr: window %d: %w", w.Index, err)
		}

		for _, p := range pieces {
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(strings.TrimSpace(p.Text))
		}
		if onChunk != nil {
			onChunk(Chunk{
				Index:       w.Index,
				Offset:      audio.Seconds(w.Offset),
				Length:      audio.Seconds(w.Length),
				StrideLeft:  audio.Seconds(w.StrideLeft),
				StrideRight: audio.Seconds(w.StrideRight),
				IsLast:      w.IsLast,
				Pieces:      pieces,
			})
		}
	}
	return Result{Text: sb.String(), Chunks: len(windows)}, nil
}
