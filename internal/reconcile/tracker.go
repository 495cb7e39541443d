package reconcile

import (
	"slices"

	"github.com/MrWong99/purescribe/pkg/provider/asr"
)

// DefaultPartialEvery is the decode-step interval at which a Tracker
// surfaces a partial best guess.
const DefaultPartialEvery = 10

// Partial is an in-progress best guess that has not been reconciled into
// segments yet. Start is where the settled transcript currently ends.
type Partial struct {
	Text  string
	Start int
}

// Tracker folds the events of one transcription run: it keeps the chunk
// history, re-reconciles it on every chunk and throttles decode steps into
// partials. A Tracker belongs to a single goroutine.
type Tracker struct {
	stride   float64
	every    int
	steps    int
	chunks   []asr.Chunk
	segments []Segment
}

// NewTracker returns a Tracker for a run decoded with the given stride, in
// seconds. A partialEvery below 1 means [DefaultPartialEvery].
func NewTracker(stride float64, partialEvery int) *Tracker {
	if partialEvery < 1 {
		partialEvery = DefaultPartialEvery
	}
	return &Tracker{stride: stride, every: partialEvery}
}

// Step records one decode step. Every partialEvery-th step it returns the
// partial to publish and true.
func (t *Tracker) Step(text string) (Partial, bool) {
	t.steps++
	if t.steps%t.every != 0 {
		return Partial{}, false
	}
	return Partial{Text: text, Start: t.CompletedUntil()}, true
}

// AddChunk archives c and returns the segment list recomputed over the full
// history. The returned slice is owned by the caller.
func (t *Tracker) AddChunk(c asr.Chunk) []Segment {
	c.Pieces = slices.Clone(c.Pieces)
	t.chunks = append(t.chunks, c)
	t.segments = Reconcile(t.chunks, t.stride)
	return slices.Clone(t.segments)
}

// Segments returns a copy of the current segment list.
func (t *Tracker) Segments() []Segment { return slices.Clone(t.segments) }

// CompletedUntil returns the end of the last reconciled segment, or 0.
func (t *Tracker) CompletedUntil() int { return CompletedUntil(t.segments) }

// Steps returns the number of decode steps seen so far.
func (t *Tracker) Steps() int { return t.steps }

// Chunks returns the number of archived chunks.
func (t *Tracker) Chunks() int { return len(t.chunks) }
