// Package reconcile turns the overlapping per-window output of an ASR engine
// into a clean, ordered list of timestamped transcript segments.
//
// Windowed decoding re-emits speech near window boundaries. [Reconcile]
// recomputes the whole segment list from the full chunk history every time,
// so the result is always consistent with everything decoded so far and
// never depends on earlier calls.
package reconcile

import (
	"math"
	"slices"
	"strings"

	"github.com/MrWong99/purescribe/pkg/provider/asr"
)

// unresolvedEndFactor scales the stride to estimate the end of a piece the
// decoder left open.
const unresolvedEndFactor = 0.9

// eps absorbs float noise when comparing sample-derived second offsets.
const eps = 1e-6

// Segment is one reconciled transcript unit. Times are whole seconds on the
// recording's timeline.
type Segment struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// span is a piece placed on the absolute timeline.
type span struct {
	chunk    int
	start    float64
	end      float64
	resolved bool
	tokens   []asr.Token
	text     string
}

// Reconcile derives the segment list for a chunk history decoded with the
// given stride, in seconds. It is a pure function of its arguments.
//
// Each window owns the pieces that start between its left and right stride;
// pieces inside a stride are left to the neighbouring window. When the first
// kept piece of a window repeats tokens at the tail of the previous window's
// last kept piece, the repeated prefix is trimmed. Segments are sorted by
// start time and indexed densely from zero.
func Reconcile(chunks []asr.Chunk, stride float64) []Segment {
	var kept []span
	for ci, c := range chunks {
		lo := c.Offset + c.StrideLeft
		hi := c.Offset + c.Length - c.StrideRight
		for _, p := range c.Pieces {
			start := c.Offset + p.Start
			if c.StrideLeft > 0 && start < lo-eps {
				continue
			}
			if c.StrideRight > 0 && start >= hi-eps {
				continue
			}

			sp := span{
				chunk:    ci,
				start:    start,
				end:      c.Offset + p.End,
				resolved: !p.Unresolved,
				tokens:   p.Tokens,
				text:     pieceText(p.Tokens, p.Text),
			}
			if n := len(kept); n > 0 && kept[n-1].chunk != ci {
				var ok bool
				if sp, ok = trimOverlap(kept[n-1], sp); !ok {
					continue
				}
			}
			kept = append(kept, sp)
		}
	}

	slices.SortStableFunc(kept, func(a, b span) int {
		switch {
		case a.start < b.start:
			return -1
		case a.start > b.start:
			return 1
		}
		return 0
	})

	segments := make([]Segment, 0, len(kept))
	for _, sp := range kept {
		text := strings.TrimSpace(sp.text)
		if text == "" {
			continue
		}
		start := round(sp.start)
		end := 0
		if sp.resolved {
			end = round(sp.end)
		}
		if end == 0 {
			end = round(sp.start + unresolvedEndFactor*stride)
		}
		segments = append(segments, Segment{
			Index: len(segments),
			Text:  text,
			Start: start,
			End:   max(end, start),
		})
	}
	return segments
}

// CompletedUntil returns the timestamp up to which segments has settled
// the transcript: the end of the last segment, or 0 when there is none.
func CompletedUntil(segments []Segment) int {
	if len(segments) == 0 {
		return 0
	}
	return segments[len(segments)-1].End
}

// trimOverlap removes the prefix of next that repeats the tail of prev. ok
// is false when nothing of next remains.
func trimOverlap(prev, next span) (span, bool) {
	if len(prev.tokens) == 0 || len(next.tokens) == 0 {
		return next, true
	}
	k := longestOverlap(asr.TokenIDs(prev.tokens), asr.TokenIDs(next.tokens))
	if k == len(next.tokens) {
		return next, false
	}
	if k < min(2, len(next.tokens)) {
		return next, true
	}
	next.tokens = next.tokens[k:]
	if hasTokenText(next.tokens) {
		next.text = pieceText(next.tokens, "")
	}
	return next, true
}

// longestOverlap returns the largest k such that the last k elements of a
// equal the first k elements of b.
func longestOverlap(a, b []int) int {
	for k := min(len(a), len(b)); k > 0; k-- {
		if slices.Equal(a[len(a)-k:], b[:k]) {
			return k
		}
	}
	return 0
}

func hasTokenText(tokens []asr.Token) bool {
	for _, t := range tokens {
		if t.Text != "" {
			return true
		}
	}
	return false
}

// pieceText prefers the concatenated token texts and falls back to text
// when the backend reported IDs only.
func pieceText(tokens []asr.Token, text string) string {
	if !hasTokenText(tokens) {
		return text
	}
	var sb strings.Builder
	for _, t := range tokens {
		sb.WriteString(t.Text)
	}
	return sb.String()
}

// round rounds half to even: 6.5 -> 6, 7.5 -> 8.
func round(x float64) int {
	return int(math.RoundToEven(x))
}
