package audio

// Window is one overlapping decode window over a [Clip]. All positions are
// sample indexes at [SampleRate].
//
// StrideLeft and StrideRight are the overlap regions shared with the
// previous and next window. Content inside them is decoded twice and belongs
// to the neighbour; the first window has no left stride and the last window
// has no right stride.
type Window struct {
	Index       int
	Offset      int
	Length      int
	StrideLeft  int
	StrideRight int
	IsFirst     bool
	IsLast      bool
}

// Slice returns the samples covered by w. The returned slice aliases the
// clip's backing array.
func (w Window) Slice(c Clip) []float32 {
	return c.Samples[w.Offset : w.Offset+w.Length]
}

// Windows splits total samples into windows of chunk samples that advance by
// chunk-2*stride, so consecutive windows overlap by 2*stride. A stride that
// leaves no forward progress is clamped so every window advances by at least
// one sample. A non-positive chunk yields a single window spanning the whole
// input.
func Windows(total, chunk, stride int) []Window {
	if total <= 0 {
		return nil
	}
	if chunk <= 0 || chunk >= total {
		return []Window{{Length: total, IsFirst: true, IsLast: true}}
	}
	stride = max(stride, 0)
	jump := chunk - 2*stride
	if jump <= 0 {
		jump = 1
		stride = (chunk - 1) / 2
	}

	var out []Window
	for offset := 0; ; offset += jump {
		end := offset + chunk
		w := Window{
			Index:   len(out),
			Offset:  offset,
			Length:  min(end, total) - offset,
			IsFirst: offset == 0,
			IsLast:  end >= total,
		}
		if !w.IsFirst {
			w.StrideLeft = stride
		}
		if !w.IsLast {
			w.StrideRight = stride
		}
		out = append(out, w)
		if w.IsLast {
			return out
		}
	}
}
