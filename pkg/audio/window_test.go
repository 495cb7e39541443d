package audio_test

import (
	"testing"
	"time"

	"github.com/MrWong99/purescribe/pkg/audio"
)

func TestWindows(t *testing.T) {
	t.Parallel()

	sec := audio.SampleRate
	tests := []struct {
		name  string
		total int
		want  []audio.Window
	}{
		{
			name:  "empty",
			total: 0,
			want:  nil,
		},
		{
			name:  "shorter than one chunk",
			total: 12 * sec,
			want: []audio.Window{
				{Index: 0, Offset: 0, Length: 12 * sec, IsFirst: true, IsLast: true},
			},
		},
		{
			name:  "two windows",
			total: 50 * sec,
			want: []audio.Window{
				{Index: 0, Offset: 0, Length: 30 * sec, StrideRight: 5 * sec, IsFirst: true},
				{Index: 1, Offset: 20 * sec, Length: 30 * sec, StrideLeft: 5 * sec, IsLast: true},
			},
		},
		{
			name:  "short tail",
			total: 55 * sec,
			want: []audio.Window{
				{Index: 0, Offset: 0, Length: 30 * sec, StrideRight: 5 * sec, IsFirst: true},
				{Index: 1, Offset: 20 * sec, Length: 30 * sec, StrideLeft: 5 * sec, StrideRight: 5 * sec},
				{Index: 2, Offset: 40 * sec, Length: 15 * sec, StrideLeft: 5 * sec, IsLast: true},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := audio.Windows(tt.total, audio.Samples(30*time.Second), audio.Samples(5*time.Second))
			if len(got) != len(tt.want) {
				t.Fatalf("got %d windows, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("window %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestWindows_DegenerateStride(t *testing.T) {
	t.Parallel()

	// A stride of half the chunk would never advance; it must still terminate.
	got := audio.Windows(100, 10, 5)
	if len(got) == 0 || !got[len(got)-1].IsLast {
		t.Fatalf("windows did not terminate with a last window: %+v", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Offset <= got[i-1].Offset {
			t.Fatalf("window %d does not advance: %+v", i, got)
		}
	}
}

func TestWindow_Slice(t *testing.T) {
	t.Parallel()

	clip := audio.Clip{Samples: []float32{0, 1, 2, 3, 4}}
	w := audio.Window{Offset: 1, Length: 3}
	got := w.Slice(clip)
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("Slice = %v, want [1 2 3]", got)
	}
}
