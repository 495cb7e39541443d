package coordinator

import (
	"encoding/json"
	"testing"

	"github.com/MrWong99/purescribe/internal/engine"
	"github.com/MrWong99/purescribe/internal/protocol"
	"github.com/MrWong99/purescribe/internal/reconcile"
)

func TestTranscriptionJob_StatusNeverMovesBackwards(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		events []protocol.TranscriptionEvent
		want   TranscriptionStatus
	}{
		{
			name:   "download after loading",
			events: []protocol.TranscriptionEvent{protocol.Loading{Status: protocol.LoadingStarted}, protocol.Downloading{}},
			want:   TranscriptionDownloading,
		},
		{
			name: "late loading after running",
			events: []protocol.TranscriptionEvent{
				protocol.Loading{Status: protocol.LoadingSuccess},
				protocol.Loading{Status: protocol.LoadingStarted},
				protocol.Downloading{},
			},
			want: TranscriptionRunning,
		},
		{
			name:   "partial after done",
			events: []protocol.TranscriptionEvent{protocol.InferenceDone{}, protocol.ResultPartial{}},
			want:   TranscriptionDone,
		},
		{
			name:   "done after failure",
			events: []protocol.TranscriptionEvent{protocol.Failed{Error: "x"}, protocol.InferenceDone{}},
			want:   TranscriptionFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			j := TranscriptionJob{Status: TranscriptionIdle}
			for _, ev := range tt.events {
				j.apply(ev)
			}
			if j.Status != tt.want {
				t.Errorf("status = %q, want %q", j.Status, tt.want)
			}
		})
	}
}

func TestTranscriptionJob_ResultReplacesSegmentsAndClearsPartial(t *testing.T) {
	t.Parallel()

	j := TranscriptionJob{Status: TranscriptionIdle}
	j.apply(protocol.ResultPartial{Result: protocol.PartialResult{Text: "hel"}})
	if j.LastPartial == nil || j.LastPartial.Text != "hel" {
		t.Fatalf("partial = %+v", j.LastPartial)
	}

	segs := []reconcile.Segment{{Index: 0, Text: "hello", Start: 0, End: 2}}
	j.apply(protocol.Result{Results: segs, CompletedUntil: 2})
	segs[0].Text = "mutated"

	if j.LastPartial != nil {
		t.Error("partial not cleared by result")
	}
	if len(j.Segments) != 1 || j.Segments[0].Text != "hello" || j.CompletedUntil != 2 {
		t.Errorf("job = %+v", j)
	}
}

func TestTranscriptionJob_CloneIsIndependent(t *testing.T) {
	t.Parallel()

	j := TranscriptionJob{
		Segments: []reconcile.Segment{{Text: "a"}},
		Download: &engine.DownloadProgress{Progress: 10},
	}
	c := j.clone()
	c.Segments[0].Text = "b"
	c.Download.Progress = 90
	if j.Segments[0].Text != "a" || j.Download.Progress != 10 {
		t.Errorf("clone shares memory with original: %+v", j)
	}
	if got := (TranscriptionJob{}).clone().Segments; got == nil {
		t.Error("clone of empty job has nil segments")
	}
}

func TestTranslationJob_Apply(t *testing.T) {
	t.Parallel()

	j := TranslationJob{Status: TranslationIdle, FinalText: "old"}
	steps := []struct {
		ev   protocol.TranslationEvent
		want TranslationStatus
	}{
		{protocol.Initiate{Target: "fra_Latn"}, TranslationDownloading},
		{protocol.Progress{}, TranslationDownloading},
		{protocol.Update{Output: "bon"}, TranslationTranslating},
		{protocol.Progress{}, TranslationTranslating},
		{protocol.Complete{Output: "bonjour"}, TranslationComplete},
	}
	for i, s := range steps {
		j.apply(s.ev)
		if j.Status != s.want {
			t.Fatalf("step %d: status = %q, want %q", i, j.Status, s.want)
		}
		if i == 0 && j.FinalText != "" {
			t.Error("initiate kept previous output")
		}
	}
	if j.FinalText != "bonjour" || j.PartialText != "" || j.Status.InFlight() {
		t.Errorf("job = %+v", j)
	}
}

func TestUpdate_MarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		u    Update
		want string
	}{
		{
			name: "transcription",
			u:    Update{JobID: "j1", Transcription: protocol.InferenceDone{}},
			want: `{"worker":"transcription","job_id":"j1","message":{"type":"inference-done"}}`,
		},
		{
			name: "translation",
			u:    Update{JobID: "j1", Translation: protocol.Complete{Output: "hi"}},
			want: `{"worker":"translation","job_id":"j1","message":{"status":"complete","output":"hi"}}`,
		},
		{
			name: "reset",
			u:    Update{Reset: true},
			want: `{"worker":"coordinator","message":{"type":"reset"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := json.Marshal(tt.u)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got  %s\nwant %s", got, tt.want)
			}
		})
	}
}
