package asr_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/purescribe/pkg/audio"
	"github.com/MrWong99/purescribe/pkg/provider/asr"
)

func clipOf(d time.Duration) audio.Clip {
	return audio.Clip{Samples: make([]float32, audio.Samples(d))}
}

func TestRequest_Geometry(t *testing.T) {
	t.Parallel()

	chunk, stride := asr.Request{}.Geometry()
	if chunk != 30*time.Second || stride != 5*time.Second {
		t.Errorf("defaults = %v/%v, want 30s/5s", chunk, stride)
	}
	chunk, stride = asr.Request{ChunkLength: 10 * time.Second, StrideLength: time.Second}.Geometry()
	if chunk != 10*time.Second || stride != time.Second {
		t.Errorf("explicit = %v/%v, want 10s/1s", chunk, stride)
	}
}

func TestTokenIDs(t *testing.T) {
	t.Parallel()

	p := asr.Piece{Tokens: []asr.Token{{ID: 50364}, {ID: 2425, Text: " hello"}, {ID: 1002}}}
	want := []int{50364, 2425, 1002}
	if got := p.TokenIDs(); !slices.Equal(got, want) {
		t.Errorf("Piece.TokenIDs = %v, want %v", got, want)
	}
	if got := asr.TokenIDs(nil); len(got) != 0 {
		t.Errorf("TokenIDs(nil) = %v, want empty", got)
	}
}

func TestRunWindowed_ChunkGeometry(t *testing.T) {
	t.Parallel()

	var (
		chunks []asr.Chunk
		steps  []asr.Step
	)
	decode := func(_ context.Context, samples []float32, onStep func(string)) ([]asr.Piece, error) {
		onStep("partial")
		return []asr.Piece{{Text: " hello", Start: 0, End: 1}}, nil
	}

	res, err := asr.RunWindowed(context.Background(), asr.Request{Clip: clipOf(50 * time.Second)}, decode,
		func(s asr.Step) { steps = append(steps, s) },
		func(c asr.Chunk) { chunks = append(chunks, c) },
	)
	if err != nil {
		t.Fatalf("RunWindowed: %v", err)
	}
	if res.Chunks != 2 || len(chunks) != 2 {
		t.Fatalf("chunks = %d (result %d), want 2", len(chunks), res.Chunks)
	}
	if res.Text != "hello hello" {
		t.Errorf("Text = %q, want %q", res.Text, "hello hello")
	}

	first, second := chunks[0], chunks[1]
	if first.Offset != 0 || first.Length != 30 || first.StrideLeft != 0 || first.StrideRight != 5 || first.IsLast {
		t.Errorf("first chunk = %+v", first)
	}
	if second.Offset != 20 || second.Length != 30 || second.StrideLeft != 5 || second.StrideRight != 0 || !second.IsLast {
		t.Errorf("second chunk = %+v", second)
	}
	if len(steps) != 2 || steps[0].Window != 0 || steps[1].Window != 1 {
		t.Errorf("steps = %+v", steps)
	}
}

func TestRunWindowed_DecodeError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	decode := func(context.Context, []float32, func(string)) ([]asr.Piece, error) {
		return nil, boom
	}
	_, err := asr.RunWindowed(context.Background(), asr.Request{Clip: clipOf(time.Second)}, decode, nil, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
}

func TestRunWindowed_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	decode := func(context.Context, []float32, func(string)) ([]asr.Piece, error) {
		called = true
		return nil, nil
	}
	_, err := asr.RunWindowed(ctx, asr.Request{Clip: clipOf(time.Second)}, decode, nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if called {
		t.Error("decoder ran on a cancelled context")
	}
}
