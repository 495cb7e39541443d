package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/purescribe/pkg/provider/translate"
	"github.com/MrWong99/purescribe/pkg/provider/translate/mock"
)

func TestTranslateFallback(t *testing.T) {
	req := translate.Request{Text: []string{"hello"}, Source: "eng_Latn", Target: "fra_Latn"}

	tests := []struct {
		name         string
		primary      *mock.Engine
		secondary    *mock.Engine
		req          translate.Request
		want         string
		wantErr      bool
		wantCalls    [2]int
		wantUpdates0 string
	}{
		{
			name:         "primary answers",
			primary:      &mock.Engine{Output: "bonjour"},
			secondary:    &mock.Engine{Output: "salut"},
			req:          req,
			want:         "bonjour",
			wantCalls:    [2]int{1, 0},
			wantUpdates0: "bonjour",
		},
		{
			name:         "fails over",
			primary:      &mock.Engine{Output: "bon", Err: errors.New("rate limited")},
			secondary:    &mock.Engine{Output: "salut"},
			req:          req,
			want:         "salut",
			wantCalls:    [2]int{1, 1},
			wantUpdates0: "bon",
		},
		{
			name:      "invalid request reaches no backend",
			primary:   &mock.Engine{},
			secondary: &mock.Engine{},
			req:       translate.Request{Source: "eng_Latn", Target: "fra_Latn"},
			wantErr:   true,
			wantCalls: [2]int{0, 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewTranslateFallback(tt.primary, "openai", FallbackConfig{})
			f.AddFallback("ollama", tt.secondary)

			var updates []string
			got, err := f.Translate(context.Background(), tt.req, func(s string) { updates = append(updates, s) })
			if tt.wantErr {
				if !errors.Is(err, translate.ErrEmptyText) {
					t.Fatalf("err = %v, want ErrEmptyText", err)
				}
			} else if err != nil || got != tt.want {
				t.Fatalf("Translate = %q, %v; want %q", got, err, tt.want)
			}
			if c := [2]int{tt.primary.CallCount(), tt.secondary.CallCount()}; c != tt.wantCalls {
				t.Errorf("calls = %v, want %v", c, tt.wantCalls)
			}
			if tt.wantUpdates0 != "" && (len(updates) == 0 || updates[0] != tt.wantUpdates0) {
				t.Errorf("updates = %v", updates)
			}
			if s := f.States(); len(s) != 2 {
				t.Errorf("states = %v", s)
			}
		})
	}
}
