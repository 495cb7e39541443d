// Package translate defines the Engine interface for text translation
// backends.
//
// An engine translates a batch of text lines between two languages named by
// FLORES-200 codes (see package language) and streams its best guess while
// decoding. Backends range from hosted chat-completion models to local
// servers; all of them look the same to the translation worker.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/purescribe/pkg/language"
)

// ErrEmptyText is returned when a request carries no text to translate.
var ErrEmptyText = errors.New("translate: no text")

// Request describes one translation run.
type Request struct {
	// Text holds the lines to translate, in order.
	Text []string
	// Source is the FLORES-200 code of the input language.
	Source string
	// Target is the FLORES-200 code of the output language.
	Target string
}

// Validate checks that r names two known languages and carries text.
func (r Request) Validate() error {
	if len(r.Text) == 0 || strings.TrimSpace(strings.Join(r.Text, "")) == "" {
		return ErrEmptyText
	}
	if !language.Valid(r.Source) {
		return fmt.Errorf("translate: unknown source language %q", r.Source)
	}
	if !language.Valid(r.Target) {
		return fmt.Errorf("translate: unknown target language %q", r.Target)
	}
	return nil
}

// Engine is the abstraction over any translation backend.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// Translate translates req.Text and returns the final output. onUpdate,
	// if non-nil, receives the full current best-guess output after every
	// decode step; it is called sequentially from one goroutine.
	Translate(ctx context.Context, req Request, onUpdate func(output string)) (string, error)
}
