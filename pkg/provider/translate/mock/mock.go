// Package mock provides a scripted test double for translate.Engine.
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/MrWong99/purescribe/pkg/provider/translate"
)

// Engine is a mock implementation of translate.Engine.
//
// By default it "translates" by prefixing the joined input with the target
// code and reports one update per word of the output.
type Engine struct {
	mu sync.Mutex

	// Output, if non-empty, is returned instead of the default translation.
	Output string

	// Err, if non-nil, is returned from Translate after any updates.
	Err error

	// Gate, if non-nil, is received from before Translate starts emitting.
	Gate <-chan struct{}

	// Calls records every request passed to Translate.
	Calls []translate.Request
}

// Translate records the call and streams the scripted output word by word.
func (e *Engine) Translate(ctx context.Context, req translate.Request, onUpdate func(string)) (string, error) {
	e.mu.Lock()
	e.Calls = append(e.Calls, req)
	out, err, gate := e.Output, e.Err, e.Gate
	e.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if out == "" {
		out = "[" + req.Target + "] " + strings.Join(req.Text, " ")
	}

	words := strings.Fields(out)
	for i := range words {
		if onUpdate != nil {
			onUpdate(strings.Join(words[:i+1], " "))
		}
	}
	if err != nil {
		return "", err
	}
	return out, nil
}

// CallCount returns the number of Translate calls. Thread-safe.
func (e *Engine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Calls)
}

// Ensure Engine implements translate.Engine at compile time.
var _ translate.Engine = (*Engine)(nil)
