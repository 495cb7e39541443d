package resilience

import (
	"context"

	"github.com/MrWong99/purescribe/pkg/provider/translate"
)

var _ translate.Engine = (*TranslateFallback)(nil)

// TranslateFallback implements translate.Engine with failover across several
// backends. A backend that fails mid-stream is replaced by the next one,
// which streams its own output from the start.
type TranslateFallback struct {
	group *FallbackGroup[translate.Engine]
}

// NewTranslateFallback creates a [TranslateFallback] with primary as the
// preferred backend.
func NewTranslateFallback(primary translate.Engine, primaryName string, cfg FallbackConfig) *TranslateFallback {
	return &TranslateFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *TranslateFallback) AddFallback(name string, e translate.Engine) {
	f.group.AddFallback(name, e)
}

// States reports the breaker state of every backend by name.
func (f *TranslateFallback) States() map[string]State { return f.group.States() }

// Translate runs req on the first healthy backend. Invalid requests fail
// without reaching any backend.
func (f *TranslateFallback) Translate(ctx context.Context, req translate.Request, onUpdate func(string)) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	return ExecuteWithResult(ctx, f.group, func(e translate.Engine) (string, error) {
		return e.Translate(ctx, req, onUpdate)
	})
}
