package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/purescribe/pkg/provider/asr"
	"github.com/MrWong99/purescribe/pkg/provider/translate"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	asr         map[string]func(ProviderEntry) (asr.Engine, error)
	translation map[string]func(ProviderEntry) (translate.Engine, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		asr:         make(map[string]func(ProviderEntry) (asr.Engine, error)),
		translation: make(map[string]func(ProviderEntry) (translate.Engine, error)),
	}
}

// RegisterASR registers a speech recognition factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterASR(name string, factory func(ProviderEntry) (asr.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asr[name] = factory
}

// RegisterTranslator registers a translation backend factory under name.
func (r *Registry) RegisterTranslator(name string, factory func(ProviderEntry) (translate.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.translation[name] = factory
}

// CreateASR instantiates a speech recognition engine using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateASR(entry ProviderEntry) (asr.Engine, error) {
	r.mu.RLock()
	factory, ok := r.asr[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcription/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTranslator instantiates a translation backend using the factory
// registered under entry.Name.
func (r *Registry) CreateTranslator(entry ProviderEntry) (translate.Engine, error) {
	r.mu.RLock()
	factory, ok := r.translation[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: translation/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
