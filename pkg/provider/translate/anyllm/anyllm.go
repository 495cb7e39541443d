// Package anyllm provides a translation engine backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more.
//
// Usage:
//
//	e, err := anyllm.New("anthropic", "claude-3-5-haiku-latest", anyllmlib.WithAPIKey("sk-ant-..."))
//	out, err := e.Translate(ctx, req, onUpdate)
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/purescribe/pkg/provider/translate"
)

// Providers lists the backend names accepted by [New].
var Providers = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek",
	"mistral", "groq", "llamacpp", "llamafile",
}

// deltaFunc streams the text deltas of one completion. The error channel
// yields at most one value once the delta channel is closed.
type deltaFunc func(ctx context.Context, params anyllmlib.CompletionParams) (<-chan string, <-chan error)

// Engine implements translate.Engine by wrapping an any-llm-go backend.
type Engine struct {
	deltas deltaFunc
	model  string
}

// New creates a new Engine backed by the given LLM provider name (one of
// [Providers]). opts are any-llm-go configuration options such as
// anyllmlib.WithAPIKey or anyllmlib.WithBaseURL. Without an API key option
// the backend falls back to its environment variable (OPENAI_API_KEY, …).
func New(providerName string, model string, opts ...anyllmlib.Option) (*Engine, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}
	return &Engine{deltas: backendDeltas(backend), model: model}, nil
}

// createBackend creates the underlying any-llm-go provider for the given provider name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: %s", providerName, strings.Join(Providers, ", "))
	}
}

// backendDeltas adapts an any-llm-go provider's chunk stream to plain text
// deltas.
func backendDeltas(b anyllmlib.Provider) deltaFunc {
	return func(ctx context.Context, params anyllmlib.CompletionParams) (<-chan string, <-chan error) {
		chunks, errs := b.CompletionStream(ctx, params)
		out := make(chan string, 32)
		go func() {
			defer close(out)
			for chunk := range chunks {
				if len(chunk.Choices) == 0 {
					continue
				}
				select {
				case out <- chunk.Choices[0].Delta.Content:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out, errs
	}
}

// Translate implements translate.Engine.
func (e *Engine) Translate(ctx context.Context, req translate.Request, onUpdate func(string)) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	deltas, errs := e.deltas(ctx, buildParams(e.model, req))

	var sb strings.Builder
	for d := range deltas {
		if d == "" {
			continue
		}
		sb.WriteString(d)
		if onUpdate != nil {
			onUpdate(strings.TrimSpace(sb.String()))
		}
	}

	// Check for backend errors after the delta channel is drained.
	if err := <-errs; err != nil {
		return "", fmt.Errorf("anyllm: stream: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", fmt.Errorf("anyllm: empty translation")
	}
	return out, nil
}

// buildParams converts a translate.Request into anyllm CompletionParams.
func buildParams(model string, req translate.Request) anyllmlib.CompletionParams {
	temp := 0.0
	return anyllmlib.CompletionParams{
		Model: model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: translate.SystemPrompt(req)},
			{Role: "user", Content: translate.UserPrompt(req)},
		},
		Temperature: &temp,
	}
}

// Ensure Engine implements translate.Engine at compile time.
var _ translate.Engine = (*Engine)(nil)
