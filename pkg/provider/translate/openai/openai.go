// Package openai provides a translation engine backed by the OpenAI chat
// completions API or any server that speaks it.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/purescribe/pkg/provider/translate"
)

// Engine implements translate.Engine using streaming chat completions.
type Engine struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the engine.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	maxRetries   int
}

// Option is a functional option for Engine.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets how often the client retries a failed request.
// Negative values keep the SDK default.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// New constructs a new OpenAI translation Engine.
func New(apiKey string, model string, opts ...Option) (*Engine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}

	return &Engine{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Translate implements translate.Engine. Each streamed delta extends the
// output; onUpdate receives the accumulated text after every non-empty one.
func (e *Engine) Translate(ctx context.Context, req translate.Request, onUpdate func(string)) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	stream := e.client.Chat.Completions.NewStreaming(ctx, buildParams(e.model, req))
	defer stream.Close()

	var sb strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		sb.WriteString(delta)
		if onUpdate != nil {
			onUpdate(strings.TrimSpace(sb.String()))
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("openai: stream: %w", err)
	}

	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", fmt.Errorf("openai: empty translation")
	}
	return out, nil
}

// buildParams converts a translate.Request into OpenAI chat params.
// Temperature is pinned to 0 for deterministic output.
func buildParams(model string, req translate.Request) oai.ChatCompletionNewParams {
	return oai.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(translate.SystemPrompt(req)),
			oai.UserMessage(translate.UserPrompt(req)),
		},
		Temperature: param.NewOpt(0.0),
	}
}

// Ensure Engine implements translate.Engine at compile time.
var _ translate.Engine = (*Engine)(nil)
