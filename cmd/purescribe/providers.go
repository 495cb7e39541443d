package main

import (
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/purescribe/internal/config"
	"github.com/MrWong99/purescribe/pkg/provider/asr"
	"github.com/MrWong99/purescribe/pkg/provider/asr/whisper"
	"github.com/MrWong99/purescribe/pkg/provider/asr/whisperserver"
	"github.com/MrWong99/purescribe/pkg/provider/translate"
	"github.com/MrWong99/purescribe/pkg/provider/translate/anyllm"
	"github.com/MrWong99/purescribe/pkg/provider/translate/openai"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the engine
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Transcription ─────────────────────────────────────────────────────────

	reg.RegisterASR("whisper-native", func(entry config.ProviderEntry) (asr.Engine, error) {
		var opts []whisper.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if n := optInt(entry.Options, "threads"); n > 0 {
			opts = append(opts, whisper.WithThreads(uint(n)))
		}
		if n := optInt(entry.Options, "beam_size"); n > 0 {
			opts = append(opts, whisper.WithBeamSize(n))
		}
		return whisper.Load(entry.Model, opts...)
	})

	reg.RegisterASR("whisper-server", func(entry config.ProviderEntry) (asr.Engine, error) {
		var opts []whisperserver.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisperserver.WithLanguage(lang))
		}
		if rms, ok := optFloat(entry.Options, "silence_threshold"); ok {
			opts = append(opts, whisperserver.WithSilenceThreshold(rms))
		}
		return whisperserver.New(entry.BaseURL, opts...)
	})

	// ── Translation ───────────────────────────────────────────────────────────

	reg.RegisterTranslator("openai", func(entry config.ProviderEntry) (translate.Engine, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if s := optInt(entry.Options, "timeout_s"); s > 0 {
			opts = append(opts, openai.WithTimeout(time.Duration(s)*time.Second))
		}
		if n := optInt(entry.Options, "max_retries"); n > 0 {
			opts = append(opts, openai.WithMaxRetries(n))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile all
	// share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterTranslator(providerName, func(entry config.ProviderEntry) (translate.Engine, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterTranslator("ollama", func(entry config.ProviderEntry) (translate.Engine, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer option. YAML decodes whole numbers as int.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// optFloat extracts a numeric option and reports whether it was present.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
