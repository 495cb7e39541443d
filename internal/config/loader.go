package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/purescribe/pkg/language"
	"github.com/MrWong99/purescribe/pkg/provider/asr"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"transcription": {"whisper-native", "whisper-server"},
	"translation":   {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero values with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 512
	}
	if cfg.Transcription.ChunkLengthS == 0 {
		cfg.Transcription.ChunkLengthS = asr.DefaultChunkLength.Seconds()
	}
	if cfg.Transcription.StrideLengthS == 0 {
		cfg.Transcription.StrideLengthS = asr.DefaultStrideLength.Seconds()
	}
	if cfg.Translation.SourceLanguage == "" {
		cfg.Translation.SourceLanguage = language.DefaultSource
	}
	if cfg.Models.CacheDir == "" {
		cfg.Models.CacheDir = defaultCacheDir()
	}
	if cfg.Observe.ServiceName == "" {
		cfg.Observe.ServiceName = "purescribe"
	}
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "purescribe")
	}
	return filepath.Join(os.TempDir(), "purescribe")
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxUploadMB < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_mb %d must not be negative", cfg.Server.MaxUploadMB))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Transcription
	tc := cfg.Transcription
	if tc.ChunkLengthS < 0 {
		errs = append(errs, fmt.Errorf("transcription.chunk_length_s %.2f must not be negative", tc.ChunkLengthS))
	}
	if tc.StrideLengthS < 0 {
		errs = append(errs, fmt.Errorf("transcription.stride_length_s %.2f must not be negative", tc.StrideLengthS))
	}
	if tc.ChunkLengthS > 0 && 2*tc.StrideLengthS >= tc.ChunkLengthS {
		errs = append(errs, fmt.Errorf("transcription.stride_length_s %.2f leaves no room in a %.2fs window", tc.StrideLengthS, tc.ChunkLengthS))
	}
	if tc.PartialEvery < 0 {
		errs = append(errs, fmt.Errorf("transcription.partial_every %d must not be negative", tc.PartialEvery))
	}
	if tc.Provider.Name == "" {
		errs = append(errs, errors.New("transcription.provider.name is required"))
	}
	switch tc.Provider.Name {
	case "whisper-native":
		if tc.Provider.Model == "" {
			errs = append(errs, errors.New("transcription.provider.model is required for whisper-native"))
		}
	case "whisper-server":
		if tc.Provider.BaseURL == "" {
			errs = append(errs, errors.New("transcription.provider.base_url is required for whisper-server"))
		}
	}
	validateProviderName("transcription", tc.Provider.Name)

	// Translation
	tr := cfg.Translation
	if tr.SourceLanguage != "" && !language.Valid(tr.SourceLanguage) {
		errs = append(errs, fmt.Errorf("translation.source_language %q is not a supported language code", tr.SourceLanguage))
	}
	if len(tr.Providers) == 0 {
		slog.Warn("no translation provider configured; translation requests will fail")
	}
	for i, p := range tr.Providers {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("translation.providers[%d].name is required", i))
			continue
		}
		validateProviderName("translation", p.Name)
	}
	if tr.CircuitBreaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("translation.circuit_breaker.max_failures %d must not be negative", tr.CircuitBreaker.MaxFailures))
	}
	if tr.CircuitBreaker.ResetTimeoutS < 0 {
		errs = append(errs, fmt.Errorf("translation.circuit_breaker.reset_timeout_s %.2f must not be negative", tr.CircuitBreaker.ResetTimeoutS))
	}

	// Store
	if cfg.Store.PostgresDSN == "" {
		slog.Debug("store.postgres_dsn is empty; transcripts are archived in memory only")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
