package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TranslationChanged is true when the provider chain, the source
	// language, or the breaker settings differ. The translation engine is
	// rebuilt on the next request.
	TranslationChanged bool

	// RestartRequired lists changed settings that only take effect after a
	// restart (e.g., "server.listen_addr").
	RestartRequired []string
}

// Changed reports whether d holds any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.TranslationChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !translationEqual(old.Translation, new.Translation) {
		d.TranslationChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !providerEqual(old.Transcription.Provider, new.Transcription.Provider) ||
		old.Transcription.ChunkLengthS != new.Transcription.ChunkLengthS ||
		old.Transcription.StrideLengthS != new.Transcription.StrideLengthS ||
		old.Transcription.PartialEvery != new.Transcription.PartialEvery ||
		old.Transcription.Language != new.Transcription.Language {
		d.RestartRequired = append(d.RestartRequired, "transcription")
	}
	if old.Store.PostgresDSN != new.Store.PostgresDSN {
		d.RestartRequired = append(d.RestartRequired, "store.postgres_dsn")
	}
	return d
}

func translationEqual(a, b TranslationConfig) bool {
	if a.SourceLanguage != b.SourceLanguage || a.CircuitBreaker != b.CircuitBreaker {
		return false
	}
	return slices.EqualFunc(a.Providers, b.Providers, providerEqual)
}

func providerEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name &&
		a.APIKey == b.APIKey &&
		a.BaseURL == b.BaseURL &&
		a.Model == b.Model &&
		reflect.DeepEqual(a.Options, b.Options)
}
