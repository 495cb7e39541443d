// Package app wires all purescribe subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and drives the coordinator until the context
// ends, and Shutdown releases engines, telemetry and the archive.
//
// For testing, inject doubles via functional options (WithStore,
// WithEngines). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/purescribe/internal/config"
	"github.com/MrWong99/purescribe/internal/coordinator"
	"github.com/MrWong99/purescribe/internal/engine"
	"github.com/MrWong99/purescribe/internal/health"
	"github.com/MrWong99/purescribe/internal/observe"
	"github.com/MrWong99/purescribe/internal/resilience"
	"github.com/MrWong99/purescribe/internal/server"
	"github.com/MrWong99/purescribe/internal/store"
	"github.com/MrWong99/purescribe/internal/worker"
	"github.com/MrWong99/purescribe/pkg/provider/asr"
	"github.com/MrWong99/purescribe/pkg/provider/asr/whisperserver"
	"github.com/MrWong99/purescribe/pkg/provider/translate"
)

// Version is reported in telemetry and the startup summary. Set at build
// time with -ldflags "-X github.com/MrWong99/purescribe/internal/app.Version=...".
var Version = "dev"

// ErrNoTranslator is returned by the translation loader when no provider is
// configured.
var ErrNoTranslator = errors.New("app: no translation provider configured")

const shutdownGrace = 10 * time.Second

// App owns all subsystem lifetimes of a purescribe server.
type App struct {
	providers *config.Registry
	fetcher   *engine.Fetcher
	logLevel  *slog.LevelVar

	cfgMu sync.RWMutex
	cfg   *config.Config

	// Subsystems, initialised in New and torn down in Shutdown.
	telemetry  *observe.Telemetry
	store      store.Store
	pool       *pgxpool.Pool
	engines    *engine.Registry
	translator atomic.Pointer[resilience.TranslateFallback]
	coord      *coordinator.Coordinator
	health     *health.Handler
	server     *server.Server
	httpServer *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a transcript archive instead of creating one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithEngines injects an engine registry instead of building loaders from
// the provider registry.
func WithEngines(r *engine.Registry) Option {
	return func(a *App) { a.engines = r }
}

// WithLogLevel connects a slog level variable that follows
// server.log_level on config reloads.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithHTTPClient sets the client used to download model weights.
func WithHTTPClient(c *http.Client) Option {
	return func(a *App) { a.fetcher.Client = c }
}

// New creates an App by wiring all subsystems together. The provider
// registry comes from main.go. Use Option functions to inject test doubles
// for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		providers: providers,
		cfg:       cfg,
		fetcher:   &engine.Fetcher{CacheDir: cfg.Models.CacheDir},
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Observe.ServiceName,
		ServiceVersion: Version,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	a.telemetry = tel

	// ── 2. Transcript archive ────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 3. Engines ───────────────────────────────────────────────────────
	if a.engines == nil {
		a.engines = engine.NewRegistry(a.loadTranscriber, a.loadTranslator)
	}

	// ── 4. Coordinator ───────────────────────────────────────────────────
	tc := cfg.Transcription
	a.coord = coordinator.New(a.engines,
		coordinator.WithSettings(worker.Settings{
			ChunkLength:  tc.ChunkLength(),
			StrideLength: tc.StrideLength(),
			PartialEvery: tc.PartialEvery,
			Language:     tc.Language,
		}),
		coordinator.WithStore(a.store),
		coordinator.WithMetrics(tel.Metrics),
		coordinator.WithProviderNames(tc.Provider.Name, primaryName(cfg.Translation)),
	)

	// ── 5. HTTP surface ──────────────────────────────────────────────────
	a.health = health.New(a.checkers(), health.WithEngines(a.engineStatus))
	a.server = server.New(a.coord,
		server.WithStore(a.store),
		server.WithHealth(a.health),
		server.WithMetricsHandler(tel.Handler()),
		server.WithMetrics(tel.Metrics),
		server.WithMaxUpload(int64(cfg.Server.MaxUploadMB)<<20),
		server.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
	)
	a.httpServer = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.closers = append(a.closers, a.engines.Close)
	return a, nil
}

// initStore opens the PostgreSQL archive when a DSN is configured and falls
// back to an in-memory archive otherwise.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	dsn := a.cfg.Store.PostgresDSN
	if dsn == "" {
		a.store = store.NewMemStore()
		return nil
	}

	pool, err := store.OpenPool(ctx, dsn)
	if err != nil {
		return err
	}
	pg := store.NewPostgresStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		pool.Close()
		return err
	}
	a.pool = pool
	a.store = pg
	a.closers = append(a.closers, func() error { pool.Close(); return nil })
	slog.Info("transcript archive connected", "backend", "postgres")
	return nil
}

// Config returns the active configuration.
func (a *App) Config() *config.Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg
}

// Handler returns the HTTP handler of the server.
func (a *App) Handler() http.Handler { return a.httpServer.Handler }

// Coordinator returns the job coordinator.
func (a *App) Coordinator() *coordinator.Coordinator { return a.coord }

// Run serves HTTP and runs the coordinator until ctx is cancelled or either
// of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.coord.Run(gctx)
	})

	g.Go(func() error {
		var err error
		if tls := a.Config().Server.TLS; tls != nil {
			err = a.httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve %s: %w", a.httpServer.Addr, err)
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		return a.httpServer.Shutdown(sctx)
	})

	return g.Wait()
}

// ApplyConfig applies the hot-reloadable part of a config change. It is
// meant as the callback of a [config.Watcher].
func (a *App) ApplyConfig(_, updated *config.Config, d config.ConfigDiff) {
	a.cfgMu.Lock()
	a.cfg = updated
	a.cfgMu.Unlock()

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TranslationChanged {
		// The next translation loads the new provider chain.
		if err := a.engines.Translation.Close(); err != nil {
			slog.Warn("closing translation engine", "err", err)
		}
		a.translator.Store(nil)
		slog.Info("translation providers changed", "primary", primaryName(updated.Translation))
	}
}

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		if err := a.telemetry.Shutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers gathered so far after a failed New.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
	if a.telemetry != nil {
		_ = a.telemetry.Shutdown(context.Background())
	}
}

// ─── Engine loaders ──────────────────────────────────────────────────────────

// loadTranscriber builds the speech recognition engine. A model given as an
// http(s) URL is downloaded into the model cache first.
func (a *App) loadTranscriber(ctx context.Context, progress engine.ProgressFunc) (asr.Engine, error) {
	entry := a.Config().Transcription.Provider
	if isRemote(entry.Model) {
		path, err := a.fetcher.Fetch(ctx, entry.Model, progress)
		if err != nil {
			return nil, err
		}
		entry.Model = path
	}
	e, err := a.providers.CreateASR(entry)
	if err != nil {
		return nil, fmt.Errorf("create transcription provider %q: %w", entry.Name, err)
	}
	slog.Info("provider created", "kind", "transcription", "name", entry.Name)
	return e, nil
}

// loadTranslator builds the translation chain of the current config: the
// first provider is primary and the others are fallbacks behind circuit
// breakers.
func (a *App) loadTranslator(_ context.Context, _ engine.ProgressFunc) (translate.Engine, error) {
	tc := a.Config().Translation
	if len(tc.Providers) == 0 {
		return nil, ErrNoTranslator
	}

	fcfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  tc.CircuitBreaker.MaxFailures,
			ResetTimeout: time.Duration(tc.CircuitBreaker.ResetTimeoutS * float64(time.Second)),
			OnStateChange: func(name string, _, to resilience.State) {
				a.telemetry.Metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
	}

	var chain *resilience.TranslateFallback
	for _, entry := range tc.Providers {
		e, err := a.providers.CreateTranslator(entry)
		if err != nil {
			return nil, fmt.Errorf("create translation provider %q: %w", entry.Name, err)
		}
		if chain == nil {
			chain = resilience.NewTranslateFallback(e, entry.Name, fcfg)
		} else {
			chain.AddFallback(entry.Name, e)
		}
		slog.Info("provider created", "kind", "translation", "name", entry.Name)
	}
	a.translator.Store(chain)
	return chain, nil
}

// ─── Readiness ───────────────────────────────────────────────────────────────

func (a *App) checkers() []health.Checker {
	checks := []health.Checker{{
		Name: "coordinator",
		Check: func(ctx context.Context) error {
			_, err := a.coord.Snapshot(ctx)
			return err
		},
	}}

	if a.pool != nil {
		checks = append(checks, health.Checker{Name: "store", Check: a.pool.Ping})
	}

	if p := a.cfg.Transcription.Provider; p.Name == "whisper-server" && p.BaseURL != "" {
		if ws, err := whisperserver.New(p.BaseURL); err == nil {
			checks = append(checks, health.Checker{Name: "whisper-server", Check: ws.Ping, Advisory: true})
		}
	}

	checks = append(checks, health.Checker{
		Name:     "translation",
		Advisory: true,
		Check:    a.checkTranslation,
	})
	return checks
}

// checkTranslation fails while every translation backend's breaker is open.
func (a *App) checkTranslation(context.Context) error {
	chain := a.translator.Load()
	if chain == nil {
		return nil
	}
	states := chain.States()
	for _, s := range states {
		if s != resilience.StateOpen {
			return nil
		}
	}
	return fmt.Errorf("all %d translation providers have open circuit breakers", len(states))
}

func (a *App) engineStatus() map[string]bool {
	status := a.engines.Status()
	out := make(map[string]bool, len(status))
	for k, v := range status {
		out[string(k)] = v
	}
	return out
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// SlogLevel converts a config log level to a slog level. Unknown values map
// to Info.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func primaryName(tc config.TranslationConfig) string {
	if len(tc.Providers) == 0 {
		return ""
	}
	return tc.Providers[0].Name
}

func isRemote(model string) bool {
	u, err := url.Parse(model)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}
