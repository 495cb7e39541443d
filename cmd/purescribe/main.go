// Command purescribe is the main entry point for the purescribe
// transcription and translation server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/purescribe/internal/app"
	"github.com/MrWong99/purescribe/internal/config"
	"github.com/MrWong99/purescribe/internal/export"
	"github.com/MrWong99/purescribe/pkg/language"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	transcribe := flag.String("transcribe", "", "transcribe this recording, print the result and exit")
	target := flag.String("translate", "", "with -transcribe: translate into this FLORES-200 code (e.g. fra_Latn)")
	format := flag.String("format", "txt", "with -transcribe: output format (txt, srt, vtt)")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("purescribe", app.Version)
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "purescribe: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "purescribe: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, level := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, reg, app.WithLogLevel(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := application.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}()

	if *transcribe != "" {
		return runOnce(ctx, application, *transcribe, *target, *format)
	}

	slog.Info("purescribe starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"version", app.Version,
	)
	printStartupSummary(cfg)

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("shutdown signal received, stopping…")
	return 0
}

// runOnce handles the -transcribe mode.
func runOnce(ctx context.Context, application *app.App, path, target, format string) int {
	f, err := export.ParseFormat(format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "purescribe: %v\n", err)
		return 2
	}
	if target != "" {
		lang, ok := language.Resolve(target)
		if !ok {
			fmt.Fprintf(os.Stderr, "purescribe: unknown language %q\n", target)
			return 2
		}
		target = lang.Code
	}

	err = application.TranscribeFile(ctx, app.OneShot{Path: path, Target: target, Format: f}, os.Stdout)
	if err != nil {
		slog.Error("transcription failed", "path", path, "err", err)
		return 1
	}
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       purescribe  startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	tp := cfg.Transcription.Provider
	printProvider("Transcribe", tp.Name, tp.Model)
	for i, p := range cfg.Translation.Providers {
		kind := "Translate"
		if i > 0 {
			kind = fmt.Sprintf("Fallback %d", i)
		}
		printProvider(kind, p.Name, p.Model)
	}
	if len(cfg.Translation.Providers) == 0 {
		printProvider("Translate", "", "")
	}
	archive := "memory"
	if cfg.Store.PostgresDSN != "" {
		archive = "postgres"
	}
	fmt.Printf("║  Archive         : %-19s ║\n", archive)
	fmt.Printf("║  Window          : %-19s ║\n", fmt.Sprintf("%gs / %gs stride", cfg.Transcription.ChunkLengthS, cfg.Transcription.StrideLengthS))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger returns a text logger on stderr whose level can be changed at
// runtime through the returned variable.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(app.SlogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})), lv
}
