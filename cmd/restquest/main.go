// Command restquest runs the emotion-aware questionnaire server.
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

	"github.com/joho/godotenv"

	"github.com/MrWong99/restquest/internal/app"
	"github.com/MrWong99/restquest/internal/config"
	"github.com/MrWong99/restquest/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	mock := flag.Bool("mock", false, "use synthetic classifiers and a canned transcriber")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	// A missing .env is normal; API keys may come from the real environment.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, fromFile, err := loadConfig(*configPath, *mock)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "restquest: config file %q not found; pass -mock to run without one\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "restquest: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Slog())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("restquest starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"mock", cfg.Session.Mock,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(tel.MeterProvider)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, closers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	opts := []app.Option{
		app.WithMetrics(metrics),
		app.WithMetricsHandler(tel.Handler),
		app.WithLevelVar(&level),
	}
	for _, c := range closers {
		opts = append(opts, app.WithCloser(c))
	}

	var application *app.App
	if fromFile {
		w, err := config.NewWatcher(*configPath, func(old, updated *config.Config) {
			if application != nil {
				application.Reload(old, updated)
			}
		})
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			opts = append(opts, app.WithWatcher(w))
		}
	}

	application, err = app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	code := 0
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// loadConfig reads path. With -mock a missing file falls back to
// [config.Default], and mock mode is forced on either way. fromFile reports
// whether path was read, which is when hot reload makes sense.
func loadConfig(path string, mock bool) (cfg *config.Config, fromFile bool, err error) {
	cfg, err = config.Load(path)
	if errors.Is(err, os.ErrNotExist) && mock {
		return config.Default(), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if mock {
		cfg.Session.Mock = true
	}
	return cfg, true, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        restquest: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("LLM fallback", cfg.Providers.LLMFallback.Name, cfg.Providers.LLMFallback.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Detector", cfg.Providers.Detector.Name, "")
	if cfg.Session.Mock {
		fmt.Printf("║  %-12s    : %-19s ║\n", "Classifiers", "synthetic (mock)")
	} else {
		fmt.Printf("║  %-12s    : %-19d ║\n", "Classifiers", len(cfg.Providers.Classifiers))
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", "Fusion", cfg.Fusion.Policy)
	fmt.Printf("║  %-12s    : %-19d ║\n", "Questions", len(cfg.Session.Questions))
	fmt.Printf("║  %-12s    : %-19s ║\n", "Video", string(cfg.Video.Source)+" "+cfg.Video.Device)
	if cfg.Journal.PostgresDSN != "" {
		fmt.Printf("║  %-12s    : %-19s ║\n", "PostgreSQL", "enabled")
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", "Listen addr", cfg.Server.ListenAddr)
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
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}
