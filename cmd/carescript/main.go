// Command carescript is the main entry point for the CareScript care-session
// server.
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

	"golang.org/x/sync/errgroup"

	"github.com/carescript/carescript/internal/app"
	"github.com/carescript/carescript/internal/config"
	"github.com/carescript/carescript/internal/httpapi"
	"github.com/carescript/carescript/internal/observe"
	"github.com/carescript/carescript/internal/resilience"
	"github.com/carescript/carescript/pkg/provider/transcribe"
	"github.com/carescript/carescript/pkg/provider/transcribe/deepgram"
	"github.com/carescript/carescript/pkg/provider/voiceagent"
	"github.com/carescript/carescript/pkg/provider/voiceagent/elevenlabs"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "carescript: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "carescript: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so a config reload can adjust it without
	// rebuilding the logger.
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("carescript starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	observeShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "carescript",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := observeShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	server := httpapi.NewServer(httpapi.ServerConfig{
		Addr:         cfg.Server.ListenAddr,
		TLS:          cfg.Server.TLS,
		Sessions:     application.Sessions(),
		Patients:     application.PatientStore(),
		Calibrations: application.CalibrationStore(),
		Records:      application.SessionStore(),
		Transcriber:  providers.Transcription,
		Language:     cfg.Providers.Transcription.Language,
		Checkers:     application.HealthCheckers(),
	})

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.InterventionChanged {
			application.Sessions().UpdateTuning(d.NewIntervention)
			slog.Info("intervention tuning updated; applies to the next session")
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return application.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterTranscription("deepgram", func(entry config.ProviderEntry) (transcribe.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, deepgram.WithLanguage(entry.Language))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterVoiceAgent("elevenlabs", func(entry config.VoiceAgentEntry) (voiceagent.Provider, error) {
		var opts []elevenlabs.Option
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithSignedURLEndpoint(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, entry.AgentID, opts...)
	})
}

// buildProviders instantiates the providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
// Every provider is wrapped in a circuit-breaker group; transcription
// additionally fails over to any configured fallback providers.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	name := cfg.Providers.Transcription.Name
	p, err := reg.CreateTranscription(cfg.Providers.Transcription)
	if err != nil {
		return nil, fmt.Errorf("create transcription provider %q: %w", name, err)
	}
	tg := resilience.NewTranscriptionGroup(p, name, resilience.FallbackConfig{})
	for _, entry := range cfg.Providers.Transcription.Fallbacks {
		fb, err := reg.CreateTranscription(entry)
		if err != nil {
			return nil, fmt.Errorf("create transcription fallback %q: %w", entry.Name, err)
		}
		tg.AddFallback(entry.Name, fb)
		slog.Info("provider created", "kind", "transcription", "name", entry.Name, "role", "fallback")
	}
	ps.Transcription = tg
	slog.Info("provider created", "kind", "transcription", "name", name)

	name = cfg.Providers.VoiceAgent.Name
	va, err := reg.CreateVoiceAgent(cfg.Providers.VoiceAgent)
	if err != nil {
		return nil, fmt.Errorf("create voice agent provider %q: %w", name, err)
	}
	// The reset timeout sits below the 105s intervention cooldown so a
	// retriggered intervention probes a recovered agent backend instead of
	// failing straight back into cooldown.
	ps.VoiceAgent = resilience.NewVoiceAgentGroup(va, name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  2,
			ResetTimeout: 90 * time.Second,
		},
	})
	slog.Info("provider created", "kind", "voice_agent", "name", name)

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        CareScript — startup summary   ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Transcription", cfg.Providers.Transcription.Name, cfg.Providers.Transcription.Model)
	printProvider("Voice agent", cfg.Providers.VoiceAgent.Name, "")
	if cfg.Store.PostgresDSN != "" {
		fmt.Printf("║  Store           : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Store           : %-19s ║\n", "(not configured)")
	}
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
	fmt.Printf("║  %-13s   : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
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
