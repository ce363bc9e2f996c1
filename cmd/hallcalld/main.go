// Command hallcalld is the hallcall server: it fans announcements out to
// connected hall clients over the broadcast hub and serves speech synthesis
// behind a content-addressed disk cache.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hallcall/hallcall/internal/config"
	"github.com/hallcall/hallcall/internal/health"
	"github.com/hallcall/hallcall/internal/hubd"
	"github.com/hallcall/hallcall/internal/observe"
	"github.com/hallcall/hallcall/internal/resilience"
	"github.com/hallcall/hallcall/internal/speechd"
	"github.com/hallcall/hallcall/pkg/provider/tts"
	"github.com/hallcall/hallcall/pkg/provider/tts/elevenlabs"
	oaitts "github.com/hallcall/hallcall/pkg/provider/tts/openai"
)

const defaultListenAddr = ":8080"

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
			fmt.Fprintf(os.Stderr, "hallcalld: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "hallcalld: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = defaultListenAddr
	}

	slog.Info("hallcalld starting",
		"config", *configPath,
		"listen_addr", listenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	shutdownObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "hallcalld"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownObserve(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Upstream speech provider ──────────────────────────────────────────────
	provider, err := buildProvider(cfg)
	if err != nil {
		slog.Error("failed to build speech provider", "err", err)
		return 1
	}

	// ── Speech endpoint + disk cache ──────────────────────────────────────────
	cacheDir := cfg.Speech.CacheDir
	if cacheDir == "" {
		cacheDir = "speech-cache"
	}
	cache, err := speechd.NewDiskCache(cacheDir)
	if err != nil {
		slog.Error("failed to open speech cache", "err", err)
		return 1
	}

	svc := speechd.NewService(provider, cache,
		speechd.WithDefaults(tts.Request{
			VoiceID:      cfg.Providers.TTS.Voice,
			ModelID:      cfg.Providers.TTS.Model,
			OutputFormat: cfg.Speech.OutputFormat,
			Settings: tts.VoiceSettings{
				Stability:       cfg.Speech.Stability,
				SimilarityBoost: cfg.Speech.SimilarityBoost,
				Speed:           cfg.Speech.Speed,
			},
		}),
		speechd.WithServiceMetrics(metrics),
	)

	// ── Broadcast hub ─────────────────────────────────────────────────────────
	hub := hubd.New(hubd.WithMetrics(metrics))

	// ── Routes ────────────────────────────────────────────────────────────────
	healthHandler := health.New(health.CacheDir(cache.Dir()))

	mux := http.NewServeMux()
	mux.Handle("/hub", hubd.WSHandler(hub))
	mux.Handle("/v1/speech", speechd.Handler(svc))
	mux.Handle("/v1/broadcast", hubd.BroadcastHandler(hub))
	mux.Handle("/metrics", promhttp.Handler())
	healthHandler.Register(mux)

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Config hot reload (log level only) ────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Serve ─────────────────────────────────────────────────────────────────
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server ready — press Ctrl+C to shut down", "addr", listenAddr)
		if cfg.Server.TLS != nil {
			errCh <- srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildProvider instantiates the configured speech backend, wrapping it in a
// circuit-breaking fallback chain when fallbacks are configured.
func buildProvider(cfg *config.Config) (tts.Provider, error) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	entry := cfg.Providers.TTS
	if entry.Name == "" {
		return nil, errors.New("providers.tts is not configured")
	}
	primary, err := reg.CreateTTS(entry)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", entry.Name, err)
	}
	slog.Info("provider created", "kind", "tts", "name", entry.Name)

	breakerCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Speech.BreakerMaxFailures,
			ResetTimeout: time.Duration(cfg.Speech.BreakerResetSeconds) * time.Second,
		},
	}
	chain := resilience.NewTTSFallback(primary, breakerCfg)

	for _, fb := range cfg.Providers.Fallbacks {
		p, err := reg.CreateTTS(fb)
		if err != nil {
			return nil, fmt.Errorf("create fallback provider %q: %w", fb.Name, err)
		}
		chain.AddFallback(p)
		slog.Info("provider created", "kind", "tts-fallback", "name", fb.Name)
	}
	return chain, nil
}

// registerBuiltinProviders wires the shipped speech provider factories into
// reg.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.Voice != "" {
			opts = append(opts, elevenlabs.WithVoice(entry.Voice))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if cfg.Speech.OutputFormat != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(cfg.Speech.OutputFormat))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		return oaitts.New(entry.APIKey, entry.Model, opts...)
	})
}

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
