// Command noticer is the hall client daemon: it keeps a shared hub
// connection, joins its hall's broadcast group, and speaks every inbound
// announcement (chime + synthesized speech) through the local audio device.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hallcall/hallcall/internal/announce"
	"github.com/hallcall/hallcall/internal/announce/postgres"
	"github.com/hallcall/hallcall/internal/config"
	"github.com/hallcall/hallcall/internal/hub"
	"github.com/hallcall/hallcall/internal/observe"
	"github.com/hallcall/hallcall/internal/speech"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "noticer.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "noticer: %v\n", err)
		return 1
	}
	if cfg.Hub.URL == "" {
		fmt.Fprintln(os.Stderr, "noticer: hub.url is required")
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("noticer starting",
		"config", *configPath,
		"hub", cfg.Hub.URL,
		"group", cfg.Hub.Group,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	shutdownObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "noticer"})
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

	// ── Audio output ──────────────────────────────────────────────────────────
	out, err := speech.NewOtoOutput()
	if err != nil {
		slog.Error("failed to open audio device", "err", err)
		return 1
	}
	defer out.StopAll()

	// ── Speech pipeline ───────────────────────────────────────────────────────
	client := speech.NewClient(speechBaseURL(cfg),
		speech.WithVoice(cfg.Providers.TTS.Voice),
		speech.WithModel(cfg.Providers.TTS.Model),
		speech.WithClientMetrics(metrics),
		speech.WithFailureCallback(func(se speech.SynthError) {
			slog.Warn("synthesis failed", "code", se.Code, "message", se.Message)
		}),
	)
	chimes := speech.NewChimes(nil)

	speakerOpts := []speech.SpeakerOption{
		speech.WithChime(cfg.Playback.ChimeURL),
		speech.WithSpeakerMetrics(metrics),
	}
	if cfg.Playback.Gain > 0 {
		speakerOpts = append(speakerOpts, speech.WithGain(cfg.Playback.Gain))
	}
	if cfg.Playback.FadeInMs > 0 {
		speakerOpts = append(speakerOpts, speech.WithFadeIn(time.Duration(cfg.Playback.FadeInMs)*time.Millisecond))
	}
	speaker := speech.NewSpeaker(client, chimes, out, speakerOpts...)

	// ── Queue, history, sequencer ─────────────────────────────────────────────
	historyOpts := []announce.HistoryOption{}
	if cfg.History.Limit > 0 {
		historyOpts = append(historyOpts, announce.WithHistoryLimit(cfg.History.Limit))
	}
	if dsn := cfg.History.PostgresDSN; dsn != "" {
		archive, err := postgres.NewArchive(ctx, dsn)
		if err != nil {
			slog.Error("failed to open announcement archive", "err", err)
			return 1
		}
		defer archive.Close()
		historyOpts = append(historyOpts, announce.WithArchiver(archive))
		slog.Info("announcement archive enabled")
	}

	queue := announce.NewQueue()
	history := announce.NewHistory(historyOpts...)

	seqOpts := []announce.SequencerOption{announce.WithMetrics(metrics)}
	if cfg.Playback.RepeatPauseMs > 0 {
		seqOpts = append(seqOpts, announce.WithRepeatPause(time.Duration(cfg.Playback.RepeatPauseMs)*time.Millisecond))
	}
	sequencer := announce.NewSequencer(queue, history, speaker, seqOpts...)

	// ── Hub connection ────────────────────────────────────────────────────────
	registry := hub.Default()
	ep := hub.Endpoint{URL: cfg.Hub.URL, Token: cfg.Hub.Token}
	conn := registry.Acquire(ep)
	defer registry.Release(ep)

	var wasConnected bool
	unsubState := conn.OnStateChange(func(s hub.State) {
		slog.Info("hub connection state changed", "state", s)
		connected := s == hub.StateConnected
		if connected != wasConnected {
			if connected {
				metrics.HubConnections.Add(ctx, 1)
			} else {
				metrics.HubConnections.Add(ctx, -1)
			}
			wasConnected = connected
		}
	})
	defer unsubState()

	unsubBroadcast := conn.OnBroadcast(func(ev hub.BroadcastEvent) {
		metrics.RecordAnnouncementReceived(ctx)
		a := announce.FromEvent(ev, time.Now())
		if !queue.Enqueue(a) {
			metrics.RecordAnnouncementDeduped(ctx)
			slog.Debug("duplicate announcement dropped", "announcement_id", a.ID)
			return
		}
		slog.Info("announcement queued",
			"announcement_id", a.ID,
			"title", a.Title,
			"priority", a.Priority,
			"queue_depth", queue.Len(),
		)
		sequencer.Notify()
	})
	defer unsubBroadcast()

	if err := conn.Start(ctx); err != nil {
		slog.Error("failed to start hub connection", "err", err)
		return 1
	}
	if group := cfg.Hub.Group; group != "" {
		if err := conn.JoinGroup(ctx, group); err != nil {
			slog.Warn("group join failed; will retry on reconnect", "group", group, "err", err)
		}
	}

	// ── Drain ─────────────────────────────────────────────────────────────────
	drainDone := make(chan struct{})
	go func() {
		defer close(drainDone)
		trackDepth(ctx, sequencer, queue, metrics)
	}()

	slog.Info("noticer ready — press Ctrl+C to shut down")
	err = sequencer.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("sequencer error", "err", err)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out.StopAll()
	if err := conn.Stop(shutdownCtx); err != nil {
		slog.Warn("hub stop error", "err", err)
	}
	registry.Shutdown(shutdownCtx)
	<-drainDone

	slog.Info("goodbye")
	return 0
}

// trackDepth decrements the queue-depth gauge as the sequencer picks
// announcements up. The gauge is advisory; exact sampling is not required.
func trackDepth(ctx context.Context, seq *announce.Sequencer, queue *announce.Queue, metrics *observe.Metrics) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	last := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth := queue.Len()
			if seq.IsReading() {
				depth++
			}
			if diff := depth - last; diff != 0 {
				metrics.QueueDepth.Add(ctx, int64(diff))
				last = depth
			}
		}
	}
}

// speechBaseURL resolves the server's HTTP base URL: explicit config wins,
// otherwise it is derived from the hub WebSocket URL.
func speechBaseURL(cfg *config.Config) string {
	if cfg.Hub.SpeechURL != "" {
		return cfg.Hub.SpeechURL
	}
	u := cfg.Hub.URL
	u = strings.TrimSuffix(u, "/hub")
	if rest, ok := strings.CutPrefix(u, "wss://"); ok {
		return "https://" + rest
	}
	if rest, ok := strings.CutPrefix(u, "ws://"); ok {
		return "http://" + rest
	}
	return u
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
