package config_test

import (
	"testing"

	"github.com/hallcall/hallcall/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   config.LogInfo,
		},
		Playback: config.PlaybackConfig{
			ChimeURL:      "https://hallcall.example/chime.wav",
			Gain:          1.0,
			FadeInMs:      200,
			RepeatPauseMs: 1000,
		},
		History: config.HistoryConfig{Limit: 50},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()

	d := config.Diff(old, new)
	if d.LogLevelChanged || d.PlaybackChanged || d.HistoryLimitChanged {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Fatal("LogLevelChanged = false, want true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want debug", d.NewLogLevel)
	}
}

func TestDiff_Playback(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Playback.Gain = 0.8

	d := config.Diff(old, new)
	if !d.PlaybackChanged {
		t.Fatal("PlaybackChanged = false, want true")
	}
	if d.NewPlayback.Gain != 0.8 {
		t.Errorf("NewPlayback.Gain = %v, want 0.8", d.NewPlayback.Gain)
	}
}

func TestDiff_HistoryLimit(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.History.Limit = 100

	d := config.Diff(old, new)
	if !d.HistoryLimitChanged {
		t.Fatal("HistoryLimitChanged = false, want true")
	}
	if d.NewHistoryLimit != 100 {
		t.Errorf("NewHistoryLimit = %d, want 100", d.NewHistoryLimit)
	}
}

func TestDiff_RestartOnlyFieldsIgnored(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.ListenAddr = ":9090"
	new.Providers.TTS.Name = "openai"

	d := config.Diff(old, new)
	if d.LogLevelChanged || d.PlaybackChanged || d.HistoryLimitChanged {
		t.Errorf("restart-only changes should not appear in diff, got %+v", d)
	}
}
