package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"tts": {"elevenlabs", "openai"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Providers — warn about unknown names, error on unnamed fallbacks.
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for i, fb := range cfg.Providers.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("tts", fb.Name)
	}
	if cfg.Providers.TTS.Name == "" && len(cfg.Providers.Fallbacks) > 0 {
		errs = append(errs, errors.New("providers.fallbacks requires providers.tts to be configured"))
	}

	// Speech tuning ranges (zero means "use the provider default").
	if s := cfg.Speech.Stability; s < 0 || s > 1 {
		errs = append(errs, fmt.Errorf("speech.stability %.2f is out of range [0, 1]", s))
	}
	if s := cfg.Speech.SimilarityBoost; s < 0 || s > 1 {
		errs = append(errs, fmt.Errorf("speech.similarity_boost %.2f is out of range [0, 1]", s))
	}
	if s := cfg.Speech.Speed; s != 0 && (s < 0.5 || s > 2.0) {
		errs = append(errs, fmt.Errorf("speech.speed %.2f is out of range [0.5, 2.0]", s))
	}

	// Hub — only meaningful for the hall client; validate shape when set.
	if u := cfg.Hub.URL; u != "" {
		if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
			errs = append(errs, fmt.Errorf("hub.url %q must use the ws:// or wss:// scheme", u))
		}
	}
	if cfg.Hub.URL != "" && cfg.Hub.Group == "" {
		slog.Warn("hub.url is set but hub.group is empty; the client will connect without joining a group")
	}

	// Playback
	if g := cfg.Playback.Gain; g < 0 || g > 2 {
		errs = append(errs, fmt.Errorf("playback.gain %.2f is out of range [0, 2]", g))
	}
	if cfg.Playback.FadeInMs < 0 {
		errs = append(errs, fmt.Errorf("playback.fade_in_ms %d must not be negative", cfg.Playback.FadeInMs))
	}
	if cfg.Playback.RepeatPauseMs < 0 {
		errs = append(errs, fmt.Errorf("playback.repeat_pause_ms %d must not be negative", cfg.Playback.RepeatPauseMs))
	}

	// History
	if cfg.History.Limit < 0 {
		errs = append(errs, fmt.Errorf("history.limit %d must not be negative", cfg.History.Limit))
	}
	if cfg.History.PostgresDSN == "" && cfg.History.Limit > 0 {
		slog.Debug("history.postgres_dsn is empty; completed announcements are kept in memory only")
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
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
