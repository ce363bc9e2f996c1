package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; anything else
// (listen address, providers, cache directory) requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PlaybackChanged is true when gain, fade-in, chime, or repeat pause
	// changed. The hall client applies these on the next announcement.
	PlaybackChanged bool
	NewPlayback     PlaybackConfig

	// HistoryLimitChanged is true when the in-memory history bound changed.
	HistoryLimitChanged bool
	NewHistoryLimit     int
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Playback != new.Playback {
		d.PlaybackChanged = true
		d.NewPlayback = new.Playback
	}

	if old.History.Limit != new.History.Limit {
		d.HistoryLimitChanged = true
		d.NewHistoryLimit = new.History.Limit
	}

	return d
}
