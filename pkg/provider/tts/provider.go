// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs or the
// OpenAI speech API) and presents a uniform request/response interface. An
// announcement is short and is always spoken in full, so synthesis is a
// single call returning the complete encoded audio rather than a stream.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Request describes one synthesis call.
type Request struct {
	// Text is the announcement text to speak. Must be non-empty.
	Text string

	// VoiceID is the provider-specific voice identifier. Empty selects the
	// provider's default voice.
	VoiceID string

	// ModelID selects a specific synthesis model. Empty selects the
	// provider's default model.
	ModelID string

	// OutputFormat names the audio container/encoding (e.g., "mp3_44100_128",
	// "wav"). Empty selects the provider's default format.
	OutputFormat string

	// Settings tunes voice delivery. The zero value means provider defaults.
	Settings VoiceSettings
}

// VoiceSettings tunes how a voice delivers the text. Ranges are provider
// specific; values are passed through unchanged.
type VoiceSettings struct {
	Stability       float64
	SimilarityBoost float64
	Speed           float64
}

// Result is the outcome of a successful synthesis call.
type Result struct {
	// Audio is the complete encoded audio payload.
	Audio []byte

	// ContentType is the MIME type of Audio (e.g., "audio/mpeg").
	ContentType string
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis
// requests may run in parallel.
type Provider interface {
	// Synthesize converts req.Text into audio. It returns an error if the
	// provider rejects the request, the transport fails, or ctx is cancelled.
	// Implementations must not return a partial Result alongside an error.
	Synthesize(ctx context.Context, req Request) (*Result, error)

	// Name returns the provider's short identifier (e.g., "elevenlabs").
	// Used in logs and metric attributes.
	Name() string
}
