package speech

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hallcall/hallcall/internal/announce"
	"github.com/hallcall/hallcall/internal/observe"
)

// Playback defaults.
const (
	DefaultGain   = 1.0
	DefaultFadeIn = 200 * time.Millisecond
)

// Speaker turns one announcement into audible output: an optional chime cue
// followed by the synthesized speech, played on the shared [Output]. It is
// the [announce.Speaker] implementation wired into the sequencer.
type Speaker struct {
	client *Client
	chimes *Chimes
	out    Output

	chimeURL string
	gain     float64
	fadeIn   time.Duration
	metrics  *observe.Metrics
}

// Compile-time interface check.
var _ announce.Speaker = (*Speaker)(nil)

// SpeakerOption configures a [Speaker].
type SpeakerOption func(*Speaker)

// WithChime sets the chime asset URL played before each speech repeat. An
// empty URL disables the chime.
func WithChime(url string) SpeakerOption {
	return func(s *Speaker) {
		s.chimeURL = url
	}
}

// WithGain sets the target speech gain.
func WithGain(gain float64) SpeakerOption {
	return func(s *Speaker) {
		if gain >= 0 {
			s.gain = gain
		}
	}
}

// WithFadeIn sets the speech fade-in ramp duration.
func WithFadeIn(d time.Duration) SpeakerOption {
	return func(s *Speaker) {
		if d >= 0 {
			s.fadeIn = d
		}
	}
}

// WithSpeakerMetrics attaches pipeline metrics. Nil disables instrumentation.
func WithSpeakerMetrics(m *observe.Metrics) SpeakerOption {
	return func(s *Speaker) {
		s.metrics = m
	}
}

// NewSpeaker composes the synthesis client, chime cache, and audio output.
func NewSpeaker(client *Client, chimes *Chimes, out Output, opts ...SpeakerOption) *Speaker {
	s := &Speaker{
		client: client,
		chimes: chimes,
		out:    out,
		gain:   DefaultGain,
		fadeIn: DefaultFadeIn,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Speak plays the chime (when configured) followed by the announcement's
// synthesized speech, returning once playback has finished. A missing chime
// is logged and skipped; a synthesis or playback failure aborts the repeat.
func (s *Speaker) Speak(ctx context.Context, a announce.Announcement) error {
	if s.chimeURL != "" {
		chime, err := s.chimes.For(ctx, s.chimeURL)
		if err != nil {
			// The cue is decoration; the announcement still goes out.
			slog.Warn("speaker: chime unavailable", "url", s.chimeURL, "err", err)
		} else if err := s.playAndWait(ctx, chime, DefaultGain, 0); err != nil {
			return fmt.Errorf("speech: chime playback: %w", err)
		}
	}

	buf, err := s.client.AudioFor(ctx, SpeakText(a))
	if err != nil {
		return err
	}

	start := time.Now()
	if err := s.playAndWait(ctx, buf, s.gain, s.fadeIn); err != nil {
		return fmt.Errorf("speech: playback: %w", err)
	}
	if s.metrics != nil {
		s.metrics.PlaybackDuration.Record(ctx, time.Since(start).Seconds())
	}
	return nil
}

// playAndWait plays one buffer and blocks until it completes or ctx is
// cancelled, hard-stopping the output on cancellation.
func (s *Speaker) playAndWait(ctx context.Context, buf *Buffer, gain float64, fadeIn time.Duration) error {
	done, err := s.out.PlayBuffer(buf, gain, fadeIn)
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.out.StopAll()
		<-done
		return ctx.Err()
	}
}

// SpeakText composes the spoken phrase for an announcement: title followed
// by content, either alone when the other is empty.
func SpeakText(a announce.Announcement) string {
	switch {
	case a.Title == "":
		return a.Content
	case a.Content == "":
		return a.Title
	default:
		return a.Title + ". " + a.Content
	}
}
