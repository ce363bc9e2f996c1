package announce

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hallcall/hallcall/internal/observe"
)

// DefaultRepeatPause is the silence between consecutive repeats of the same
// announcement.
const DefaultRepeatPause = 1 * time.Second

// Speaker turns one announcement into audible output, returning when
// playback has finished. An error means this repeat did not play.
type Speaker interface {
	Speak(ctx context.Context, a Announcement) error
}

// Sequencer drains the queue one announcement at a time: it pulls the front
// entry only while nothing is being read, honors the repeat count with a
// fixed pause between repeats, and moves finished items to the history. A
// failed repeat aborts the announcement's remaining repeats and the
// sequencer returns to idle so the queue keeps draining — one bad
// announcement never stalls the pipeline.
type Sequencer struct {
	queue   *Queue
	history *History
	speaker Speaker
	pause   time.Duration
	metrics *observe.Metrics

	wake chan struct{}

	mu      sync.Mutex
	reading bool
	current *Announcement
}

// SequencerOption configures a [Sequencer].
type SequencerOption func(*Sequencer)

// WithRepeatPause sets the silence between repeats of one announcement.
func WithRepeatPause(d time.Duration) SequencerOption {
	return func(s *Sequencer) {
		if d >= 0 {
			s.pause = d
		}
	}
}

// WithMetrics attaches pipeline metrics. Nil disables instrumentation.
func WithMetrics(m *observe.Metrics) SequencerOption {
	return func(s *Sequencer) {
		s.metrics = m
	}
}

// NewSequencer creates a sequencer draining queue through speaker into
// history.
func NewSequencer(queue *Queue, history *History, speaker Speaker, opts ...SequencerOption) *Sequencer {
	s := &Sequencer{
		queue:   queue,
		history: history,
		speaker: speaker,
		pause:   DefaultRepeatPause,
		wake:    make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Notify wakes the sequencer after an enqueue. Safe to call from any
// goroutine; redundant notifications coalesce.
func (s *Sequencer) Notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// IsReading reports whether an announcement is currently being spoken.
func (s *Sequencer) IsReading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reading
}

// Current returns a copy of the announcement being spoken, or nil when idle.
func (s *Sequencer) Current() *Announcement {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	a := *s.current
	return &a
}

// Run drains the queue until ctx is cancelled. It blocks; run it on its own
// goroutine.
func (s *Sequencer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		}

		for {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a, ok := s.queue.DequeueFront()
			if !ok {
				break
			}
			s.play(ctx, a)
		}
	}
}

// play speaks one announcement through its full repeat loop. Failures —
// including panics escaping the speaker — abort the remaining repeats and
// are logged; the sequencer then returns to idle.
func (s *Sequencer) play(ctx context.Context, a Announcement) {
	s.mu.Lock()
	s.reading = true
	s.current = &a
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.reading = false
		s.current = nil
		s.mu.Unlock()
	}()

	if err := s.speakRepeats(ctx, a); err != nil {
		slog.Warn("sequencer: announcement skipped",
			"announcement_id", a.ID,
			"title", a.Title,
			"err", err,
		)
		if s.metrics != nil {
			s.metrics.RecordAnnouncementSkipped(ctx)
		}
		return
	}

	s.history.Add(ctx, Completed{Announcement: a, CompletedAt: time.Now()})
	if s.metrics != nil {
		s.metrics.RecordAnnouncementPlayed(ctx)
	}
	slog.Info("sequencer: announcement completed",
		"announcement_id", a.ID,
		"title", a.Title,
		"repeats", a.RepeatCount,
	)
}

// speakRepeats runs the repeat loop for a, pausing between repeats.
func (s *Sequencer) speakRepeats(ctx context.Context, a Announcement) (err error) {
	// Outermost pipeline boundary: a panic anywhere below must not escape
	// into the caller; it is reported like any other playback failure.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sequencer: unexpected error: %v", r)
		}
	}()

	for i := 0; i < a.RepeatCount; i++ {
		if err := s.speaker.Speak(ctx, a); err != nil {
			return fmt.Errorf("repeat %d/%d: %w", i+1, a.RepeatCount, err)
		}
		if i < a.RepeatCount-1 && s.pause > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.pause):
			}
		}
	}
	return nil
}
