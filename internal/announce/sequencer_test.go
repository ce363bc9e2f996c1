package announce_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hallcall/hallcall/internal/announce"
)

// fakeSpeaker records Speak calls per announcement and can be scripted to
// fail, panic, or dawdle.
type fakeSpeaker struct {
	errs   map[string]error
	panics map[string]bool
	delay  time.Duration

	mu    sync.Mutex
	calls []string
}

func (s *fakeSpeaker) Speak(ctx context.Context, a announce.Announcement) error {
	s.mu.Lock()
	s.calls = append(s.calls, a.ID)
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if s.panics[a.ID] {
		panic("speaker exploded")
	}
	return s.errs[a.ID]
}

func (s *fakeSpeaker) callsFor(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == id {
			n++
		}
	}
	return n
}

// startSequencer runs seq on a goroutine and returns a stop function that
// cancels it and waits for Run to return.
func startSequencer(t *testing.T, seq *announce.Sequencer) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := seq.Run(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not reached within %v: %s", timeout, msg)
}

func TestSequencerHonorsRepeatCount(t *testing.T) {
	t.Parallel()
	queue := announce.NewQueue()
	history := announce.NewHistory()
	speaker := &fakeSpeaker{}
	seq := announce.NewSequencer(queue, history, speaker, announce.WithRepeatPause(time.Millisecond))
	defer startSequencer(t, seq)()

	a := testAnnouncement("triple", 3, time.Now())
	a.RepeatCount = 3
	queue.Enqueue(a)
	seq.Notify()

	waitFor(t, time.Second, func() bool { return history.Len() == 1 }, "announcement completed")
	if got := speaker.callsFor("triple"); got != 3 {
		t.Errorf("Speak called %d times, want 3", got)
	}
	entries := history.Entries()
	if entries[0].ID != "triple" || entries[0].CompletedAt.IsZero() {
		t.Errorf("history entry = %+v", entries[0])
	}
}

func TestSequencerPlaysUrgentRepeatsBeforeNext(t *testing.T) {
	t.Parallel()
	queue := announce.NewQueue()
	history := announce.NewHistory()
	speaker := &fakeSpeaker{}
	seq := announce.NewSequencer(queue, history, speaker, announce.WithRepeatPause(0))
	defer startSequencer(t, seq)()

	base := time.Now()
	urgent := testAnnouncement("evacuate", 1, base)
	urgent.RepeatCount = 2
	queue.Enqueue(urgent)
	queue.Enqueue(testAnnouncement("lunch", 3, base))
	seq.Notify()

	waitFor(t, time.Second, func() bool { return history.Len() == 2 }, "both announcements completed")

	speaker.mu.Lock()
	calls := append([]string(nil), speaker.calls...)
	speaker.mu.Unlock()
	want := []string{"evacuate", "evacuate", "lunch"}
	if len(calls) != len(want) {
		t.Fatalf("Speak order = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("Speak order = %v, want %v", calls, want)
		}
	}
}

func TestSequencerFailureSkipsRemainingRepeats(t *testing.T) {
	t.Parallel()
	queue := announce.NewQueue()
	history := announce.NewHistory()
	speaker := &fakeSpeaker{errs: map[string]error{"broken": errors.New("synthesis failed")}}
	seq := announce.NewSequencer(queue, history, speaker, announce.WithRepeatPause(0))
	defer startSequencer(t, seq)()

	base := time.Now()
	broken := testAnnouncement("broken", 1, base) // urgent, plays first
	broken.RepeatCount = 3
	queue.Enqueue(broken)
	queue.Enqueue(testAnnouncement("fine", 3, base))
	seq.Notify()

	// The failed announcement is dropped without retries; the next one in
	// the queue still plays.
	waitFor(t, time.Second, func() bool { return history.Len() == 1 }, "pipeline kept draining")
	if got := speaker.callsFor("broken"); got != 1 {
		t.Errorf("failed announcement spoken %d times, want 1 (remaining repeats aborted)", got)
	}
	if entries := history.Entries(); entries[0].ID != "fine" {
		t.Errorf("history = %+v, want only the successful announcement", entries)
	}
}

func TestSequencerRecoversFromSpeakerPanic(t *testing.T) {
	t.Parallel()
	queue := announce.NewQueue()
	history := announce.NewHistory()
	speaker := &fakeSpeaker{panics: map[string]bool{"boom": true}}
	seq := announce.NewSequencer(queue, history, speaker, announce.WithRepeatPause(0))
	defer startSequencer(t, seq)()

	base := time.Now()
	queue.Enqueue(testAnnouncement("boom", 1, base))
	queue.Enqueue(testAnnouncement("after", 3, base))
	seq.Notify()

	waitFor(t, time.Second, func() bool { return history.Len() == 1 }, "sequencer survived panic")
	if entries := history.Entries(); entries[0].ID != "after" {
		t.Errorf("history = %+v, want only the announcement after the panic", entries)
	}
}

func TestSequencerReadingState(t *testing.T) {
	t.Parallel()
	queue := announce.NewQueue()
	history := announce.NewHistory()
	speaker := &fakeSpeaker{delay: 50 * time.Millisecond}
	seq := announce.NewSequencer(queue, history, speaker, announce.WithRepeatPause(0))
	defer startSequencer(t, seq)()

	if seq.IsReading() {
		t.Fatal("IsReading = true before anything was enqueued")
	}
	if seq.Current() != nil {
		t.Fatal("Current != nil while idle")
	}

	queue.Enqueue(testAnnouncement("slow", 3, time.Now()))
	seq.Notify()

	waitFor(t, time.Second, seq.IsReading, "playback started")
	if cur := seq.Current(); cur == nil || cur.ID != "slow" {
		t.Errorf("Current = %+v, want the slow announcement", cur)
	}

	waitFor(t, time.Second, func() bool { return !seq.IsReading() }, "playback finished")
	if seq.Current() != nil {
		t.Error("Current != nil after playback finished")
	}
}

func TestSequencerDrainsBacklogOnOneWake(t *testing.T) {
	t.Parallel()
	queue := announce.NewQueue()
	history := announce.NewHistory()
	speaker := &fakeSpeaker{}
	seq := announce.NewSequencer(queue, history, speaker, announce.WithRepeatPause(0))
	defer startSequencer(t, seq)()

	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		queue.Enqueue(testAnnouncement(id, 3, base.Add(time.Duration(i)*time.Second)))
	}
	seq.Notify()

	waitFor(t, time.Second, func() bool { return history.Len() == 3 }, "backlog drained")
	if got := queue.Len(); got != 0 {
		t.Errorf("queue Len = %d, want 0", got)
	}
}
