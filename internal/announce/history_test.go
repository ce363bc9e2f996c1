package announce_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hallcall/hallcall/internal/announce"
)

// recordingArchiver captures archived entries and optionally fails.
type recordingArchiver struct {
	mu       sync.Mutex
	archived []announce.Completed
	err      error
}

func (r *recordingArchiver) Archive(_ context.Context, c announce.Completed) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.archived = append(r.archived, c)
	return nil
}

func completed(id string, at time.Time) announce.Completed {
	return announce.Completed{
		Announcement: testAnnouncement(id, 3, at),
		CompletedAt:  at,
	}
}

func TestHistoryBoundedEviction(t *testing.T) {
	t.Parallel()
	h := announce.NewHistory(announce.WithHistoryLimit(3))
	base := time.Now()

	for i, id := range []string{"a", "b", "c", "d", "e"} {
		h.Add(context.Background(), completed(id, base.Add(time.Duration(i)*time.Second)))
	}

	if got := h.Len(); got != 3 {
		t.Fatalf("Len = %d, want 3", got)
	}
	entries := h.Entries()
	want := []string{"c", "d", "e"}
	for i, id := range want {
		if entries[i].ID != id {
			t.Errorf("entries[%d] = %q, want %q (oldest evicted first)", i, entries[i].ID, id)
		}
	}
}

func TestHistoryArchiverReceivesEveryEntry(t *testing.T) {
	t.Parallel()
	arch := &recordingArchiver{}
	h := announce.NewHistory(announce.WithHistoryLimit(2), announce.WithArchiver(arch))
	base := time.Now()

	// More entries than the in-memory bound: the archive must still see all
	// of them, eviction only trims the in-memory list.
	for i, id := range []string{"a", "b", "c"} {
		h.Add(context.Background(), completed(id, base.Add(time.Duration(i)*time.Second)))
	}

	arch.mu.Lock()
	defer arch.mu.Unlock()
	if len(arch.archived) != 3 {
		t.Fatalf("archived %d entries, want 3", len(arch.archived))
	}
	if arch.archived[0].ID != "a" || arch.archived[2].ID != "c" {
		t.Errorf("archive order = %+v", arch.archived)
	}
}

func TestHistoryArchiveFailureDoesNotDropEntry(t *testing.T) {
	t.Parallel()
	arch := &recordingArchiver{err: errors.New("database unavailable")}
	h := announce.NewHistory(announce.WithArchiver(arch))

	h.Add(context.Background(), completed("a", time.Now()))

	if got := h.Len(); got != 1 {
		t.Errorf("Len = %d, want 1 — archive failure must not lose the in-memory entry", got)
	}
}

func TestHistoryFillsCompletedAt(t *testing.T) {
	t.Parallel()
	h := announce.NewHistory()

	h.Add(context.Background(), announce.Completed{Announcement: testAnnouncement("a", 3, time.Now())})

	entries := h.Entries()
	if len(entries) != 1 || entries[0].CompletedAt.IsZero() {
		t.Errorf("CompletedAt not defaulted: %+v", entries)
	}
}
