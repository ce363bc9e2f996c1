package announce

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultHistoryLimit bounds the in-memory completed list when no explicit
// limit is configured.
const DefaultHistoryLimit = 50

// Archiver persists completed announcements beyond the bounded in-memory
// list. Implementations must be safe for concurrent use.
type Archiver interface {
	Archive(ctx context.Context, c Completed) error
}

// History is the bounded list of completed announcements, newest last.
// When the list exceeds its maximum the oldest entries are evicted. An
// optional [Archiver] receives every completed entry before eviction can
// drop it; archive failures are logged and never block the pipeline.
//
// All methods are safe for concurrent use.
type History struct {
	mu      sync.Mutex
	entries []Completed
	max     int
	archive Archiver
}

// HistoryOption configures a [History].
type HistoryOption func(*History)

// WithHistoryLimit overrides the maximum number of retained entries.
func WithHistoryLimit(n int) HistoryOption {
	return func(h *History) {
		if n > 0 {
			h.max = n
		}
	}
}

// WithArchiver attaches a persistence sink for completed announcements.
func WithArchiver(a Archiver) HistoryOption {
	return func(h *History) {
		h.archive = a
	}
}

// NewHistory creates an empty history bounded at [DefaultHistoryLimit].
func NewHistory(opts ...HistoryOption) *History {
	h := &History{max: DefaultHistoryLimit}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Add records a completed announcement, evicting the oldest entry when the
// list exceeds its bound, and forwards it to the archiver when configured.
func (h *History) Add(ctx context.Context, c Completed) {
	if c.CompletedAt.IsZero() {
		c.CompletedAt = time.Now()
	}

	h.mu.Lock()
	h.entries = append(h.entries, c)
	if len(h.entries) > h.max {
		// Copy forward so evicted entries do not pin the backing array.
		fresh := make([]Completed, len(h.entries)-1, h.max)
		copy(fresh, h.entries[1:])
		h.entries = fresh
	}
	h.mu.Unlock()

	if h.archive != nil {
		if err := h.archive.Archive(ctx, c); err != nil {
			slog.Warn("history: archive failed", "announcement_id", c.ID, "err", err)
		}
	}
}

// Entries returns a copy of the completed list, oldest first.
func (h *History) Entries() []Completed {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Completed, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len reports the number of retained completed entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
