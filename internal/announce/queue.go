package announce

import (
	"sort"
	"sync"
)

// Queue is the ordered, deduplicated mailbox of not-yet-played
// announcements. Entries are kept sorted by (priority ascending, effective
// time ascending) — most urgent, then oldest, first. Insertion order among
// equal entries is preserved (stable sort).
//
// The queue has no size bound; it drains only through the sequencer.
// All methods are safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	items []Announcement
	keys  map[string]struct{} // dedup keys of queued entries
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{keys: make(map[string]struct{})}
}

// Enqueue inserts a unless an entry with the same dedup key is already
// queued, re-sorting by (priority, time). Returns false when a was dropped
// as a duplicate.
func (q *Queue) Enqueue(a Announcement) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := a.DedupKey()
	if _, dup := q.keys[key]; dup {
		return false
	}
	q.keys[key] = struct{}{}
	q.items = append(q.items, a)
	sort.SliceStable(q.items, func(i, j int) bool {
		if q.items[i].Priority != q.items[j].Priority {
			return q.items[i].Priority < q.items[j].Priority
		}
		return q.items[i].EffectiveTime().Before(q.items[j].EffectiveTime())
	})
	return true
}

// DequeueFront removes and returns the highest-priority, oldest entry.
// The remaining entries keep their order. Returns ok=false when empty.
func (q *Queue) DequeueFront() (Announcement, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Announcement{}, false
	}
	front := q.items[0]
	q.items = append(q.items[:0], q.items[1:]...)
	delete(q.keys, front.DedupKey())
	return front, true
}

// Len reports the number of queued announcements.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of the queued entries in playback order, for
// display (e.g. a pending-announcements counter). The queue is not mutated.
func (q *Queue) Snapshot() []Announcement {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Announcement, len(q.items))
	copy(out, q.items)
	return out
}
