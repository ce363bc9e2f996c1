// Package announce holds the announcement pipeline between the hub and the
// speakers: payload normalization, the deduplicated priority queue, the
// playback sequencer, and the bounded completed-history list.
package announce

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hallcall/hallcall/internal/hub"
)

// Defaults applied to inbound payloads with absent fields.
const (
	// DefaultPriority is the mid-level priority assumed when a broadcast
	// carries none. Lower values are more urgent.
	DefaultPriority = 3

	// DefaultRepeatCount is how many times an announcement is spoken when
	// the broadcast does not say.
	DefaultRepeatCount = 1
)

// Announcement is one normalized inbound broadcast awaiting playback.
type Announcement struct {
	// InstanceID uniquely identifies this queue instance; used as a list
	// key. Distinct from ID, which identifies the logical notification.
	InstanceID string

	// ID is the server-supplied notification id, or a fallback composed
	// from title and content when the server sent none.
	ID string

	Title    string
	Content  string
	HallID   string
	HallName string

	// SessionID ties the announcement to a ceremony session, when known.
	SessionID string

	// Scope describes the announcement's audience (e.g. "hall", "all").
	Scope string

	// Priority orders the queue; lower is more urgent.
	Priority int

	// RepeatCount is how many times the announcement is spoken.
	RepeatCount int

	IsAutomatic bool

	// CreatedAt is when this client observed the broadcast.
	CreatedAt time.Time

	// BroadcastAt is the server-side send time; zero when the server did
	// not provide one.
	BroadcastAt time.Time
}

// FromEvent normalizes a raw broadcast payload observed at arrival time now:
// absent priority defaults to [DefaultPriority], absent repeat count to
// [DefaultRepeatCount], a missing notification id falls back to
// title+content, and an unparseable broadcastAt falls back to arrival time.
func FromEvent(ev hub.BroadcastEvent, now time.Time) Announcement {
	a := Announcement{
		InstanceID:  uuid.NewString(),
		ID:          ev.NotificationID,
		Title:       ev.Title,
		Content:     ev.Content,
		HallID:      ev.HallID,
		HallName:    ev.HallName,
		SessionID:   ev.SessionID,
		Scope:       ev.Scope,
		Priority:    DefaultPriority,
		RepeatCount: DefaultRepeatCount,
		IsAutomatic: ev.IsAutomatic,
		CreatedAt:   now,
	}
	if a.ID == "" {
		a.ID = fmt.Sprintf("%s|%s", ev.Title, ev.Content)
	}
	if ev.Priority != nil {
		a.Priority = *ev.Priority
	}
	if ev.RepeatCount != nil && *ev.RepeatCount > 0 {
		a.RepeatCount = *ev.RepeatCount
	}
	if ev.BroadcastAt != "" {
		if t, err := time.Parse(time.RFC3339, ev.BroadcastAt); err == nil {
			a.BroadcastAt = t
		}
	}
	return a
}

// EffectiveTime is the queue-ordering timestamp: the server broadcast time
// when present, otherwise the client arrival time.
func (a Announcement) EffectiveTime() time.Time {
	if !a.BroadcastAt.IsZero() {
		return a.BroadcastAt
	}
	return a.CreatedAt
}

// DedupKey identifies the logical delivery: two payloads sharing identity,
// effective time, and content are the same announcement and only one enters
// the queue.
func (a Announcement) DedupKey() string {
	return fmt.Sprintf("%s\x00%d\x00%s", a.ID, a.EffectiveTime().UnixNano(), a.Content)
}

// Completed is an announcement that finished its repeat loop.
type Completed struct {
	Announcement

	// CompletedAt is when the final repeat finished playing.
	CompletedAt time.Time
}
