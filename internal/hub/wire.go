package hub

import "encoding/json"

// Frame type discriminators used on the wire. Every message exchanged with
// the hub is a JSON [Envelope].
const (
	// FrameInvoke is a client-to-server invocation (fire-and-forget).
	FrameInvoke = "invoke"

	// FrameEvent is a server-to-client push event.
	FrameEvent = "event"
)

// Well-known invocation and event targets.
const (
	// TargetJoinGroup subscribes the connection to a broadcast group.
	TargetJoinGroup = "JoinNoticerGroup"

	// TargetLeaveGroup unsubscribes the connection from a broadcast group.
	TargetLeaveGroup = "LeaveNoticerGroup"

	// TargetBroadcast is the sole ingress event carrying an announcement.
	TargetBroadcast = "BroadcastReceived"
)

// Envelope is the JSON frame exchanged over the hub socket, in both
// directions. Payload holds target-specific arguments.
type Envelope struct {
	Type    string          `json:"type"`
	Target  string          `json:"target"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// GroupArgs is the payload of join/leave invocations.
type GroupArgs struct {
	Group string `json:"group"`
}

// BroadcastEvent is the payload of a [TargetBroadcast] event. Optional
// fields use pointers so that "absent" can be told apart from a zero value;
// defaulting happens in the announce package.
type BroadcastEvent struct {
	NotificationID string `json:"notificationId,omitempty"`
	Title          string `json:"title"`
	Content        string `json:"content"`
	Priority       *int   `json:"priority,omitempty"`
	HallID         string `json:"hallId,omitempty"`
	SessionID      string `json:"sessionId,omitempty"`
	HallName       string `json:"hallName,omitempty"`
	Scope          string `json:"scope,omitempty"`
	IsAutomatic    bool   `json:"isAutomatic,omitempty"`
	RepeatCount    *int   `json:"repeatCount,omitempty"`
	BroadcastAt    string `json:"broadcastAt,omitempty"`
}
