package hub

// State is the connection lifecycle state of a [Conn].
//
// Valid transitions:
//
//	Disconnected → Connecting → Connected → (Reconnecting ⇄ Connected) → Disconnected
//
// A Connecting attempt that fails returns to Disconnected. A handle that
// reached Disconnected may be started again.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String returns the lowercase state label used in logs and status displays.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Membership is the broadcast-group membership state of a [Conn]. It is
// tracked separately from [State] because group membership does not survive
// a transport-level reconnect and must be explicitly redone.
type Membership int32

const (
	NotJoined Membership = iota
	Joining
	Joined
)

// String returns the lowercase membership label.
func (m Membership) String() string {
	switch m {
	case NotJoined:
		return "not-joined"
	case Joining:
		return "joining"
	case Joined:
		return "joined"
	default:
		return "unknown"
	}
}
