package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// Transport is the wire-level connection a [Conn] drives. Implementations
// carry exactly one underlying socket; a failed transport is discarded and a
// fresh one is dialled by the reconnect loop.
//
// Receive blocks until a frame arrives, the transport fails, or ctx is
// cancelled. After Receive returns an error the transport is dead and only
// Close may be called.
type Transport interface {
	Invoke(ctx context.Context, target string, args any) error
	Receive(ctx context.Context) (Envelope, error)
	Close() error
}

// DialFunc establishes a new [Transport] to an endpoint. Used by [Conn] so
// tests can inject fake transports.
type DialFunc func(ctx context.Context, ep Endpoint) (Transport, error)

// Dial is the production [DialFunc]: a WebSocket connection carrying JSON
// [Envelope] frames, authenticated with the endpoint's bearer token.
func Dial(ctx context.Context, ep Endpoint) (Transport, error) {
	opts := &websocket.DialOptions{}
	if ep.Token != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + ep.Token}}
	}

	ws, _, err := websocket.Dial(ctx, ep.URL, opts)
	if err != nil {
		return nil, fmt.Errorf("hub: dial %s: %w", ep.URL, err)
	}
	// Announcement fan-out is low volume; the default read limit of 32 KiB
	// is fine but make it explicit.
	ws.SetReadLimit(32 << 10)

	return &wsTransport{ws: ws}, nil
}

// wsTransport adapts a coder/websocket connection to [Transport].
type wsTransport struct {
	ws *websocket.Conn
}

func (t *wsTransport) Invoke(ctx context.Context, target string, args any) error {
	var payload json.RawMessage
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("hub: marshal %s args: %w", target, err)
		}
		payload = raw
	}
	frame, err := json.Marshal(Envelope{Type: FrameInvoke, Target: target, Payload: payload})
	if err != nil {
		return fmt.Errorf("hub: marshal %s frame: %w", target, err)
	}
	if err := t.ws.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("hub: invoke %s: %w", target, err)
	}
	return nil
}

func (t *wsTransport) Receive(ctx context.Context) (Envelope, error) {
	_, raw, err := t.ws.Read(ctx)
	if err != nil {
		return Envelope{}, fmt.Errorf("hub: read: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("hub: decode frame: %w", err)
	}
	return env, nil
}

func (t *wsTransport) Close() error {
	return t.ws.Close(websocket.StatusNormalClosure, "bye")
}
