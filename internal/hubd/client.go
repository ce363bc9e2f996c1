package hubd

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/hallcall/hallcall/internal/hub"
)

// client is one accepted hall connection. The hub owns its group membership
// map (guarded by the hub mutex); the send queue decouples fan-out from the
// client's socket speed.
type client struct {
	ws     *websocket.Conn
	send   chan []byte
	groups map[string]struct{}
}

// enqueue queues one frame for delivery, dropping the client's oldest queued
// frame when the queue is full. A hall that is this far behind is better
// served by fresher announcements than by a complete backlog.
func (c *client) enqueue(frame []byte) {
	for {
		select {
		case c.send <- frame:
			return
		default:
		}
		select {
		case <-c.send:
			slog.Debug("hubd: client queue full, dropped oldest frame")
		default:
		}
	}
}

// WSHandler returns the WebSocket accept handler for hall clients.
func WSHandler(h *Hub) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			slog.Warn("hubd: websocket accept failed", "err", err)
			return
		}
		ws.SetReadLimit(32 << 10)

		c := &client{
			ws:     ws,
			send:   make(chan []byte, h.queueSize),
			groups: make(map[string]struct{}),
		}
		h.register(c)
		defer h.unregister(c)

		slog.Info("hubd: client connected", "remote", r.RemoteAddr)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		go writeLoop(ctx, c)
		readLoop(ctx, h, c)

		ws.Close(websocket.StatusNormalClosure, "bye")
		slog.Info("hubd: client disconnected", "remote", r.RemoteAddr)
	})
}

// readLoop consumes invocations from the client until the socket fails.
func readLoop(ctx context.Context, h *Hub, c *client) {
	for {
		_, raw, err := c.ws.Read(ctx)
		if err != nil {
			return
		}

		var env hub.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			slog.Warn("hubd: malformed frame", "err", err)
			continue
		}
		if env.Type != hub.FrameInvoke {
			continue
		}

		switch env.Target {
		case hub.TargetJoinGroup:
			var args hub.GroupArgs
			if err := json.Unmarshal(env.Payload, &args); err != nil || args.Group == "" {
				slog.Warn("hubd: bad join payload", "err", err)
				continue
			}
			h.join(c, args.Group)
			slog.Info("hubd: client joined group", "group", args.Group)

		case hub.TargetLeaveGroup:
			var args hub.GroupArgs
			if err := json.Unmarshal(env.Payload, &args); err != nil || args.Group == "" {
				slog.Warn("hubd: bad leave payload", "err", err)
				continue
			}
			h.leave(c, args.Group)
			slog.Info("hubd: client left group", "group", args.Group)

		default:
			slog.Debug("hubd: unknown invocation", "target", env.Target)
		}
	}
}

// writeLoop drains the client's send queue onto the socket.
func writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-c.send:
			if err := c.ws.Write(ctx, websocket.MessageText, frame); err != nil {
				return
			}
		}
	}
}
