// Package hubd is the server side of the broadcast hub: it accepts hall
// client WebSocket connections, tracks group membership, and fans
// announcements out to every member of a group. Fan-out never blocks on a
// slow client — each client has a bounded send queue that drops its oldest
// frame under pressure.
package hubd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hallcall/hallcall/internal/hub"
	"github.com/hallcall/hallcall/internal/observe"
)

// defaultSendQueue bounds each client's outbound frame queue.
const defaultSendQueue = 32

// Hub tracks connected clients and their group memberships. All methods are
// safe for concurrent use.
type Hub struct {
	queueSize int
	metrics   *observe.Metrics

	mu      sync.Mutex
	clients map[*client]struct{}
	groups  map[string]map[*client]struct{}
}

// Option configures a [Hub].
type Option func(*Hub)

// WithSendQueueSize overrides the per-client outbound queue bound.
func WithSendQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithMetrics attaches hub metrics. Nil disables instrumentation.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) {
		h.metrics = m
	}
}

// New creates an empty hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		queueSize: defaultSendQueue,
		clients:   make(map[*client]struct{}),
		groups:    make(map[string]map[*client]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Publish fans one announcement out to every current member of group.
// Returns the number of clients the frame was queued for.
func (h *Hub) Publish(ctx context.Context, group string, ev hub.BroadcastEvent) (int, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("hubd: marshal broadcast: %w", err)
	}
	frame, err := json.Marshal(hub.Envelope{
		Type:    hub.FrameEvent,
		Target:  hub.TargetBroadcast,
		Payload: payload,
	})
	if err != nil {
		return 0, fmt.Errorf("hubd: marshal frame: %w", err)
	}

	h.mu.Lock()
	members := make([]*client, 0, len(h.groups[group]))
	for c := range h.groups[group] {
		members = append(members, c)
	}
	h.mu.Unlock()

	for _, c := range members {
		c.enqueue(frame)
	}

	slog.Info("hubd: broadcast published",
		"group", group,
		"title", ev.Title,
		"recipients", len(members),
	)
	return len(members), nil
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// GroupSize reports the number of clients joined to group.
func (h *Hub) GroupSize(group string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.groups[group])
}

// register adds a freshly accepted client.
func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.HubConnections.Add(context.Background(), 1)
	}
}

// unregister removes a client from the hub and every group it joined.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	for group := range c.groups {
		h.leaveLocked(c, group)
	}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.HubConnections.Add(context.Background(), -1)
	}
}

// join subscribes c to group. Idempotent.
func (h *Hub) join(c *client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.groups[group] == nil {
		h.groups[group] = make(map[*client]struct{})
	}
	h.groups[group][c] = struct{}{}
	c.groups[group] = struct{}{}
}

// leave unsubscribes c from group. Idempotent.
func (h *Hub) leave(c *client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, group)
}

// leaveLocked must be called with h.mu held.
func (h *Hub) leaveLocked(c *client, group string) {
	delete(c.groups, group)
	if members := h.groups[group]; members != nil {
		delete(members, c)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
}
