package hubd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hallcall/hallcall/internal/hub"
)

func fakeClient(queueSize int) *client {
	return &client{
		send:   make(chan []byte, queueSize),
		groups: make(map[string]struct{}),
	}
}

// decodeFrame unmarshals a queued broadcast frame back into its event.
func decodeFrame(t *testing.T, frame []byte) hub.BroadcastEvent {
	t.Helper()
	var env hub.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Type != hub.FrameEvent || env.Target != hub.TargetBroadcast {
		t.Fatalf("frame = %s %s, want event/%s", env.Type, env.Target, hub.TargetBroadcast)
	}
	var ev hub.BroadcastEvent
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	return ev
}

func TestHubPublishReachesGroupMembers(t *testing.T) {
	t.Parallel()
	h := New()
	a, b, other := fakeClient(4), fakeClient(4), fakeClient(4)
	for _, c := range []*client{a, b, other} {
		h.register(c)
	}
	h.join(a, "hall-1")
	h.join(b, "hall-1")
	h.join(other, "hall-2")

	n, err := h.Publish(context.Background(), "hall-1", hub.BroadcastEvent{Title: "Jansen family"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if n != 2 {
		t.Errorf("recipients = %d, want 2", n)
	}

	for _, c := range []*client{a, b} {
		select {
		case frame := <-c.send:
			if ev := decodeFrame(t, frame); ev.Title != "Jansen family" {
				t.Errorf("event title = %q", ev.Title)
			}
		default:
			t.Error("group member did not receive the frame")
		}
	}
	select {
	case <-other.send:
		t.Error("client outside the group received the frame")
	default:
	}

	// Publishing to an empty group is fine.
	if n, err := h.Publish(context.Background(), "hall-9", hub.BroadcastEvent{Title: "x"}); err != nil || n != 0 {
		t.Errorf("Publish to empty group = %d, %v", n, err)
	}
}

func TestHubMembershipBookkeeping(t *testing.T) {
	t.Parallel()
	h := New()
	c := fakeClient(4)
	h.register(c)

	h.join(c, "hall-1")
	h.join(c, "hall-1") // idempotent
	if got := h.GroupSize("hall-1"); got != 1 {
		t.Errorf("GroupSize after double join = %d, want 1", got)
	}

	h.leave(c, "hall-1")
	if got := h.GroupSize("hall-1"); got != 0 {
		t.Errorf("GroupSize after leave = %d, want 0", got)
	}
	h.leave(c, "hall-1") // idempotent

	// Unregister sweeps remaining memberships.
	h.join(c, "hall-2")
	h.unregister(c)
	if got := h.GroupSize("hall-2"); got != 0 {
		t.Errorf("GroupSize after unregister = %d, want 0", got)
	}
	if got := h.ClientCount(); got != 0 {
		t.Errorf("ClientCount = %d, want 0", got)
	}
}

func TestClientEnqueueDropsOldestUnderPressure(t *testing.T) {
	t.Parallel()
	c := fakeClient(2)

	c.enqueue([]byte("one"))
	c.enqueue([]byte("two"))
	c.enqueue([]byte("three")) // queue full: "one" is sacrificed

	got := []string{string(<-c.send), string(<-c.send)}
	if got[0] != "two" || got[1] != "three" {
		t.Errorf("queued frames = %v, want [two three]", got)
	}
	select {
	case frame := <-c.send:
		t.Errorf("unexpected extra frame %q", frame)
	default:
	}
}

func TestBroadcastHandler(t *testing.T) {
	t.Parallel()
	h := New()
	member := fakeClient(4)
	h.register(member)
	h.join(member, "hall-1")

	handler := BroadcastHandler(h)
	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/broadcast", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("publishes and defaults broadcastAt", func(t *testing.T) {
		rec := post(`{"group":"hall-1","title":"Jansen family","content":"hall 3"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body)
		}
		var resp broadcastResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.Recipients != 1 {
			t.Errorf("response = %s", rec.Body)
		}

		ev := decodeFrame(t, <-member.send)
		if ev.Title != "Jansen family" || ev.Content != "hall 3" {
			t.Errorf("event = %+v", ev)
		}
		if ev.BroadcastAt == "" {
			t.Error("broadcastAt was not defaulted")
		} else if _, err := time.Parse(time.RFC3339, ev.BroadcastAt); err != nil {
			t.Errorf("broadcastAt %q is not RFC3339: %v", ev.BroadcastAt, err)
		}
	})

	t.Run("requires group", func(t *testing.T) {
		if rec := post(`{"title":"x"}`); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("requires title or content", func(t *testing.T) {
		if rec := post(`{"group":"hall-1"}`); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("rejects non-POST", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/broadcast", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", rec.Code)
		}
	})
}

// TestHubEndToEnd drives a real WebSocket round trip: a hall client dials
// the accept handler, joins a group, and receives a published announcement.
func TestHubEndToEnd(t *testing.T) {
	t.Parallel()
	h := New()
	srv := httptest.NewServer(WSHandler(h))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	transport, err := hub.Dial(ctx, hub.Endpoint{URL: wsURL})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer transport.Close()

	if err := transport.Invoke(ctx, hub.TargetJoinGroup, hub.GroupArgs{Group: "hall-1"}); err != nil {
		t.Fatalf("join invoke: %v", err)
	}

	// The join is processed asynchronously by the server's read loop.
	deadline := time.Now().Add(2 * time.Second)
	for h.GroupSize("hall-1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("server never registered the group join")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := h.Publish(ctx, "hall-1", hub.BroadcastEvent{Title: "Jansen family"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	env, err := transport.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if env.Type != hub.FrameEvent || env.Target != hub.TargetBroadcast {
		t.Fatalf("frame = %+v, want broadcast event", env)
	}
	var ev hub.BroadcastEvent
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if ev.Title != "Jansen family" {
		t.Errorf("event title = %q", ev.Title)
	}
}
