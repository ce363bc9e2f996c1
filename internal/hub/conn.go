// Package hub maintains shared, reconnect-aware connections to the hallcall
// broadcast hub.
//
// A [Registry] hands out one [Conn] per endpoint identity, reference counted
// so that any number of consumers share a single socket. A [Conn] drives an
// explicit connection state machine ([State]) with single-flight start,
// automatic reconnection, and idempotent broadcast-group membership
// ([Membership]). The sole ingress is the "BroadcastReceived" event, fanned
// out to every subscriber registered via [Conn.OnBroadcast].
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Default lifecycle parameters.
const (
	defaultMaxRetries   = 10
	defaultBackoff      = 1 * time.Second
	defaultMaxBackoff   = 30 * time.Second
	defaultJoinTimeout  = 30 * time.Second
	defaultPollInterval = 200 * time.Millisecond

	// stopSettleTimeout bounds how long Stop waits for an in-flight start
	// attempt before tearing down anyway.
	stopSettleTimeout = 10 * time.Second

	// dialTimeout bounds a single reconnect dial attempt.
	dialTimeout = 15 * time.Second
)

// ErrNotConnected is returned by [Conn.Send] when the connection is not in
// the Connected state. Unlike join/leave, explicit sends propagate this to
// the caller.
var ErrNotConnected = errors.New("hub: not connected")

// Endpoint identifies a hub connection: URL plus optional bearer credential.
// Two endpoints with the same URL but different tokens are distinct.
type Endpoint struct {
	URL   string
	Token string
}

func (e Endpoint) key() string { return e.URL + "\x00" + e.Token }

// startAttempt tracks one in-flight handshake so concurrent Start callers
// can wait for it and share its outcome.
type startAttempt struct {
	done chan struct{}
	err  error
}

// Conn is a shared handle on one hub connection. At most one underlying
// socket exists per Conn at any time; Start is single-flight. All exported
// methods are safe for concurrent use.
type Conn struct {
	ep   Endpoint
	dial DialFunc

	maxRetries   int
	backoff      time.Duration
	maxBackoff   time.Duration
	joinTimeout  time.Duration
	pollInterval time.Duration

	mu         sync.Mutex
	state      State
	membership Membership
	group      string // last requested group, re-joined after reconnect
	transport  Transport
	epoch      int // bumped by Stop; stale read/reconnect loops exit
	attempt    *startAttempt

	nextSub   int
	subs      map[int]func(BroadcastEvent)
	stateSubs map[int]func(State)
}

// ConnOption configures a [Conn] during construction.
type ConnOption func(*Conn)

// WithDialFunc overrides the transport dialler, mainly for tests.
func WithDialFunc(d DialFunc) ConnOption {
	return func(c *Conn) { c.dial = d }
}

// WithReconnectPolicy sets the automatic-reconnect parameters. Zero values
// keep the defaults (10 retries, 1s initial backoff doubling up to 30s).
func WithReconnectPolicy(maxRetries int, backoff, maxBackoff time.Duration) ConnOption {
	return func(c *Conn) {
		if maxRetries > 0 {
			c.maxRetries = maxRetries
		}
		if backoff > 0 {
			c.backoff = backoff
		}
		if maxBackoff > 0 {
			c.maxBackoff = maxBackoff
		}
	}
}

// WithJoinTimeout bounds how long JoinGroup waits for the connection to
// reach Connected before giving up quietly.
func WithJoinTimeout(d time.Duration) ConnOption {
	return func(c *Conn) {
		if d > 0 {
			c.joinTimeout = d
		}
	}
}

// WithPollInterval sets the polling interval of the wait-until-connected
// helper. Tests shrink this to keep join timeouts fast.
func WithPollInterval(d time.Duration) ConnOption {
	return func(c *Conn) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// NewConn creates an unstarted connection handle for ep.
func NewConn(ep Endpoint, opts ...ConnOption) *Conn {
	c := &Conn{
		ep:           ep,
		dial:         Dial,
		maxRetries:   defaultMaxRetries,
		backoff:      defaultBackoff,
		maxBackoff:   defaultMaxBackoff,
		joinTimeout:  defaultJoinTimeout,
		pollInterval: defaultPollInterval,
		subs:         make(map[int]func(BroadcastEvent)),
		stateSubs:    make(map[int]func(State)),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Endpoint returns the endpoint identity this handle connects to.
func (c *Conn) Endpoint() Endpoint { return c.ep }

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// MembershipState returns the current broadcast-group membership.
func (c *Conn) MembershipState() Membership {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.membership
}

// Start connects to the hub. It is a no-op when already Connected or
// Reconnecting. Concurrent calls are serialized: callers issued during an
// in-flight attempt wait for it to settle and share its outcome. A failed
// handshake returns the connection to Disconnected; the caller may retry.
func (c *Conn) Start(ctx context.Context) error {
	c.mu.Lock()
	if at := c.attempt; at != nil {
		c.mu.Unlock()
		select {
		case <-at.done:
			return at.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if c.state == StateConnected || c.state == StateReconnecting {
		c.mu.Unlock()
		return nil
	}

	at := &startAttempt{done: make(chan struct{})}
	c.attempt = at
	c.state = StateConnecting
	c.mu.Unlock()
	c.notifyState(StateConnecting)

	t, err := c.dial(ctx, c.ep)

	c.mu.Lock()
	c.attempt = nil
	if err != nil {
		c.state = StateDisconnected
		c.mu.Unlock()
		at.err = fmt.Errorf("hub: start %s: %w", c.ep.URL, err)
		close(at.done)
		c.notifyState(StateDisconnected)
		slog.Warn("hub: handshake failed", "url", c.ep.URL, "err", err)
		return at.err
	}
	c.transport = t
	c.state = StateConnected
	epoch := c.epoch
	c.mu.Unlock()
	close(at.done)
	c.notifyState(StateConnected)
	slog.Info("hub: connected", "url", c.ep.URL)

	go c.readLoop(t, epoch)
	return nil
}

// Stop disconnects. If a start attempt is in flight it waits (bounded) for
// it to settle first, to avoid tearing down mid-handshake. Stop on an
// already-Disconnected handle is a no-op.
func (c *Conn) Stop(ctx context.Context) error {
	deadline := time.Now().Add(stopSettleTimeout)
	for {
		c.mu.Lock()
		at := c.attempt
		if at == nil {
			break // keep the lock for teardown below
		}
		c.mu.Unlock()

		wait := time.Until(deadline)
		if wait <= 0 {
			// Settle timeout elapsed; tear down anyway.
			c.mu.Lock()
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-at.done:
			timer.Stop()
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	t := c.transport
	c.transport = nil
	c.epoch++
	c.membership = NotJoined
	changed := c.state != StateDisconnected
	c.state = StateDisconnected
	c.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
	if changed {
		c.notifyState(StateDisconnected)
		slog.Info("hub: disconnected", "url", c.ep.URL)
	}
	return nil
}

// JoinGroup subscribes this connection to the named broadcast group. It is
// idempotent: joining while already Joined or Joining is a no-op. When the
// connection is not yet Connected, JoinGroup waits up to the join timeout
// and then gives up quietly — group errors never block the pipeline.
func (c *Conn) JoinGroup(ctx context.Context, group string) error {
	c.mu.Lock()
	if c.membership == Joined || c.membership == Joining {
		c.mu.Unlock()
		return nil
	}
	c.membership = Joining
	c.group = group
	c.mu.Unlock()

	if !c.waitConnected(ctx, c.joinTimeout) {
		c.resetJoining()
		slog.Warn("hub: join timed out waiting for connection", "group", group)
		return nil
	}

	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t == nil {
		c.resetJoining()
		return nil
	}

	if err := t.Invoke(ctx, TargetJoinGroup, GroupArgs{Group: group}); err != nil {
		c.resetJoining()
		slog.Warn("hub: join invoke failed", "group", group, "err", err)
		return nil
	}

	c.mu.Lock()
	if c.membership == Joining {
		c.membership = Joined
	}
	c.mu.Unlock()
	slog.Debug("hub: joined group", "group", group)
	return nil
}

// LeaveGroup unsubscribes from the broadcast group. Only meaningful when
// Joined; otherwise a no-op. Errors are logged and swallowed.
func (c *Conn) LeaveGroup(ctx context.Context) error {
	c.mu.Lock()
	if c.membership != Joined {
		c.mu.Unlock()
		return nil
	}
	group := c.group
	t := c.transport
	c.membership = NotJoined
	c.mu.Unlock()

	if t != nil {
		if err := t.Invoke(ctx, TargetLeaveGroup, GroupArgs{Group: group}); err != nil {
			slog.Warn("hub: leave invoke failed", "group", group, "err", err)
		}
	}
	return nil
}

// Send issues an explicit invocation to the hub. Unlike group operations,
// Send propagates [ErrNotConnected] so the caller can surface it.
func (c *Conn) Send(ctx context.Context, target string, args any) error {
	c.mu.Lock()
	t := c.transport
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || t == nil {
		return ErrNotConnected
	}
	return t.Invoke(ctx, target, args)
}

// OnBroadcast registers fn to receive every inbound broadcast event. The
// returned function unsubscribes. Callbacks run sequentially on the
// connection's read goroutine and must not block.
func (c *Conn) OnBroadcast(fn func(BroadcastEvent)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// OnStateChange registers fn to observe connection state transitions. The
// returned function unsubscribes.
func (c *Conn) OnStateChange(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.stateSubs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.stateSubs, id)
		c.mu.Unlock()
	}
}

// waitConnected polls until the connection reaches Connected, the timeout
// elapses, or ctx is cancelled. Returns true when Connected.
func (c *Conn) waitConnected(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		if c.State() == StateConnected {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// resetJoining reverts a pending Joining back to NotJoined.
func (c *Conn) resetJoining() {
	c.mu.Lock()
	if c.membership == Joining {
		c.membership = NotJoined
	}
	c.mu.Unlock()
}

// notifyState invokes all state subscribers with s. Called without c.mu.
func (c *Conn) notifyState(s State) {
	c.mu.Lock()
	fns := make([]func(State), 0, len(c.stateSubs))
	for _, fn := range c.stateSubs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// fanOut delivers ev to all broadcast subscribers. Called from the read
// goroutine, so delivery order matches arrival order.
func (c *Conn) fanOut(ev BroadcastEvent) {
	c.mu.Lock()
	fns := make([]func(BroadcastEvent), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// readLoop receives frames from t until the transport dies or the handle is
// stopped (epoch bump). Exactly one listener exists per transport; every
// broadcast payload is forwarded to all subscribers.
func (c *Conn) readLoop(t Transport, epoch int) {
	ctx := context.Background()
	for {
		env, err := t.Receive(ctx)
		if err != nil {
			c.mu.Lock()
			if c.epoch != epoch {
				// Intentional stop; nothing to do.
				c.mu.Unlock()
				return
			}
			wasJoined := c.membership == Joined
			c.membership = NotJoined
			c.transport = nil
			c.state = StateReconnecting
			c.mu.Unlock()
			_ = t.Close()
			c.notifyState(StateReconnecting)
			slog.Warn("hub: connection lost, reconnecting", "url", c.ep.URL, "err", err)
			c.reconnect(epoch, wasJoined)
			return
		}

		if env.Type != FrameEvent || env.Target != TargetBroadcast {
			continue
		}
		var ev BroadcastEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			slog.Warn("hub: malformed broadcast payload", "err", err)
			continue
		}
		c.fanOut(ev)
	}
}

// reconnect re-dials with exponential backoff. On success it re-joins the
// previously joined group (membership does not survive the transport) and
// resumes reading. On exhaustion the handle settles to Disconnected.
func (c *Conn) reconnect(epoch int, wasJoined bool) {
	backoff := c.backoff

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		c.mu.Lock()
		stopped := c.epoch != epoch
		c.mu.Unlock()
		if stopped {
			return
		}

		slog.Info("hub: reconnect attempt",
			"url", c.ep.URL,
			"attempt", attempt,
			"max_retries", c.maxRetries,
			"backoff", backoff,
		)

		dialCtx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		t, err := c.dial(dialCtx, c.ep)
		cancel()

		if err == nil {
			c.mu.Lock()
			if c.epoch != epoch {
				c.mu.Unlock()
				_ = t.Close()
				return
			}
			c.transport = t
			c.state = StateConnected
			c.mu.Unlock()
			c.notifyState(StateConnected)
			slog.Info("hub: reconnected", "url", c.ep.URL, "attempt", attempt)

			if wasJoined {
				c.rejoin(t)
			}
			go c.readLoop(t, epoch)
			return
		}

		slog.Warn("hub: reconnect attempt failed", "url", c.ep.URL, "attempt", attempt, "err", err)
		time.Sleep(backoff)
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}

	c.mu.Lock()
	changed := false
	if c.epoch == epoch {
		c.state = StateDisconnected
		changed = true
	}
	c.mu.Unlock()
	if changed {
		c.notifyState(StateDisconnected)
		slog.Error("hub: reconnection failed after max retries", "url", c.ep.URL, "max_retries", c.maxRetries)
	}
}

// rejoin re-invokes the join for the previously joined group on a fresh
// transport. Failures are logged and swallowed.
func (c *Conn) rejoin(t Transport) {
	c.mu.Lock()
	group := c.group
	c.mu.Unlock()
	if group == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := t.Invoke(ctx, TargetJoinGroup, GroupArgs{Group: group}); err != nil {
		slog.Warn("hub: re-join after reconnect failed", "group", group, "err", err)
		return
	}
	c.mu.Lock()
	c.membership = Joined
	c.mu.Unlock()
	slog.Debug("hub: re-joined group after reconnect", "group", group)
}
