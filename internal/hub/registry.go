package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultGracePeriod is how long a connection with zero references lives
// before teardown. The delay exists to survive rapid release/re-acquire
// churn: a re-acquire within the window cancels the pending teardown and
// keeps the socket.
const DefaultGracePeriod = 3 * time.Second

// Registry is the process-wide map from endpoint identity to one shared
// [Conn]. All methods are safe for concurrent use and never fail; failures
// surface from [Conn.Start].
type Registry struct {
	grace    time.Duration
	connOpts []ConnOption

	mu      sync.Mutex
	entries map[string]*registryEntry
}

// registryEntry tracks one shared connection and its consumers.
type registryEntry struct {
	conn      *Conn
	refs      int
	stopTimer *time.Timer // pending grace-delay teardown, nil when live
}

// RegistryOption configures a [Registry] during construction.
type RegistryOption func(*Registry)

// WithGracePeriod sets the teardown grace delay after the last release.
func WithGracePeriod(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d >= 0 {
			r.grace = d
		}
	}
}

// WithConnOptions sets options applied to every [Conn] the registry creates.
func WithConnOptions(opts ...ConnOption) RegistryOption {
	return func(r *Registry) {
		r.connOpts = opts
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		grace:   DefaultGracePeriod,
		entries: make(map[string]*registryEntry),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// defaultRegistry is the lazily-initialised process-wide registry.
var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide [Registry], creating it on first call.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Acquire returns the shared connection handle for ep, creating an
// unstarted one on first use, and increments its reference count. A pending
// grace-delay teardown for the same endpoint is cancelled.
func (r *Registry) Acquire(ep Endpoint) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[ep.key()]
	if !ok {
		e = &registryEntry{conn: NewConn(ep, r.connOpts...)}
		r.entries[ep.key()] = e
		slog.Debug("hub registry: created connection", "url", ep.URL)
	}

	if e.stopTimer != nil {
		e.stopTimer.Stop()
		e.stopTimer = nil
		slog.Debug("hub registry: cancelled pending teardown", "url", ep.URL)
	}

	e.refs++
	return e.conn
}

// Release decrements the reference count for ep. When the count reaches
// zero, teardown is scheduled after the grace period rather than performed
// immediately; an Acquire before the delay elapses cancels it. Releasing an
// endpoint that was never acquired is a no-op.
func (r *Registry) Release(ep Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[ep.key()]
	if !ok {
		return
	}

	if e.refs > 0 {
		e.refs--
	}
	if e.refs > 0 || e.stopTimer != nil {
		return
	}

	e.stopTimer = time.AfterFunc(r.grace, func() {
		r.teardown(ep)
	})
}

// Refs reports the current reference count for ep. Intended for tests and
// status displays.
func (r *Registry) Refs(ep Endpoint) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[ep.key()]; ok {
		return e.refs
	}
	return 0
}

// teardown removes the entry and stops its connection, unless a re-acquire
// won the race while the grace timer was pending.
func (r *Registry) teardown(ep Endpoint) {
	r.mu.Lock()
	e, ok := r.entries[ep.key()]
	if !ok || e.refs > 0 {
		// Re-acquired during the grace window; keep the connection.
		r.mu.Unlock()
		return
	}
	delete(r.entries, ep.key())
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), stopSettleTimeout)
	defer cancel()
	if err := e.conn.Stop(ctx); err != nil {
		slog.Warn("hub registry: teardown stop error", "url", ep.URL, "err", err)
	}
	slog.Debug("hub registry: connection torn down", "url", ep.URL)
}

// Shutdown stops every live connection. Used by process teardown; pending
// grace timers are cancelled first so they cannot race the shutdown.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	entries := make([]*registryEntry, 0, len(r.entries))
	for k, e := range r.entries {
		if e.stopTimer != nil {
			e.stopTimer.Stop()
			e.stopTimer = nil
		}
		entries = append(entries, e)
		delete(r.entries, k)
	}
	r.mu.Unlock()

	for _, e := range entries {
		if err := e.conn.Stop(ctx); err != nil {
			slog.Warn("hub registry: shutdown stop error", "url", e.conn.ep.URL, "err", err)
		}
	}
}
