// Package mock provides a test double for the tts.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/hallcall/hallcall/pkg/provider/tts"
)

// Compile-time check that *Provider satisfies [tts.Provider].
var _ tts.Provider = (*Provider)(nil)

// Provider is a configurable mock tts.Provider. The zero value returns a
// small fixed audio payload for every request.
type Provider struct {
	// SynthesizeFunc, when non-nil, handles Synthesize calls entirely.
	SynthesizeFunc func(ctx context.Context, req tts.Request) (*tts.Result, error)

	// Result is returned by Synthesize when SynthesizeFunc is nil.
	// When nil, a default result with payload "mock-audio" is returned.
	Result *tts.Result

	// Err, when non-nil, is returned by Synthesize (SynthesizeFunc nil).
	Err error

	mu    sync.Mutex
	calls []tts.Request
}

// Synthesize records the request and returns the configured result or error.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.mu.Unlock()

	if p.SynthesizeFunc != nil {
		return p.SynthesizeFunc(ctx, req)
	}
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Result != nil {
		return p.Result, nil
	}
	return &tts.Result{Audio: []byte("mock-audio"), ContentType: "audio/mpeg"}, nil
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return "mock" }

// Calls returns a snapshot of all recorded Synthesize requests.
func (p *Provider) Calls() []tts.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]tts.Request, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount returns the number of Synthesize invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
