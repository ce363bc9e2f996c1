package speech

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Chimes caches short audio cues by URL. Each chime is fetched and decoded
// once per process and reused for every playback.
//
// All methods are safe for concurrent use.
type Chimes struct {
	httpc *http.Client

	mu    sync.Mutex
	cache map[string]*Buffer
}

// NewChimes creates an empty chime cache. A nil httpc uses a default client
// with a short timeout.
func NewChimes(httpc *http.Client) *Chimes {
	if httpc == nil {
		httpc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Chimes{
		httpc: httpc,
		cache: make(map[string]*Buffer),
	}
}

// For returns the decoded chime at url, fetching it on first use.
func (c *Chimes) For(ctx context.Context, url string) (*Buffer, error) {
	c.mu.Lock()
	buf, ok := c.cache[url]
	c.mu.Unlock()
	if ok {
		return buf, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("speech: chime request: %w", err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech: fetch chime %q: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("speech: fetch chime %q: status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("speech: read chime %q: %w", url, err)
	}
	buf, err = decodeAudio(data)
	if err != nil {
		return nil, fmt.Errorf("speech: decode chime %q: %w", url, err)
	}

	c.mu.Lock()
	c.cache[url] = buf
	c.mu.Unlock()
	return buf, nil
}
