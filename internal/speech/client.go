package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hallcall/hallcall/internal/observe"
)

// Synthesis failure codes reported through [SynthError].
const (
	CodeProviderError   = "provider_error"
	CodeNetworkError    = "network_error"
	CodeDecodeError     = "decode_error"
	CodeUnexpectedError = "unexpected_error"
)

// SynthError is the structured failure reason for a synthesis request: a
// stable machine-readable code plus a human-readable message.
type SynthError struct {
	Code    string
	Message string
}

func (e *SynthError) Error() string {
	return fmt.Sprintf("speech: synthesis failed (%s): %s", e.Code, e.Message)
}

// defaultOutputFormat asks the server for raw PCM so the client needs no
// codec. Matches the [Buffer] format constants.
const defaultOutputFormat = "pcm_44100"

const defaultRequestTimeout = 30 * time.Second

// Client obtains playable audio for announcement text from the hallcall
// server's speech endpoint, caching decoded buffers in memory by normalized
// text. Identical text never round-trips to the server twice within one
// process.
//
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	httpc   *http.Client

	voiceID      string
	modelID      string
	outputFormat string

	onFailure func(SynthError)
	metrics   *observe.Metrics

	mu    sync.Mutex
	cache map[string]*Buffer
}

// ClientOption configures a [Client].
type ClientOption func(*Client)

// WithVoice sets the voice forwarded to the speech endpoint.
func WithVoice(voiceID string) ClientOption {
	return func(c *Client) {
		c.voiceID = voiceID
	}
}

// WithModel sets the synthesis model forwarded to the speech endpoint.
func WithModel(modelID string) ClientOption {
	return func(c *Client) {
		c.modelID = modelID
	}
}

// WithOutputFormat overrides the requested audio format. The client can only
// play raw PCM or WAV, so anything else will fail to decode.
func WithOutputFormat(format string) ClientOption {
	return func(c *Client) {
		c.outputFormat = format
	}
}

// WithHTTPClient overrides the HTTP client used for speech requests.
func WithHTTPClient(httpc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpc = httpc
	}
}

// WithFailureCallback registers a callback invoked with the structured
// reason whenever a synthesis request fails. The error is still returned to
// the caller.
func WithFailureCallback(fn func(SynthError)) ClientOption {
	return func(c *Client) {
		c.onFailure = fn
	}
}

// WithClientMetrics attaches pipeline metrics. Nil disables instrumentation.
func WithClientMetrics(m *observe.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a speech client talking to the hallcall server at
// baseURL (e.g. "http://hallcall.local:8080").
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpc:        &http.Client{Timeout: defaultRequestTimeout},
		outputFormat: defaultOutputFormat,
		cache:        make(map[string]*Buffer),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// synthRequest mirrors the speech endpoint's JSON body.
type synthRequest struct {
	Text         string `json:"text"`
	VoiceID      string `json:"voice_id,omitempty"`
	ModelID      string `json:"model_id,omitempty"`
	OutputFormat string `json:"output_format,omitempty"`
}

// synthErrorBody mirrors the speech endpoint's JSON error response.
type synthErrorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// AudioFor returns playable audio for text: an in-memory cache hit when the
// same normalized text was synthesized before, otherwise one request to the
// server's speech endpoint. On failure it returns a [*SynthError] and, when
// configured, invokes the failure callback with the same reason.
func (c *Client) AudioFor(ctx context.Context, text string) (*Buffer, error) {
	key := normalizeText(text)

	c.mu.Lock()
	buf, hit := c.cache[key]
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.RecordCacheLookup(ctx, "memory", hit)
	}
	if hit {
		return buf, nil
	}

	buf, err := c.fetch(ctx, text)
	if err != nil {
		se := asSynthError(err)
		if c.onFailure != nil {
			c.onFailure(*se)
		}
		return nil, se
	}

	c.mu.Lock()
	c.cache[key] = buf
	c.mu.Unlock()
	return buf, nil
}

// fetch performs one speech request against the server.
func (c *Client) fetch(ctx context.Context, text string) (*Buffer, error) {
	body, err := json.Marshal(synthRequest{
		Text:         text,
		VoiceID:      c.voiceID,
		ModelID:      c.modelID,
		OutputFormat: c.outputFormat,
	})
	if err != nil {
		return nil, &SynthError{Code: CodeUnexpectedError, Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/speech", bytes.NewReader(body))
	if err != nil {
		return nil, &SynthError{Code: CodeUnexpectedError, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &SynthError{Code: CodeNetworkError, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb synthErrorBody
		msg := fmt.Sprintf("speech endpoint returned status %d", resp.StatusCode)
		if decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 4<<10)).Decode(&eb); decodeErr == nil && eb.Error != "" {
			msg = eb.Error
			if eb.Detail != "" {
				msg += ": " + eb.Detail
			}
		}
		return nil, &SynthError{Code: CodeProviderError, Message: msg}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SynthError{Code: CodeNetworkError, Message: err.Error()}
	}

	buf, err := decodeAudio(data)
	if err != nil {
		return nil, &SynthError{Code: CodeDecodeError, Message: err.Error()}
	}
	return buf, nil
}

// CacheLen reports the number of in-memory cached buffers.
func (c *Client) CacheLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// normalizeText collapses whitespace so trivially different spellings of the
// same announcement share one cache entry.
func normalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// asSynthError wraps any non-SynthError failure as an unexpected error.
func asSynthError(err error) *SynthError {
	if se, ok := err.(*SynthError); ok {
		return se
	}
	return &SynthError{Code: CodeUnexpectedError, Message: err.Error()}
}
