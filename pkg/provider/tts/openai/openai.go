// Package openai provides a TTS provider backed by the OpenAI speech API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hallcall/hallcall/pkg/provider/tts"
)

// DefaultModel is the default OpenAI speech model.
const DefaultModel = "gpt-4o-mini-tts"

// DefaultVoice is the voice used when a request does not name one.
const DefaultVoice = "alloy"

// Compile-time check that *Provider satisfies [tts.Provider].
var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI speech endpoint.
type Provider struct {
	client oai.Client
	model  string
	voice  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI speech Provider.
// If model is empty, DefaultModel (gpt-4o-mini-tts) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(cfg.timeout))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
		voice:  DefaultVoice,
	}, nil
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return "openai" }

// Synthesize converts req.Text into audio via the OpenAI speech endpoint.
//
// VoiceSettings other than Speed are not supported by OpenAI and are ignored.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	if req.Text == "" {
		return nil, errors.New("openai tts: text must not be empty")
	}

	model := req.ModelID
	if model == "" {
		model = p.model
	}
	voice := req.VoiceID
	if voice == "" {
		voice = p.voice
	}

	params := oai.AudioSpeechNewParams{
		Model: oai.SpeechModel(model),
		Input: req.Text,
		Voice: oai.AudioSpeechNewParamsVoice(voice),
	}
	format, contentType := mapOutputFormat(req.OutputFormat)
	params.ResponseFormat = format
	if req.Settings.Speed > 0 {
		params.Speed = oai.Float(req.Settings.Speed)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai tts: synthesize: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai tts: read audio body: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("openai tts: empty audio response")
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		contentType = ct
	}
	return &tts.Result{Audio: audio, ContentType: contentType}, nil
}

// mapOutputFormat translates the generic output format string into the
// OpenAI response_format value plus the matching MIME type. Unknown values
// fall back to MP3, OpenAI's default.
func mapOutputFormat(format string) (oai.AudioSpeechNewParamsResponseFormat, string) {
	switch format {
	case "wav":
		return oai.AudioSpeechNewParamsResponseFormatWAV, "audio/wav"
	case "opus":
		return oai.AudioSpeechNewParamsResponseFormatOpus, "audio/ogg"
	case "aac":
		return oai.AudioSpeechNewParamsResponseFormatAAC, "audio/aac"
	case "flac":
		return oai.AudioSpeechNewParamsResponseFormatFLAC, "audio/flac"
	case "pcm":
		return oai.AudioSpeechNewParamsResponseFormatPCM, "audio/L16"
	default:
		return oai.AudioSpeechNewParamsResponseFormatMP3, "audio/mpeg"
	}
}
