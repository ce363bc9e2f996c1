package speechd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hallcall/hallcall/internal/observe"
	"github.com/hallcall/hallcall/pkg/provider/tts"
)

// Service mediates synthesis requests: disk cache first, then one collapsed
// call to the upstream provider. It is safe for concurrent use.
type Service struct {
	provider tts.Provider
	cache    *DiskCache
	metrics  *observe.Metrics
	defaults tts.Request

	sf singleflight.Group
}

// ServiceOption configures a [Service].
type ServiceOption func(*Service)

// WithDefaults sets the voice, model, output format, and voice tuning used
// when a request leaves them unset.
func WithDefaults(defaults tts.Request) ServiceOption {
	return func(s *Service) {
		s.defaults = defaults
	}
}

// WithServiceMetrics attaches pipeline metrics. Nil disables instrumentation.
func WithServiceMetrics(m *observe.Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService creates a synthesis service over provider and cache.
func NewService(provider tts.Provider, cache *DiskCache, opts ...ServiceOption) *Service {
	s := &Service{
		provider: provider,
		cache:    cache,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// synthOutcome carries one synthesis result through the singleflight group.
type synthOutcome struct {
	audio       []byte
	contentType string
	cacheHit    bool
}

// Synthesize returns audio for text, consulting the disk cache before the
// upstream provider. Concurrent identical requests share one upstream call;
// only the call that actually hit the cache reports cacheHit=true.
func (s *Service) Synthesize(ctx context.Context, text, voiceID, modelID, outputFormat string) (audio []byte, contentType string, cacheHit bool, err error) {
	req := s.resolve(text, voiceID, modelID, outputFormat)
	key := CacheKey(req.Text, req.VoiceID, req.ModelID, req.OutputFormat,
		req.Settings.Stability, req.Settings.SimilarityBoost, req.Settings.Speed)

	if data, ok, cacheErr := s.cache.Get(key); cacheErr != nil {
		return nil, "", false, cacheErr
	} else if ok {
		s.recordLookup(ctx, true)
		return data, contentTypeFor(req.OutputFormat), true, nil
	}
	s.recordLookup(ctx, false)

	v, err, _ := s.sf.Do(key, func() (any, error) {
		// A racing request may have filled the entry while we waited.
		if data, ok, cacheErr := s.cache.Get(key); cacheErr != nil {
			return nil, cacheErr
		} else if ok {
			return &synthOutcome{audio: data, contentType: contentTypeFor(req.OutputFormat), cacheHit: true}, nil
		}

		result, synthErr := s.callProvider(ctx, req)
		if synthErr != nil {
			return nil, synthErr
		}
		if putErr := s.cache.Put(key, result.Audio); putErr != nil {
			// Serve the audio anyway; the next request re-synthesizes.
			observe.Logger(ctx).Warn("speechd: cache write failed", "err", putErr)
		}
		ct := result.ContentType
		if ct == "" {
			ct = contentTypeFor(req.OutputFormat)
		}
		return &synthOutcome{audio: result.Audio, contentType: ct}, nil
	})
	if err != nil {
		return nil, "", false, err
	}

	out := v.(*synthOutcome)
	return out.audio, out.contentType, out.cacheHit, nil
}

// callProvider performs one instrumented upstream synthesis call.
func (s *Service) callProvider(ctx context.Context, req tts.Request) (*tts.Result, error) {
	ctx, span := observe.StartSpan(ctx, "tts.Synthesize")
	defer span.End()

	start := time.Now()
	result, err := s.provider.Synthesize(ctx, req)
	if s.metrics != nil {
		s.metrics.RecordSynthesis(ctx, s.provider.Name(), time.Since(start), err)
	}
	if err != nil {
		return nil, fmt.Errorf("speechd: synthesize: %w", err)
	}
	return result, nil
}

// resolve fills request defaults and normalizes the text.
func (s *Service) resolve(text, voiceID, modelID, outputFormat string) tts.Request {
	req := s.defaults
	req.Text = strings.Join(strings.Fields(text), " ")
	if voiceID != "" {
		req.VoiceID = voiceID
	}
	if modelID != "" {
		req.ModelID = modelID
	}
	if outputFormat != "" {
		req.OutputFormat = outputFormat
	}
	return req
}

func (s *Service) recordLookup(ctx context.Context, hit bool) {
	if s.metrics != nil {
		s.metrics.RecordCacheLookup(ctx, "disk", hit)
	}
}

// contentTypeFor maps an output format name to its HTTP content type.
func contentTypeFor(format string) string {
	switch {
	case strings.HasPrefix(format, "mp3"):
		return "audio/mpeg"
	case strings.HasPrefix(format, "pcm"):
		return "audio/pcm"
	case strings.HasPrefix(format, "wav"):
		return "audio/wav"
	case strings.HasPrefix(format, "opus"):
		return "audio/opus"
	case strings.HasPrefix(format, "flac"):
		return "audio/flac"
	case strings.HasPrefix(format, "aac"):
		return "audio/aac"
	case strings.HasPrefix(format, "ulaw"), strings.HasPrefix(format, "alaw"):
		return "audio/basic"
	default:
		return "application/octet-stream"
	}
}
