package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hallcall/hallcall/pkg/provider/tts"
)

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Error("New(\"\") = nil error, want failure")
	}
}

func TestSynthesize(t *testing.T) {
	t.Parallel()
	audio := []byte("mp3-bytes")
	var gotPath, gotQuery, gotKey string
	var gotBody synthesizeRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("xi-api-key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(audio)
	}))
	defer srv.Close()

	p, err := New("secret-key",
		WithBaseURL(srv.URL),
		WithVoice("rachel"),
		WithModel("eleven_turbo_v2"),
		WithOutputFormat("mp3_22050_32"),
		WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := p.Synthesize(context.Background(), tts.Request{
		Text:     "Jansen family, please proceed to hall 3",
		Settings: tts.VoiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if !bytes.Equal(result.Audio, audio) {
		t.Errorf("Audio = %q, want %q", result.Audio, audio)
	}
	if result.ContentType != "audio/mpeg" {
		t.Errorf("ContentType = %q, want audio/mpeg", result.ContentType)
	}
	if gotPath != "/v1/text-to-speech/rachel" {
		t.Errorf("path = %q, want default voice in path", gotPath)
	}
	if gotQuery != "output_format=mp3_22050_32" {
		t.Errorf("query = %q", gotQuery)
	}
	if gotKey != "secret-key" {
		t.Errorf("xi-api-key = %q", gotKey)
	}
	if gotBody.ModelID != "eleven_turbo_v2" {
		t.Errorf("model_id = %q", gotBody.ModelID)
	}
	if gotBody.VoiceSettings == nil || gotBody.VoiceSettings.Stability != 0.5 {
		t.Errorf("voice_settings = %+v", gotBody.VoiceSettings)
	}
}

func TestSynthesizeRequestOverridesDefaults(t *testing.T) {
	t.Parallel()
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	p, err := New("key", WithBaseURL(srv.URL), WithVoice("rachel"), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "x", VoiceID: "adam"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if gotPath != "/v1/text-to-speech/adam" {
		t.Errorf("path = %q, want request voice to win", gotPath)
	}
}

func TestSynthesizeErrors(t *testing.T) {
	t.Parallel()

	t.Run("empty text", func(t *testing.T) {
		t.Parallel()
		p, _ := New("key")
		if _, err := p.Synthesize(context.Background(), tts.Request{}); err == nil {
			t.Error("Synthesize with empty text = nil error")
		}
	})

	t.Run("api error detail is surfaced", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail":{"status":"invalid_api_key","message":"Invalid API key"}}`))
		}))
		defer srv.Close()

		p, _ := New("bad-key", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
		_, err := p.Synthesize(context.Background(), tts.Request{Text: "x"})
		if err == nil || !strings.Contains(err.Error(), "Invalid API key") {
			t.Errorf("error = %v, want API detail message", err)
		}
	})

	t.Run("empty audio body", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer srv.Close()

		p, _ := New("key", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
		if _, err := p.Synthesize(context.Background(), tts.Request{Text: "x"}); err == nil {
			t.Error("Synthesize with empty body = nil error")
		}
	})
}

func TestListVoices(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices" {
			t.Errorf("path = %q, want /v1/voices", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"voices":[{"voice_id":"v1","name":"Rachel","category":"premade"}]}`))
	}))
	defer srv.Close()

	p, _ := New("key", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "v1" || voices[0].Name != "Rachel" {
		t.Errorf("voices = %+v", voices)
	}
}
