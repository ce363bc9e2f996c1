package speech

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestClientCachesByNormalizedText(t *testing.T) {
	t.Parallel()
	var requests atomic.Int32
	pcm := samples(100, 200, 300)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write(pcm)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	first, err := c.AudioFor(t.Context(), "Jansen family, hall 3")
	if err != nil {
		t.Fatalf("AudioFor: %v", err)
	}
	if !bytes.Equal(first.PCM, pcm) {
		t.Errorf("PCM = %v, want %v", first.PCM, pcm)
	}

	// Whitespace-variant spellings of the same text share one cache entry.
	second, err := c.AudioFor(t.Context(), "  Jansen family,   hall 3 ")
	if err != nil {
		t.Fatalf("AudioFor (cached): %v", err)
	}
	if second != first {
		t.Error("cached call returned a different buffer")
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("server requests = %d, want 1", got)
	}
	if got := c.CacheLen(); got != 1 {
		t.Errorf("CacheLen = %d, want 1", got)
	}
}

func TestClientRequestBody(t *testing.T) {
	t.Parallel()
	var got synthRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/speech" {
			t.Errorf("request = %s %s, want POST /v1/speech", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write(samples(1))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithVoice("rachel"), WithModel("turbo_v2"))
	if _, err := c.AudioFor(t.Context(), "hello"); err != nil {
		t.Fatalf("AudioFor: %v", err)
	}

	if got.Text != "hello" || got.VoiceID != "rachel" || got.ModelID != "turbo_v2" {
		t.Errorf("request body = %+v", got)
	}
	if got.OutputFormat != defaultOutputFormat {
		t.Errorf("output format = %q, want %q", got.OutputFormat, defaultOutputFormat)
	}
}

func TestClientUnwrapsWAVResponses(t *testing.T) {
	t.Parallel()
	pcm := samples(42, -42, 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(buildWAV(pcm))
	}))
	defer srv.Close()

	buf, err := NewClient(srv.URL).AudioFor(t.Context(), "hello")
	if err != nil {
		t.Fatalf("AudioFor: %v", err)
	}
	if !bytes.Equal(buf.PCM, pcm) {
		t.Errorf("PCM = %v, want unwrapped %v", buf.PCM, pcm)
	}
}

func TestClientFailureCodes(t *testing.T) {
	t.Parallel()

	t.Run("provider error carries server detail", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			json.NewEncoder(w).Encode(map[string]string{"error": "synthesis failed", "detail": "voice not found"})
		}))
		defer srv.Close()

		var cbErr SynthError
		c := NewClient(srv.URL, WithFailureCallback(func(se SynthError) { cbErr = se }))
		_, err := c.AudioFor(t.Context(), "hello")

		var se *SynthError
		if !errors.As(err, &se) {
			t.Fatalf("error type = %T, want *SynthError", err)
		}
		if se.Code != CodeProviderError {
			t.Errorf("code = %q, want %q", se.Code, CodeProviderError)
		}
		if want := "synthesis failed: voice not found"; se.Message != want {
			t.Errorf("message = %q, want %q", se.Message, want)
		}
		if cbErr.Code != CodeProviderError {
			t.Errorf("failure callback got code %q, want %q", cbErr.Code, CodeProviderError)
		}
	})

	t.Run("network error", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close() // connection refused from here on

		_, err := NewClient(srv.URL).AudioFor(t.Context(), "hello")
		var se *SynthError
		if !errors.As(err, &se) || se.Code != CodeNetworkError {
			t.Errorf("error = %v, want SynthError code %q", err, CodeNetworkError)
		}
	})

	t.Run("decode error", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("RIFFxxxxWAVE")) // claims WAV, too short to carry data
		}))
		defer srv.Close()

		_, err := NewClient(srv.URL).AudioFor(t.Context(), "hello")
		var se *SynthError
		if !errors.As(err, &se) || se.Code != CodeDecodeError {
			t.Errorf("error = %v, want SynthError code %q", err, CodeDecodeError)
		}
	})

	t.Run("failures are not cached", func(t *testing.T) {
		t.Parallel()
		var requests atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requests.Add(1) == 1 {
				http.Error(w, `{"error":"synthesis failed"}`, http.StatusBadGateway)
				return
			}
			w.Write(samples(1, 2))
		}))
		defer srv.Close()

		c := NewClient(srv.URL)
		if _, err := c.AudioFor(t.Context(), "hello"); err == nil {
			t.Fatal("first AudioFor = nil error, want failure")
		}
		if _, err := c.AudioFor(t.Context(), "hello"); err != nil {
			t.Fatalf("retry AudioFor: %v", err)
		}
		if got := requests.Load(); got != 2 {
			t.Errorf("server requests = %d, want 2", got)
		}
	})
}

func TestChimesCachePerURL(t *testing.T) {
	t.Parallel()
	var requests atomic.Int32
	pcm := samples(500, 600)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.wav" {
			http.NotFound(w, r)
			return
		}
		requests.Add(1)
		w.Write(buildWAV(pcm))
	}))
	defer srv.Close()

	chimes := NewChimes(srv.Client())

	first, err := chimes.For(t.Context(), srv.URL+"/chime.wav")
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	if !bytes.Equal(first.PCM, pcm) {
		t.Errorf("PCM = %v, want %v", first.PCM, pcm)
	}
	if _, err := chimes.For(t.Context(), srv.URL+"/chime.wav"); err != nil {
		t.Fatalf("For (cached): %v", err)
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("server requests = %d, want 1", got)
	}

	if _, err := chimes.For(t.Context(), srv.URL+"/missing.wav"); err == nil {
		t.Error("For on a 404 = nil error")
	}
}
