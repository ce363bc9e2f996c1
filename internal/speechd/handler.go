package speechd

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/hallcall/hallcall/internal/observe"
	"github.com/hallcall/hallcall/internal/resilience"
)

// maxRequestBody bounds the JSON request body. Announcement text is short;
// anything larger is malformed.
const maxRequestBody = 64 << 10

// CacheHeader reports whether the response was served from the disk cache.
const CacheHeader = "X-Speech-Cache"

// synthRequest is the POST /v1/speech JSON body.
type synthRequest struct {
	Text         string `json:"text"`
	VoiceID      string `json:"voice_id"`
	ModelID      string `json:"model_id"`
	OutputFormat string `json:"output_format"`
}

// errorResponse is the JSON body returned on failure.
type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// Handler serves POST /v1/speech: raw audio bytes with an audio Content-Type
// on success, a JSON error body otherwise. The [CacheHeader] response header
// carries "hit" or "miss".
func Handler(svc *Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
			return
		}

		var req synthRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
		if req.Text == "" {
			writeError(w, http.StatusBadRequest, "text is required", "")
			return
		}

		ctx := r.Context()
		audio, contentType, cacheHit, err := svc.Synthesize(ctx, req.Text, req.VoiceID, req.ModelID, req.OutputFormat)
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrAllFailed) {
				status = http.StatusServiceUnavailable
			}
			observe.Logger(ctx).Error("speechd: synthesis failed", "err", err)
			writeError(w, status, "synthesis failed", err.Error())
			return
		}

		cache := "miss"
		if cacheHit {
			cache = "hit"
		}
		w.Header().Set(CacheHeader, cache)
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
		w.WriteHeader(http.StatusOK)
		w.Write(audio)
	})
}

func writeError(w http.ResponseWriter, status int, msg, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: msg, Detail: detail})
}
