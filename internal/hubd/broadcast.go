package hubd

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hallcall/hallcall/internal/hub"
)

// broadcastRequest is the POST /v1/broadcast JSON body — the dashboard's
// send path. Group selects the recipients; the rest mirrors the wire event.
type broadcastRequest struct {
	Group          string `json:"group"`
	NotificationID string `json:"notificationId,omitempty"`
	Title          string `json:"title"`
	Content        string `json:"content"`
	Priority       *int   `json:"priority,omitempty"`
	HallID         string `json:"hallId,omitempty"`
	SessionID      string `json:"sessionId,omitempty"`
	HallName       string `json:"hallName,omitempty"`
	Scope          string `json:"scope,omitempty"`
	IsAutomatic    bool   `json:"isAutomatic,omitempty"`
	RepeatCount    *int   `json:"repeatCount,omitempty"`
	BroadcastAt    string `json:"broadcastAt,omitempty"`
}

// broadcastResponse reports how many clients the announcement was queued for.
type broadcastResponse struct {
	Recipients int `json:"recipients"`
}

type broadcastError struct {
	Error string `json:"error"`
}

// BroadcastHandler serves POST /v1/broadcast: publish one announcement to a
// group of connected hall clients.
func BroadcastHandler(h *Hub) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, broadcastError{Error: "method not allowed"})
			return
		}

		var req broadcastRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, broadcastError{Error: "invalid request body"})
			return
		}
		if req.Group == "" {
			writeJSON(w, http.StatusBadRequest, broadcastError{Error: "group is required"})
			return
		}
		if req.Title == "" && req.Content == "" {
			writeJSON(w, http.StatusBadRequest, broadcastError{Error: "title or content is required"})
			return
		}

		broadcastAt := req.BroadcastAt
		if broadcastAt == "" {
			broadcastAt = time.Now().UTC().Format(time.RFC3339)
		}

		n, err := h.Publish(r.Context(), req.Group, hub.BroadcastEvent{
			NotificationID: req.NotificationID,
			Title:          req.Title,
			Content:        req.Content,
			Priority:       req.Priority,
			HallID:         req.HallID,
			SessionID:      req.SessionID,
			HallName:       req.HallName,
			Scope:          req.Scope,
			IsAutomatic:    req.IsAutomatic,
			RepeatCount:    req.RepeatCount,
			BroadcastAt:    broadcastAt,
		})
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, broadcastError{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, broadcastResponse{Recipients: n})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
