package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"wakeguard/internal/dismissal"
)

// DismissalHandler drives the active dismissal flow over HTTP. There is
// one flow per process; concurrency is handled inside the flow itself.
type DismissalHandler struct {
	flow *dismissal.Flow
}

// NewDismissalHandler constructs a handler.
func NewDismissalHandler(flow *dismissal.Flow) (*DismissalHandler, error) {
	if flow == nil {
		return nil, errors.New("dismissal handler: nil flow")
	}
	return &DismissalHandler{flow: flow}, nil
}

// ServeHTTP handles /api/v1/dismissal and subroutes.
func (h *DismissalHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/v1/dismissal":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{
			"state":  string(h.flow.State()),
			"reason": string(h.flow.Reason()),
		})
	case "/api/v1/dismissal/scan/begin":
		h.post(w, r, func() error { return h.flow.BeginScan(r.Context()) })
	case "/api/v1/dismissal/scan":
		h.handleScan(w, r)
	case "/api/v1/dismissal/retry":
		h.post(w, r, func() error {
			h.flow.Retry()
			return nil
		})
	case "/api/v1/dismissal/snooze":
		h.handleSnooze(w, r)
	case "/api/v1/dismissal/abort":
		h.post(w, r, func() error { return h.flow.Abort(r.Context(), dismissal.ReasonUserAborted) })
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *DismissalHandler) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Payload string `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.flow.DidScan(r.Context(), body.Payload); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"state":  string(h.flow.State()),
		"reason": string(h.flow.Reason()),
	})
}

func (h *DismissalHandler) handleSnooze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	// Duration is optional; zero falls back to the alarm's own setting.
	var body struct {
		DurationSeconds int `json:"duration_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	nextFireAt, err := h.flow.Snooze(r.Context(), time.Duration(body.DurationSeconds)*time.Second)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"state":        string(h.flow.State()),
		"next_fire_at": nextFireAt,
	})
}

func (h *DismissalHandler) post(w http.ResponseWriter, r *http.Request, fn func() error) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := fn(); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"state": string(h.flow.State())})
}
