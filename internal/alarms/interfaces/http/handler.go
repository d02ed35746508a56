// Package http exposes the alarm engine over REST plus a server-sent
// event stream for lifecycle updates.
package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	alarmapp "wakeguard/internal/alarms/application"
	"wakeguard/internal/alarms/domain"
	"wakeguard/internal/dismissal"
)

// Handler provides alarm HTTP endpoints.
type Handler struct {
	service *alarmapp.Service
	flow    *dismissal.Flow
}

// NewHandler constructs a handler.
func NewHandler(service *alarmapp.Service, flow *dismissal.Flow) (*Handler, error) {
	if service == nil {
		return nil, errors.New("alarms handler: nil service")
	}
	if flow == nil {
		return nil, errors.New("alarms handler: nil flow")
	}
	return &Handler{service: service, flow: flow}, nil
}

// ServeHTTP handles /api/v1/alarms and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/alarms":
		h.handleCollection(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/alarms/"):
		h.handleItem(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		alarms, err := h.service.Alarms(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		respondJSON(w, http.StatusOK, alarms)
	case http.MethodPost:
		var alarm domain.Alarm
		if err := json.NewDecoder(r.Body).Decode(&alarm); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		created, err := h.service.CreateAlarm(r.Context(), alarm)
		if err != nil {
			respondDomainError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, created)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleItem(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/alarms/")
	parts := strings.Split(path, "/")
	id, err := uuid.Parse(parts[0])
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			alarm, err := h.service.Alarm(r.Context(), id)
			if err != nil {
				respondDomainError(w, err)
				return
			}
			respondJSON(w, http.StatusOK, alarm)
		case http.MethodPut:
			var alarm domain.Alarm
			if err := json.NewDecoder(r.Body).Decode(&alarm); err != nil {
				http.Error(w, "invalid body", http.StatusBadRequest)
				return
			}
			alarm.ID = id
			updated, err := h.service.UpdateAlarm(r.Context(), alarm)
			if err != nil {
				respondDomainError(w, err)
				return
			}
			respondJSON(w, http.StatusOK, updated)
		case http.MethodDelete:
			if err := h.service.DeleteAlarm(r.Context(), id); err != nil {
				respondDomainError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch parts[1] {
	case "toggle":
		h.handleToggle(w, r, id)
	case "runs":
		h.handleRuns(w, r, id)
	case "ring":
		h.handleRing(w, r, id)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	alarm, err := h.service.ToggleAlarm(r.Context(), id, body.Enabled)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, alarm)
}

func (h *Handler) handleRuns(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	runs, err := h.service.RunsFor(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, runs)
}

// handleRing starts the dismissal flow for an alarm, used by the
// notification tap route and by manual testing.
func (h *Handler) handleRing(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	// The body is optional; an empty one means "fired now".
	var body struct {
		FiredAt time.Time `json:"fired_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	firedAt := body.FiredAt
	if firedAt.IsZero() {
		firedAt = time.Now().UTC()
	}
	if err := h.flow.Start(r.Context(), id, firedAt); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"state": string(h.flow.State())})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidConfiguration):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotAuthorized), errors.Is(err, domain.ErrPermissionDenied):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, domain.ErrSystemLimitExceeded):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
