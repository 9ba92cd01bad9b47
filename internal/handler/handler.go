// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/petrikoro/crewcall/internal/admission"
	"github.com/petrikoro/crewcall/internal/engine"
	"github.com/petrikoro/crewcall/internal/model"
	"github.com/petrikoro/crewcall/internal/repository"
	"github.com/petrikoro/crewcall/internal/service"
)

// UserKeyHeader carries the verified staff identity. The session layer in
// front of this service sets it; the engine trusts it.
const UserKeyHeader = "X-User-Key"

// EventHandler holds all HTTP handlers for the scheduling API.
type EventHandler struct {
	svc *service.EventService
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(svc *service.EventService) *EventHandler {
	return &EventHandler{svc: svc}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// eventResponse decorates an event with per-role occupancy stats.
type eventResponse struct {
	model.Event
	RoleStats []model.RoleStat `json:"role_stats"`
}

func eventView(e *model.Event) eventResponse {
	return eventResponse{Event: *e, RoleStats: e.Stats()}
}

// respondResponse is the body for POST /events/{id}/respond.
type respondResponse struct {
	Outcome  string `json:"outcome"`
	Role     string `json:"role,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Replayed bool   `json:"replayed,omitempty"`
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

// CreateEvent handles POST /events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	event, err := h.svc.CreateEvent(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, eventView(event))
}

// ListEvents handles GET /events
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.ListEvents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	views := make([]eventResponse, 0, len(events))
	for i := range events {
		views = append(views, eventView(&events[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

// GetEvent handles GET /events/{id}
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	event, err := h.svc.GetEvent(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get event")
		return
	}

	writeJSON(w, http.StatusOK, eventView(event))
}

// Respond handles POST /events/{id}/respond
//
// Status contract: admissions, withdrawals, no-ops and duplicate accepts
// are 200 (a duplicate is reported distinctly in the body but is safe to
// retry); a full role or a cross-role conflict is 409; contention that
// exhausted the retry budget is 503 and safe for the client to retry.
func (h *EventHandler) Respond(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userKey := r.Header.Get(UserKeyHeader)
	if userKey == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var req model.RespondRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := h.svc.Respond(r.Context(), id, userKey, req)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "event not found")
		case errors.Is(err, engine.ErrRoleNotFound):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrOutsideGeofence):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, engine.ErrContention):
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusServiceUnavailable, "busy handling responses for this event, retry shortly")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	status := http.StatusOK
	switch result.Decision.Outcome {
	case admission.RejectConflict, admission.RejectFull:
		status = http.StatusConflict
	}
	writeJSON(w, status, respondResponse{
		Outcome:  string(result.Decision.Outcome),
		Role:     result.Decision.Role,
		Reason:   result.Decision.Reason,
		Replayed: result.Replayed,
	})
}

// ListResponses handles GET /events/{id}/responses
func (h *EventHandler) ListResponses(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	recs, err := h.svc.ListResponses(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to list responses")
		return
	}

	if recs == nil {
		recs = []model.ResponseRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
