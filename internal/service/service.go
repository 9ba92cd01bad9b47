// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the engine/repository layers.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/petrikoro/crewcall/internal/admission"
	"github.com/petrikoro/crewcall/internal/engine"
	"github.com/petrikoro/crewcall/internal/geo"
	"github.com/petrikoro/crewcall/internal/model"
	"github.com/petrikoro/crewcall/internal/repository"
)

// ErrOutsideGeofence is returned when a response carries coordinates
// outside the event's configured fence. The commit protocol never runs in
// that case.
var ErrOutsideGeofence = errors.New("location is outside the event geofence")

// EventStore is the persistence surface the service reads events through.
type EventStore interface {
	Create(ctx context.Context, req model.CreateEventRequest) (*model.Event, error)
	List(ctx context.Context) ([]model.Event, error)
	GetByID(ctx context.Context, id string) (*model.Event, error)
	ListResponses(ctx context.Context, eventID string) ([]model.ResponseRecord, error)
}

// Responder executes the conditional commit protocol.
type Responder interface {
	Respond(ctx context.Context, req engine.Request) (*engine.Result, error)
}

// EventService orchestrates event publishing and staff responses.
type EventService struct {
	events    EventStore
	responder Responder
}

// NewEventService constructs an EventService with its dependencies.
func NewEventService(events EventStore, responder Responder) *EventService {
	return &EventService{events: events, responder: responder}
}

// CreateEvent validates the request and delegates to the repository.
func (s *EventService) CreateEvent(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, fmt.Errorf("event name is required")
	}
	if len(req.Roles) == 0 {
		return nil, fmt.Errorf("at least one role is required")
	}
	seen := make(map[string]bool, len(req.Roles))
	for i := range req.Roles {
		req.Roles[i].Name = strings.TrimSpace(req.Roles[i].Name)
		name := strings.ToLower(req.Roles[i].Name)
		switch {
		case name == "":
			return nil, fmt.Errorf("role name is required")
		case seen[name]:
			return nil, fmt.Errorf("duplicate role %q", req.Roles[i].Name)
		case req.Roles[i].Capacity < 0:
			return nil, fmt.Errorf("capacity for role %q must not be negative", req.Roles[i].Name)
		case req.Roles[i].Capacity > 10_000:
			return nil, fmt.Errorf("capacity for role %q cannot exceed 10,000", req.Roles[i].Name)
		}
		seen[name] = true
	}
	if req.Geofence != nil && req.Geofence.RadiusMeters <= 0 {
		return nil, fmt.Errorf("geofence radius must be positive")
	}
	return s.events.Create(ctx, req)
}

// ListEvents returns all events.
func (s *EventService) ListEvents(ctx context.Context) ([]model.Event, error) {
	return s.events.List(ctx)
}

// GetEvent returns a single event by ID.
func (s *EventService) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	if id == "" {
		return nil, fmt.Errorf("event id is required")
	}
	return s.events.GetByID(ctx, id)
}

// ListResponses returns all response records for an event.
func (s *EventService) ListResponses(ctx context.Context, eventID string) ([]model.ResponseRecord, error) {
	if _, err := s.events.GetByID(ctx, eventID); err != nil {
		return nil, err
	}
	return s.events.ListResponses(ctx, eventID)
}

// Respond validates a staff response, applies the geofence gate, and runs
// the commit protocol. Business rejections come back inside the result;
// errors mean the request could not be decided.
func (s *EventService) Respond(ctx context.Context, eventID, userKey string, req model.RespondRequest) (*engine.Result, error) {
	if eventID == "" {
		return nil, fmt.Errorf("event id is required")
	}
	if userKey == "" {
		return nil, fmt.Errorf("user key is required")
	}

	action := admission.Action(strings.ToLower(strings.TrimSpace(req.Response)))
	if !action.Valid() {
		return nil, fmt.Errorf("response must be 'accept', 'decline' or 'withdraw'")
	}
	role := strings.TrimSpace(req.Role)
	if action == admission.ActionAccept && role == "" {
		return nil, fmt.Errorf("role is required to accept a position")
	}

	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}

	if event.Geofence != nil && req.Latitude != nil && req.Longitude != nil {
		check := geo.Check(
			event.Geofence.Latitude, event.Geofence.Longitude,
			*req.Latitude, *req.Longitude,
			event.Geofence.RadiusMeters,
		)
		if !check.IsInside {
			return nil, fmt.Errorf("%w (%.0fm away)", ErrOutsideGeofence, check.DistanceMeters)
		}
	}

	result, err := s.responder.Respond(ctx, engine.Request{
		EventID:     eventID,
		UserKey:     userKey,
		DisplayName: strings.TrimSpace(req.DisplayName),
		Role:        role,
		Action:      action,
		Seq:         req.RequestSeq,
	})
	if err != nil {
		// Surface sentinel errors directly so handlers can set the status.
		if errors.Is(err, repository.ErrNotFound) ||
			errors.Is(err, engine.ErrRoleNotFound) ||
			errors.Is(err, engine.ErrContention) {
			return nil, err
		}
		return nil, fmt.Errorf("respond to event: %w", err)
	}
	return result, nil
}
