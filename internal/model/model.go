// Package model defines the core domain types for the staff scheduling engine.
package model

import "time"

// UserRef identifies a staff member inside an event's ledger.
// UserKey is the opaque stable identity used for occupancy and idempotency.
type UserRef struct {
	UserKey     string `json:"user_key"`
	DisplayName string `json:"display_name,omitempty"`
}

// Role is one staffed position on an event with a fixed headcount.
// Occupants never exceeds Capacity; a capacity of zero closes the role
// to new acceptances while keeping existing occupants in place.
type Role struct {
	Name      string    `json:"name"`
	Capacity  int       `json:"capacity"`
	Occupants []UserRef `json:"occupants"`
}

// Taken returns the number of admitted occupants.
func (r *Role) Taken() int {
	return len(r.Occupants)
}

// IsFull returns true when no slots remain.
func (r *Role) IsFull() bool {
	return len(r.Occupants) >= r.Capacity
}

// Occupies reports whether userKey currently holds a slot in this role.
func (r *Role) Occupies(userKey string) bool {
	for _, o := range r.Occupants {
		if o.UserKey == userKey {
			return true
		}
	}
	return false
}

// Event is a published shift owning an ordered list of roles.
// Version is the revision counter guarding all occupant mutations.
type Event struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	ClientName string    `json:"client_name,omitempty"`
	VenueName  string    `json:"venue_name,omitempty"`
	Date       string    `json:"date,omitempty"`
	StartTime  string    `json:"start_time,omitempty"`
	EndTime    string    `json:"end_time,omitempty"`
	Geofence   *Geofence `json:"geofence,omitempty"`
	Roles      []Role    `json:"roles"`
	Version    int64     `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
}

// RoleFor returns the role with the given name, or nil.
func (e *Event) RoleFor(name string) *Role {
	for i := range e.Roles {
		if e.Roles[i].Name == name {
			return &e.Roles[i]
		}
	}
	return nil
}

// OccupiedRoles returns the names of every role userKey currently holds.
// Policy caps this at one, but the ledger is read as found.
func (e *Event) OccupiedRoles(userKey string) []string {
	var names []string
	for i := range e.Roles {
		if e.Roles[i].Occupies(userKey) {
			names = append(names, e.Roles[i].Name)
		}
	}
	return names
}

// Geofence is an optional circular fence around the event venue.
// Responses carrying coordinates outside the fence are rejected before
// admission runs.
type Geofence struct {
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radius_meters"`
}

// RoleStat summarises one role's occupancy for event reads.
type RoleStat struct {
	Role      string `json:"role"`
	Capacity  int    `json:"capacity"`
	Taken     int    `json:"taken"`
	Remaining int    `json:"remaining"`
	IsFull    bool   `json:"is_full"`
}

// Stats computes per-role occupancy summaries in role order.
func (e *Event) Stats() []RoleStat {
	stats := make([]RoleStat, 0, len(e.Roles))
	for i := range e.Roles {
		r := &e.Roles[i]
		remaining := r.Capacity - r.Taken()
		if remaining < 0 {
			remaining = 0
		}
		stats = append(stats, RoleStat{
			Role:      r.Name,
			Capacity:  r.Capacity,
			Taken:     r.Taken(),
			Remaining: remaining,
			IsFull:    remaining == 0 && r.Capacity > 0,
		})
	}
	return stats
}

// ResponseRecord is the durable idempotency entry for one (event, user)
// pair: the last decision made and the request sequence it resolved.
type ResponseRecord struct {
	EventID   string    `json:"event_id"`
	UserKey   string    `json:"user_key"`
	Decision  string    `json:"decision"`
	Role      string    `json:"role,omitempty"`
	Seq       int64     `json:"seq"`
	DecidedAt time.Time `json:"decided_at"`
}

// CreateEventRequest is the payload for publishing a new event.
type CreateEventRequest struct {
	Name       string        `json:"name"`
	ClientName string        `json:"client_name"`
	VenueName  string        `json:"venue_name"`
	Date       string        `json:"date"`
	StartTime  string        `json:"start_time"`
	EndTime    string        `json:"end_time"`
	Geofence   *Geofence     `json:"geofence"`
	Roles      []RoleRequest `json:"roles"`
}

// RoleRequest is one role definition inside CreateEventRequest.
type RoleRequest struct {
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
}

// RespondRequest is the payload for accepting or declining a role.
// RequestSeq is optional: retries of the same logical request carry the
// same sequence number and resolve to the recorded decision.
type RespondRequest struct {
	Response    string   `json:"response"`
	Role        string   `json:"role"`
	DisplayName string   `json:"display_name"`
	RequestSeq  int64    `json:"request_seq"`
	Latitude    *float64 `json:"lat"`
	Longitude   *float64 `json:"lng"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
