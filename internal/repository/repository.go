// Package repository implements all database access for the scheduling
// engine. It uses pgx directly (no ORM); every occupant mutation goes
// through the version-guarded writes in ledger.go, never a plain update.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/petrikoro/crewcall/internal/model"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// EventRepository handles persistence for events and their roles.
type EventRepository struct {
	db *pgxpool.Pool
}

// NewEventRepository constructs an EventRepository.
func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

// Create inserts a new event with its roles and returns it with a
// generated UUID.
func (r *EventRepository) Create(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	event := &model.Event{
		ID:         uuid.New().String(),
		Name:       req.Name,
		ClientName: req.ClientName,
		VenueName:  req.VenueName,
		Date:       req.Date,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		Geofence:   req.Geofence,
		Version:    1,
		CreatedAt:  time.Now().UTC(),
	}
	for _, role := range req.Roles {
		event.Roles = append(event.Roles, model.Role{Name: role.Name, Capacity: role.Capacity})
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var fenceLat, fenceLng, fenceRadius *float64
	if event.Geofence != nil {
		fenceLat = &event.Geofence.Latitude
		fenceLng = &event.Geofence.Longitude
		fenceRadius = &event.Geofence.RadiusMeters
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO events (id, name, client_name, venue_name, event_date, start_time, end_time,
		                     fence_lat, fence_lng, fence_radius_m, version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		event.ID, event.Name, event.ClientName, event.VenueName, event.Date,
		event.StartTime, event.EndTime, fenceLat, fenceLng, fenceRadius,
		event.Version, event.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}

	for i, role := range event.Roles {
		_, err = tx.Exec(ctx,
			`INSERT INTO event_roles (event_id, name, capacity, position) VALUES ($1, $2, $3, $4)`,
			event.ID, role.Name, role.Capacity, i,
		)
		if err != nil {
			return nil, fmt.Errorf("insert role %q: %w", role.Name, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return event, nil
}

// List returns all events ordered by creation time descending, with roles
// and occupants loaded.
func (r *EventRepository) List(ctx context.Context) ([]model.Event, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM events ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan event id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var events []model.Event
	for _, id := range ids {
		e, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, nil
}

// GetByID returns a single event with roles and occupants, or ErrNotFound.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*model.Event, error) {
	var (
		e                            model.Event
		fenceLat, fenceLng, fenceRad *float64
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, name, client_name, venue_name, event_date, start_time, end_time,
		        fence_lat, fence_lng, fence_radius_m, version, created_at
		 FROM events WHERE id = $1`,
		id,
	).Scan(&e.ID, &e.Name, &e.ClientName, &e.VenueName, &e.Date, &e.StartTime, &e.EndTime,
		&fenceLat, &fenceLng, &fenceRad, &e.Version, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	if fenceLat != nil && fenceLng != nil && fenceRad != nil {
		e.Geofence = &model.Geofence{Latitude: *fenceLat, Longitude: *fenceLng, RadiusMeters: *fenceRad}
	}

	roleRows, err := r.db.Query(ctx,
		`SELECT name, capacity FROM event_roles WHERE event_id = $1 ORDER BY position ASC`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	defer roleRows.Close()
	for roleRows.Next() {
		var role model.Role
		if err := roleRows.Scan(&role.Name, &role.Capacity); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		e.Roles = append(e.Roles, role)
	}
	if err := roleRows.Err(); err != nil {
		return nil, err
	}

	occRows, err := r.db.Query(ctx,
		`SELECT role_name, user_key, display_name
		 FROM role_occupants WHERE event_id = $1 ORDER BY accepted_at ASC`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("load occupants: %w", err)
	}
	defer occRows.Close()
	for occRows.Next() {
		var (
			roleName string
			occ      model.UserRef
		)
		if err := occRows.Scan(&roleName, &occ.UserKey, &occ.DisplayName); err != nil {
			return nil, fmt.Errorf("scan occupant: %w", err)
		}
		if role := e.RoleFor(roleName); role != nil {
			role.Occupants = append(role.Occupants, occ)
		}
	}
	if err := occRows.Err(); err != nil {
		return nil, err
	}

	return &e, nil
}

// ListResponses returns all response records for an event, newest first.
func (r *EventRepository) ListResponses(ctx context.Context, eventID string) ([]model.ResponseRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT event_id, user_key, decision, role_name, seq, decided_at
		 FROM response_records WHERE event_id = $1 ORDER BY decided_at DESC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	var recs []model.ResponseRecord
	for rows.Next() {
		var rec model.ResponseRecord
		if err := rows.Scan(&rec.EventID, &rec.UserKey, &rec.Decision, &rec.Role, &rec.Seq, &rec.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
