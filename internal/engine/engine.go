// Package engine implements the conditional commit protocol that turns an
// admission decision into a durable, race-free ledger mutation. Correctness
// comes from the ledger's version-guarded writes, not from any lock held
// here: concurrent callers race on the event's revision counter, losers
// re-read and re-evaluate against fresh state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/petrikoro/crewcall/internal/admission"
	"github.com/petrikoro/crewcall/internal/model"
)

// ErrVersionConflict is returned by a Ledger when the guarded write's
// precondition no longer held at apply time. It is the expected outcome of
// contention and is retried, never surfaced.
var ErrVersionConflict = errors.New("ledger version conflict")

// ErrContention is returned when the retry budget is exhausted. It is a
// transient failure the caller may retry; it must never be read as a
// capacity rejection.
var ErrContention = errors.New("could not commit response under contention")

// ErrRoleNotFound is returned when an accept names a role the event does
// not define.
var ErrRoleNotFound = errors.New("role not found for this event")

// Ledger is the storage contract the protocol runs against. Snapshot
// returns the current event state including its revision counter; Admit and
// Withdraw apply only if the stored revision still equals version, failing
// with ErrVersionConflict otherwise, and persist the response record in the
// same transaction. Record upserts a response record with no precondition
// (used for decisions that do not mutate occupancy).
type Ledger interface {
	Snapshot(ctx context.Context, eventID string) (*model.Event, error)
	LastResponse(ctx context.Context, eventID, userKey string) (*model.ResponseRecord, error)
	Admit(ctx context.Context, eventID string, version int64, role string, user model.UserRef, rec model.ResponseRecord) error
	Withdraw(ctx context.Context, eventID string, version int64, role, userKey string, rec model.ResponseRecord) error
	Record(ctx context.Context, rec model.ResponseRecord) error
}

// Request is one logical response request. Seq is optional: a retry of the
// same logical request carries the same positive Seq and resolves to the
// recorded decision without re-evaluating.
type Request struct {
	EventID     string
	UserKey     string
	DisplayName string
	Role        string
	Action      admission.Action
	Seq         int64
}

// Result carries the decision plus whether it was served from the
// idempotency record.
type Result struct {
	Decision admission.Decision
	Replayed bool
}

// Options tune the retry loop.
type Options struct {
	// MaxAttempts bounds snapshot/evaluate/apply rounds. Default 8.
	MaxAttempts int
	// BackoffBase is the unit for jittered backoff between rounds.
	// Default 10ms.
	BackoffBase time.Duration
	Logger      *slog.Logger
}

// Engine executes the commit protocol against a Ledger.
type Engine struct {
	ledger      Ledger
	maxAttempts int
	backoffBase time.Duration
	log         *slog.Logger
}

// New constructs an Engine.
func New(ledger Ledger, opts Options) *Engine {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 8
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 10 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		ledger:      ledger,
		maxAttempts: opts.MaxAttempts,
		backoffBase: opts.BackoffBase,
		log:         opts.Logger,
	}
}

// Respond decides and durably records the outcome of one response request.
// Business rejections come back as decisions, not errors; an error means
// the request could not be decided (unknown event/role, storage failure, or
// retry budget exhausted).
func (e *Engine) Respond(ctx context.Context, req Request) (*Result, error) {
	prior, err := e.ledger.LastResponse(ctx, req.EventID, req.UserKey)
	if err != nil {
		return nil, fmt.Errorf("read response record: %w", err)
	}

	// Idempotent fast path: a replay of an already-decided request gets the
	// recorded decision back without touching the ledger.
	if req.Seq > 0 && prior != nil && prior.Seq >= req.Seq {
		return &Result{Decision: decisionOf(prior), Replayed: true}, nil
	}

	var priorSeq int64
	if prior != nil {
		priorSeq = prior.Seq
	}
	seq := priorSeq + 1
	if req.Seq > seq {
		seq = req.Seq
	}

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		result, err := e.attempt(ctx, req, seq)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		// Lost the race; back off briefly and re-evaluate fresh state.
		e.log.Debug("ledger conflict, retrying",
			"event_id", req.EventID,
			"user_key", req.UserKey,
			"attempt", attempt,
		)
		if err := sleep(ctx, e.backoff(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrContention, e.maxAttempts)
}

func (e *Engine) attempt(ctx context.Context, req Request, seq int64) (*Result, error) {
	snap, err := e.ledger.Snapshot(ctx, req.EventID)
	if err != nil {
		return nil, err
	}

	occupied := snap.OccupiedRoles(req.UserKey)

	var view admission.RoleView
	switch {
	case req.Action == admission.ActionAccept:
		role := snap.RoleFor(req.Role)
		if role == nil {
			return nil, fmt.Errorf("%w: %q", ErrRoleNotFound, req.Role)
		}
		view = viewOf(role)
	case len(occupied) > 0:
		view = viewOf(snap.RoleFor(occupied[0]))
	}

	d := admission.Evaluate(view, occupied, req.UserKey, req.Action)

	rec := model.ResponseRecord{
		EventID:   req.EventID,
		UserKey:   req.UserKey,
		Decision:  string(d.Outcome),
		Role:      d.Role,
		Seq:       seq,
		DecidedAt: time.Now().UTC(),
	}

	switch d.Outcome {
	case admission.Admitted:
		user := model.UserRef{UserKey: req.UserKey, DisplayName: req.DisplayName}
		if err := e.ledger.Admit(ctx, snap.ID, snap.Version, d.Role, user, rec); err != nil {
			return nil, err
		}
	case admission.Withdrawn:
		if err := e.ledger.Withdraw(ctx, snap.ID, snap.Version, d.Role, req.UserKey, rec); err != nil {
			return nil, err
		}
	default:
		// No occupancy change: record the decision unconditionally so
		// replays resolve without re-evaluation. A rejection recorded here
		// is never consulted as a negative cache for later fresh requests.
		if err := e.ledger.Record(ctx, rec); err != nil {
			return nil, fmt.Errorf("record decision: %w", err)
		}
	}
	return &Result{Decision: d}, nil
}

// backoff returns a jittered delay that grows with the attempt number.
func (e *Engine) backoff(attempt int) time.Duration {
	window := time.Duration(attempt) * e.backoffBase
	return window/2 + time.Duration(rand.Int63n(int64(window)))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func viewOf(r *model.Role) admission.RoleView {
	keys := make([]string, 0, len(r.Occupants))
	for _, o := range r.Occupants {
		keys = append(keys, o.UserKey)
	}
	return admission.RoleView{Name: r.Name, Capacity: r.Capacity, Occupants: keys}
}

func decisionOf(rec *model.ResponseRecord) admission.Decision {
	return admission.Decision{Outcome: admission.Outcome(rec.Decision), Role: rec.Role}
}
