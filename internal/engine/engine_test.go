package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/petrikoro/crewcall/internal/admission"
	"github.com/petrikoro/crewcall/internal/model"
)

// memLedger implements Ledger in memory with the same conditional-write
// semantics the Postgres ledger provides: mutations apply only when the
// caller's observed version still matches, and each applied mutation bumps
// the version. It also watches the capacity invariant on every write so
// tests can assert it held at every instant, not just at the end.
type memLedger struct {
	mu      sync.Mutex
	event   model.Event
	records map[string]model.ResponseRecord
	overCap bool
}

func newMemLedger(roles ...model.Role) *memLedger {
	return &memLedger{
		event: model.Event{
			ID:      "ev1",
			Name:    "Launch Party",
			Roles:   roles,
			Version: 1,
		},
		records: make(map[string]model.ResponseRecord),
	}
}

func (m *memLedger) Snapshot(_ context.Context, eventID string) (*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if eventID != m.event.ID {
		return nil, errors.New("event not found")
	}
	snap := m.event
	snap.Roles = make([]model.Role, len(m.event.Roles))
	for i, r := range m.event.Roles {
		snap.Roles[i] = r
		snap.Roles[i].Occupants = append([]model.UserRef(nil), r.Occupants...)
	}
	return &snap, nil
}

func (m *memLedger) LastResponse(_ context.Context, _, userKey string) (*model.ResponseRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[userKey]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (m *memLedger) Admit(_ context.Context, _ string, version int64, role string, user model.UserRef, rec model.ResponseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if version != m.event.Version {
		return ErrVersionConflict
	}
	r := m.event.RoleFor(role)
	if r == nil || r.IsFull() || len(m.event.OccupiedRoles(user.UserKey)) > 0 {
		return ErrVersionConflict
	}
	r.Occupants = append(r.Occupants, user)
	m.event.Version++
	m.records[user.UserKey] = rec
	if len(r.Occupants) > r.Capacity {
		m.overCap = true
	}
	return nil
}

func (m *memLedger) Withdraw(_ context.Context, _ string, version int64, role, userKey string, rec model.ResponseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if version != m.event.Version {
		return ErrVersionConflict
	}
	r := m.event.RoleFor(role)
	if r == nil {
		return ErrVersionConflict
	}
	kept := r.Occupants[:0]
	removed := false
	for _, o := range r.Occupants {
		if o.UserKey == userKey {
			removed = true
			continue
		}
		kept = append(kept, o)
	}
	if !removed {
		return ErrVersionConflict
	}
	r.Occupants = kept
	m.event.Version++
	m.records[userKey] = rec
	return nil
}

func (m *memLedger) Record(_ context.Context, rec model.ResponseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.UserKey] = rec
	return nil
}

func (m *memLedger) taken(role string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.event.RoleFor(role).Taken()
}

func newTestEngine(l Ledger) *Engine {
	return New(l, Options{BackoffBase: time.Millisecond})
}

func respond(t *testing.T, e *Engine, userKey, role string, action admission.Action) admission.Decision {
	t.Helper()
	res, err := e.Respond(context.Background(), Request{
		EventID: "ev1",
		UserKey: userKey,
		Role:    role,
		Action:  action,
	})
	if err != nil {
		t.Fatalf("respond(%s %s %s): %v", userKey, action, role, err)
	}
	return res.Decision
}

func TestConcurrentAcceptsNeverExceedCapacity(t *testing.T) {
	const capacity = 5
	const callers = 1000

	ledger := newMemLedger(model.Role{Name: "server", Capacity: capacity})
	e := newTestEngine(ledger)

	var wg sync.WaitGroup
	outcomes := make(chan admission.Outcome, callers)
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.Respond(context.Background(), Request{
				EventID: "ev1",
				UserKey: fmt.Sprintf("user-%d", i),
				Role:    "server",
				Action:  admission.ActionAccept,
			})
			if err != nil {
				errs <- err
				return
			}
			outcomes <- res.Decision.Outcome
		}(i)
	}
	wg.Wait()
	close(outcomes)
	close(errs)

	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}

	var admitted, full int
	for o := range outcomes {
		switch o {
		case admission.Admitted:
			admitted++
		case admission.RejectFull:
			full++
		default:
			t.Fatalf("unexpected outcome %s", o)
		}
	}
	if admitted != capacity {
		t.Errorf("admitted = %d, want exactly %d", admitted, capacity)
	}
	if full != callers-capacity {
		t.Errorf("rejected full = %d, want %d", full, callers-capacity)
	}
	if got := ledger.taken("server"); got != capacity {
		t.Errorf("final occupant count = %d, want %d", got, capacity)
	}
	if ledger.overCap {
		t.Error("occupant count exceeded capacity at some instant")
	}
}

func TestThreeAcceptsForTwoSlots(t *testing.T) {
	ledger := newMemLedger(model.Role{Name: "server", Capacity: 2})
	e := newTestEngine(ledger)

	var wg sync.WaitGroup
	outcomes := make(chan admission.Outcome, 3)
	for _, u := range []string{"u1", "u2", "u3"} {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			res, err := e.Respond(context.Background(), Request{
				EventID: "ev1", UserKey: u, Role: "server", Action: admission.ActionAccept,
			})
			if err != nil {
				t.Errorf("respond %s: %v", u, err)
				return
			}
			outcomes <- res.Decision.Outcome
		}(u)
	}
	wg.Wait()
	close(outcomes)

	var admitted, full int
	for o := range outcomes {
		switch o {
		case admission.Admitted:
			admitted++
		case admission.RejectFull:
			full++
		}
	}
	if admitted != 2 || full != 1 {
		t.Errorf("admitted=%d full=%d, want 2/1", admitted, full)
	}
	if got := ledger.taken("server"); got != 2 {
		t.Errorf("occupants = %d, want 2", got)
	}
}

func TestOneRolePerEvent(t *testing.T) {
	ledger := newMemLedger(
		model.Role{Name: "server", Capacity: 2},
		model.Role{Name: "bartender", Capacity: 2},
	)
	e := newTestEngine(ledger)

	if d := respond(t, e, "u1", "server", admission.ActionAccept); d.Outcome != admission.Admitted {
		t.Fatalf("first accept: %s", d.Outcome)
	}
	if d := respond(t, e, "u1", "bartender", admission.ActionAccept); d.Outcome != admission.RejectConflict {
		t.Fatalf("cross-role accept: %s, want %s", d.Outcome, admission.RejectConflict)
	}

	// Withdrawing from the first role clears the way.
	if d := respond(t, e, "u1", "", admission.ActionDecline); d.Outcome != admission.Withdrawn {
		t.Fatalf("decline: %s", d.Outcome)
	}
	if d := respond(t, e, "u1", "bartender", admission.ActionAccept); d.Outcome != admission.Admitted {
		t.Fatalf("accept after withdraw: %s", d.Outcome)
	}
}

func TestLifecycleSingleSlot(t *testing.T) {
	ledger := newMemLedger(model.Role{Name: "server", Capacity: 1})
	e := newTestEngine(ledger)

	if d := respond(t, e, "u1", "server", admission.ActionAccept); d.Outcome != admission.Admitted {
		t.Fatalf("accept: %s", d.Outcome)
	}
	if d := respond(t, e, "u1", "server", admission.ActionAccept); d.Outcome != admission.RejectDuplicate {
		t.Fatalf("second accept: %s, want %s", d.Outcome, admission.RejectDuplicate)
	}
	if got := ledger.taken("server"); got != 1 {
		t.Fatalf("occupants after duplicate accept = %d, want 1", got)
	}
	if d := respond(t, e, "u1", "", admission.ActionDecline); d.Outcome != admission.Withdrawn {
		t.Fatalf("decline: %s", d.Outcome)
	}
	if got := ledger.taken("server"); got != 0 {
		t.Fatalf("occupants after decline = %d, want 0", got)
	}
	if d := respond(t, e, "u2", "server", admission.ActionAccept); d.Outcome != admission.Admitted {
		t.Fatalf("u2 accept: %s", d.Outcome)
	}
}

func TestNoStaleNegativeCache(t *testing.T) {
	ledger := newMemLedger(model.Role{Name: "server", Capacity: 1})
	e := newTestEngine(ledger)

	respond(t, e, "u1", "server", admission.ActionAccept)
	if d := respond(t, e, "u2", "server", admission.ActionAccept); d.Outcome != admission.RejectFull {
		t.Fatalf("accept while full: %s", d.Outcome)
	}
	respond(t, e, "u1", "", admission.ActionWithdraw)

	// A fresh accept from the previously rejected user must re-evaluate
	// against current state, with no invalidation step in between.
	if d := respond(t, e, "u2", "server", admission.ActionAccept); d.Outcome != admission.Admitted {
		t.Fatalf("accept after capacity freed: %s, want %s", d.Outcome, admission.Admitted)
	}
}

func TestIdempotentReplay(t *testing.T) {
	ledger := newMemLedger(model.Role{Name: "server", Capacity: 3})
	e := newTestEngine(ledger)

	req := Request{
		EventID: "ev1",
		UserKey: "u1",
		Role:    "server",
		Action:  admission.ActionAccept,
		Seq:     7,
	}
	first, err := e.Respond(context.Background(), req)
	if err != nil {
		t.Fatalf("first respond: %v", err)
	}
	if first.Decision.Outcome != admission.Admitted || first.Replayed {
		t.Fatalf("first respond: outcome=%s replayed=%v", first.Decision.Outcome, first.Replayed)
	}

	replay, err := e.Respond(context.Background(), req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replay.Replayed {
		t.Error("replay should be served from the response record")
	}
	if replay.Decision.Outcome != admission.Admitted {
		t.Errorf("replay outcome = %s, want %s", replay.Decision.Outcome, admission.Admitted)
	}
	if got := ledger.taken("server"); got != 1 {
		t.Errorf("occupants after replay = %d, want 1", got)
	}
}

func TestDeclineByNonOccupantIsNoOp(t *testing.T) {
	ledger := newMemLedger(model.Role{Name: "server", Capacity: 1})
	e := newTestEngine(ledger)

	if d := respond(t, e, "u1", "", admission.ActionDecline); d.Outcome != admission.NoOp {
		t.Fatalf("decline by non-occupant: %s, want %s", d.Outcome, admission.NoOp)
	}
	if got := ledger.taken("server"); got != 0 {
		t.Fatalf("occupants = %d, want 0", got)
	}
}

func TestUnknownRole(t *testing.T) {
	ledger := newMemLedger(model.Role{Name: "server", Capacity: 1})
	e := newTestEngine(ledger)

	_, err := e.Respond(context.Background(), Request{
		EventID: "ev1", UserKey: "u1", Role: "dj", Action: admission.ActionAccept,
	})
	if !errors.Is(err, ErrRoleNotFound) {
		t.Fatalf("err = %v, want ErrRoleNotFound", err)
	}
}

// conflictLedger always loses the conditional write.
type conflictLedger struct {
	*memLedger
	attemptMu sync.Mutex
	attempts  int
}

func (c *conflictLedger) Admit(context.Context, string, int64, string, model.UserRef, model.ResponseRecord) error {
	c.attemptMu.Lock()
	c.attempts++
	c.attemptMu.Unlock()
	return ErrVersionConflict
}

func TestRetryBudgetExhaustionIsTransient(t *testing.T) {
	ledger := &conflictLedger{memLedger: newMemLedger(model.Role{Name: "server", Capacity: 1})}
	e := New(ledger, Options{MaxAttempts: 3, BackoffBase: time.Millisecond})

	_, err := e.Respond(context.Background(), Request{
		EventID: "ev1", UserKey: "u1", Role: "server", Action: admission.ActionAccept,
	})
	if !errors.Is(err, ErrContention) {
		t.Fatalf("err = %v, want ErrContention", err)
	}
	if ledger.attempts != 3 {
		t.Errorf("attempts = %d, want 3", ledger.attempts)
	}
	// Exhaustion must never masquerade as a capacity rejection.
	if got := ledger.taken("server"); got != 0 {
		t.Errorf("occupants = %d, want 0", got)
	}
}

func TestCancelledContextStopsRetrying(t *testing.T) {
	ledger := &conflictLedger{memLedger: newMemLedger(model.Role{Name: "server", Capacity: 1})}
	e := New(ledger, Options{MaxAttempts: 8, BackoffBase: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Respond(ctx, Request{
		EventID: "ev1", UserKey: "u1", Role: "server", Action: admission.ActionAccept,
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
