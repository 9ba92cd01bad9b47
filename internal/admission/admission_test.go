package admission

import "testing"

func view(capacity int, occupants ...string) RoleView {
	return RoleView{Name: "bartender", Capacity: capacity, Occupants: occupants}
}

func TestAcceptAdmitsWhenSpaceRemains(t *testing.T) {
	d := Evaluate(view(2, "u1"), nil, "u2", ActionAccept)
	if d.Outcome != Admitted {
		t.Fatalf("outcome = %s, want %s", d.Outcome, Admitted)
	}
	if d.Role != "bartender" {
		t.Fatalf("role = %q, want bartender", d.Role)
	}
}

func TestAcceptRejectsWhenFull(t *testing.T) {
	d := Evaluate(view(2, "u1", "u2"), nil, "u3", ActionAccept)
	if d.Outcome != RejectFull {
		t.Fatalf("outcome = %s, want %s", d.Outcome, RejectFull)
	}
}

func TestZeroCapacityRoleIsClosed(t *testing.T) {
	d := Evaluate(view(0), nil, "u1", ActionAccept)
	if d.Outcome != RejectFull {
		t.Fatalf("outcome = %s, want %s", d.Outcome, RejectFull)
	}
}

func TestDuplicateAcceptWinsOverFull(t *testing.T) {
	// An occupant of a full role must hear "already responded", not "full".
	d := Evaluate(view(2, "u1", "u2"), []string{"bartender"}, "u1", ActionAccept)
	if d.Outcome != RejectDuplicate {
		t.Fatalf("outcome = %s, want %s", d.Outcome, RejectDuplicate)
	}
}

func TestAcceptConflictsAcrossRoles(t *testing.T) {
	d := Evaluate(view(2), []string{"server"}, "u1", ActionAccept)
	if d.Outcome != RejectConflict {
		t.Fatalf("outcome = %s, want %s", d.Outcome, RejectConflict)
	}
}

func TestDeclineWithdrawsOccupant(t *testing.T) {
	d := Evaluate(view(2, "u1"), []string{"bartender"}, "u1", ActionDecline)
	if d.Outcome != Withdrawn {
		t.Fatalf("outcome = %s, want %s", d.Outcome, Withdrawn)
	}
	if d.Role != "bartender" {
		t.Fatalf("role = %q, want bartender", d.Role)
	}
}

func TestWithdrawActsLikeDecline(t *testing.T) {
	d := Evaluate(view(2, "u1"), []string{"bartender"}, "u1", ActionWithdraw)
	if d.Outcome != Withdrawn {
		t.Fatalf("outcome = %s, want %s", d.Outcome, Withdrawn)
	}
}

func TestDeclineByNonOccupantIsNoOp(t *testing.T) {
	d := Evaluate(view(2, "u1"), nil, "u2", ActionDecline)
	if d.Outcome != NoOp {
		t.Fatalf("outcome = %s, want %s", d.Outcome, NoOp)
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	role := view(1, "u1")
	first := Evaluate(role, nil, "u2", ActionAccept)
	for i := 0; i < 10; i++ {
		if d := Evaluate(role, nil, "u2", ActionAccept); d != first {
			t.Fatalf("evaluation %d differed: %+v vs %+v", i, d, first)
		}
	}
}

func TestActionValid(t *testing.T) {
	for _, a := range []Action{ActionAccept, ActionDecline, ActionWithdraw} {
		if !a.Valid() {
			t.Errorf("%s should be valid", a)
		}
	}
	if Action("maybe").Valid() {
		t.Error("unknown action should be invalid")
	}
}

func TestOutcomeMutates(t *testing.T) {
	if !Admitted.Mutates() || !Withdrawn.Mutates() {
		t.Error("admitted and withdrawn must mutate the ledger")
	}
	for _, o := range []Outcome{RejectDuplicate, RejectConflict, RejectFull, NoOp} {
		if o.Mutates() {
			t.Errorf("%s must not mutate the ledger", o)
		}
	}
}
