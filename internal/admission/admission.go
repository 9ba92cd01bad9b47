// Package admission implements the pure admission decision for role
// acceptance. Evaluate never touches storage; given the same snapshot it
// always returns the same decision, which is what lets the commit protocol
// re-run it freely on every retry.
package admission

import "fmt"

// Action is the requested response.
type Action string

const (
	ActionAccept   Action = "accept"
	ActionDecline  Action = "decline"
	ActionWithdraw Action = "withdraw"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionAccept, ActionDecline, ActionWithdraw:
		return true
	}
	return false
}

// Outcome tags the decision variants.
type Outcome string

const (
	// Admitted: the user takes a slot in the requested role.
	Admitted Outcome = "admitted"
	// RejectDuplicate: the user already occupies the requested role.
	RejectDuplicate Outcome = "duplicate"
	// RejectConflict: the user occupies a different role in the same event.
	RejectConflict Outcome = "conflict"
	// RejectFull: the role has no remaining capacity.
	RejectFull Outcome = "full"
	// Withdrawn: the user gives up an occupied slot.
	Withdrawn Outcome = "withdrawn"
	// NoOp: a decline/withdraw from someone who holds no slot.
	NoOp Outcome = "noop"
)

// Mutates reports whether the outcome requires a ledger write.
func (o Outcome) Mutates() bool {
	return o == Admitted || o == Withdrawn
}

// Decision is the evaluator's verdict for one request.
type Decision struct {
	Outcome Outcome
	// Role the decision applies to: the requested role for accepts, the
	// currently occupied role for withdrawals.
	Role   string
	Reason string
}

// RoleView is the snapshot of one role's ledger state.
type RoleView struct {
	Name      string
	Capacity  int
	Occupants []string
}

func (v RoleView) occupies(userKey string) bool {
	for _, k := range v.Occupants {
		if k == userKey {
			return true
		}
	}
	return false
}

// Evaluate decides the outcome for userKey performing action against the
// requested role, given the set of roles the user already occupies in the
// same event. Duplicate and conflict checks run before the capacity check
// so a full role still reports "already responded" to its own occupants.
func Evaluate(role RoleView, occupied []string, userKey string, action Action) Decision {
	switch action {
	case ActionAccept:
		return evaluateAccept(role, occupied, userKey)
	case ActionDecline, ActionWithdraw:
		if len(occupied) > 0 {
			return Decision{Outcome: Withdrawn, Role: occupied[0]}
		}
		return Decision{Outcome: NoOp}
	default:
		return Decision{Outcome: NoOp, Reason: fmt.Sprintf("unknown action %q", action)}
	}
}

func evaluateAccept(role RoleView, occupied []string, userKey string) Decision {
	if role.occupies(userKey) {
		return Decision{Outcome: RejectDuplicate, Role: role.Name, Reason: "already accepted this role"}
	}
	for _, name := range occupied {
		if name != role.Name {
			return Decision{
				Outcome: RejectConflict,
				Role:    role.Name,
				Reason:  fmt.Sprintf("already accepted role %q for this event", name),
			}
		}
	}
	if len(role.Occupants) >= role.Capacity {
		return Decision{Outcome: RejectFull, Role: role.Name, Reason: "no spots left for this role"}
	}
	return Decision{Outcome: Admitted, Role: role.Name}
}
