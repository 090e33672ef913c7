/*
program.go - Program entity and lifecycle state machine

PURPOSE:
  A Program is the aggregate root: it owns a budget plan (its lines),
  the transactions recorded against that plan, and a membership roster.
  Its lifecycle gates what the rest of the engine may do:

    draft -----> active -----> closed
                    \--------> cancelled

  - draft:  the plan is editable, no transactions
  - active: the plan is frozen, transactions allowed
  - closed/cancelled: terminal, nothing moves

TRANSITION GUARDS:
  draft -> active requires at least one budget line. Every other listed
  transition is unconditional. Terminal states have no exits.

GUARD PREDICATES:
  IsDraft / IsActive / CanAcceptTransactions are exposed so the
  authorization layer outside this core can consult them, but the engine
  re-checks them itself before every mutation (defense in depth).
*/
package budget

import "time"

// =============================================================================
// PROGRAM - Aggregate root
// =============================================================================

type Program struct {
	ID          ProgramID
	Name        string
	Description string
	Period      Period
	Status      ProgramStatus
	CreatedBy   UserID
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Soft delete: a deleted program stays in storage (it is referenced by
	// audit entries and historical transactions) but is invisible to reads.
	DeletedAt *time.Time
}

func (p *Program) IsDraft() bool  { return p.Status == ProgramDraft }
func (p *Program) IsActive() bool { return p.Status == ProgramActive }
func (p *Program) IsDeleted() bool {
	return p.DeletedAt != nil
}

// CanAcceptTransactions reports whether transactions may be recorded.
// hasLines is supplied by the caller because line existence lives in
// storage, not on the entity.
func (p *Program) CanAcceptTransactions(hasLines bool) bool {
	return p.IsActive() && hasLines
}

// =============================================================================
// STATE MACHINE
// =============================================================================

var programTransitions = map[ProgramStatus][]ProgramStatus{
	ProgramDraft:     {ProgramActive},
	ProgramActive:    {ProgramClosed, ProgramCancelled},
	ProgramClosed:    {},
	ProgramCancelled: {},
}

// Transition moves the program to a new status, enforcing the state
// machine. Activation additionally requires the plan to be non-empty.
func (p *Program) Transition(to ProgramStatus, hasLines bool) error {
	allowed := false
	for _, next := range programTransitions[p.Status] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return &InvalidTransitionError{From: p.Status, To: to}
	}
	if to == ProgramActive && !hasLines {
		return &InvalidTransitionError{
			From:   p.Status,
			To:     to,
			Reason: "program must have at least one budget line before activation",
		}
	}
	p.Status = to
	return nil
}

// =============================================================================
// MEMBERSHIP - Who participates in a program, and as what
// =============================================================================

// Member links a user to a program with a role. A user appears at most
// once per program; the creator is admitted automatically as lead.
type Member struct {
	ID        MemberID
	ProgramID ProgramID
	UserID    UserID
	Role      Role
	Approved  bool // members added by others start unapproved
	CreatedAt time.Time
}
