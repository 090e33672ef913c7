/*
Package budget provides the core budget-consistency and transaction-allocation engine.

PURPOSE:
  This package contains the domain types and algorithms for managing a
  program's line-item budget plan (RAB), the transactions recorded against
  it, and the allocation rules that keep both consistent. The engine
  validates every allocation against the remaining budget of its line,
  derives each line's fulfillment status from its allocations and receipt
  evidence, and records every mutation in an append-only audit trail.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal amounts (never floats) with a fixed comparison tolerance
  - Typed IDs: ProgramID, LineID, TransactionID, ... prevent mix-ups
  - Status enums: program lifecycle and line fulfillment states
  - Period: a program's start/optional-end window

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point drift
  2. Explicitness: Every operation takes its actor and clock as parameters
  3. Derivation: realized/remaining amounts and statuses are computed from
     allocations, never stored as independent truth
  4. Auditability: Every mutation produces a before/after audit entry

SEE ALSO:
  - engine.go: Allocation validation and status recomputation
  - program.go: Program lifecycle state machine
  - store.go: Persistence interfaces
*/
package budget

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProgramID string
type LineID string
type TransactionID string
type AllocationID string
type ReceiptID string
type MemberID string
type UserID string

// NewID returns a fresh random identifier. All entities share the same
// ID scheme.
func NewID() string {
	return uuid.NewString()
}

// =============================================================================
// MONEY - Decimal amounts with a fixed comparison tolerance
// =============================================================================

// AmountTolerance is the maximum difference under which two monetary
// amounts are considered equal. It absorbs rounding in client-supplied
// decimal input (e.g. a declared total vs the sum of its allocations).
var AmountTolerance = decimal.NewFromFloat(0.01)

// WithinTolerance reports whether a and b differ by at most AmountTolerance.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(AmountTolerance)
}

// MustParseDecimal parses s, returning zero on malformed input.
// Intended for trusted values read back from storage.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// PROGRAM LIFECYCLE
// =============================================================================

type ProgramStatus string

const (
	ProgramDraft     ProgramStatus = "draft"     // plan under construction, no transactions
	ProgramActive    ProgramStatus = "active"    // plan frozen, transactions allowed
	ProgramClosed    ProgramStatus = "closed"    // terminal
	ProgramCancelled ProgramStatus = "cancelled" // terminal
)

// =============================================================================
// BUDGET LINE FULFILLMENT
// =============================================================================

type LineStatus string

const (
	LineUnfulfilled        LineStatus = "unfulfilled"
	LinePartiallyFulfilled LineStatus = "partially_fulfilled"
	LineFulfilled          LineStatus = "fulfilled"
)

// =============================================================================
// TRANSACTIONS
// =============================================================================

type TransactionType string

const (
	TxIncome  TransactionType = "income"  // money in, never allocated
	TxExpense TransactionType = "expense" // money out, allocated to budget lines
)

// =============================================================================
// MEMBERSHIP ROLES
// =============================================================================

type Role string

const (
	RoleLead      Role = "lead"      // program owner, may transition status
	RoleTreasurer Role = "treasurer" // may record transactions
	RoleMember    Role = "member"
)

// =============================================================================
// PERIOD - A program's execution window
// =============================================================================

// Period is a start date with an optional open end.
type Period struct {
	Start time.Time
	End   *time.Time
}

func (p Period) Validate() error {
	if p.Start.IsZero() {
		return ErrInvalidPeriod
	}
	if p.End != nil && !p.End.After(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	if t.Before(p.Start) {
		return false
	}
	return p.End == nil || !t.After(*p.End)
}

// =============================================================================
// CALLER - Explicit actor and clock
// =============================================================================

// Caller identifies who invoked an engine operation, from where, and at
// what time. The engine never reads ambient authentication or wall-clock
// state; handlers construct a Caller at the boundary, tests construct a
// deterministic one.
type Caller struct {
	UserID UserID
	Origin string // client address, recorded in the audit trail
	Now    time.Time
}
