/*
errors.go - Centralized error types for the budget engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The API layer classifies these into HTTP status codes; the engine
  itself never retries any of them - they are caller errors, raised
  before any write occurs.

ERROR CATEGORIES:
  1. Not-found errors - referenced entity is absent
  2. State errors     - operation not legal in the current lifecycle state
  3. Budget errors    - allocation rules violated

USAGE:
  if errors.Is(err, budget.ErrBudgetExceeded) {
      var be *budget.BudgetExceededError
      errors.As(err, &be) // be.Violations lists every offending line
  }
*/
package budget

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrProgramNotFound is returned when a referenced program doesn't exist
	// or has been soft-deleted.
	ErrProgramNotFound = errors.New("program not found")

	// ErrLineNotFound is returned when a referenced budget line doesn't exist
	// within the program scope it was looked up in.
	ErrLineNotFound = errors.New("budget line not found")

	// ErrTransactionNotFound is returned when a referenced transaction
	// doesn't exist or has been soft-deleted.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrReceiptNotFound is returned when a referenced receipt doesn't exist.
	ErrReceiptNotFound = errors.New("receipt not found")

	// ErrMemberNotFound is returned when a (program, user) membership
	// record is absent.
	ErrMemberNotFound = errors.New("member not found")

	// ErrInvalidState is returned when an operation is attempted outside the
	// lifecycle state that permits it (e.g. structural edits after draft).
	ErrInvalidState = errors.New("operation not allowed in current state")

	// ErrProgramNotReady is returned when a transaction is attempted on a
	// program that is not active or has no budget lines.
	ErrProgramNotReady = errors.New("program is not active or has no budget lines")

	// ErrMissingAllocation is returned when an expense carries no allocations.
	ErrMissingAllocation = errors.New("expense must be allocated to at least one budget line")

	// ErrBudgetExceeded is returned when one or more allocations would push a
	// line's realized total past its planned amount.
	ErrBudgetExceeded = errors.New("allocation exceeds remaining budget")

	// ErrAmountMismatch is returned when a transaction's declared amount
	// differs from the sum of its allocations beyond tolerance.
	ErrAmountMismatch = errors.New("transaction amount does not match allocation total")

	// ErrLineHasAllocations is returned when deleting a budget line that
	// still has allocations against it.
	ErrLineHasAllocations = errors.New("budget line has allocations")

	// ErrDuplicateMember is returned when adding a user who is already a
	// member of the program.
	ErrDuplicateMember = errors.New("user is already a member of this program")

	// ErrReceiptNotExpense is returned when attaching a receipt to a
	// non-expense transaction. Income needs no evidence.
	ErrReceiptNotExpense = errors.New("receipts apply to expense transactions only")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrInvalidInput is returned for malformed field values the outer
	// request layer should have rejected (negative quantity, empty name).
	ErrInvalidInput = errors.New("invalid input")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// AllocationViolation describes one allocation that failed validation.
type AllocationViolation struct {
	LineID    LineID
	LineName  string
	Remaining decimal.Decimal
	Requested decimal.Decimal
	NotFound  bool // the referenced line doesn't exist in the program
}

func (v AllocationViolation) String() string {
	if v.NotFound {
		return fmt.Sprintf("budget line %s not found in program", v.LineID)
	}
	return fmt.Sprintf("allocation for %q exceeds remaining budget: remaining %s, requested %s",
		v.LineName, v.Remaining.StringFixed(2), v.Requested.StringFixed(2))
}

// BudgetExceededError aggregates every violation found in a batch of
// allocations. Validation collects all of them rather than stopping at
// the first, so the caller can fix the whole request in one pass.
type BudgetExceededError struct {
	Violations []AllocationViolation
}

func (e *BudgetExceededError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}
	return strings.Join(msgs, ", ")
}

func (e *BudgetExceededError) Unwrap() error {
	return ErrBudgetExceeded
}

// AmountMismatchError reports the declared amount vs the allocated total.
type AmountMismatchError struct {
	Declared  decimal.Decimal
	Allocated decimal.Decimal
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("declared amount %s does not match allocation total %s",
		e.Declared.StringFixed(2), e.Allocated.StringFixed(2))
}

func (e *AmountMismatchError) Unwrap() error {
	return ErrAmountMismatch
}

// InvalidTransitionError reports an illegal program status change.
type InvalidTransitionError struct {
	From   ProgramStatus
	To     ProgramStatus
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot transition program from %s to %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("cannot transition program from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidState
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProgramNotFound) ||
		errors.Is(err, ErrLineNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrReceiptNotFound) ||
		errors.Is(err, ErrMemberNotFound)
}

// IsClientError returns true if the error is due to invalid client input
// or an operation illegal in the current state. These map to 4xx responses.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrProgramNotReady) ||
		errors.Is(err, ErrMissingAllocation) ||
		errors.Is(err, ErrBudgetExceeded) ||
		errors.Is(err, ErrAmountMismatch) ||
		errors.Is(err, ErrLineHasAllocations) ||
		errors.Is(err, ErrDuplicateMember) ||
		errors.Is(err, ErrReceiptNotExpense) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidInput)
}
