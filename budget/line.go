/*
line.go - Budget line (RAB item) and its derived status

PURPOSE:
  A BudgetLine is one planned expenditure in a program's budget plan:
  quantity x unit price = planned amount. Money is attributed to a line
  through allocations; the line's fulfillment status is derived from the
  sum of those allocations and from receipt evidence on the contributing
  expense transactions.

DERIVED VALUES (never stored as independent truth):
  realized  = sum of allocation amounts against the line
  remaining = planned - realized

STATUS TABLE (DeriveStatus):
  realized <= 0                                  -> unfulfilled
  realized <  planned                            -> partially_fulfilled
  realized == planned, all receipts present      -> fulfilled
  realized == planned, some receipt missing      -> partially_fulfilled
  realized >  planned                            -> partially_fulfilled,
                                                    over-allocated flag set

  The last row is an anomaly: allocation validation rejects writes that
  would overshoot the plan, so realized > planned can only appear through
  a bypassed write path. The flag surfaces it instead of hiding it.
*/
package budget

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BUDGET LINE
// =============================================================================

type BudgetLine struct {
	ID            LineID
	ProgramID     ProgramID
	Name          string
	Category      string
	Quantity      decimal.Decimal
	Unit          string
	UnitPrice     decimal.Decimal
	PlannedAmount decimal.Decimal // always Quantity * UnitPrice
	Status        LineStatus
	OverAllocated bool // anomaly flag, see DeriveStatus
	Notes         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SetPlan updates quantity and unit price together and recomputes the
// planned amount. The planned amount is never accepted from input.
func (l *BudgetLine) SetPlan(quantity, unitPrice decimal.Decimal) {
	l.Quantity = quantity
	l.UnitPrice = unitPrice
	l.PlannedAmount = quantity.Mul(unitPrice)
}

// Remaining returns planned - realized. It may be negative in the
// over-allocated anomaly state; validation, not storage, keeps it >= 0.
func (l *BudgetLine) Remaining(realized decimal.Decimal) decimal.Decimal {
	return l.PlannedAmount.Sub(realized)
}

// =============================================================================
// STATUS DERIVATION
// =============================================================================

// DeriveStatus computes a line's fulfillment status from its realized
// total and receipt completeness. Pure function: recomputation from the
// same inputs always yields the same result, so status recomputation is
// idempotent by construction.
func DeriveStatus(planned, realized decimal.Decimal, receiptsComplete bool) (LineStatus, bool) {
	switch {
	case realized.LessThanOrEqual(decimal.Zero):
		return LineUnfulfilled, false
	case realized.LessThan(planned):
		return LinePartiallyFulfilled, false
	case realized.Equal(planned) && receiptsComplete:
		return LineFulfilled, false
	case realized.Equal(planned):
		return LinePartiallyFulfilled, false
	default:
		// realized > planned: over-allocation that validation should have
		// prevented. Flagged, not silently relabeled.
		return LinePartiallyFulfilled, true
	}
}
