/*
summary.go - Derived program aggregates

PURPOSE:
  Computes the read-side views of a program: the dashboard (money in,
  money out, absorption against plan, warnings) and the budget plan
  summary (per-line progress with status counts).

EVERYTHING HERE IS DERIVED:
  No summary value is persisted. Totals are recomputed from the program's
  transactions and allocations on every call, so a summary can never
  drift from the underlying records.

KEY AMOUNTS:
  TotalIncome     sum of income transactions
  TotalExpense    sum of expense transactions
  Balance         TotalIncome - TotalExpense
  PlannedBudget   sum of line planned amounts
  RealizedBudget  sum of line realized (allocated) amounts
  Absorption      RealizedBudget / PlannedBudget, as a percentage

SEE ALSO:
  - line.go: DeriveStatus, which the per-line progress mirrors
  - engine.go: the write side that keeps line statuses current
*/
package budget

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DASHBOARD
// =============================================================================

// ProgramSummary is the dashboard view of one program.
type ProgramSummary struct {
	Program *Program

	TotalIncome  decimal.Decimal
	TotalExpense decimal.Decimal
	Balance      decimal.Decimal

	PlannedBudget  decimal.Decimal
	RealizedBudget decimal.Decimal
	// Absorption is RealizedBudget over PlannedBudget in percent,
	// zero when nothing is planned.
	Absorption decimal.Decimal

	LineCount        int
	TransactionCount int

	// Expenses with no receipt attached, oldest first.
	MissingReceipts []*Transaction

	// The most recent transactions by date, newest first.
	Recent []*Transaction

	Categories []CategoryBreakdown
}

// CategoryBreakdown aggregates plan and realization per line category.
type CategoryBreakdown struct {
	Category string
	Planned  decimal.Decimal
	Realized decimal.Decimal
}

// LineProgress is one row of the budget plan summary.
type LineProgress struct {
	Line      *BudgetLine
	Realized  decimal.Decimal
	Remaining decimal.Decimal
	// Progress is Realized over Planned in percent, zero when the
	// plan is zero.
	Progress decimal.Decimal
}

// PlanSummary is the budget plan view: every line with its progress,
// plus counts per fulfillment status.
type PlanSummary struct {
	ProgramID ProgramID
	Lines     []LineProgress

	Planned  decimal.Decimal
	Realized decimal.Decimal

	Unfulfilled        int
	PartiallyFulfilled int
	Fulfilled          int
	OverAllocated      int
}

const recentTransactionLimit = 10

// Summarize builds the dashboard for a program.
func (e *Engine) Summarize(ctx context.Context, programID ProgramID) (*ProgramSummary, error) {
	p, err := e.Store.GetProgram(ctx, programID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrProgramNotFound
	}

	s := &ProgramSummary{
		Program:        p,
		TotalIncome:    decimal.Zero,
		TotalExpense:   decimal.Zero,
		Balance:        decimal.Zero,
		PlannedBudget:  decimal.Zero,
		RealizedBudget: decimal.Zero,
		Absorption:     decimal.Zero,
	}

	txs, err := e.Store.TransactionsByProgram(ctx, programID)
	if err != nil {
		return nil, err
	}
	s.TransactionCount = len(txs)
	for _, tx := range txs {
		switch tx.Type {
		case TxIncome:
			s.TotalIncome = s.TotalIncome.Add(tx.Amount)
		case TxExpense:
			s.TotalExpense = s.TotalExpense.Add(tx.Amount)
			n, err := e.Store.ReceiptCount(ctx, tx.ID)
			if err != nil {
				return nil, err
			}
			if n == 0 {
				s.MissingReceipts = append(s.MissingReceipts, tx)
			}
		}
	}
	s.Balance = s.TotalIncome.Sub(s.TotalExpense)

	sort.SliceStable(s.MissingReceipts, func(i, j int) bool {
		return s.MissingReceipts[i].Date.Before(s.MissingReceipts[j].Date)
	})

	recent := make([]*Transaction, len(txs))
	copy(recent, txs)
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].Date.After(recent[j].Date)
	})
	if len(recent) > recentTransactionLimit {
		recent = recent[:recentTransactionLimit]
	}
	s.Recent = recent

	lines, err := e.Store.LinesByProgram(ctx, programID)
	if err != nil {
		return nil, err
	}
	s.LineCount = len(lines)

	byCategory := make(map[string]*CategoryBreakdown)
	var order []string
	for _, line := range lines {
		realized, err := e.Store.RealizedAmount(ctx, line.ID)
		if err != nil {
			return nil, err
		}
		s.PlannedBudget = s.PlannedBudget.Add(line.PlannedAmount)
		s.RealizedBudget = s.RealizedBudget.Add(realized)

		cb, ok := byCategory[line.Category]
		if !ok {
			cb = &CategoryBreakdown{
				Category: line.Category,
				Planned:  decimal.Zero,
				Realized: decimal.Zero,
			}
			byCategory[line.Category] = cb
			order = append(order, line.Category)
		}
		cb.Planned = cb.Planned.Add(line.PlannedAmount)
		cb.Realized = cb.Realized.Add(realized)
	}

	sort.Strings(order)
	for _, cat := range order {
		s.Categories = append(s.Categories, *byCategory[cat])
	}

	if s.PlannedBudget.IsPositive() {
		s.Absorption = s.RealizedBudget.
			Div(s.PlannedBudget).
			Mul(decimal.NewFromInt(100)).
			Round(2)
	}

	return s, nil
}

// =============================================================================
// BUDGET PLAN SUMMARY
// =============================================================================

// SummarizePlan builds the per-line budget plan view for a program.
func (e *Engine) SummarizePlan(ctx context.Context, programID ProgramID) (*PlanSummary, error) {
	p, err := e.Store.GetProgram(ctx, programID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrProgramNotFound
	}

	lines, err := e.Store.LinesByProgram(ctx, programID)
	if err != nil {
		return nil, err
	}

	s := &PlanSummary{
		ProgramID: programID,
		Planned:   decimal.Zero,
		Realized:  decimal.Zero,
	}
	for _, line := range lines {
		realized, err := e.Store.RealizedAmount(ctx, line.ID)
		if err != nil {
			return nil, err
		}

		progress := decimal.Zero
		if line.PlannedAmount.IsPositive() {
			progress = realized.
				Div(line.PlannedAmount).
				Mul(decimal.NewFromInt(100)).
				Round(2)
		}
		s.Lines = append(s.Lines, LineProgress{
			Line:      line,
			Realized:  realized,
			Remaining: line.Remaining(realized),
			Progress:  progress,
		})

		s.Planned = s.Planned.Add(line.PlannedAmount)
		s.Realized = s.Realized.Add(realized)

		switch line.Status {
		case LineUnfulfilled:
			s.Unfulfilled++
		case LinePartiallyFulfilled:
			s.PartiallyFulfilled++
		case LineFulfilled:
			s.Fulfilled++
		}
		if line.OverAllocated {
			s.OverAllocated++
		}
	}

	return s, nil
}
