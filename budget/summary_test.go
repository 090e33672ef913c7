/*
summary_test.go - Derived dashboard and plan-view aggregates

PURPOSE:
  Verifies that the read-side views are derived faithfully from the
  persisted records: money totals, absorption, the missing-receipt and
  recent-transaction lists, and the per-category breakdown.
*/
package budget_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/budget-engine/budget"
)

func TestSummarize_MoneyTotals(t *testing.T) {
	// GIVEN: A program with income 3000.00 and expenses 400.00 + 250.00
	// THEN: The dashboard reports the totals, balance, and absorption

	e := newTestEngine()
	ctx := context.Background()
	c := testCaller()
	p, line := activeProgram(t, e)

	_, err := e.CreateIncome(ctx, c, p.ID, budget.IncomeInput{Date: march(2), Amount: d("3000.00")})
	require.NoError(t, err)
	_, err = e.CreateExpense(ctx, c, p.ID, expense("400.00", alloc(line.ID, "400.00")))
	require.NoError(t, err)
	_, err = e.CreateExpense(ctx, c, p.ID, expense("250.00", alloc(line.ID, "250.00")))
	require.NoError(t, err)

	s, err := e.Summarize(ctx, p.ID)
	require.NoError(t, err)

	assert.True(t, s.TotalIncome.Equal(d("3000.00")))
	assert.True(t, s.TotalExpense.Equal(d("650.00")))
	assert.True(t, s.Balance.Equal(d("2350.00")))
	assert.True(t, s.PlannedBudget.Equal(d("1000.00")))
	assert.True(t, s.RealizedBudget.Equal(d("650.00")))
	assert.True(t, s.Absorption.Equal(d("65.00")), "650 of 1000 planned, got %s", s.Absorption)
	assert.Equal(t, 1, s.LineCount)
	assert.Equal(t, 3, s.TransactionCount)
}

func TestSummarize_MissingReceiptsOldestFirst(t *testing.T) {
	// GIVEN: Three expenses, the middle one receipted
	// THEN: The warning list holds the unreceipted two, oldest first

	e := newTestEngine()
	ctx := context.Background()
	c := testCaller()
	p, line := activeProgram(t, e)

	mkExpense := func(day int, amount string) *budget.Transaction {
		tx, err := e.CreateExpense(ctx, c, p.ID, budget.ExpenseInput{
			Date:        march(day),
			Amount:      d(amount),
			Allocations: []budget.AllocationInput{alloc(line.ID, amount)},
		})
		require.NoError(t, err)
		return tx
	}
	late := mkExpense(20, "10.00")
	receipted := mkExpense(10, "20.00")
	early := mkExpense(5, "30.00")

	_, err := e.AddReceipt(ctx, c, receipted.ID, budget.ReceiptInput{FilePath: "receipts/mid.pdf"})
	require.NoError(t, err)

	s, err := e.Summarize(ctx, p.ID)
	require.NoError(t, err)

	require.Len(t, s.MissingReceipts, 2)
	assert.Equal(t, early.ID, s.MissingReceipts[0].ID, "oldest first")
	assert.Equal(t, late.ID, s.MissingReceipts[1].ID)

	require.NotEmpty(t, s.Recent)
	assert.Equal(t, late.ID, s.Recent[0].ID, "recent list is newest first")
}

func TestSummarize_CategoriesSortedAndAggregated(t *testing.T) {
	// GIVEN: Lines across two categories
	// THEN: The breakdown aggregates per category, sorted by name

	e := newTestEngine()
	ctx := context.Background()
	c := testCaller()

	p, err := e.CreateProgram(ctx, c, budget.ProgramInput{
		Name:   "Categorized",
		Period: budget.Period{Start: march(1)},
	})
	require.NoError(t, err)

	mkLine := func(name, category, price string) *budget.BudgetLine {
		l, err := e.CreateLine(ctx, c, p.ID, budget.LineInput{
			Name: name, Category: category,
			Quantity: d("1"), Unit: "lot", UnitPrice: d(price),
		})
		require.NoError(t, err)
		return l
	}
	venue := mkLine("Venue", "facilities", "500.00")
	mkLine("Chairs", "facilities", "200.00")
	mkLine("Snacks", "events", "100.00")

	_, err = e.TransitionProgram(ctx, c, p.ID, budget.ProgramActive)
	require.NoError(t, err)
	_, err = e.CreateExpense(ctx, c, p.ID, expense("300.00", alloc(venue.ID, "300.00")))
	require.NoError(t, err)

	s, err := e.Summarize(ctx, p.ID)
	require.NoError(t, err)

	require.Len(t, s.Categories, 2)
	assert.Equal(t, "events", s.Categories[0].Category, "sorted by name")
	assert.True(t, s.Categories[0].Planned.Equal(d("100.00")))
	assert.True(t, s.Categories[0].Realized.IsZero())
	assert.Equal(t, "facilities", s.Categories[1].Category)
	assert.True(t, s.Categories[1].Planned.Equal(d("700.00")))
	assert.True(t, s.Categories[1].Realized.Equal(d("300.00")))
}

func TestSummarizePlan_PerLineProgress(t *testing.T) {
	// GIVEN: A 1000.00 line with 250.00 realized
	// THEN: The plan view reports progress, remaining, and status counts

	e := newTestEngine()
	ctx := context.Background()
	p, line := activeProgram(t, e)

	_, err := e.CreateExpense(ctx, testCaller(), p.ID, expense("250.00", alloc(line.ID, "250.00")))
	require.NoError(t, err)

	s, err := e.SummarizePlan(ctx, p.ID)
	require.NoError(t, err)

	require.Len(t, s.Lines, 1)
	row := s.Lines[0]
	assert.True(t, row.Realized.Equal(d("250.00")))
	assert.True(t, row.Remaining.Equal(d("750.00")))
	assert.True(t, row.Progress.Equal(d("25.00")), "got %s", row.Progress)

	assert.Equal(t, 0, s.Unfulfilled)
	assert.Equal(t, 1, s.PartiallyFulfilled)
	assert.Equal(t, 0, s.Fulfilled)
	assert.Equal(t, 0, s.OverAllocated)
}

func TestSummarize_UnknownProgram(t *testing.T) {
	e := newTestEngine()

	_, err := e.Summarize(context.Background(), "missing")
	require.ErrorIs(t, err, budget.ErrProgramNotFound)

	_, err = e.SummarizePlan(context.Background(), "missing")
	require.ErrorIs(t, err, budget.ErrProgramNotFound)
}
