/*
engine_test.go - Behavioral tests for the budget engine

PURPOSE:
  These tests document the rules that govern money movement against a
  budget plan:
  1. Allocation validation - per-line budget checks, collected violations
  2. Amount/allocation consistency within tolerance
  3. Fulfillment status derivation from allocations + receipts
  4. Atomic units of work - failed operations leave zero visible effect
  5. The validate-then-write race under concurrent submissions

READING THESE TESTS:
  Each test has GIVEN/WHEN/THEN comments explaining the scenario and
  assertions with explanatory messages.
*/
package budget_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/budget/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine() *budget.Engine {
	return budget.NewEngine(store.NewMemory())
}

func testCaller() budget.Caller {
	return callerAt(0)
}

// callerAt returns the test caller with its clock advanced by the given
// number of minutes. Ordering-sensitive tests use it to force distinct
// audit timestamps.
func callerAt(minutes int) budget.Caller {
	return budget.Caller{
		UserID: "user-1",
		Origin: "test",
		Now:    time.Date(2026, time.March, 1, 12, minutes, 0, 0, time.UTC),
	}
}

func d(s string) decimal.Decimal {
	return budget.MustParseDecimal(s)
}

func march(day int) time.Time {
	return time.Date(2026, time.March, day, 0, 0, 0, 0, time.UTC)
}

// activeProgram creates an active program with one line planned at
// 10 x 100.00 = 1000.00.
func activeProgram(t *testing.T, e *budget.Engine) (*budget.Program, *budget.BudgetLine) {
	t.Helper()
	ctx := context.Background()
	c := testCaller()

	p, err := e.CreateProgram(ctx, c, budget.ProgramInput{
		Name:   "Test Program",
		Period: budget.Period{Start: march(1)},
	})
	require.NoError(t, err)

	line, err := e.CreateLine(ctx, c, p.ID, budget.LineInput{
		Name:      "Equipment",
		Category:  "supplies",
		Quantity:  d("10"),
		Unit:      "piece",
		UnitPrice: d("100.00"),
	})
	require.NoError(t, err)
	require.True(t, line.PlannedAmount.Equal(d("1000.00")), "planned = quantity * unit price")

	p, err = e.TransitionProgram(ctx, c, p.ID, budget.ProgramActive)
	require.NoError(t, err)

	return p, line
}

func expense(amount string, allocs ...budget.AllocationInput) budget.ExpenseInput {
	return budget.ExpenseInput{
		Date:        march(5),
		Amount:      d(amount),
		Description: "test expense",
		Allocations: allocs,
	}
}

func alloc(lineID budget.LineID, amount string) budget.AllocationInput {
	return budget.AllocationInput{LineID: lineID, Amount: d(amount)}
}

// =============================================================================
// STATUS DERIVATION
// =============================================================================

func TestDeriveStatus_DecisionTable(t *testing.T) {
	planned := d("1000.00")

	cases := []struct {
		name             string
		realized         string
		receiptsComplete bool
		wantStatus       budget.LineStatus
		wantOver         bool
	}{
		{"zero realized", "0", true, budget.LineUnfulfilled, false},
		{"negative realized", "-5", true, budget.LineUnfulfilled, false},
		{"partial", "400.00", true, budget.LinePartiallyFulfilled, false},
		{"exact with receipts", "1000.00", true, budget.LineFulfilled, false},
		{"exact without receipts", "1000.00", false, budget.LinePartiallyFulfilled, false},
		{"over plan is flagged anomaly", "1000.01", true, budget.LinePartiallyFulfilled, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, over := budget.DeriveStatus(planned, d(tc.realized), tc.receiptsComplete)
			assert.Equal(t, tc.wantStatus, status)
			assert.Equal(t, tc.wantOver, over, "over-allocation flag")
		})
	}
}

func TestRecomputeLineStatus_Idempotent(t *testing.T) {
	// GIVEN: A line with a partial allocation
	// WHEN: Recomputing the status repeatedly without intervening writes
	// THEN: The status never changes after the first recompute

	e := newTestEngine()
	ctx := context.Background()
	p, line := activeProgram(t, e)

	_, err := e.CreateExpense(ctx, testCaller(), p.ID, expense("400.00", alloc(line.ID, "400.00")))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, e.RecomputeLineStatus(ctx, line.ID))
		got, err := e.Store.GetLine(ctx, line.ID)
		require.NoError(t, err)
		assert.Equal(t, budget.LinePartiallyFulfilled, got.Status)
		assert.False(t, got.OverAllocated)
	}
}

// =============================================================================
// EXPENSE CREATION
// =============================================================================

func TestCreateExpense_PartialAllocation(t *testing.T) {
	// GIVEN: An active program with a 1000.00 line
	// WHEN: Recording a 400.00 expense allocated to that line
	// THEN: The allocation persists and the line becomes partially fulfilled

	e := newTestEngine()
	ctx := context.Background()
	p, line := activeProgram(t, e)

	tx, err := e.CreateExpense(ctx, testCaller(), p.ID, expense("400.00", alloc(line.ID, "400.00")))
	require.NoError(t, err)
	require.Len(t, tx.Allocations, 1)

	realized, err := e.Store.RealizedAmount(ctx, line.ID)
	require.NoError(t, err)
	assert.True(t, realized.Equal(d("400.00")), "realized equals allocation sum, got %s", realized)

	got, err := e.Store.GetLine(ctx, line.ID)
	require.NoError(t, err)
	assert.Equal(t, budget.LinePartiallyFulfilled, got.Status)
}

func TestCreateExpense_SplitAcrossLines(t *testing.T) {
	// GIVEN: Two lines with room
	// WHEN: One expense allocates to both, and is later deleted
	// THEN: Each line's realized total reflects only its own share, and
	//       deletion returns both lines to their pre-expense state

	e := newTestEngine()
	ctx := context.Background()
	c := testCaller()

	p, err := e.CreateProgram(ctx, c, budget.ProgramInput{
		Name:   "Two lines",
		Period: budget.Period{Start: march(1)},
	})
	require.NoError(t, err)
	lineA, err := e.CreateLine(ctx, c, p.ID, budget.LineInput{
		Name: "A", Quantity: d("1"), Unit: "lot", UnitPrice: d("500.00"),
	})
	require.NoError(t, err)
	lineB, err := e.CreateLine(ctx, c, p.ID, budget.LineInput{
		Name: "B", Quantity: d("1"), Unit: "lot", UnitPrice: d("500.00"),
	})
	require.NoError(t, err)
	_, err = e.TransitionProgram(ctx, c, p.ID, budget.ProgramActive)
	require.NoError(t, err)

	tx, err := e.CreateExpense(ctx, c, p.ID, expense("700.00",
		alloc(lineA.ID, "300.00"), alloc(lineB.ID, "400.00")))
	require.NoError(t, err)

	ra, err := e.Store.RealizedAmount(ctx, lineA.ID)
	require.NoError(t, err)
	rb, err := e.Store.RealizedAmount(ctx, lineB.ID)
	require.NoError(t, err)
	assert.True(t, ra.Equal(d("300.00")))
	assert.True(t, rb.Equal(d("400.00")))

	require.NoError(t, e.DeleteTransaction(ctx, c, tx.ID))

	ra, err = e.Store.RealizedAmount(ctx, lineA.ID)
	require.NoError(t, err)
	rb, err = e.Store.RealizedAmount(ctx, lineB.ID)
	require.NoError(t, err)
	assert.True(t, ra.IsZero(), "deletion restores line A")
	assert.True(t, rb.IsZero(), "deletion restores line B")

	gotA, err := e.Store.GetLine(ctx, lineA.ID)
	require.NoError(t, err)
	gotB, err := e.Store.GetLine(ctx, lineB.ID)
	require.NoError(t, err)
	assert.Equal(t, budget.LineUnfulfilled, gotA.Status)
	assert.Equal(t, budget.LineUnfulfilled, gotB.Status)
}

func TestCreateExpense_BudgetExceeded_CollectsAllViolations(t *testing.T) {
	// GIVEN: A line with 1000.00 planned and an unknown line reference
	// WHEN: An expense overshoots the real line AND references the unknown one
	// THEN: Both violations are reported in a single error, nothing is written

	e := newTestEngine()
	ctx := context.Background()
	p, line := activeProgram(t, e)

	_, err := e.CreateExpense(ctx, testCaller(), p.ID, expense("1600.00",
		alloc(line.ID, "1100.00"),
		alloc("no-such-line", "500.00")))
	require.Error(t, err)

	var exceeded *budget.BudgetExceededError
	require.ErrorAs(t, err, &exceeded)
	require.Len(t, exceeded.Violations, 2, "every violation is collected, not just the first")

	assert.Equal(t, line.ID, exceeded.Violations[0].LineID)
	assert.True(t, exceeded.Violations[0].Remaining.Equal(d("1000.00")))
	assert.True(t, exceeded.Violations[0].Requested.Equal(d("1100.00")))
	assert.True(t, exceeded.Violations[1].NotFound, "unknown line is a violation, not a hard NotFound")

	txs, err := e.Store.TransactionsByProgram(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, txs, "rejected expense leaves no transaction behind")
}

func TestCreateExpense_BudgetBoundary(t *testing.T) {
	// GIVEN: A 1000.00 line with 999.00 already realized
	// WHEN: Allocating 1.00 more, then attempting 1.01
	// THEN: 1.00 is accepted (exactly exhausts the plan); 1.01 is rejected

	e := newTestEngine()
	ctx := context.Background()
	c := testCaller()
	p, line := activeProgram(t, e)

	_, err := e.CreateExpense(ctx, c, p.ID, expense("999.00", alloc(line.ID, "999.00")))
	require.NoError(t, err)

	_, err = e.CreateExpense(ctx, c, p.ID, expense("1.01", alloc(line.ID, "1.01")))
	require.ErrorIs(t, err, budget.ErrBudgetExceeded, "any overshoot past the plan is rejected")

	_, err = e.CreateExpense(ctx, c, p.ID, expense("1.00", alloc(line.ID, "1.00")))
	require.NoError(t, err, "spending exactly to the plan boundary is allowed")

	realized, err := e.Store.RealizedAmount(ctx, line.ID)
	require.NoError(t, err)
	assert.True(t, realized.Equal(d("1000.00")))
}

func TestCreateExpense_AmountMismatch(t *testing.T) {
	// GIVEN: A valid allocation set summing to 400.00
	// WHEN: Declaring 400.02 (beyond the 0.01 tolerance), then 400.01 (within)
	// THEN: The first fails with AmountMismatch; the second passes

	e := newTestEngine()
	ctx := context.Background()
	c := testCaller()
	p, line := activeProgram(t, e)

	_, err := e.CreateExpense(ctx, c, p.ID, expense("400.02", alloc(line.ID, "400.00")))
	require.ErrorIs(t, err, budget.ErrAmountMismatch)

	var mismatch *budget.AmountMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.True(t, mismatch.Declared.Equal(d("400.02")))
	assert.True(t, mismatch.Allocated.Equal(d("400.00")))

	_, err = e.CreateExpense(ctx, c, p.ID, expense("400.01", alloc(line.ID, "400.00")))
	require.NoError(t, err, "a 0.01 rounding difference is tolerated")
}

func TestCreateExpense_PreconditionOrder(t *testing.T) {
	// GIVEN: A draft program (not ready) and an empty allocation set
	// WHEN: Creating expenses that violate several preconditions at once
	// THEN: The first precondition in order wins

	e := newTestEngine()
	ctx := context.Background()
	c := testCaller()

	p, err := e.CreateProgram(ctx, c, budget.ProgramInput{
		Name:   "Draft",
		Period: budget.Period{Start: march(1)},
	})
	require.NoError(t, err)

	// Draft program: readiness fails before the missing allocations do.
	_, err = e.CreateExpense(ctx, c, p.ID, expense("100.00"))
	require.ErrorIs(t, err, budget.ErrProgramNotReady)

	// Active program, no allocations supplied.
	p2, _ := activeProgram(t, e)
	_, err = e.CreateExpense(ctx, c, p2.ID, expense("100.00"))
	require.ErrorIs(t, err, budget.ErrMissingAllocation)
}

func TestCreateExpense_Atomicity(t *testing.T) {
	// GIVEN: An expense whose amount mismatches its allocation total
	// WHEN: The mismatch is discovered after budget validation passed
	// THEN: No transaction, allocation, status change, or audit entry survives

	e := newTestEngine()
	ctx := context.Background()
	p, line := activeProgram(t, e)

	auditBefore, err := e.AuditTrail(ctx, budget.AuditFilter{})
	require.NoError(t, err)

	_, err = e.CreateExpense(ctx, testCaller(), p.ID, expense("999.00", alloc(line.ID, "400.00")))
	require.ErrorIs(t, err, budget.ErrAmountMismatch)

	txs, err := e.Store.TransactionsByProgram(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, txs)

	realized, err := e.Store.RealizedAmount(ctx, line.ID)
	require.NoError(t, err)
	assert.True(t, realized.IsZero(), "no allocation was committed")

	got, err := e.Store.GetLine(ctx, line.ID)
	require.NoError(t, err)
	assert.Equal(t, budget.LineUnfulfilled, got.Status, "status recompute was rolled back")

	auditAfter, err := e.AuditTrail(ctx, budget.AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, auditAfter, len(auditBefore), "no audit entry for a failed operation")
}

func TestCreateExpense_ConcurrentSubmissions_CannotJointlyOvershoot(t *testing.T) {
	// GIVEN: A 1000.00 line, two concurrent 600.00 expenses
	// WHEN: Both validate-then-write sequences race
	// THEN: Exactly one succeeds; the realized total never exceeds the plan

	e := newTestEngine()
	ctx := context.Background()
	p, line := activeProgram(t, e)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.CreateExpense(ctx, testCaller(), p.ID,
				expense("600.00", alloc(line.ID, "600.00")))
		}(i)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, budget.ErrBudgetExceeded)
			failures++
		}
	}
	assert.Equal(t, 1, failures, "exactly one submission must lose the race")

	realized, err := e.Store.RealizedAmount(ctx, line.ID)
	require.NoError(t, err)
	assert.True(t, realized.Equal(d("600.00")), "realized stays within plan, got %s", realized)
}

// =============================================================================
// INCOME
// =============================================================================

func TestCreateIncome_NoAllocationNeeded(t *testing.T) {
	// GIVEN: An active program
	// WHEN: Recording income
	// THEN: It persists without allocations and without budget checks

	e := newTestEngine()
	ctx := context.Background()
	p, _ := activeProgram(t, e)

	tx, err := e.CreateIncome(ctx, testCaller(), p.ID, budget.IncomeInput{
		Date:        march(2),
		Amount:      d("5000.00"),
		Description: "grant",
	})
	require.NoError(t, err)
	assert.True(t, tx.IsIncome())
	assert.Empty(t, tx.Allocations)
}

func TestCreateIncome_RequiresActiveProgram(t *testing.T) {
	// GIVEN: A draft program
	// WHEN: Recording income
	// THEN: The readiness invariant applies to income too

	e := newTestEngine()
	ctx := context.Background()
	c := testCaller()

	p, err := e.CreateProgram(ctx, c, budget.ProgramInput{
		Name:   "Draft",
		Period: budget.Period{Start: march(1)},
	})
	require.NoError(t, err)

	_, err = e.CreateIncome(ctx, c, p.ID, budget.IncomeInput{Date: march(2), Amount: d("100.00")})
	require.ErrorIs(t, err, budget.ErrProgramNotReady)
}

// =============================================================================
// TRANSACTION UPDATE / DELETE
// =============================================================================

func TestUpdateTransaction_RebalanceExcludesOwnAllocations(t *testing.T) {
	// GIVEN: A line fully exhausted by one expense
	// WHEN: Re-allocating that same expense within the same line
	// THEN: Validation runs against a baseline without the expense's own
	//       contribution, so re-balancing succeeds

	e := newTestEngine()
	ctx := context.Background()
	c := testCaller()
	p, line := activeProgram(t, e)

	tx, err := e.CreateExpense(ctx, c, p.ID, expense("1000.00", alloc(line.ID, "1000.00")))
	require.NoError(t, err)

	newAmount := d("900.00")
	updated, err := e.UpdateTransaction(ctx, c, tx.ID, budget.TransactionUpdate{
		Amount:      &newAmount,
		Allocations: []budget.AllocationInput{alloc(line.ID, "900.00")},
	})
	require.NoError(t, err, "own allocations must not count against the budget during update")
	assert.True(t, updated.Amount.Equal(d("900.00")))

	realized, err := e.Store.RealizedAmount(ctx, line.ID)
	require.NoError(t, err)
	assert.True(t, realized.Equal(d("900.00")))

	got, err := e.Store.GetLine(ctx, line.ID)
	require.NoError(t, err)
	assert.Equal(t, budget.LinePartiallyFulfilled, got.Status, "status follows the new realized total")
}

func TestUpdateTransaction_AmountChangeMustMatchExistingAllocations(t *testing.T) {
	// GIVEN: An expense with a 400.00 allocation set
	// WHEN: Changing only the amount to 500.00
	// THEN: The existing set no longer matches and the update is rejected

	e := newTestEngine()
	ctx := context.Background()
	c := testCaller()
	p, line := activeProgram(t, e)

	tx, err := e.CreateExpense(ctx, c, p.ID, expense("400.00", alloc(line.ID, "400.00")))
	require.NoError(t, err)

	newAmount := d("500.00")
	_, err = e.UpdateTransaction(ctx, c, tx.ID, budget.TransactionUpdate{Amount: &newAmount})
	require.ErrorIs(t, err, budget.ErrAmountMismatch)

	got, err := e.Store.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(d("400.00")), "rejected update leaves the amount untouched")
}

func TestUpdateTransaction_EmptyAllocationSetRejected(t *testing.T) {
	// GIVEN: An expense
	// WHEN: Supplying an explicitly empty allocation set
	// THEN: MissingAllocation - an expense can never end up unallocated

	e := newTestEngine()
	ctx := context.Background()
	c := testCaller()
	p, line := activeProgram(t, e)

	tx, err := e.CreateExpense(ctx, c, p.ID, expense("400.00", alloc(line.ID, "400.00")))
	require.NoError(t, err)

	_, err = e.UpdateTransaction(ctx, c, tx.ID, budget.TransactionUpdate{
		Allocations: []budget.AllocationInput{},
	})
	require.ErrorIs(t, err, budget.ErrMissingAllocation)
}

func TestDeleteTransaction_RestoresBudget(t *testing.T) {
	// GIVEN: A line partially consumed by an expense
	// WHEN: Deleting the expense
	// THEN: The allocation disappears, the line returns to unfulfilled,
	//       and the transaction is soft-deleted (invisible but recorded)

	e := newTestEngine()
	ctx := context.Background()
	c := testCaller()
	p, line := activeProgram(t, e)

	tx, err := e.CreateExpense(ctx, c, p.ID, expense("400.00", alloc(line.ID, "400.00")))
	require.NoError(t, err)

	require.NoError(t, e.DeleteTransaction(ctx, c, tx.ID))

	realized, err := e.Store.RealizedAmount(ctx, line.ID)
	require.NoError(t, err)
	assert.True(t, realized.IsZero())

	got, err := e.Store.GetLine(ctx, line.ID)
	require.NoError(t, err)
	assert.Equal(t, budget.LineUnfulfilled, got.Status)

	deleted, err := e.Store.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Nil(t, deleted, "soft-deleted transactions are invisible to reads")

	ids, err := e.Store.TransactionIDsByProgram(ctx, p.ID)
	require.NoError(t, err)
	assert.Contains(t, ids, tx.ID, "the row itself survives for the audit trail")
}

func TestDeleteTransaction_NotFound(t *testing.T) {
	e := newTestEngine()
	activeProgram(t, e)

	err := e.DeleteTransaction(context.Background(), testCaller(), "missing")
	require.ErrorIs(t, err, budget.ErrTransactionNotFound)
	assert.True(t, budget.IsNotFound(err))
}

// =============================================================================
// RECEIPTS AND FULFILLMENT
// =============================================================================

func TestReceipts_FlipFulfillment(t *testing.T) {
	// GIVEN: An expense that exactly exhausts a line, with no receipt
	// WHEN: A receipt is attached, then removed
	// THEN: The line moves partially_fulfilled -> fulfilled -> partially_fulfilled

	e := newTestEngine()
	ctx := context.Background()
	c := testCaller()
	p, line := activeProgram(t, e)

	tx, err := e.CreateExpense(ctx, c, p.ID, expense("1000.00", alloc(line.ID, "1000.00")))
	require.NoError(t, err)

	got, err := e.Store.GetLine(ctx, line.ID)
	require.NoError(t, err)
	assert.Equal(t, budget.LinePartiallyFulfilled, got.Status, "exact spend without evidence is not fulfilled")

	receipt, err := e.AddReceipt(ctx, c, tx.ID, budget.ReceiptInput{FilePath: "receipts/r1.pdf"})
	require.NoError(t, err)

	got, err = e.Store.GetLine(ctx, line.ID)
	require.NoError(t, err)
	assert.Equal(t, budget.LineFulfilled, got.Status, "receipt completes the evidence")

	require.NoError(t, e.RemoveReceipt(ctx, c, receipt.ID))

	got, err = e.Store.GetLine(ctx, line.ID)
	require.NoError(t, err)
	assert.Equal(t, budget.LinePartiallyFulfilled, got.Status, "losing the only receipt drops fulfillment")
}

func TestAddReceipt_ExpenseOnly(t *testing.T) {
	// GIVEN: An income transaction
	// WHEN: Attaching a receipt
	// THEN: Rejected - receipts are expense evidence

	e := newTestEngine()
	ctx := context.Background()
	c := testCaller()
	p, _ := activeProgram(t, e)

	income, err := e.CreateIncome(ctx, c, p.ID, budget.IncomeInput{Date: march(2), Amount: d("100.00")})
	require.NoError(t, err)

	_, err = e.AddReceipt(ctx, c, income.ID, budget.ReceiptInput{FilePath: "receipts/x.pdf"})
	require.ErrorIs(t, err, budget.ErrReceiptNotExpense)
}

// =============================================================================
// VALIDATION DRY-RUN
// =============================================================================

func TestValidateAllocations_ReadOnly(t *testing.T) {
	// GIVEN: An allocation set that would overshoot
	// WHEN: Validating without creating
	// THEN: Violations are reported and nothing changes

	e := newTestEngine()
	ctx := context.Background()
	p, line := activeProgram(t, e)

	violations, err := e.ValidateAllocations(ctx, p.ID, []budget.AllocationInput{
		alloc(line.ID, "1200.00"),
	})
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.True(t, violations[0].Remaining.Equal(d("1000.00")))

	violations, err = e.ValidateAllocations(ctx, p.ID, []budget.AllocationInput{
		alloc(line.ID, "800.00"),
	})
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestValidateAllocations_LineFromOtherProgramIsNotFound(t *testing.T) {
	// GIVEN: Two programs
	// WHEN: Allocating against a line belonging to the other program
	// THEN: The line is reported as not found for this program

	e := newTestEngine()
	ctx := context.Background()
	p1, _ := activeProgram(t, e)
	_, line2 := activeProgram(t, e)

	violations, err := e.ValidateAllocations(ctx, p1.ID, []budget.AllocationInput{
		alloc(line2.ID, "10.00"),
	})
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.True(t, violations[0].NotFound)
}
