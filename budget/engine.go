/*
engine.go - The budget-consistency and transaction-allocation engine

PURPOSE:
  The Engine enforces the rules that govern how money moves against a
  budget plan:

  1. VALIDATION: An expense must be fully allocated to budget lines, the
     allocation total must match the declared amount (within tolerance),
     and no allocation may push a line's realized total past its plan.
  2. RECOMPUTATION: A line's fulfillment status is derived from its
     allocations and from receipt evidence, and is recomputed after every
     allocation or receipt change.
  3. ATOMICITY: Every multi-step mutation runs inside one unit of work;
     a failure at any step rolls back everything.
  4. AUDIT: Every mutation appends a before/after snapshot to the trail.

CONCURRENCY:
  Budget validation reads realized totals and only afterwards writes new
  allocations. The engine closes the race window by performing the whole
  validate-then-write sequence inside WithTx, whose invocations the store
  serializes. Two concurrent expenses on a near-exhausted line therefore
  validate one after the other, and the second fails.

PRECONDITION ORDER (expense creation, first failure wins):
  1. program active and has budget lines   -> ErrProgramNotReady
  2. allocations non-empty                 -> ErrMissingAllocation
  3. no line budget overshoot              -> BudgetExceededError
  4. amount matches allocation total       -> AmountMismatchError

SEE ALSO:
  - line.go: DeriveStatus, the status decision table
  - store.go: the WithTx atomicity contract
  - summary.go: derived program aggregates
*/
package budget

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Engine is the stateless rules component. All state lives in the Store.
type Engine struct {
	Store TxStore
}

func NewEngine(store TxStore) *Engine {
	return &Engine{Store: store}
}

// =============================================================================
// INPUT TYPES
// =============================================================================

// ProgramInput creates a program. Status always starts at draft.
type ProgramInput struct {
	Name        string
	Description string
	Period      Period
}

// ProgramUpdate carries optional field changes. Nil means "leave as is".
type ProgramUpdate struct {
	Name        *string
	Description *string
	PeriodStart *time.Time
	PeriodEnd   *time.Time
}

// LineInput creates a budget line. The planned amount is always derived
// from Quantity * UnitPrice, never accepted from input.
type LineInput struct {
	Name      string
	Category  string
	Quantity  decimal.Decimal
	Unit      string
	UnitPrice decimal.Decimal
	Notes     string
}

// LineUpdate carries optional field changes for a structural edit.
type LineUpdate struct {
	Name      *string
	Category  *string
	Quantity  *decimal.Decimal
	Unit      *string
	UnitPrice *decimal.Decimal
	Notes     *string
}

// IncomeInput creates an income transaction. Income never allocates.
type IncomeInput struct {
	Date        time.Time
	Amount      decimal.Decimal
	Description string
}

// ExpenseInput creates an expense transaction with its allocation set.
type ExpenseInput struct {
	Date        time.Time
	Amount      decimal.Decimal
	Description string
	Allocations []AllocationInput
}

// TransactionUpdate carries optional field changes. A nil Allocations
// slice means "leave the allocation set alone"; a non-nil slice replaces
// it entirely (replace-all-then-recompute, never piecewise).
type TransactionUpdate struct {
	Date        *time.Time
	Amount      *decimal.Decimal
	Description *string
	Allocations []AllocationInput
}

// ReceiptInput attaches evidence to an expense transaction.
type ReceiptInput struct {
	FilePath         string
	OriginalFilename string
	MimeType         string
}

// =============================================================================
// ALLOCATION VALIDATION
// =============================================================================

// ValidateAllocations checks each allocation against the remaining budget
// of its line, collecting every violation instead of stopping at the
// first. An empty result means the batch is valid.
//
// This is a pure read: it performs no writes, so mutating callers
// re-validate inside their unit of work (see createExpense).
func (e *Engine) ValidateAllocations(ctx context.Context, programID ProgramID, allocations []AllocationInput) ([]AllocationViolation, error) {
	return validateAllocations(ctx, e.Store, programID, allocations)
}

func validateAllocations(ctx context.Context, st Store, programID ProgramID, allocations []AllocationInput) ([]AllocationViolation, error) {
	var violations []AllocationViolation

	for _, in := range allocations {
		line, err := st.GetLine(ctx, in.LineID)
		if err != nil {
			return nil, err
		}
		if line == nil || line.ProgramID != programID {
			violations = append(violations, AllocationViolation{LineID: in.LineID, NotFound: true})
			continue
		}

		realized, err := st.RealizedAmount(ctx, line.ID)
		if err != nil {
			return nil, err
		}
		if realized.Add(in.Amount).GreaterThan(line.PlannedAmount) {
			violations = append(violations, AllocationViolation{
				LineID:    line.ID,
				LineName:  line.Name,
				Remaining: line.Remaining(realized),
				Requested: in.Amount,
			})
		}
	}

	return violations, nil
}

// =============================================================================
// STATUS RECOMPUTATION
// =============================================================================

// RecomputeLineStatus re-derives a line's status from current persisted
// state and saves it. Idempotent: with no intervening writes, repeated
// calls yield the same status.
func (e *Engine) RecomputeLineStatus(ctx context.Context, lineID LineID) error {
	return e.Store.WithTx(ctx, func(st Store) error {
		line, err := st.GetLine(ctx, lineID)
		if err != nil {
			return err
		}
		if line == nil {
			return ErrLineNotFound
		}
		return recomputeStatus(ctx, st, line)
	})
}

func recomputeStatus(ctx context.Context, st Store, line *BudgetLine) error {
	realized, err := st.RealizedAmount(ctx, line.ID)
	if err != nil {
		return err
	}

	allocs, err := st.AllocationsByLine(ctx, line.ID)
	if err != nil {
		return err
	}

	// Deduplicate contributing transactions by id, keep expenses only.
	// Income can never allocate, but the filter is kept defensively.
	seen := make(map[TransactionID]bool)
	receiptsComplete := true
	for _, a := range allocs {
		if seen[a.TransactionID] {
			continue
		}
		seen[a.TransactionID] = true

		tx, err := st.GetTransaction(ctx, a.TransactionID)
		if err != nil {
			return err
		}
		if tx == nil || !tx.IsExpense() {
			continue
		}
		n, err := st.ReceiptCount(ctx, tx.ID)
		if err != nil {
			return err
		}
		if n == 0 {
			receiptsComplete = false
		}
	}

	line.Status, line.OverAllocated = DeriveStatus(line.PlannedAmount, realized, receiptsComplete)
	return st.SaveLine(ctx, line)
}

// =============================================================================
// PROGRAM LIFECYCLE
// =============================================================================

// CreateProgram creates a draft program and admits the creator as lead.
func (e *Engine) CreateProgram(ctx context.Context, c Caller, in ProgramInput) (*Program, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if err := in.Period.Validate(); err != nil {
		return nil, err
	}

	p := &Program{
		ID:          ProgramID(NewID()),
		Name:        in.Name,
		Description: in.Description,
		Period:      in.Period,
		Status:      ProgramDraft,
		CreatedBy:   c.UserID,
		CreatedAt:   c.Now,
		UpdatedAt:   c.Now,
	}

	err := e.Store.WithTx(ctx, func(st Store) error {
		if err := st.SaveProgram(ctx, p); err != nil {
			return err
		}
		lead := &Member{
			ID:        MemberID(NewID()),
			ProgramID: p.ID,
			UserID:    c.UserID,
			Role:      RoleLead,
			Approved:  true,
			CreatedAt: c.Now,
		}
		if err := st.SaveMember(ctx, lead); err != nil {
			return err
		}
		return e.audit(ctx, st, c, AuditCreate, ModuleProgram, string(p.ID), nil, ProgramSnapshot(p))
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateProgram changes descriptive fields. Lifecycle status moves only
// through TransitionProgram.
func (e *Engine) UpdateProgram(ctx context.Context, c Caller, id ProgramID, in ProgramUpdate) (*Program, error) {
	var updated *Program
	err := e.Store.WithTx(ctx, func(st Store) error {
		p, err := st.GetProgram(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return ErrProgramNotFound
		}
		before := ProgramSnapshot(p)

		if in.Name != nil {
			p.Name = *in.Name
		}
		if in.Description != nil {
			p.Description = *in.Description
		}
		if in.PeriodStart != nil {
			p.Period.Start = *in.PeriodStart
		}
		if in.PeriodEnd != nil {
			p.Period.End = in.PeriodEnd
		}
		if err := p.Period.Validate(); err != nil {
			return err
		}
		p.UpdatedAt = c.Now

		if err := st.SaveProgram(ctx, p); err != nil {
			return err
		}
		updated = p
		return e.audit(ctx, st, c, AuditUpdate, ModuleProgram, string(p.ID), before, ProgramSnapshot(p))
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// TransitionProgram moves a program through its state machine.
// draft -> active requires at least one budget line.
func (e *Engine) TransitionProgram(ctx context.Context, c Caller, id ProgramID, to ProgramStatus) (*Program, error) {
	var updated *Program
	err := e.Store.WithTx(ctx, func(st Store) error {
		p, err := st.GetProgram(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return ErrProgramNotFound
		}
		count, err := st.CountLines(ctx, p.ID)
		if err != nil {
			return err
		}

		before := ProgramSnapshot(p)
		if err := p.Transition(to, count > 0); err != nil {
			return err
		}
		p.UpdatedAt = c.Now

		if err := st.SaveProgram(ctx, p); err != nil {
			return err
		}
		updated = p
		return e.audit(ctx, st, c, AuditStatusChange, ModuleProgram, string(p.ID), before, ProgramSnapshot(p))
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteProgram soft-deletes a program and explicitly cascades to its
// dependents in dependency order: receipts and allocations first, then
// transactions (soft), lines, members, and finally the program itself.
// The cascade lives here, not in storage-engine foreign-key rules, so
// the contract is testable independent of the backing store.
func (e *Engine) DeleteProgram(ctx context.Context, c Caller, id ProgramID) error {
	return e.Store.WithTx(ctx, func(st Store) error {
		p, err := st.GetProgram(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return ErrProgramNotFound
		}
		before := ProgramSnapshot(p)

		txs, err := st.TransactionsByProgram(ctx, p.ID)
		if err != nil {
			return err
		}
		for _, tx := range txs {
			receipts, err := st.ReceiptsByTransaction(ctx, tx.ID)
			if err != nil {
				return err
			}
			for _, r := range receipts {
				if err := st.DeleteReceipt(ctx, r.ID); err != nil {
					return err
				}
			}
			if err := st.DeleteAllocationsByTransaction(ctx, tx.ID); err != nil {
				return err
			}
			if err := st.SoftDeleteTransaction(ctx, tx.ID, c.Now); err != nil {
				return err
			}
		}

		lines, err := st.LinesByProgram(ctx, p.ID)
		if err != nil {
			return err
		}
		for _, l := range lines {
			if err := st.DeleteLine(ctx, l.ID); err != nil {
				return err
			}
		}

		members, err := st.MembersByProgram(ctx, p.ID)
		if err != nil {
			return err
		}
		for _, m := range members {
			if err := st.DeleteMember(ctx, m.ProgramID, m.UserID); err != nil {
				return err
			}
		}

		if err := st.SoftDeleteProgram(ctx, p.ID, c.Now); err != nil {
			return err
		}
		return e.audit(ctx, st, c, AuditDelete, ModuleProgram, string(p.ID), before, nil)
	})
}

// =============================================================================
// BUDGET LINES - Structural plan edits, draft only
// =============================================================================

// CreateLine adds a budget line to a draft program.
func (e *Engine) CreateLine(ctx context.Context, c Caller, programID ProgramID, in LineInput) (*BudgetLine, error) {
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Unit) == "" {
		return nil, fmt.Errorf("%w: name and unit are required", ErrInvalidInput)
	}
	if in.Quantity.IsNegative() || in.UnitPrice.IsNegative() {
		return nil, fmt.Errorf("%w: quantity and unit price must be non-negative", ErrInvalidInput)
	}

	line := &BudgetLine{
		ID:        LineID(NewID()),
		ProgramID: programID,
		Name:      in.Name,
		Category:  in.Category,
		Unit:      in.Unit,
		Status:    LineUnfulfilled,
		Notes:     in.Notes,
		CreatedAt: c.Now,
		UpdatedAt: c.Now,
	}
	line.SetPlan(in.Quantity, in.UnitPrice)

	err := e.Store.WithTx(ctx, func(st Store) error {
		p, err := st.GetProgram(ctx, programID)
		if err != nil {
			return err
		}
		if p == nil {
			return ErrProgramNotFound
		}
		if !p.IsDraft() {
			return fmt.Errorf("%w: budget lines can only be edited while the program is draft", ErrInvalidState)
		}
		if err := st.SaveLine(ctx, line); err != nil {
			return err
		}
		return e.audit(ctx, st, c, AuditCreate, ModuleRABItem, string(line.ID), nil, LineSnapshot(line))
	})
	if err != nil {
		return nil, err
	}
	return line, nil
}

// UpdateLine applies a structural edit to a line of a draft program and
// recomputes its status afterwards, so a shrunk plan is reflected
// immediately instead of waiting for the next allocation event.
func (e *Engine) UpdateLine(ctx context.Context, c Caller, lineID LineID, in LineUpdate) (*BudgetLine, error) {
	var updated *BudgetLine
	err := e.Store.WithTx(ctx, func(st Store) error {
		line, err := st.GetLine(ctx, lineID)
		if err != nil {
			return err
		}
		if line == nil {
			return ErrLineNotFound
		}
		p, err := st.GetProgram(ctx, line.ProgramID)
		if err != nil {
			return err
		}
		if p == nil {
			return ErrProgramNotFound
		}
		if !p.IsDraft() {
			return fmt.Errorf("%w: budget lines can only be edited while the program is draft", ErrInvalidState)
		}
		before := LineSnapshot(line)

		if in.Name != nil {
			line.Name = *in.Name
		}
		if in.Category != nil {
			line.Category = *in.Category
		}
		if in.Unit != nil {
			line.Unit = *in.Unit
		}
		if in.Notes != nil {
			line.Notes = *in.Notes
		}
		quantity, unitPrice := line.Quantity, line.UnitPrice
		if in.Quantity != nil {
			quantity = *in.Quantity
		}
		if in.UnitPrice != nil {
			unitPrice = *in.UnitPrice
		}
		if quantity.IsNegative() || unitPrice.IsNegative() {
			return fmt.Errorf("%w: quantity and unit price must be non-negative", ErrInvalidInput)
		}
		line.SetPlan(quantity, unitPrice)
		line.UpdatedAt = c.Now

		if err := st.SaveLine(ctx, line); err != nil {
			return err
		}
		if err := recomputeStatus(ctx, st, line); err != nil {
			return err
		}
		updated = line
		return e.audit(ctx, st, c, AuditUpdate, ModuleRABItem, string(line.ID), before, LineSnapshot(line))
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteLine removes a line from a draft program. A line that already
// has allocations cannot be removed.
func (e *Engine) DeleteLine(ctx context.Context, c Caller, lineID LineID) error {
	return e.Store.WithTx(ctx, func(st Store) error {
		line, err := st.GetLine(ctx, lineID)
		if err != nil {
			return err
		}
		if line == nil {
			return ErrLineNotFound
		}
		p, err := st.GetProgram(ctx, line.ProgramID)
		if err != nil {
			return err
		}
		if p == nil {
			return ErrProgramNotFound
		}
		if !p.IsDraft() {
			return fmt.Errorf("%w: budget lines can only be deleted while the program is draft", ErrInvalidState)
		}
		allocs, err := st.AllocationsByLine(ctx, line.ID)
		if err != nil {
			return err
		}
		if len(allocs) > 0 {
			return ErrLineHasAllocations
		}

		if err := e.audit(ctx, st, c, AuditDelete, ModuleRABItem, string(line.ID), LineSnapshot(line), nil); err != nil {
			return err
		}
		return st.DeleteLine(ctx, line.ID)
	})
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// CreateIncome records an income transaction. Income carries no
// allocations and needs no budget validation.
func (e *Engine) CreateIncome(ctx context.Context, c Caller, programID ProgramID, in IncomeInput) (*Transaction, error) {
	tx := &Transaction{
		ID:          TransactionID(NewID()),
		ProgramID:   programID,
		Type:        TxIncome,
		Date:        in.Date,
		Amount:      in.Amount,
		Description: in.Description,
		CreatedBy:   c.UserID,
		CreatedAt:   c.Now,
		UpdatedAt:   c.Now,
	}

	err := e.Store.WithTx(ctx, func(st Store) error {
		if err := e.requireReadyProgram(ctx, st, programID); err != nil {
			return err
		}
		if err := st.SaveTransaction(ctx, tx); err != nil {
			return err
		}
		return e.audit(ctx, st, c, AuditCreate, ModuleTransaction, string(tx.ID), nil, TransactionSnapshot(tx))
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// CreateExpense records an expense transaction with its allocation set.
// All writes - transaction, allocations, status recomputes, audit entry -
// are one atomic unit; any failure leaves zero visible effect.
func (e *Engine) CreateExpense(ctx context.Context, c Caller, programID ProgramID, in ExpenseInput) (*Transaction, error) {
	tx := &Transaction{
		ID:          TransactionID(NewID()),
		ProgramID:   programID,
		Type:        TxExpense,
		Date:        in.Date,
		Amount:      in.Amount,
		Description: in.Description,
		CreatedBy:   c.UserID,
		CreatedAt:   c.Now,
		UpdatedAt:   c.Now,
	}

	err := e.Store.WithTx(ctx, func(st Store) error {
		if err := e.requireReadyProgram(ctx, st, programID); err != nil {
			return err
		}
		if len(in.Allocations) == 0 {
			return ErrMissingAllocation
		}

		// Validation runs inside the same unit of work as the writes;
		// WithTx serialization makes validate-then-write race free.
		violations, err := validateAllocations(ctx, st, programID, in.Allocations)
		if err != nil {
			return err
		}
		if len(violations) > 0 {
			return &BudgetExceededError{Violations: violations}
		}

		total := decimal.Zero
		for _, a := range in.Allocations {
			total = total.Add(a.Amount)
		}
		if !WithinTolerance(total, in.Amount) {
			return &AmountMismatchError{Declared: in.Amount, Allocated: total}
		}

		if err := st.SaveTransaction(ctx, tx); err != nil {
			return err
		}
		for _, a := range in.Allocations {
			alloc := Allocation{
				ID:            AllocationID(NewID()),
				TransactionID: tx.ID,
				LineID:        a.LineID,
				Amount:        a.Amount,
			}
			if err := st.SaveAllocation(ctx, &alloc); err != nil {
				return err
			}
			tx.Allocations = append(tx.Allocations, alloc)
		}

		if err := e.recomputeLines(ctx, st, lineIDsOf(in.Allocations)); err != nil {
			return err
		}
		return e.audit(ctx, st, c, AuditCreate, ModuleTransaction, string(tx.ID), nil, TransactionSnapshot(tx))
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// UpdateTransaction edits a transaction. Supplying allocations on an
// expense replaces the whole set: the old allocations are removed first,
// so the new set is validated against a baseline that excludes this
// transaction's own contribution - that is what allows re-balancing an
// amount across lines without tripping the budget check.
func (e *Engine) UpdateTransaction(ctx context.Context, c Caller, id TransactionID, in TransactionUpdate) (*Transaction, error) {
	var updated *Transaction
	err := e.Store.WithTx(ctx, func(st Store) error {
		tx, err := st.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if tx == nil {
			return ErrTransactionNotFound
		}
		if tx.Allocations, err = st.AllocationsByTransaction(ctx, tx.ID); err != nil {
			return err
		}
		before := TransactionSnapshot(tx)

		newAmount := tx.Amount
		if in.Amount != nil {
			newAmount = *in.Amount
		}

		affected := make(map[LineID]bool)
		if tx.IsExpense() && in.Allocations != nil {
			if len(in.Allocations) == 0 {
				return ErrMissingAllocation
			}
			for _, a := range tx.Allocations {
				affected[a.LineID] = true
			}
			if err := st.DeleteAllocationsByTransaction(ctx, tx.ID); err != nil {
				return err
			}

			violations, err := validateAllocations(ctx, st, tx.ProgramID, in.Allocations)
			if err != nil {
				return err
			}
			if len(violations) > 0 {
				return &BudgetExceededError{Violations: violations}
			}

			total := decimal.Zero
			for _, a := range in.Allocations {
				total = total.Add(a.Amount)
			}
			if !WithinTolerance(total, newAmount) {
				return &AmountMismatchError{Declared: newAmount, Allocated: total}
			}

			tx.Allocations = tx.Allocations[:0]
			for _, a := range in.Allocations {
				alloc := Allocation{
					ID:            AllocationID(NewID()),
					TransactionID: tx.ID,
					LineID:        a.LineID,
					Amount:        a.Amount,
				}
				if err := st.SaveAllocation(ctx, &alloc); err != nil {
					return err
				}
				tx.Allocations = append(tx.Allocations, alloc)
				affected[a.LineID] = true
			}
		} else if tx.IsExpense() && in.Amount != nil {
			// Amount changed without a new allocation set: the existing
			// set must still match the new amount.
			if !WithinTolerance(tx.AllocationTotal(), newAmount) {
				return &AmountMismatchError{Declared: newAmount, Allocated: tx.AllocationTotal()}
			}
		}

		if in.Date != nil {
			tx.Date = *in.Date
		}
		tx.Amount = newAmount
		if in.Description != nil {
			tx.Description = *in.Description
		}
		tx.UpdatedAt = c.Now

		if err := st.SaveTransaction(ctx, tx); err != nil {
			return err
		}
		if err := e.recomputeLineSet(ctx, st, affected); err != nil {
			return err
		}
		updated = tx
		return e.audit(ctx, st, c, AuditUpdate, ModuleTransaction, string(tx.ID), before, TransactionSnapshot(tx))
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteTransaction soft-deletes a transaction. For expenses the
// allocation set is removed and every touched line recomputed, so the
// lines' realized totals return to their pre-transaction values.
func (e *Engine) DeleteTransaction(ctx context.Context, c Caller, id TransactionID) error {
	return e.Store.WithTx(ctx, func(st Store) error {
		tx, err := st.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if tx == nil {
			return ErrTransactionNotFound
		}
		if tx.Allocations, err = st.AllocationsByTransaction(ctx, tx.ID); err != nil {
			return err
		}
		before := TransactionSnapshot(tx)

		affected := make(map[LineID]bool)
		if tx.IsExpense() {
			for _, a := range tx.Allocations {
				affected[a.LineID] = true
			}
			if err := st.DeleteAllocationsByTransaction(ctx, tx.ID); err != nil {
				return err
			}
		}

		if err := st.SoftDeleteTransaction(ctx, tx.ID, c.Now); err != nil {
			return err
		}
		if err := e.recomputeLineSet(ctx, st, affected); err != nil {
			return err
		}
		return e.audit(ctx, st, c, AuditDelete, ModuleTransaction, string(tx.ID), before, nil)
	})
}

// =============================================================================
// RECEIPTS - Evidence events
// =============================================================================

// AddReceipt records evidence on an expense transaction and recomputes
// the status of every line the transaction allocates to. Receipts affect
// the fulfilled/partially_fulfilled decision only, never budget math.
func (e *Engine) AddReceipt(ctx context.Context, c Caller, txID TransactionID, in ReceiptInput) (*Receipt, error) {
	r := &Receipt{
		ID:               ReceiptID(NewID()),
		TransactionID:    txID,
		FilePath:         in.FilePath,
		OriginalFilename: in.OriginalFilename,
		MimeType:         in.MimeType,
		UploadedBy:       c.UserID,
		CreatedAt:        c.Now,
	}

	err := e.Store.WithTx(ctx, func(st Store) error {
		tx, err := st.GetTransaction(ctx, txID)
		if err != nil {
			return err
		}
		if tx == nil {
			return ErrTransactionNotFound
		}
		if !tx.IsExpense() {
			return ErrReceiptNotExpense
		}
		if err := st.SaveReceipt(ctx, r); err != nil {
			return err
		}
		return e.recomputeTransactionLines(ctx, st, tx.ID)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// RemoveReceipt deletes an evidence marker and recomputes affected lines;
// a line that was fulfilled only because of this receipt drops back to
// partially_fulfilled.
func (e *Engine) RemoveReceipt(ctx context.Context, c Caller, receiptID ReceiptID) error {
	return e.Store.WithTx(ctx, func(st Store) error {
		r, err := st.GetReceipt(ctx, receiptID)
		if err != nil {
			return err
		}
		if r == nil {
			return ErrReceiptNotFound
		}
		if err := st.DeleteReceipt(ctx, r.ID); err != nil {
			return err
		}
		return e.recomputeTransactionLines(ctx, st, r.TransactionID)
	})
}

// =============================================================================
// MEMBERSHIP
// =============================================================================

// AddMember admits a user to a program. (program, user) is unique.
func (e *Engine) AddMember(ctx context.Context, c Caller, programID ProgramID, userID UserID, role Role) (*Member, error) {
	m := &Member{
		ID:        MemberID(NewID()),
		ProgramID: programID,
		UserID:    userID,
		Role:      role,
		Approved:  false,
		CreatedAt: c.Now,
	}

	err := e.Store.WithTx(ctx, func(st Store) error {
		p, err := st.GetProgram(ctx, programID)
		if err != nil {
			return err
		}
		if p == nil {
			return ErrProgramNotFound
		}
		existing, err := st.GetMember(ctx, programID, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrDuplicateMember
		}
		if err := st.SaveMember(ctx, m); err != nil {
			return err
		}
		return e.audit(ctx, st, c, AuditUpdate, ModuleProgram, string(programID), nil, map[string]any{
			"member_added": string(userID),
			"role":         string(role),
		})
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ApproveMember confirms a pending membership.
func (e *Engine) ApproveMember(ctx context.Context, c Caller, programID ProgramID, userID UserID) (*Member, error) {
	var approved *Member
	err := e.Store.WithTx(ctx, func(st Store) error {
		m, err := st.GetMember(ctx, programID, userID)
		if err != nil {
			return err
		}
		if m == nil {
			return ErrMemberNotFound
		}
		m.Approved = true
		if err := st.SaveMember(ctx, m); err != nil {
			return err
		}
		approved = m
		return e.audit(ctx, st, c, AuditApprove, ModuleProgram, string(programID), nil, map[string]any{
			"member_approved": string(userID),
		})
	})
	if err != nil {
		return nil, err
	}
	return approved, nil
}

// RemoveMember withdraws a membership. The creator cannot be removed.
func (e *Engine) RemoveMember(ctx context.Context, c Caller, programID ProgramID, userID UserID) error {
	return e.Store.WithTx(ctx, func(st Store) error {
		p, err := st.GetProgram(ctx, programID)
		if err != nil {
			return err
		}
		if p == nil {
			return ErrProgramNotFound
		}
		if p.CreatedBy == userID {
			return fmt.Errorf("%w: the program creator cannot be removed", ErrInvalidState)
		}
		m, err := st.GetMember(ctx, programID, userID)
		if err != nil {
			return err
		}
		if m == nil {
			return ErrMemberNotFound
		}
		if err := st.DeleteMember(ctx, programID, userID); err != nil {
			return err
		}
		return e.audit(ctx, st, c, AuditUpdate, ModuleProgram, string(programID), nil, map[string]any{
			"member_removed": string(userID),
		})
	})
}

// =============================================================================
// AUDIT TRAIL QUERIES
// =============================================================================

// AuditTrail queries the trail directly with the given filter.
func (e *Engine) AuditTrail(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	return e.Store.QueryAudit(ctx, filter)
}

// ProgramAuditTrail returns the trail scoped to one program: PROGRAM
// entries for the program itself plus RAB_ITEM and TRANSACTION entries
// whose subject belongs to it. Module/actor/date filters still apply;
// limit and offset paginate the merged result.
func (e *Engine) ProgramAuditTrail(ctx context.Context, programID ProgramID, filter AuditFilter) ([]AuditEntry, error) {
	p, err := e.Store.GetProgram(ctx, programID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrProgramNotFound
	}

	scopes := map[AuditModule][]string{
		ModuleProgram: {string(programID)},
	}
	lines, err := e.Store.LinesByProgram(ctx, programID)
	if err != nil {
		return nil, err
	}
	for _, l := range lines {
		scopes[ModuleRABItem] = append(scopes[ModuleRABItem], string(l.ID))
	}
	txIDs, err := e.Store.TransactionIDsByProgram(ctx, programID)
	if err != nil {
		return nil, err
	}
	for _, id := range txIDs {
		scopes[ModuleTransaction] = append(scopes[ModuleTransaction], string(id))
	}

	var merged []AuditEntry
	for module, ids := range scopes {
		if filter.Module != nil && *filter.Module != module {
			continue
		}
		m := module
		entries, err := e.Store.QueryAudit(ctx, AuditFilter{
			Module:    &m,
			ModuleIDs: ids,
			ActorID:   filter.ActorID,
			From:      filter.From,
			To:        filter.To,
		})
		if err != nil {
			return nil, err
		}
		merged = append(merged, entries...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(merged) {
			return nil, nil
		}
		merged = merged[filter.Offset:]
	}
	if filter.Limit > 0 && len(merged) > filter.Limit {
		merged = merged[:filter.Limit]
	}
	return merged, nil
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

// requireReadyProgram enforces the transaction-creation invariant:
// the program exists, is active, and has at least one budget line.
func (e *Engine) requireReadyProgram(ctx context.Context, st Store, programID ProgramID) error {
	p, err := st.GetProgram(ctx, programID)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrProgramNotFound
	}
	count, err := st.CountLines(ctx, programID)
	if err != nil {
		return err
	}
	if !p.CanAcceptTransactions(count > 0) {
		return ErrProgramNotReady
	}
	return nil
}

func (e *Engine) recomputeLines(ctx context.Context, st Store, ids []LineID) error {
	set := make(map[LineID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return e.recomputeLineSet(ctx, st, set)
}

func (e *Engine) recomputeLineSet(ctx context.Context, st Store, ids map[LineID]bool) error {
	for id := range ids {
		line, err := st.GetLine(ctx, id)
		if err != nil {
			return err
		}
		if line == nil {
			continue
		}
		if err := recomputeStatus(ctx, st, line); err != nil {
			return err
		}
	}
	return nil
}

// recomputeTransactionLines recomputes every line a transaction
// allocates to. Used by receipt events.
func (e *Engine) recomputeTransactionLines(ctx context.Context, st Store, txID TransactionID) error {
	allocs, err := st.AllocationsByTransaction(ctx, txID)
	if err != nil {
		return err
	}
	set := make(map[LineID]bool, len(allocs))
	for _, a := range allocs {
		set[a.LineID] = true
	}
	return e.recomputeLineSet(ctx, st, set)
}

func (e *Engine) audit(ctx context.Context, st Store, c Caller, action AuditAction, module AuditModule, moduleID string, before, after map[string]any) error {
	actor := c.UserID
	entry := AuditEntry{
		ID:        NewID(),
		ActorID:   &actor,
		Action:    action,
		Module:    module,
		ModuleID:  moduleID,
		Before:    before,
		After:     after,
		Origin:    c.Origin,
		CreatedAt: c.Now,
	}
	if c.UserID == "" {
		entry.ActorID = nil
	}
	return st.AppendAudit(ctx, entry)
}

func lineIDsOf(allocations []AllocationInput) []LineID {
	ids := make([]LineID, len(allocations))
	for i, a := range allocations {
		ids[i] = a.LineID
	}
	return ids
}
