/*
transaction.go - Transactions, allocations, and receipt evidence

PURPOSE:
  A Transaction records money moving on a program: income in, expense
  out. Expenses must be fully attributed to budget lines through
  Allocations; income never allocates. A Receipt marks evidentiary
  backing on an expense - the core tracks only its existence, never its
  content.

ALLOCATION CONTRACT:
  - The allocation set of an expense always sums to the transaction
    amount (within tolerance).
  - Allocations are created and deleted as a set with their transaction;
    they are never amended individually. Changing an expense's
    allocations is always replace-all-then-recompute.
*/
package budget

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TRANSACTION
// =============================================================================

type Transaction struct {
	ID          TransactionID
	ProgramID   ProgramID
	Type        TransactionType
	Date        time.Time
	Amount      decimal.Decimal
	Description string
	CreatedBy   UserID
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time // soft delete

	// Allocations is populated on reads of expense transactions.
	Allocations []Allocation
}

func (t *Transaction) IsExpense() bool { return t.Type == TxExpense }
func (t *Transaction) IsIncome() bool  { return t.Type == TxIncome }
func (t *Transaction) IsDeleted() bool { return t.DeletedAt != nil }

// AllocationTotal sums the attached allocation amounts.
func (t *Transaction) AllocationTotal() decimal.Decimal {
	total := decimal.Zero
	for _, a := range t.Allocations {
		total = total.Add(a.Amount)
	}
	return total
}

// =============================================================================
// ALLOCATION - The transaction <-> budget-line join
// =============================================================================

// Allocation attributes part of one transaction's amount to one budget
// line. Pure join entity.
type Allocation struct {
	ID            AllocationID
	TransactionID TransactionID
	LineID        LineID
	Amount        decimal.Decimal
}

// AllocationInput is the caller-supplied shape of one allocation.
type AllocationInput struct {
	LineID LineID
	Amount decimal.Decimal
}

// =============================================================================
// RECEIPT - Evidence marker on an expense
// =============================================================================

// Receipt records that evidence was attached to a transaction. The file
// itself lives in an external storage layer; the core reacts only to the
// existence-change of the marker.
type Receipt struct {
	ID               ReceiptID
	TransactionID    TransactionID
	FilePath         string
	OriginalFilename string
	MimeType         string
	UploadedBy       UserID
	CreatedAt        time.Time
}
