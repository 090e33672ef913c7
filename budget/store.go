/*
store.go - Persistence interfaces for the budget engine

PURPOSE:
  Defines the interface between the engine and the database. Different
  implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  Store:   Entity persistence and the queries the engine derives from
  TxStore: Store plus WithTx for atomic multi-table units of work

ATOMIC UNITS OF WORK:
  Every multi-step mutation (expense creation, transaction update/delete,
  receipt changes, cascading program delete) runs inside WithTx. A
  failure at any step rolls back every write made so far, including
  status recomputes - no partial state ever becomes visible. This is a
  strict requirement, not an optimization.

SERIALIZED WRITERS:
  Implementations serialize WithTx invocations (single writer). The
  engine re-reads realized totals inside the same unit of work, so two
  racing expense submissions against a near-exhausted line cannot both
  pass validation and jointly overshoot the budget.

SOFT DELETES:
  Programs and transactions are soft-deleted: the row stays (audit
  entries and history reference it) but every read in this interface
  excludes it. Lines, allocations, receipts and members are hard-deleted
  by explicit cascade in the engine.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - budget/store/memory.go: In-memory for testing
*/
package budget

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE
// =============================================================================

// Store persists the engine's entities. Lookups return (nil, nil) when
// the entity is absent; the engine translates that into NotFound errors.
type Store interface {
	// Programs
	SaveProgram(ctx context.Context, p *Program) error
	GetProgram(ctx context.Context, id ProgramID) (*Program, error)
	ListPrograms(ctx context.Context) ([]*Program, error)
	SoftDeleteProgram(ctx context.Context, id ProgramID, at time.Time) error

	// Budget lines
	SaveLine(ctx context.Context, l *BudgetLine) error
	GetLine(ctx context.Context, id LineID) (*BudgetLine, error)
	LinesByProgram(ctx context.Context, programID ProgramID) ([]*BudgetLine, error)
	CountLines(ctx context.Context, programID ProgramID) (int, error)
	DeleteLine(ctx context.Context, id LineID) error

	// Transactions (allocations are persisted separately)
	SaveTransaction(ctx context.Context, t *Transaction) error
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)
	TransactionsByProgram(ctx context.Context, programID ProgramID) ([]*Transaction, error)
	SoftDeleteTransaction(ctx context.Context, id TransactionID, at time.Time) error

	// TransactionIDsByProgram includes soft-deleted transactions. Used to
	// scope the audit trail, where history must cover deleted subjects.
	TransactionIDsByProgram(ctx context.Context, programID ProgramID) ([]TransactionID, error)

	// Allocations
	SaveAllocation(ctx context.Context, a *Allocation) error
	AllocationsByLine(ctx context.Context, lineID LineID) ([]Allocation, error)
	AllocationsByTransaction(ctx context.Context, txID TransactionID) ([]Allocation, error)
	DeleteAllocationsByTransaction(ctx context.Context, txID TransactionID) error

	// RealizedAmount returns the sum of allocation amounts against a line.
	RealizedAmount(ctx context.Context, lineID LineID) (decimal.Decimal, error)

	// Receipts
	SaveReceipt(ctx context.Context, r *Receipt) error
	GetReceipt(ctx context.Context, id ReceiptID) (*Receipt, error)
	ReceiptsByTransaction(ctx context.Context, txID TransactionID) ([]*Receipt, error)
	ReceiptCount(ctx context.Context, txID TransactionID) (int, error)
	DeleteReceipt(ctx context.Context, id ReceiptID) error

	// Members. (program, user) is unique; SaveMember upserts on that key.
	SaveMember(ctx context.Context, m *Member) error
	GetMember(ctx context.Context, programID ProgramID, userID UserID) (*Member, error)
	MembersByProgram(ctx context.Context, programID ProgramID) ([]*Member, error)
	DeleteMember(ctx context.Context, programID ProgramID, userID UserID) error

	// Audit trail. Append-only; QueryAudit returns entries newest first.
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with atomic units of work.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction against a Store view whose
	// writes become visible only on commit. If fn returns an error, every
	// write is rolled back. Invocations are serialized.
	WithTx(ctx context.Context, fn func(Store) error) error
}
