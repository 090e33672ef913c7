/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements budget.Store and budget.TxStore using SQLite. In production,
  the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

ATOMIC UNITS OF WORK:
  WithTx runs the callback against a Store view backed by a *sql.Tx.
  Every method is written against the dbtx interface, so the same query
  code serves both the plain connection and an open transaction.

SERIALIZED WRITERS:
  A mutex serializes WithTx invocations. The engine validates budgets
  by reading realized totals before writing allocations, so two
  interleaved units of work could both pass validation against stale
  totals; single-writer WithTx closes that window.

SOFT DELETES:
  Programs and transactions keep their row with deleted_at set; every
  read here excludes them, except TransactionIDsByProgram which the
  audit trail uses to cover deleted subjects.

DECIMALS AND TIMESTAMPS:
  Money is stored as TEXT and parsed with shopspring/decimal - REAL
  columns would reintroduce the float drift the decimal type exists to
  prevent. Timestamps are RFC3339 TEXT.

KEY INDEXES:
  idx_allocations_line:      realized-total sums (hot path)
  idx_audit_module_subject:  scoped audit trail queries
  idx_members_program_user:  UNIQUE, one membership per (program, user)

WAL MODE:
  The database is opened with WAL so readers do not block the writer.

USAGE:
  store, err := sqlite.New("./data/budget.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := budget.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - budget/store.go: Interface definitions and the WithTx contract
  - budget/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/budget-engine/budget"
)

// dbtx is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Writing every query against it lets WithTx reuse the same code.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements budget.TxStore using SQLite.
type Store struct {
	queries
	db *sql.DB
	mu sync.Mutex
}

// New creates a SQLite store at the given path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{queries: queries{db: db}, db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx executes fn within a database transaction. Invocations are
// serialized: only one unit of work runs at a time.
func (s *Store) WithTx(ctx context.Context, fn func(budget.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{db: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Programs
	CREATE TABLE IF NOT EXISTS programs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		period_start TEXT NOT NULL,
		period_end TEXT,
		status TEXT NOT NULL,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deleted_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_programs_status
		ON programs(status) WHERE deleted_at IS NULL;

	-- Budget lines (the program's spending plan)
	CREATE TABLE IF NOT EXISTS budget_lines (
		id TEXT PRIMARY KEY,
		program_id TEXT NOT NULL,
		name TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		quantity TEXT NOT NULL,
		unit TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		planned_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		over_allocated BOOLEAN NOT NULL DEFAULT FALSE,
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_lines_program
		ON budget_lines(program_id);

	-- Transactions (income and expense)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		program_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		tx_date TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deleted_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_program
		ON transactions(program_id, tx_date);

	-- Allocations (expense amount split across budget lines)
	CREATE TABLE IF NOT EXISTS allocations (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL,
		line_id TEXT NOT NULL,
		amount TEXT NOT NULL
	);

	-- Realized-total sums per line (hot path)
	CREATE INDEX IF NOT EXISTS idx_allocations_line
		ON allocations(line_id);
	CREATE INDEX IF NOT EXISTS idx_allocations_transaction
		ON allocations(transaction_id);

	-- Receipts (evidence attached to expenses)
	CREATE TABLE IF NOT EXISTS receipts (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL,
		file_path TEXT NOT NULL,
		original_filename TEXT NOT NULL DEFAULT '',
		mime_type TEXT NOT NULL DEFAULT '',
		uploaded_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_receipts_transaction
		ON receipts(transaction_id);

	-- Members (one membership per user per program)
	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		program_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		approved BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_members_program_user
		ON members(program_id, user_id);

	-- Audit trail (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		actor_id TEXT,
		action TEXT NOT NULL,
		module TEXT NOT NULL,
		module_id TEXT NOT NULL,
		before_json TEXT,
		after_json TEXT,
		origin TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_module_subject
		ON audit_log(module, module_id);
	CREATE INDEX IF NOT EXISTS idx_audit_created_at
		ON audit_log(created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// queries implements budget.Store against either the plain connection
// or an open transaction.
type queries struct {
	db dbtx
}

// =============================================================================
// PROGRAMS
// =============================================================================

// SaveProgram inserts or updates a program.
func (q *queries) SaveProgram(ctx context.Context, p *budget.Program) error {
	query := `
		INSERT INTO programs
		(id, name, description, period_start, period_end, status, created_by, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			period_start = excluded.period_start,
			period_end = excluded.period_end,
			status = excluded.status,
			updated_at = excluded.updated_at
	`

	_, err := q.db.ExecContext(ctx, query,
		string(p.ID),
		p.Name,
		p.Description,
		p.Period.Start.Format(time.RFC3339),
		nullTime(p.Period.End),
		string(p.Status),
		string(p.CreatedBy),
		p.CreatedAt.Format(time.RFC3339),
		p.UpdatedAt.Format(time.RFC3339),
		nullTime(p.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save program: %w", err)
	}
	return nil
}

// GetProgram returns a program by ID, nil if absent or soft-deleted.
func (q *queries) GetProgram(ctx context.Context, id budget.ProgramID) (*budget.Program, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, name, description, period_start, period_end, status, created_by, created_at, updated_at, deleted_at
		FROM programs
		WHERE id = ? AND deleted_at IS NULL
	`, string(id))

	p, err := scanProgram(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// ListPrograms returns all non-deleted programs, newest first.
func (q *queries) ListPrograms(ctx context.Context) ([]*budget.Program, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, name, description, period_start, period_end, status, created_by, created_at, updated_at, deleted_at
		FROM programs
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query programs: %w", err)
	}
	defer rows.Close()

	var programs []*budget.Program
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, err
		}
		programs = append(programs, p)
	}
	return programs, rows.Err()
}

// SoftDeleteProgram marks a program deleted; the row stays for history.
func (q *queries) SoftDeleteProgram(ctx context.Context, id budget.ProgramID, at time.Time) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE programs SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL",
		at.Format(time.RFC3339), string(id),
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProgram(row rowScanner) (*budget.Program, error) {
	var (
		p                                    budget.Program
		periodStart, createdAt, updatedAt    string
		periodEnd, deletedAt                 sql.NullString
	)

	err := row.Scan(&p.ID, &p.Name, &p.Description, &periodStart, &periodEnd,
		&p.Status, &p.CreatedBy, &createdAt, &updatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}

	p.Period.Start, _ = time.Parse(time.RFC3339, periodStart)
	p.Period.End = parseNullTime(periodEnd)
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	p.DeletedAt = parseNullTime(deletedAt)
	return &p, nil
}

// =============================================================================
// BUDGET LINES
// =============================================================================

// SaveLine inserts or updates a budget line.
func (q *queries) SaveLine(ctx context.Context, l *budget.BudgetLine) error {
	query := `
		INSERT INTO budget_lines
		(id, program_id, name, category, quantity, unit, unit_price, planned_amount,
		 status, over_allocated, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			quantity = excluded.quantity,
			unit = excluded.unit,
			unit_price = excluded.unit_price,
			planned_amount = excluded.planned_amount,
			status = excluded.status,
			over_allocated = excluded.over_allocated,
			notes = excluded.notes,
			updated_at = excluded.updated_at
	`

	_, err := q.db.ExecContext(ctx, query,
		string(l.ID),
		string(l.ProgramID),
		l.Name,
		l.Category,
		l.Quantity.String(),
		l.Unit,
		l.UnitPrice.String(),
		l.PlannedAmount.String(),
		string(l.Status),
		l.OverAllocated,
		l.Notes,
		l.CreatedAt.Format(time.RFC3339),
		l.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save budget line: %w", err)
	}
	return nil
}

// GetLine returns a budget line by ID, nil if absent.
func (q *queries) GetLine(ctx context.Context, id budget.LineID) (*budget.BudgetLine, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, program_id, name, category, quantity, unit, unit_price, planned_amount,
		       status, over_allocated, notes, created_at, updated_at
		FROM budget_lines
		WHERE id = ?
	`, string(id))

	l, err := scanLine(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return l, err
}

// LinesByProgram returns a program's lines in creation order.
func (q *queries) LinesByProgram(ctx context.Context, programID budget.ProgramID) ([]*budget.BudgetLine, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, program_id, name, category, quantity, unit, unit_price, planned_amount,
		       status, over_allocated, notes, created_at, updated_at
		FROM budget_lines
		WHERE program_id = ?
		ORDER BY created_at ASC, id
	`, string(programID))
	if err != nil {
		return nil, fmt.Errorf("failed to query budget lines: %w", err)
	}
	defer rows.Close()

	var lines []*budget.BudgetLine
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// CountLines returns the number of lines in a program.
func (q *queries) CountLines(ctx context.Context, programID budget.ProgramID) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM budget_lines WHERE program_id = ?",
		string(programID),
	).Scan(&count)
	return count, err
}

// DeleteLine removes a budget line.
func (q *queries) DeleteLine(ctx context.Context, id budget.LineID) error {
	_, err := q.db.ExecContext(ctx, "DELETE FROM budget_lines WHERE id = ?", string(id))
	return err
}

func scanLine(row rowScanner) (*budget.BudgetLine, error) {
	var (
		l                                             budget.BudgetLine
		quantity, unitPrice, planned                  string
		createdAt, updatedAt                          string
	)

	err := row.Scan(&l.ID, &l.ProgramID, &l.Name, &l.Category, &quantity, &l.Unit,
		&unitPrice, &planned, &l.Status, &l.OverAllocated, &l.Notes, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	l.Quantity = budget.MustParseDecimal(quantity)
	l.UnitPrice = budget.MustParseDecimal(unitPrice)
	l.PlannedAmount = budget.MustParseDecimal(planned)
	l.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	l.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &l, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// SaveTransaction inserts or updates a transaction. Allocations are
// persisted separately through SaveAllocation.
func (q *queries) SaveTransaction(ctx context.Context, t *budget.Transaction) error {
	query := `
		INSERT INTO transactions
		(id, program_id, tx_type, tx_date, amount, description, created_by, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tx_date = excluded.tx_date,
			amount = excluded.amount,
			description = excluded.description,
			updated_at = excluded.updated_at
	`

	_, err := q.db.ExecContext(ctx, query,
		string(t.ID),
		string(t.ProgramID),
		string(t.Type),
		t.Date.Format(time.RFC3339),
		t.Amount.String(),
		t.Description,
		string(t.CreatedBy),
		t.CreatedAt.Format(time.RFC3339),
		t.UpdatedAt.Format(time.RFC3339),
		nullTime(t.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

// GetTransaction returns a transaction by ID, nil if absent or
// soft-deleted. Allocations are not loaded; the engine fetches them
// through AllocationsByTransaction when it needs them.
func (q *queries) GetTransaction(ctx context.Context, id budget.TransactionID) (*budget.Transaction, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, program_id, tx_type, tx_date, amount, description, created_by, created_at, updated_at, deleted_at
		FROM transactions
		WHERE id = ? AND deleted_at IS NULL
	`, string(id))

	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// TransactionsByProgram returns a program's non-deleted transactions
// ordered by date.
func (q *queries) TransactionsByProgram(ctx context.Context, programID budget.ProgramID) ([]*budget.Transaction, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, program_id, tx_type, tx_date, amount, description, created_by, created_at, updated_at, deleted_at
		FROM transactions
		WHERE program_id = ? AND deleted_at IS NULL
		ORDER BY tx_date ASC, created_at ASC
	`, string(programID))
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []*budget.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// SoftDeleteTransaction marks a transaction deleted.
func (q *queries) SoftDeleteTransaction(ctx context.Context, id budget.TransactionID, at time.Time) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE transactions SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL",
		at.Format(time.RFC3339), string(id),
	)
	return err
}

// TransactionIDsByProgram returns every transaction ID of a program,
// soft-deleted ones included, for audit trail scoping.
func (q *queries) TransactionIDsByProgram(ctx context.Context, programID budget.ProgramID) ([]budget.TransactionID, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT id FROM transactions WHERE program_id = ? ORDER BY created_at ASC",
		string(programID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []budget.TransactionID
	for rows.Next() {
		var id budget.TransactionID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanTransaction(row rowScanner) (*budget.Transaction, error) {
	var (
		t                              budget.Transaction
		txDate, amount                 string
		createdAt, updatedAt           string
		deletedAt                      sql.NullString
	)

	err := row.Scan(&t.ID, &t.ProgramID, &t.Type, &txDate, &amount,
		&t.Description, &t.CreatedBy, &createdAt, &updatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}

	t.Date, _ = time.Parse(time.RFC3339, txDate)
	t.Amount = budget.MustParseDecimal(amount)
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	t.DeletedAt = parseNullTime(deletedAt)
	return &t, nil
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

// SaveAllocation inserts an allocation row.
func (q *queries) SaveAllocation(ctx context.Context, a *budget.Allocation) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO allocations (id, transaction_id, line_id, amount)
		VALUES (?, ?, ?, ?)
	`,
		string(a.ID), string(a.TransactionID), string(a.LineID), a.Amount.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to save allocation: %w", err)
	}
	return nil
}

// AllocationsByLine returns all allocations against a line.
func (q *queries) AllocationsByLine(ctx context.Context, lineID budget.LineID) ([]budget.Allocation, error) {
	return q.queryAllocations(ctx,
		"SELECT id, transaction_id, line_id, amount FROM allocations WHERE line_id = ?",
		string(lineID))
}

// AllocationsByTransaction returns a transaction's allocation set.
func (q *queries) AllocationsByTransaction(ctx context.Context, txID budget.TransactionID) ([]budget.Allocation, error) {
	return q.queryAllocations(ctx,
		"SELECT id, transaction_id, line_id, amount FROM allocations WHERE transaction_id = ?",
		string(txID))
}

// DeleteAllocationsByTransaction removes a transaction's allocation set.
func (q *queries) DeleteAllocationsByTransaction(ctx context.Context, txID budget.TransactionID) error {
	_, err := q.db.ExecContext(ctx,
		"DELETE FROM allocations WHERE transaction_id = ?", string(txID))
	return err
}

// RealizedAmount sums the allocations against a line. Amounts are TEXT
// decimals, so the sum happens in Go rather than in SQL.
func (q *queries) RealizedAmount(ctx context.Context, lineID budget.LineID) (decimal.Decimal, error) {
	allocs, err := q.AllocationsByLine(ctx, lineID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, a := range allocs {
		total = total.Add(a.Amount)
	}
	return total, nil
}

func (q *queries) queryAllocations(ctx context.Context, query string, args ...any) ([]budget.Allocation, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var allocs []budget.Allocation
	for rows.Next() {
		var a budget.Allocation
		var amount string
		if err := rows.Scan(&a.ID, &a.TransactionID, &a.LineID, &amount); err != nil {
			return nil, err
		}
		a.Amount = budget.MustParseDecimal(amount)
		allocs = append(allocs, a)
	}
	return allocs, rows.Err()
}

// =============================================================================
// RECEIPTS
// =============================================================================

// SaveReceipt inserts a receipt row.
func (q *queries) SaveReceipt(ctx context.Context, r *budget.Receipt) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO receipts (id, transaction_id, file_path, original_filename, mime_type, uploaded_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		string(r.ID),
		string(r.TransactionID),
		r.FilePath,
		r.OriginalFilename,
		r.MimeType,
		string(r.UploadedBy),
		r.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save receipt: %w", err)
	}
	return nil
}

// GetReceipt returns a receipt by ID, nil if absent.
func (q *queries) GetReceipt(ctx context.Context, id budget.ReceiptID) (*budget.Receipt, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, transaction_id, file_path, original_filename, mime_type, uploaded_by, created_at
		FROM receipts WHERE id = ?
	`, string(id))

	r, err := scanReceipt(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// ReceiptsByTransaction returns a transaction's receipts, oldest first.
func (q *queries) ReceiptsByTransaction(ctx context.Context, txID budget.TransactionID) ([]*budget.Receipt, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, transaction_id, file_path, original_filename, mime_type, uploaded_by, created_at
		FROM receipts WHERE transaction_id = ?
		ORDER BY created_at ASC, id
	`, string(txID))
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []*budget.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}

// ReceiptCount returns how many receipts a transaction has.
func (q *queries) ReceiptCount(ctx context.Context, txID budget.TransactionID) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM receipts WHERE transaction_id = ?",
		string(txID),
	).Scan(&count)
	return count, err
}

// DeleteReceipt removes a receipt row.
func (q *queries) DeleteReceipt(ctx context.Context, id budget.ReceiptID) error {
	_, err := q.db.ExecContext(ctx, "DELETE FROM receipts WHERE id = ?", string(id))
	return err
}

func scanReceipt(row rowScanner) (*budget.Receipt, error) {
	var (
		r         budget.Receipt
		createdAt string
	)

	err := row.Scan(&r.ID, &r.TransactionID, &r.FilePath, &r.OriginalFilename,
		&r.MimeType, &r.UploadedBy, &createdAt)
	if err != nil {
		return nil, err
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &r, nil
}

// =============================================================================
// MEMBERS
// =============================================================================

// SaveMember upserts a membership on its (program, user) key.
func (q *queries) SaveMember(ctx context.Context, m *budget.Member) error {
	query := `
		INSERT INTO members (id, program_id, user_id, role, approved, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(program_id, user_id) DO UPDATE SET
			role = excluded.role,
			approved = excluded.approved
	`

	_, err := q.db.ExecContext(ctx, query,
		string(m.ID),
		string(m.ProgramID),
		string(m.UserID),
		string(m.Role),
		m.Approved,
		m.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save member: %w", err)
	}
	return nil
}

// GetMember returns the membership of a user in a program, nil if absent.
func (q *queries) GetMember(ctx context.Context, programID budget.ProgramID, userID budget.UserID) (*budget.Member, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, program_id, user_id, role, approved, created_at
		FROM members WHERE program_id = ? AND user_id = ?
	`, string(programID), string(userID))

	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// MembersByProgram returns a program's members, oldest first.
func (q *queries) MembersByProgram(ctx context.Context, programID budget.ProgramID) ([]*budget.Member, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, program_id, user_id, role, approved, created_at
		FROM members WHERE program_id = ?
		ORDER BY created_at ASC, id
	`, string(programID))
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var members []*budget.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// DeleteMember removes a membership.
func (q *queries) DeleteMember(ctx context.Context, programID budget.ProgramID, userID budget.UserID) error {
	_, err := q.db.ExecContext(ctx,
		"DELETE FROM members WHERE program_id = ? AND user_id = ?",
		string(programID), string(userID))
	return err
}

func scanMember(row rowScanner) (*budget.Member, error) {
	var (
		m         budget.Member
		createdAt string
	)

	err := row.Scan(&m.ID, &m.ProgramID, &m.UserID, &m.Role, &m.Approved, &createdAt)
	if err != nil {
		return nil, err
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &m, nil
}

// =============================================================================
// AUDIT TRAIL
// =============================================================================

// AppendAudit adds an entry to the trail. The trail is append-only:
// there is no update or delete path for audit_log rows.
func (q *queries) AppendAudit(ctx context.Context, entry budget.AuditEntry) error {
	beforeJSON, err := marshalSnapshot(entry.Before)
	if err != nil {
		return err
	}
	afterJSON, err := marshalSnapshot(entry.After)
	if err != nil {
		return err
	}

	var actor sql.NullString
	if entry.ActorID != nil {
		actor = sql.NullString{String: string(*entry.ActorID), Valid: true}
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, actor_id, action, module, module_id, before_json, after_json, origin, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		actor,
		string(entry.Action),
		string(entry.Module),
		entry.ModuleID,
		beforeJSON,
		afterJSON,
		entry.Origin,
		entry.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// QueryAudit returns matching entries newest first.
func (q *queries) QueryAudit(ctx context.Context, filter budget.AuditFilter) ([]budget.AuditEntry, error) {
	var (
		conds []string
		args  []any
	)

	if filter.Module != nil {
		conds = append(conds, "module = ?")
		args = append(args, string(*filter.Module))
	}
	if len(filter.ModuleIDs) > 0 {
		placeholders := strings.Repeat("?,", len(filter.ModuleIDs))
		conds = append(conds, "module_id IN ("+placeholders[:len(placeholders)-1]+")")
		for _, id := range filter.ModuleIDs {
			args = append(args, id)
		}
	}
	if filter.ActorID != nil {
		conds = append(conds, "actor_id = ?")
		args = append(args, string(*filter.ActorID))
	}
	if filter.From != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, filter.From.Format(time.RFC3339))
	}
	if filter.To != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, filter.To.Format(time.RFC3339))
	}

	query := `
		SELECT id, actor_id, action, module, module_id, before_json, after_json, origin, created_at
		FROM audit_log
	`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail: %w", err)
	}
	defer rows.Close()

	var entries []budget.AuditEntry
	for rows.Next() {
		var (
			e                      budget.AuditEntry
			actor                  sql.NullString
			beforeJSON, afterJSON  sql.NullString
			createdAt              string
		)
		if err := rows.Scan(&e.ID, &actor, &e.Action, &e.Module, &e.ModuleID,
			&beforeJSON, &afterJSON, &e.Origin, &createdAt); err != nil {
			return nil, err
		}

		if actor.Valid {
			id := budget.UserID(actor.String)
			e.ActorID = &id
		}
		if beforeJSON.Valid && beforeJSON.String != "" {
			json.Unmarshal([]byte(beforeJSON.String), &e.Before)
		}
		if afterJSON.Valid && afterJSON.String != "" {
			json.Unmarshal([]byte(afterJSON.String), &e.After)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"audit_log", "receipts", "allocations", "transactions", "members", "budget_lines", "programs"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func marshalSnapshot(m map[string]any) (*string, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit snapshot: %w", err)
	}
	s := string(b)
	return &s, nil
}
