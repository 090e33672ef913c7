// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/budget-engine/budget"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements budget.TxStore without a database. Entities are
// stored by value; reads hand out copies so callers can never mutate
// stored state through a shared pointer.
type Memory struct {
	mu           sync.RWMutex
	programs     map[budget.ProgramID]budget.Program
	lines        map[budget.LineID]budget.BudgetLine
	transactions map[budget.TransactionID]budget.Transaction
	allocations  map[budget.AllocationID]budget.Allocation
	receipts     map[budget.ReceiptID]budget.Receipt
	members      map[memberKey]budget.Member
	audit        []budget.AuditEntry
}

type memberKey struct {
	ProgramID budget.ProgramID
	UserID    budget.UserID
}

func NewMemory() *Memory {
	return &Memory{
		programs:     make(map[budget.ProgramID]budget.Program),
		lines:        make(map[budget.LineID]budget.BudgetLine),
		transactions: make(map[budget.TransactionID]budget.Transaction),
		allocations:  make(map[budget.AllocationID]budget.Allocation),
		receipts:     make(map[budget.ReceiptID]budget.Receipt),
		members:      make(map[memberKey]budget.Member),
	}
}

// WithTx executes fn against the store under the write lock. For the
// memory store, atomicity is simulated with a snapshot: if fn fails,
// the pre-transaction state is restored wholesale.
func (m *Memory) WithTx(ctx context.Context, fn func(budget.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&view{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	programs     map[budget.ProgramID]budget.Program
	lines        map[budget.LineID]budget.BudgetLine
	transactions map[budget.TransactionID]budget.Transaction
	allocations  map[budget.AllocationID]budget.Allocation
	receipts     map[budget.ReceiptID]budget.Receipt
	members      map[memberKey]budget.Member
	audit        []budget.AuditEntry
}

func (m *Memory) snapshot() memorySnapshot {
	return memorySnapshot{
		programs:     cloneMap(m.programs),
		lines:        cloneMap(m.lines),
		transactions: cloneMap(m.transactions),
		allocations:  cloneMap(m.allocations),
		receipts:     cloneMap(m.receipts),
		members:      cloneMap(m.members),
		audit:        append([]budget.AuditEntry{}, m.audit...),
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.programs = s.programs
	m.lines = s.lines
	m.transactions = s.transactions
	m.allocations = s.allocations
	m.receipts = s.receipts
	m.members = s.members
	m.audit = s.audit
}

func cloneMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// view is the unlocked Store used inside WithTx, where the caller
// already holds the write lock.
type view struct {
	m *Memory
}

// =============================================================================
// PROGRAMS
// =============================================================================

func (v *view) SaveProgram(_ context.Context, p *budget.Program) error {
	v.m.programs[p.ID] = *p
	return nil
}

func (v *view) GetProgram(_ context.Context, id budget.ProgramID) (*budget.Program, error) {
	p, ok := v.m.programs[id]
	if !ok || p.DeletedAt != nil {
		return nil, nil
	}
	cp := p
	return &cp, nil
}

func (v *view) ListPrograms(_ context.Context) ([]*budget.Program, error) {
	var programs []*budget.Program
	for _, p := range v.m.programs {
		if p.DeletedAt != nil {
			continue
		}
		cp := p
		programs = append(programs, &cp)
	}
	sort.SliceStable(programs, func(i, j int) bool {
		if !programs[i].CreatedAt.Equal(programs[j].CreatedAt) {
			return programs[i].CreatedAt.After(programs[j].CreatedAt)
		}
		return programs[i].ID < programs[j].ID
	})
	return programs, nil
}

func (v *view) SoftDeleteProgram(_ context.Context, id budget.ProgramID, at time.Time) error {
	p, ok := v.m.programs[id]
	if !ok || p.DeletedAt != nil {
		return nil
	}
	t := at
	p.DeletedAt = &t
	v.m.programs[id] = p
	return nil
}

// =============================================================================
// BUDGET LINES
// =============================================================================

func (v *view) SaveLine(_ context.Context, l *budget.BudgetLine) error {
	v.m.lines[l.ID] = *l
	return nil
}

func (v *view) GetLine(_ context.Context, id budget.LineID) (*budget.BudgetLine, error) {
	l, ok := v.m.lines[id]
	if !ok {
		return nil, nil
	}
	cp := l
	return &cp, nil
}

func (v *view) LinesByProgram(_ context.Context, programID budget.ProgramID) ([]*budget.BudgetLine, error) {
	var lines []*budget.BudgetLine
	for _, l := range v.m.lines {
		if l.ProgramID != programID {
			continue
		}
		cp := l
		lines = append(lines, &cp)
	}
	sort.SliceStable(lines, func(i, j int) bool {
		if !lines[i].CreatedAt.Equal(lines[j].CreatedAt) {
			return lines[i].CreatedAt.Before(lines[j].CreatedAt)
		}
		return lines[i].ID < lines[j].ID
	})
	return lines, nil
}

func (v *view) CountLines(_ context.Context, programID budget.ProgramID) (int, error) {
	count := 0
	for _, l := range v.m.lines {
		if l.ProgramID == programID {
			count++
		}
	}
	return count, nil
}

func (v *view) DeleteLine(_ context.Context, id budget.LineID) error {
	delete(v.m.lines, id)
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (v *view) SaveTransaction(_ context.Context, t *budget.Transaction) error {
	cp := *t
	cp.Allocations = nil // allocations are stored separately
	v.m.transactions[t.ID] = cp
	return nil
}

func (v *view) GetTransaction(_ context.Context, id budget.TransactionID) (*budget.Transaction, error) {
	t, ok := v.m.transactions[id]
	if !ok || t.DeletedAt != nil {
		return nil, nil
	}
	cp := t
	return &cp, nil
}

func (v *view) TransactionsByProgram(_ context.Context, programID budget.ProgramID) ([]*budget.Transaction, error) {
	var txs []*budget.Transaction
	for _, t := range v.m.transactions {
		if t.ProgramID != programID || t.DeletedAt != nil {
			continue
		}
		cp := t
		txs = append(txs, &cp)
	}
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].Date.Equal(txs[j].Date) {
			return txs[i].Date.Before(txs[j].Date)
		}
		return txs[i].CreatedAt.Before(txs[j].CreatedAt)
	})
	return txs, nil
}

func (v *view) SoftDeleteTransaction(_ context.Context, id budget.TransactionID, at time.Time) error {
	t, ok := v.m.transactions[id]
	if !ok || t.DeletedAt != nil {
		return nil
	}
	ts := at
	t.DeletedAt = &ts
	v.m.transactions[id] = t
	return nil
}

func (v *view) TransactionIDsByProgram(_ context.Context, programID budget.ProgramID) ([]budget.TransactionID, error) {
	var ids []budget.TransactionID
	for _, t := range v.m.transactions {
		if t.ProgramID == programID {
			ids = append(ids, t.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

func (v *view) SaveAllocation(_ context.Context, a *budget.Allocation) error {
	v.m.allocations[a.ID] = *a
	return nil
}

func (v *view) AllocationsByLine(_ context.Context, lineID budget.LineID) ([]budget.Allocation, error) {
	var allocs []budget.Allocation
	for _, a := range v.m.allocations {
		if a.LineID == lineID {
			allocs = append(allocs, a)
		}
	}
	sortAllocations(allocs)
	return allocs, nil
}

func (v *view) AllocationsByTransaction(_ context.Context, txID budget.TransactionID) ([]budget.Allocation, error) {
	var allocs []budget.Allocation
	for _, a := range v.m.allocations {
		if a.TransactionID == txID {
			allocs = append(allocs, a)
		}
	}
	sortAllocations(allocs)
	return allocs, nil
}

func (v *view) DeleteAllocationsByTransaction(_ context.Context, txID budget.TransactionID) error {
	for id, a := range v.m.allocations {
		if a.TransactionID == txID {
			delete(v.m.allocations, id)
		}
	}
	return nil
}

func (v *view) RealizedAmount(_ context.Context, lineID budget.LineID) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, a := range v.m.allocations {
		if a.LineID == lineID {
			total = total.Add(a.Amount)
		}
	}
	return total, nil
}

func sortAllocations(allocs []budget.Allocation) {
	sort.Slice(allocs, func(i, j int) bool { return allocs[i].ID < allocs[j].ID })
}

// =============================================================================
// RECEIPTS
// =============================================================================

func (v *view) SaveReceipt(_ context.Context, r *budget.Receipt) error {
	v.m.receipts[r.ID] = *r
	return nil
}

func (v *view) GetReceipt(_ context.Context, id budget.ReceiptID) (*budget.Receipt, error) {
	r, ok := v.m.receipts[id]
	if !ok {
		return nil, nil
	}
	cp := r
	return &cp, nil
}

func (v *view) ReceiptsByTransaction(_ context.Context, txID budget.TransactionID) ([]*budget.Receipt, error) {
	var receipts []*budget.Receipt
	for _, r := range v.m.receipts {
		if r.TransactionID != txID {
			continue
		}
		cp := r
		receipts = append(receipts, &cp)
	}
	sort.SliceStable(receipts, func(i, j int) bool {
		if !receipts[i].CreatedAt.Equal(receipts[j].CreatedAt) {
			return receipts[i].CreatedAt.Before(receipts[j].CreatedAt)
		}
		return receipts[i].ID < receipts[j].ID
	})
	return receipts, nil
}

func (v *view) ReceiptCount(_ context.Context, txID budget.TransactionID) (int, error) {
	count := 0
	for _, r := range v.m.receipts {
		if r.TransactionID == txID {
			count++
		}
	}
	return count, nil
}

func (v *view) DeleteReceipt(_ context.Context, id budget.ReceiptID) error {
	delete(v.m.receipts, id)
	return nil
}

// =============================================================================
// MEMBERS
// =============================================================================

func (v *view) SaveMember(_ context.Context, m *budget.Member) error {
	v.m.members[memberKey{ProgramID: m.ProgramID, UserID: m.UserID}] = *m
	return nil
}

func (v *view) GetMember(_ context.Context, programID budget.ProgramID, userID budget.UserID) (*budget.Member, error) {
	m, ok := v.m.members[memberKey{ProgramID: programID, UserID: userID}]
	if !ok {
		return nil, nil
	}
	cp := m
	return &cp, nil
}

func (v *view) MembersByProgram(_ context.Context, programID budget.ProgramID) ([]*budget.Member, error) {
	var members []*budget.Member
	for _, m := range v.m.members {
		if m.ProgramID != programID {
			continue
		}
		cp := m
		members = append(members, &cp)
	}
	sort.SliceStable(members, func(i, j int) bool {
		if !members[i].CreatedAt.Equal(members[j].CreatedAt) {
			return members[i].CreatedAt.Before(members[j].CreatedAt)
		}
		return members[i].UserID < members[j].UserID
	})
	return members, nil
}

func (v *view) DeleteMember(_ context.Context, programID budget.ProgramID, userID budget.UserID) error {
	delete(v.m.members, memberKey{ProgramID: programID, UserID: userID})
	return nil
}

// =============================================================================
// AUDIT TRAIL
// =============================================================================

func (v *view) AppendAudit(_ context.Context, entry budget.AuditEntry) error {
	v.m.audit = append(v.m.audit, entry)
	return nil
}

func (v *view) QueryAudit(_ context.Context, filter budget.AuditFilter) ([]budget.AuditEntry, error) {
	idSet := make(map[string]bool, len(filter.ModuleIDs))
	for _, id := range filter.ModuleIDs {
		idSet[id] = true
	}

	var matched []budget.AuditEntry
	for _, e := range v.m.audit {
		if filter.Module != nil && e.Module != *filter.Module {
			continue
		}
		if len(idSet) > 0 && !idSet[e.ModuleID] {
			continue
		}
		if filter.ActorID != nil && (e.ActorID == nil || *e.ActorID != *filter.ActorID) {
			continue
		}
		if filter.From != nil && e.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && e.CreatedAt.After(*filter.To) {
			continue
		}
		matched = append(matched, e)
	}

	// Newest first; append order breaks same-timestamp ties.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// =============================================================================
// LOCKED PASS-THROUGH - budget.Store outside WithTx
// =============================================================================

func (m *Memory) SaveProgram(ctx context.Context, p *budget.Program) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&view{m: m}).SaveProgram(ctx, p)
}

func (m *Memory) GetProgram(ctx context.Context, id budget.ProgramID) (*budget.Program, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{m: m}).GetProgram(ctx, id)
}

func (m *Memory) ListPrograms(ctx context.Context) ([]*budget.Program, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{m: m}).ListPrograms(ctx)
}

func (m *Memory) SoftDeleteProgram(ctx context.Context, id budget.ProgramID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&view{m: m}).SoftDeleteProgram(ctx, id, at)
}

func (m *Memory) SaveLine(ctx context.Context, l *budget.BudgetLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&view{m: m}).SaveLine(ctx, l)
}

func (m *Memory) GetLine(ctx context.Context, id budget.LineID) (*budget.BudgetLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{m: m}).GetLine(ctx, id)
}

func (m *Memory) LinesByProgram(ctx context.Context, programID budget.ProgramID) ([]*budget.BudgetLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{m: m}).LinesByProgram(ctx, programID)
}

func (m *Memory) CountLines(ctx context.Context, programID budget.ProgramID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{m: m}).CountLines(ctx, programID)
}

func (m *Memory) DeleteLine(ctx context.Context, id budget.LineID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&view{m: m}).DeleteLine(ctx, id)
}

func (m *Memory) SaveTransaction(ctx context.Context, t *budget.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&view{m: m}).SaveTransaction(ctx, t)
}

func (m *Memory) GetTransaction(ctx context.Context, id budget.TransactionID) (*budget.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{m: m}).GetTransaction(ctx, id)
}

func (m *Memory) TransactionsByProgram(ctx context.Context, programID budget.ProgramID) ([]*budget.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{m: m}).TransactionsByProgram(ctx, programID)
}

func (m *Memory) SoftDeleteTransaction(ctx context.Context, id budget.TransactionID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&view{m: m}).SoftDeleteTransaction(ctx, id, at)
}

func (m *Memory) TransactionIDsByProgram(ctx context.Context, programID budget.ProgramID) ([]budget.TransactionID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{m: m}).TransactionIDsByProgram(ctx, programID)
}

func (m *Memory) SaveAllocation(ctx context.Context, a *budget.Allocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&view{m: m}).SaveAllocation(ctx, a)
}

func (m *Memory) AllocationsByLine(ctx context.Context, lineID budget.LineID) ([]budget.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{m: m}).AllocationsByLine(ctx, lineID)
}

func (m *Memory) AllocationsByTransaction(ctx context.Context, txID budget.TransactionID) ([]budget.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{m: m}).AllocationsByTransaction(ctx, txID)
}

func (m *Memory) DeleteAllocationsByTransaction(ctx context.Context, txID budget.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&view{m: m}).DeleteAllocationsByTransaction(ctx, txID)
}

func (m *Memory) RealizedAmount(ctx context.Context, lineID budget.LineID) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{m: m}).RealizedAmount(ctx, lineID)
}

func (m *Memory) SaveReceipt(ctx context.Context, r *budget.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&view{m: m}).SaveReceipt(ctx, r)
}

func (m *Memory) GetReceipt(ctx context.Context, id budget.ReceiptID) (*budget.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{m: m}).GetReceipt(ctx, id)
}

func (m *Memory) ReceiptsByTransaction(ctx context.Context, txID budget.TransactionID) ([]*budget.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{m: m}).ReceiptsByTransaction(ctx, txID)
}

func (m *Memory) ReceiptCount(ctx context.Context, txID budget.TransactionID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{m: m}).ReceiptCount(ctx, txID)
}

func (m *Memory) DeleteReceipt(ctx context.Context, id budget.ReceiptID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&view{m: m}).DeleteReceipt(ctx, id)
}

func (m *Memory) SaveMember(ctx context.Context, mem *budget.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&view{m: m}).SaveMember(ctx, mem)
}

func (m *Memory) GetMember(ctx context.Context, programID budget.ProgramID, userID budget.UserID) (*budget.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{m: m}).GetMember(ctx, programID, userID)
}

func (m *Memory) MembersByProgram(ctx context.Context, programID budget.ProgramID) ([]*budget.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{m: m}).MembersByProgram(ctx, programID)
}

func (m *Memory) DeleteMember(ctx context.Context, programID budget.ProgramID, userID budget.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&view{m: m}).DeleteMember(ctx, programID, userID)
}

func (m *Memory) AppendAudit(ctx context.Context, entry budget.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&view{m: m}).AppendAudit(ctx, entry)
}

func (m *Memory) QueryAudit(ctx context.Context, filter budget.AuditFilter) ([]budget.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{m: m}).QueryAudit(ctx, filter)
}
