/*
audit.go - Append-only audit trail

PURPOSE:
  Every mutation in the engine is captured as an immutable before/after
  snapshot keyed by (module, module_id). The trail is append-only: no
  update, no delete, ever. The only failure path is a storage failure,
  which propagates to the caller.

SNAPSHOTS:
  Snapshots are flat maps built from the entity at the moment of the
  mutation. They are stored as JSON and never read back into entities;
  they exist for humans reconstructing what happened.
*/
package budget

import "time"

// =============================================================================
// AUDIT ENTRY
// =============================================================================

type AuditModule string

const (
	ModuleProgram     AuditModule = "PROGRAM"
	ModuleRABItem     AuditModule = "RAB_ITEM"
	ModuleTransaction AuditModule = "TRANSACTION"
)

type AuditAction string

const (
	AuditCreate       AuditAction = "create"
	AuditUpdate       AuditAction = "update"
	AuditDelete       AuditAction = "delete"
	AuditStatusChange AuditAction = "status_change"
	AuditApprove      AuditAction = "approve"
)

// AuditEntry is one immutable record of a mutation.
type AuditEntry struct {
	ID       string
	ActorID  *UserID // nil for system-originated entries or deleted users
	Action   AuditAction
	Module   AuditModule
	ModuleID string
	Before   map[string]any // nil on create
	After    map[string]any // nil on delete
	Origin   string         // client address
	CreatedAt time.Time
}

// AuditFilter selects entries for the reporting layer. Zero-value fields
// match everything.
type AuditFilter struct {
	Module    *AuditModule
	ModuleIDs []string // when non-empty, restrict to these subjects
	ActorID   *UserID
	From      *time.Time
	To        *time.Time
	Limit     int // 0 means no limit
	Offset    int
}

// =============================================================================
// SNAPSHOT BUILDERS
// =============================================================================

// ProgramSnapshot captures a program record for the audit trail.
func ProgramSnapshot(p *Program) map[string]any {
	snap := map[string]any{
		"id":           string(p.ID),
		"name":         p.Name,
		"description":  p.Description,
		"period_start": p.Period.Start.Format("2006-01-02"),
		"status":       string(p.Status),
		"created_by":   string(p.CreatedBy),
	}
	if p.Period.End != nil {
		snap["period_end"] = p.Period.End.Format("2006-01-02")
	}
	return snap
}

// LineSnapshot captures a budget line record for the audit trail.
func LineSnapshot(l *BudgetLine) map[string]any {
	return map[string]any{
		"id":             string(l.ID),
		"program_id":     string(l.ProgramID),
		"name":           l.Name,
		"category":       l.Category,
		"quantity":       l.Quantity.String(),
		"unit":           l.Unit,
		"unit_price":     l.UnitPrice.String(),
		"planned_amount": l.PlannedAmount.String(),
		"status":         string(l.Status),
		"notes":          l.Notes,
	}
}

// TransactionSnapshot captures a transaction record for the audit trail.
func TransactionSnapshot(t *Transaction) map[string]any {
	snap := map[string]any{
		"id":          string(t.ID),
		"program_id":  string(t.ProgramID),
		"type":        string(t.Type),
		"date":        t.Date.Format("2006-01-02"),
		"amount":      t.Amount.String(),
		"description": t.Description,
		"created_by":  string(t.CreatedBy),
	}
	if len(t.Allocations) > 0 {
		allocs := make([]map[string]any, len(t.Allocations))
		for i, a := range t.Allocations {
			allocs[i] = map[string]any{
				"line_id": string(a.LineID),
				"amount":  a.Amount.String(),
			}
		}
		snap["allocations"] = allocs
	}
	return snap
}
