/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts travel as decimal strings ("1500.00"), never as JSON numbers.
  Parsing happens in handlers; a malformed amount is a 400.

DATES:
  Transaction dates and period bounds use YYYY-MM-DD. Timestamps use
  RFC3339.

SEE ALSO:
  - handlers.go: Uses these types
  - budget/types.go: The domain model these mirror
*/
package api

import (
	"time"

	"github.com/warp/budget-engine/budget"
)

// =============================================================================
// PROGRAMS
// =============================================================================

// ProgramDTO represents a program in API responses.
type ProgramDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end,omitempty"`
	Status      string `json:"status"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// CreateProgramRequest is the request to create a program.
type CreateProgramRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
}

// UpdateProgramRequest carries optional program field changes.
type UpdateProgramRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	PeriodStart *string `json:"period_start"`
	PeriodEnd   *string `json:"period_end"`
}

// TransitionRequest moves a program to a new lifecycle status.
type TransitionRequest struct {
	Status string `json:"status"`
}

// =============================================================================
// BUDGET LINES
// =============================================================================

// LineDTO represents a budget line in API responses.
type LineDTO struct {
	ID            string `json:"id"`
	ProgramID     string `json:"program_id"`
	Name          string `json:"name"`
	Category      string `json:"category,omitempty"`
	Quantity      string `json:"quantity"`
	Unit          string `json:"unit"`
	UnitPrice     string `json:"unit_price"`
	PlannedAmount string `json:"planned_amount"`
	Status        string `json:"status"`
	OverAllocated bool   `json:"over_allocated,omitempty"`
	Notes         string `json:"notes,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// CreateLineRequest is the request to add a line to the budget plan.
type CreateLineRequest struct {
	Name      string `json:"name"`
	Category  string `json:"category"`
	Quantity  string `json:"quantity"`
	Unit      string `json:"unit"`
	UnitPrice string `json:"unit_price"`
	Notes     string `json:"notes"`
}

// UpdateLineRequest carries optional line field changes.
type UpdateLineRequest struct {
	Name      *string `json:"name"`
	Category  *string `json:"category"`
	Quantity  *string `json:"quantity"`
	Unit      *string `json:"unit"`
	UnitPrice *string `json:"unit_price"`
	Notes     *string `json:"notes"`
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// TransactionDTO represents a transaction in API responses.
type TransactionDTO struct {
	ID          string          `json:"id"`
	ProgramID   string          `json:"program_id"`
	Type        string          `json:"type"`
	Date        string          `json:"date"`
	Amount      string          `json:"amount"`
	Description string          `json:"description,omitempty"`
	CreatedBy   string          `json:"created_by"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
	Allocations []AllocationDTO `json:"allocations,omitempty"`
}

// AllocationDTO represents one allocation of an expense to a line.
type AllocationDTO struct {
	ID     string `json:"id"`
	LineID string `json:"line_id"`
	Amount string `json:"amount"`
}

// AllocationRequest is one allocation in a transaction request.
type AllocationRequest struct {
	LineID string `json:"line_id"`
	Amount string `json:"amount"`
}

// CreateTransactionRequest is the request to record a transaction.
// Allocations are required for expenses and rejected for income.
type CreateTransactionRequest struct {
	Type        string              `json:"type"`
	Date        string              `json:"date"`
	Amount      string              `json:"amount"`
	Description string              `json:"description"`
	Allocations []AllocationRequest `json:"allocations"`
}

// UpdateTransactionRequest carries optional transaction field changes.
// A null allocations field leaves the allocation set untouched; an
// array replaces it entirely.
type UpdateTransactionRequest struct {
	Date        *string             `json:"date"`
	Amount      *string             `json:"amount"`
	Description *string             `json:"description"`
	Allocations []AllocationRequest `json:"allocations"`
}

// ValidateAllocationsRequest checks an allocation set without writing.
type ValidateAllocationsRequest struct {
	Allocations []AllocationRequest `json:"allocations"`
}

// ViolationDTO describes one rejected allocation.
type ViolationDTO struct {
	LineID    string `json:"line_id"`
	LineName  string `json:"line_name,omitempty"`
	Remaining string `json:"remaining,omitempty"`
	Requested string `json:"requested,omitempty"`
	NotFound  bool   `json:"not_found,omitempty"`
	Message   string `json:"message"`
}

// ValidationResultDTO is the response to an allocation validation.
type ValidationResultDTO struct {
	Valid      bool           `json:"valid"`
	Violations []ViolationDTO `json:"violations,omitempty"`
}

// =============================================================================
// RECEIPTS
// =============================================================================

// ReceiptDTO represents an evidence attachment in API responses.
type ReceiptDTO struct {
	ID               string `json:"id"`
	TransactionID    string `json:"transaction_id"`
	FilePath         string `json:"file_path"`
	OriginalFilename string `json:"original_filename,omitempty"`
	MimeType         string `json:"mime_type,omitempty"`
	UploadedBy       string `json:"uploaded_by"`
	CreatedAt        string `json:"created_at"`
}

// AddReceiptRequest attaches evidence to an expense.
type AddReceiptRequest struct {
	FilePath         string `json:"file_path"`
	OriginalFilename string `json:"original_filename"`
	MimeType         string `json:"mime_type"`
}

// =============================================================================
// MEMBERS
// =============================================================================

// MemberDTO represents a program membership in API responses.
type MemberDTO struct {
	ID        string `json:"id"`
	ProgramID string `json:"program_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	Approved  bool   `json:"approved"`
	CreatedAt string `json:"created_at"`
}

// AddMemberRequest admits a user to a program.
type AddMemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// =============================================================================
// SUMMARIES
// =============================================================================

// SummaryDTO is the program dashboard.
type SummaryDTO struct {
	Program          ProgramDTO       `json:"program"`
	TotalIncome      string           `json:"total_income"`
	TotalExpense     string           `json:"total_expense"`
	Balance          string           `json:"balance"`
	PlannedBudget    string           `json:"planned_budget"`
	RealizedBudget   string           `json:"realized_budget"`
	Absorption       string           `json:"absorption_pct"`
	LineCount        int              `json:"line_count"`
	TransactionCount int              `json:"transaction_count"`
	MissingReceipts  []TransactionDTO `json:"missing_receipts,omitempty"`
	Recent           []TransactionDTO `json:"recent_transactions,omitempty"`
	Categories       []CategoryDTO    `json:"categories,omitempty"`
}

// CategoryDTO aggregates plan and realization per line category.
type CategoryDTO struct {
	Category string `json:"category"`
	Planned  string `json:"planned"`
	Realized string `json:"realized"`
}

// PlanSummaryDTO is the budget plan view with per-line progress.
type PlanSummaryDTO struct {
	ProgramID          string            `json:"program_id"`
	Lines              []LineProgressDTO `json:"lines"`
	Planned            string            `json:"planned"`
	Realized           string            `json:"realized"`
	Unfulfilled        int               `json:"unfulfilled"`
	PartiallyFulfilled int               `json:"partially_fulfilled"`
	Fulfilled          int               `json:"fulfilled"`
	OverAllocated      int               `json:"over_allocated"`
}

// LineProgressDTO is one row of the plan summary.
type LineProgressDTO struct {
	Line      LineDTO `json:"line"`
	Realized  string  `json:"realized"`
	Remaining string  `json:"remaining"`
	Progress  string  `json:"progress_pct"`
}

// =============================================================================
// AUDIT
// =============================================================================

// AuditEntryDTO represents a trail entry in API responses.
type AuditEntryDTO struct {
	ID        string         `json:"id"`
	ActorID   string         `json:"actor_id,omitempty"`
	Action    string         `json:"action"`
	Module    string         `json:"module"`
	ModuleID  string         `json:"module_id"`
	Before    map[string]any `json:"before,omitempty"`
	After     map[string]any `json:"after,omitempty"`
	Origin    string         `json:"origin,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error      string         `json:"error"`
	Details    string         `json:"details,omitempty"`
	Violations []ViolationDTO `json:"violations,omitempty"`
}

// =============================================================================
// DTO CONVERTERS
// =============================================================================

func toProgramDTO(p *budget.Program) ProgramDTO {
	dto := ProgramDTO{
		ID:          string(p.ID),
		Name:        p.Name,
		Description: p.Description,
		PeriodStart: p.Period.Start.Format("2006-01-02"),
		Status:      string(p.Status),
		CreatedBy:   string(p.CreatedBy),
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   p.UpdatedAt.Format(time.RFC3339),
	}
	if p.Period.End != nil {
		dto.PeriodEnd = p.Period.End.Format("2006-01-02")
	}
	return dto
}

func toLineDTO(l *budget.BudgetLine) LineDTO {
	return LineDTO{
		ID:            string(l.ID),
		ProgramID:     string(l.ProgramID),
		Name:          l.Name,
		Category:      l.Category,
		Quantity:      l.Quantity.String(),
		Unit:          l.Unit,
		UnitPrice:     l.UnitPrice.String(),
		PlannedAmount: l.PlannedAmount.String(),
		Status:        string(l.Status),
		OverAllocated: l.OverAllocated,
		Notes:         l.Notes,
		CreatedAt:     l.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     l.UpdatedAt.Format(time.RFC3339),
	}
}

func toTransactionDTO(t *budget.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:          string(t.ID),
		ProgramID:   string(t.ProgramID),
		Type:        string(t.Type),
		Date:        t.Date.Format("2006-01-02"),
		Amount:      t.Amount.String(),
		Description: t.Description,
		CreatedBy:   string(t.CreatedBy),
		CreatedAt:   t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   t.UpdatedAt.Format(time.RFC3339),
	}
	for _, a := range t.Allocations {
		dto.Allocations = append(dto.Allocations, AllocationDTO{
			ID:     string(a.ID),
			LineID: string(a.LineID),
			Amount: a.Amount.String(),
		})
	}
	return dto
}

func toReceiptDTO(r *budget.Receipt) ReceiptDTO {
	return ReceiptDTO{
		ID:               string(r.ID),
		TransactionID:    string(r.TransactionID),
		FilePath:         r.FilePath,
		OriginalFilename: r.OriginalFilename,
		MimeType:         r.MimeType,
		UploadedBy:       string(r.UploadedBy),
		CreatedAt:        r.CreatedAt.Format(time.RFC3339),
	}
}

func toMemberDTO(m *budget.Member) MemberDTO {
	return MemberDTO{
		ID:        string(m.ID),
		ProgramID: string(m.ProgramID),
		UserID:    string(m.UserID),
		Role:      string(m.Role),
		Approved:  m.Approved,
		CreatedAt: m.CreatedAt.Format(time.RFC3339),
	}
}

func toViolationDTOs(violations []budget.AllocationViolation) []ViolationDTO {
	dtos := make([]ViolationDTO, len(violations))
	for i, v := range violations {
		dto := ViolationDTO{
			LineID:   string(v.LineID),
			LineName: v.LineName,
			NotFound: v.NotFound,
			Message:  v.String(),
		}
		if !v.NotFound {
			dto.Remaining = v.Remaining.String()
			dto.Requested = v.Requested.String()
		}
		dtos[i] = dto
	}
	return dtos
}

func toAuditEntryDTO(e budget.AuditEntry) AuditEntryDTO {
	dto := AuditEntryDTO{
		ID:        e.ID,
		Action:    string(e.Action),
		Module:    string(e.Module),
		ModuleID:  e.ModuleID,
		Before:    e.Before,
		After:     e.After,
		Origin:    e.Origin,
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
	}
	if e.ActorID != nil {
		dto.ActorID = string(*e.ActorID)
	}
	return dto
}
