/*
handlers.go - HTTP API handlers for the budget engine

PURPOSE:
  Exposes the budget engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every rule to the engine.

ENDPOINTS:
  Programs:
    GET    /api/programs                    List programs
    POST   /api/programs                    Create program (draft)
    GET    /api/programs/{id}               Program detail
    PUT    /api/programs/{id}               Update descriptive fields
    DELETE /api/programs/{id}               Soft delete with cascade
    POST   /api/programs/{id}/status        Lifecycle transition
    GET    /api/programs/{id}/summary       Dashboard
    GET    /api/programs/{id}/rab           Budget plan with progress
    POST   /api/programs/{id}/rab           Add budget line
    GET    /api/programs/{id}/transactions  Transaction list
    POST   /api/programs/{id}/transactions  Record income/expense
    POST   /api/programs/{id}/validate      Dry-run allocation check
    GET    /api/programs/{id}/audit         Scoped audit trail
    GET    /api/programs/{id}/members       Member list
    POST   /api/programs/{id}/members       Add member

  Lines, transactions, receipts:
    PUT    /api/rab/{id}                    Edit line (draft only)
    DELETE /api/rab/{id}                    Remove line (draft only)
    GET    /api/transactions/{id}           Transaction detail
    PUT    /api/transactions/{id}           Edit transaction
    DELETE /api/transactions/{id}           Soft delete transaction
    POST   /api/transactions/{id}/receipts  Attach receipt
    GET    /api/transactions/{id}/receipts  Receipt list
    DELETE /api/receipts/{id}               Remove receipt

CALLER IDENTITY:
  The acting user arrives in the X-User-ID header. This service trusts
  the header; authentication lives in the gateway in front of it.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, state guards
  - 404: Resource not found
  - 409: Conflict (duplicate membership)
  - 422: Budget exceeded, amount mismatch (violations in the payload)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - seed.go: Demo data loader
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/budget-engine/budget"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter is implemented by stores that can wipe their data. The reset
// endpoint is only mounted when the backing store supports it.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *budget.Engine
}

// NewHandler creates a handler around the given engine.
func NewHandler(engine *budget.Engine) *Handler {
	return &Handler{Engine: engine}
}

// callerFrom builds the acting identity for a request. Every mutation
// the engine performs is stamped with it.
func callerFrom(r *http.Request) budget.Caller {
	return budget.Caller{
		UserID: budget.UserID(r.Header.Get("X-User-ID")),
		Origin: r.RemoteAddr,
		Now:    time.Now().UTC(),
	}
}

// =============================================================================
// PROGRAM HANDLERS
// =============================================================================

// ListPrograms returns all programs.
func (h *Handler) ListPrograms(w http.ResponseWriter, r *http.Request) {
	programs, err := h.Engine.Store.ListPrograms(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list programs", err)
		return
	}

	dtos := make([]ProgramDTO, len(programs))
	for i, p := range programs {
		dtos[i] = toProgramDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProgram creates a draft program.
func (h *Handler) CreateProgram(w http.ResponseWriter, r *http.Request) {
	var req CreateProgramRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := parseDate(req.PeriodStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period_start (use YYYY-MM-DD)", err)
		return
	}
	period := budget.Period{Start: start}
	if req.PeriodEnd != "" {
		end, err := parseDate(req.PeriodEnd)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid period_end (use YYYY-MM-DD)", err)
			return
		}
		period.End = &end
	}

	p, err := h.Engine.CreateProgram(r.Context(), callerFrom(r), budget.ProgramInput{
		Name:        req.Name,
		Description: req.Description,
		Period:      period,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProgramDTO(p))
}

// GetProgram returns one program.
func (h *Handler) GetProgram(w http.ResponseWriter, r *http.Request) {
	id := budget.ProgramID(chi.URLParam(r, "id"))

	p, err := h.Engine.Store.GetProgram(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get program", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Program not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toProgramDTO(p))
}

// UpdateProgram changes descriptive fields of a program.
func (h *Handler) UpdateProgram(w http.ResponseWriter, r *http.Request) {
	id := budget.ProgramID(chi.URLParam(r, "id"))

	var req UpdateProgramRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	in := budget.ProgramUpdate{
		Name:        req.Name,
		Description: req.Description,
	}
	if req.PeriodStart != nil {
		start, err := parseDate(*req.PeriodStart)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid period_start (use YYYY-MM-DD)", err)
			return
		}
		in.PeriodStart = &start
	}
	if req.PeriodEnd != nil {
		end, err := parseDate(*req.PeriodEnd)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid period_end (use YYYY-MM-DD)", err)
			return
		}
		in.PeriodEnd = &end
	}

	p, err := h.Engine.UpdateProgram(r.Context(), callerFrom(r), id, in)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProgramDTO(p))
}

// TransitionProgram moves a program through its lifecycle.
func (h *Handler) TransitionProgram(w http.ResponseWriter, r *http.Request) {
	id := budget.ProgramID(chi.URLParam(r, "id"))

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.Engine.TransitionProgram(r.Context(), callerFrom(r), id, budget.ProgramStatus(req.Status))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProgramDTO(p))
}

// DeleteProgram soft-deletes a program and its dependents.
func (h *Handler) DeleteProgram(w http.ResponseWriter, r *http.Request) {
	id := budget.ProgramID(chi.URLParam(r, "id"))

	if err := h.Engine.DeleteProgram(r.Context(), callerFrom(r), id); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSummary returns the program dashboard.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	id := budget.ProgramID(chi.URLParam(r, "id"))

	s, err := h.Engine.Summarize(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	dto := SummaryDTO{
		Program:          toProgramDTO(s.Program),
		TotalIncome:      s.TotalIncome.String(),
		TotalExpense:     s.TotalExpense.String(),
		Balance:          s.Balance.String(),
		PlannedBudget:    s.PlannedBudget.String(),
		RealizedBudget:   s.RealizedBudget.String(),
		Absorption:       s.Absorption.String(),
		LineCount:        s.LineCount,
		TransactionCount: s.TransactionCount,
	}
	for _, tx := range s.MissingReceipts {
		dto.MissingReceipts = append(dto.MissingReceipts, toTransactionDTO(tx))
	}
	for _, tx := range s.Recent {
		dto.Recent = append(dto.Recent, toTransactionDTO(tx))
	}
	for _, c := range s.Categories {
		dto.Categories = append(dto.Categories, CategoryDTO{
			Category: c.Category,
			Planned:  c.Planned.String(),
			Realized: c.Realized.String(),
		})
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetPlan returns the budget plan with per-line progress.
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	id := budget.ProgramID(chi.URLParam(r, "id"))

	s, err := h.Engine.SummarizePlan(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	dto := PlanSummaryDTO{
		ProgramID:          string(s.ProgramID),
		Planned:            s.Planned.String(),
		Realized:           s.Realized.String(),
		Unfulfilled:        s.Unfulfilled,
		PartiallyFulfilled: s.PartiallyFulfilled,
		Fulfilled:          s.Fulfilled,
		OverAllocated:      s.OverAllocated,
	}
	for _, lp := range s.Lines {
		dto.Lines = append(dto.Lines, LineProgressDTO{
			Line:      toLineDTO(lp.Line),
			Realized:  lp.Realized.String(),
			Remaining: lp.Remaining.String(),
			Progress:  lp.Progress.String(),
		})
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// BUDGET LINE HANDLERS
// =============================================================================

// CreateLine adds a budget line to a draft program.
func (h *Handler) CreateLine(w http.ResponseWriter, r *http.Request) {
	programID := budget.ProgramID(chi.URLParam(r, "id"))

	var req CreateLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	quantity, err := parseAmount(req.Quantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid quantity", err)
		return
	}
	unitPrice, err := parseAmount(req.UnitPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid unit_price", err)
		return
	}

	line, err := h.Engine.CreateLine(r.Context(), callerFrom(r), programID, budget.LineInput{
		Name:      req.Name,
		Category:  req.Category,
		Quantity:  quantity,
		Unit:      req.Unit,
		UnitPrice: unitPrice,
		Notes:     req.Notes,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLineDTO(line))
}

// UpdateLine applies a structural edit to a line.
func (h *Handler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	lineID := budget.LineID(chi.URLParam(r, "id"))

	var req UpdateLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	in := budget.LineUpdate{
		Name:     req.Name,
		Category: req.Category,
		Unit:     req.Unit,
		Notes:    req.Notes,
	}
	if req.Quantity != nil {
		quantity, err := parseAmount(*req.Quantity)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid quantity", err)
			return
		}
		in.Quantity = &quantity
	}
	if req.UnitPrice != nil {
		unitPrice, err := parseAmount(*req.UnitPrice)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid unit_price", err)
			return
		}
		in.UnitPrice = &unitPrice
	}

	line, err := h.Engine.UpdateLine(r.Context(), callerFrom(r), lineID, in)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLineDTO(line))
}

// DeleteLine removes a line from a draft program.
func (h *Handler) DeleteLine(w http.ResponseWriter, r *http.Request) {
	lineID := budget.LineID(chi.URLParam(r, "id"))

	if err := h.Engine.DeleteLine(r.Context(), callerFrom(r), lineID); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// ListTransactions returns a program's transactions.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	programID := budget.ProgramID(chi.URLParam(r, "id"))

	txs, err := h.Engine.Store.TransactionsByProgram(r.Context(), programID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transactions", err)
		return
	}

	dtos := make([]TransactionDTO, 0, len(txs))
	for _, tx := range txs {
		tx.Allocations, err = h.Engine.Store.AllocationsByTransaction(r.Context(), tx.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load allocations", err)
			return
		}
		dtos = append(dtos, toTransactionDTO(tx))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateTransaction records an income or expense.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	programID := budget.ProgramID(chi.URLParam(r, "id"))

	var req CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	c := callerFrom(r)
	var tx *budget.Transaction
	switch budget.TransactionType(req.Type) {
	case budget.TxIncome:
		if len(req.Allocations) > 0 {
			writeError(w, http.StatusBadRequest, "Income transactions cannot carry allocations", nil)
			return
		}
		tx, err = h.Engine.CreateIncome(r.Context(), c, programID, budget.IncomeInput{
			Date:        date,
			Amount:      amount,
			Description: req.Description,
		})
	case budget.TxExpense:
		allocations, aerr := parseAllocations(req.Allocations)
		if aerr != nil {
			writeError(w, http.StatusBadRequest, "Invalid allocations", aerr)
			return
		}
		tx, err = h.Engine.CreateExpense(r.Context(), c, programID, budget.ExpenseInput{
			Date:        date,
			Amount:      amount,
			Description: req.Description,
			Allocations: allocations,
		})
	default:
		writeError(w, http.StatusBadRequest, "Invalid type (use income or expense)", nil)
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// GetTransaction returns one transaction with its allocations.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := budget.TransactionID(chi.URLParam(r, "id"))

	tx, err := h.Engine.Store.GetTransaction(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get transaction", err)
		return
	}
	if tx == nil {
		writeError(w, http.StatusNotFound, "Transaction not found", nil)
		return
	}
	tx.Allocations, err = h.Engine.Store.AllocationsByTransaction(r.Context(), tx.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load allocations", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// UpdateTransaction edits a transaction.
func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id := budget.TransactionID(chi.URLParam(r, "id"))

	var req UpdateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	in := budget.TransactionUpdate{Description: req.Description}
	if req.Date != nil {
		date, err := parseDate(*req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
			return
		}
		in.Date = &date
	}
	if req.Amount != nil {
		amount, err := parseAmount(*req.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid amount", err)
			return
		}
		in.Amount = &amount
	}
	if req.Allocations != nil {
		allocations, err := parseAllocations(req.Allocations)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid allocations", err)
			return
		}
		in.Allocations = allocations
	}

	tx, err := h.Engine.UpdateTransaction(r.Context(), callerFrom(r), id, in)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// DeleteTransaction soft-deletes a transaction.
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := budget.TransactionID(chi.URLParam(r, "id"))

	if err := h.Engine.DeleteTransaction(r.Context(), callerFrom(r), id); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ValidateAllocations dry-runs an allocation set against a program's
// budget without writing anything.
func (h *Handler) ValidateAllocations(w http.ResponseWriter, r *http.Request) {
	programID := budget.ProgramID(chi.URLParam(r, "id"))

	var req ValidateAllocationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	allocations, err := parseAllocations(req.Allocations)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid allocations", err)
		return
	}

	violations, err := h.Engine.ValidateAllocations(r.Context(), programID, allocations)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Validation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, ValidationResultDTO{
		Valid:      len(violations) == 0,
		Violations: toViolationDTOs(violations),
	})
}

// =============================================================================
// RECEIPT HANDLERS
// =============================================================================

// AddReceipt attaches evidence to an expense transaction.
func (h *Handler) AddReceipt(w http.ResponseWriter, r *http.Request) {
	txID := budget.TransactionID(chi.URLParam(r, "id"))

	var req AddReceiptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.FilePath == "" {
		writeError(w, http.StatusBadRequest, "file_path is required", nil)
		return
	}

	receipt, err := h.Engine.AddReceipt(r.Context(), callerFrom(r), txID, budget.ReceiptInput{
		FilePath:         req.FilePath,
		OriginalFilename: req.OriginalFilename,
		MimeType:         req.MimeType,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReceiptDTO(receipt))
}

// ListReceipts returns a transaction's receipts.
func (h *Handler) ListReceipts(w http.ResponseWriter, r *http.Request) {
	txID := budget.TransactionID(chi.URLParam(r, "id"))

	receipts, err := h.Engine.Store.ReceiptsByTransaction(r.Context(), txID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list receipts", err)
		return
	}

	dtos := make([]ReceiptDTO, len(receipts))
	for i, rc := range receipts {
		dtos[i] = toReceiptDTO(rc)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// DeleteReceipt removes an evidence attachment.
func (h *Handler) DeleteReceipt(w http.ResponseWriter, r *http.Request) {
	id := budget.ReceiptID(chi.URLParam(r, "id"))

	if err := h.Engine.RemoveReceipt(r.Context(), callerFrom(r), id); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// MEMBER HANDLERS
// =============================================================================

// ListMembers returns a program's members.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	programID := budget.ProgramID(chi.URLParam(r, "id"))

	members, err := h.Engine.Store.MembersByProgram(r.Context(), programID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list members", err)
		return
	}

	dtos := make([]MemberDTO, len(members))
	for i, m := range members {
		dtos[i] = toMemberDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AddMember admits a user to a program.
func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	programID := budget.ProgramID(chi.URLParam(r, "id"))

	var req AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}
	role := budget.Role(req.Role)
	if role == "" {
		role = budget.RoleMember
	}

	m, err := h.Engine.AddMember(r.Context(), callerFrom(r), programID, budget.UserID(req.UserID), role)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMemberDTO(m))
}

// ApproveMember confirms a pending membership.
func (h *Handler) ApproveMember(w http.ResponseWriter, r *http.Request) {
	programID := budget.ProgramID(chi.URLParam(r, "id"))
	userID := budget.UserID(chi.URLParam(r, "userID"))

	m, err := h.Engine.ApproveMember(r.Context(), callerFrom(r), programID, userID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberDTO(m))
}

// RemoveMember withdraws a membership.
func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	programID := budget.ProgramID(chi.URLParam(r, "id"))
	userID := budget.UserID(chi.URLParam(r, "userID"))

	if err := h.Engine.RemoveMember(r.Context(), callerFrom(r), programID, userID); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// GetProgramAudit returns the audit trail scoped to one program.
func (h *Handler) GetProgramAudit(w http.ResponseWriter, r *http.Request) {
	programID := budget.ProgramID(chi.URLParam(r, "id"))

	filter, err := auditFilterFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid audit filter", err)
		return
	}

	entries, err := h.Engine.ProgramAuditTrail(r.Context(), programID, filter)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTOs(entries))
}

// GetAudit returns the global audit trail with optional filters.
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	filter, err := auditFilterFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid audit filter", err)
		return
	}

	entries, err := h.Engine.AuditTrail(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit trail", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTOs(entries))
}

func auditFilterFrom(r *http.Request) (budget.AuditFilter, error) {
	q := r.URL.Query()
	filter := budget.AuditFilter{Limit: 50}

	if module := q.Get("module"); module != "" {
		m := budget.AuditModule(module)
		filter.Module = &m
	}
	if actor := q.Get("actor_id"); actor != "" {
		a := budget.UserID(actor)
		filter.ActorID = &a
	}
	if from := q.Get("from"); from != "" {
		t, err := parseDate(from)
		if err != nil {
			return filter, fmt.Errorf("invalid from date: %w", err)
		}
		filter.From = &t
	}
	if to := q.Get("to"); to != "" {
		t, err := parseDate(to)
		if err != nil {
			return filter, fmt.Errorf("invalid to date: %w", err)
		}
		// Inclusive end of day
		t = t.Add(24*time.Hour - time.Nanosecond)
		filter.To = &t
	}
	if limit := q.Get("limit"); limit != "" {
		if _, err := fmt.Sscanf(limit, "%d", &filter.Limit); err != nil {
			return filter, fmt.Errorf("invalid limit: %w", err)
		}
	}
	if offset := q.Get("offset"); offset != "" {
		if _, err := fmt.Sscanf(offset, "%d", &filter.Offset); err != nil {
			return filter, fmt.Errorf("invalid offset: %w", err)
		}
	}
	return filter, nil
}

func toAuditDTOs(entries []budget.AuditEntry) []AuditEntryDTO {
	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditEntryDTO(e)
	}
	return dtos
}

// =============================================================================
// HELPERS
// =============================================================================

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount is required")
	}
	return decimal.NewFromString(s)
}

func parseAllocations(reqs []AllocationRequest) ([]budget.AllocationInput, error) {
	allocations := make([]budget.AllocationInput, len(reqs))
	for i, a := range reqs {
		amount, err := parseAmount(a.Amount)
		if err != nil {
			return nil, fmt.Errorf("allocation %d: %w", i, err)
		}
		allocations[i] = budget.AllocationInput{
			LineID: budget.LineID(a.LineID),
			Amount: amount,
		}
	}
	return allocations, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps domain errors to HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	var budgetErr *budget.BudgetExceededError
	if errors.As(err, &budgetErr) {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:      "Budget exceeded",
			Details:    err.Error(),
			Violations: toViolationDTOs(budgetErr.Violations),
		})
		return
	}

	var mismatchErr *budget.AmountMismatchError
	if errors.As(err, &mismatchErr) {
		writeError(w, http.StatusUnprocessableEntity, "Amount mismatch", err)
		return
	}

	switch {
	case budget.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, budget.ErrDuplicateMember):
		writeError(w, http.StatusConflict, "Already a member", err)
	case budget.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
