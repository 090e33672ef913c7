/*
seed.go - Demo data loader for testing and demonstrations

PURPOSE:
  Populates the store with a realistic program for demos: an active
  program with a budget plan, funding, partially and fully realized
  lines, a receipt, and membership - enough to exercise every dashboard
  and audit view.

WHAT THE SEED CREATES:
  1. A "Community Workshop 2026" program (draft -> active)
  2. Three budget lines: venue, catering, materials
  3. A sponsorship income
  4. Two expenses: one fully receipted (fulfilled line), one without
     evidence (partially fulfilled line)
  5. A treasurer membership, approved

NOTE:
  Seeding does not reset existing data. POST /api/reset first when a
  clean slate is needed. Only use in development/demo environments.

SEE ALSO:
  - server.go: /api/seed and /api/reset routes
  - budget/engine.go: The operations the seed runs through
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/warp/budget-engine/budget"
)

// SeedDemo loads the demo program through the engine, so the seeded
// data carries the same audit trail real usage would.
func (h *Handler) SeedDemo(w http.ResponseWriter, r *http.Request) {
	programID, err := loadDemoProgram(r.Context(), h.Engine)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"program_id": string(programID),
		"status":     "seeded",
	})
}

// ResetDatabase wipes all data. Only available when the backing store
// supports it (the SQLite store does).
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	resetter, ok := h.Engine.Store.(Resetter)
	if !ok {
		writeError(w, http.StatusNotImplemented, "Reset is not supported by this store", nil)
		return
	}
	if err := resetter.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func loadDemoProgram(ctx context.Context, engine *budget.Engine) (budget.ProgramID, error) {
	now := time.Now().UTC()
	lead := budget.Caller{UserID: "demo-lead", Origin: "seed", Now: now}
	treasurer := budget.Caller{UserID: "demo-treasurer", Origin: "seed", Now: now}

	end := now.AddDate(0, 3, 0)
	program, err := engine.CreateProgram(ctx, lead, budget.ProgramInput{
		Name:        "Community Workshop 2026",
		Description: "Quarterly maker workshop series",
		Period:      budget.Period{Start: now, End: &end},
	})
	if err != nil {
		return "", err
	}

	venue, err := engine.CreateLine(ctx, lead, program.ID, budget.LineInput{
		Name:      "Venue rental",
		Category:  "facilities",
		Quantity:  budget.MustParseDecimal("3"),
		Unit:      "day",
		UnitPrice: budget.MustParseDecimal("400.00"),
	})
	if err != nil {
		return "", err
	}
	catering, err := engine.CreateLine(ctx, lead, program.ID, budget.LineInput{
		Name:      "Catering",
		Category:  "events",
		Quantity:  budget.MustParseDecimal("60"),
		Unit:      "meal",
		UnitPrice: budget.MustParseDecimal("12.50"),
	})
	if err != nil {
		return "", err
	}
	if _, err := engine.CreateLine(ctx, lead, program.ID, budget.LineInput{
		Name:      "Workshop materials",
		Category:  "supplies",
		Quantity:  budget.MustParseDecimal("40"),
		Unit:      "kit",
		UnitPrice: budget.MustParseDecimal("25.00"),
		Notes:     "Soldering kits, reusable between sessions",
	}); err != nil {
		return "", err
	}

	if _, err := engine.TransitionProgram(ctx, lead, program.ID, budget.ProgramActive); err != nil {
		return "", err
	}

	if _, err := engine.AddMember(ctx, lead, program.ID, treasurer.UserID, budget.RoleTreasurer); err != nil {
		return "", err
	}
	if _, err := engine.ApproveMember(ctx, lead, program.ID, treasurer.UserID); err != nil {
		return "", err
	}

	if _, err := engine.CreateIncome(ctx, treasurer, program.ID, budget.IncomeInput{
		Date:        now,
		Amount:      budget.MustParseDecimal("3000.00"),
		Description: "Sponsorship - local hardware store",
	}); err != nil {
		return "", err
	}

	// Fully realized and receipted: the venue line ends up fulfilled.
	venueExpense, err := engine.CreateExpense(ctx, treasurer, program.ID, budget.ExpenseInput{
		Date:        now.AddDate(0, 0, 7),
		Amount:      budget.MustParseDecimal("1200.00"),
		Description: "Venue booking, all three days",
		Allocations: []budget.AllocationInput{
			{LineID: venue.ID, Amount: budget.MustParseDecimal("1200.00")},
		},
	})
	if err != nil {
		return "", err
	}
	if _, err := engine.AddReceipt(ctx, treasurer, venueExpense.ID, budget.ReceiptInput{
		FilePath:         "receipts/venue-booking.pdf",
		OriginalFilename: "venue-booking.pdf",
		MimeType:         "application/pdf",
	}); err != nil {
		return "", err
	}

	// Partial spend without a receipt: catering stays partially
	// fulfilled and shows up in the missing-receipts warning.
	if _, err := engine.CreateExpense(ctx, treasurer, program.ID, budget.ExpenseInput{
		Date:        now.AddDate(0, 0, 8),
		Amount:      budget.MustParseDecimal("250.00"),
		Description: "First session catering deposit",
		Allocations: []budget.AllocationInput{
			{LineID: catering.ID, Amount: budget.MustParseDecimal("250.00")},
		},
	}); err != nil {
		return "", err
	}

	return program.ID, nil
}
