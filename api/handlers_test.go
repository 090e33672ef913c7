/*
handlers_test.go - HTTP-level tests over the full router

PURPOSE:
  Exercises the API surface end to end against the in-memory store:
  1. The complete happy path from program creation to audit trail
  2. Error mapping: 400 / 404 / 409 / 422 with structured payloads
  3. The allocation validation dry-run endpoint
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/budget/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestRouter() http.Handler {
	return NewRouter(NewHandler(budget.NewEngine(store.NewMemory())))
}

// do issues a JSON request as user-1 and returns the recorded response.
func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

// setupActiveProgram drives the API through program + line creation and
// activation, returning the program and line IDs.
func setupActiveProgram(t *testing.T, router http.Handler) (string, string) {
	t.Helper()

	rec := do(t, router, http.MethodPost, "/api/programs", CreateProgramRequest{
		Name:        "Community Workshop",
		PeriodStart: "2026-03-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	program := decode[ProgramDTO](t, rec)

	rec = do(t, router, http.MethodPost, "/api/programs/"+program.ID+"/rab", CreateLineRequest{
		Name:      "Venue rental",
		Category:  "facilities",
		Quantity:  "3",
		Unit:      "day",
		UnitPrice: "400.00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	line := decode[LineDTO](t, rec)
	require.Equal(t, "1200", line.PlannedAmount)

	rec = do(t, router, http.MethodPost, "/api/programs/"+program.ID+"/status", TransitionRequest{
		Status: string(budget.ProgramActive),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	return program.ID, line.ID
}

// =============================================================================
// HAPPY PATH
// =============================================================================

func TestAPI_FullExpenseFlow(t *testing.T) {
	// GIVEN: An active program with a 1200.00 line
	// WHEN: Recording income, an allocated expense, and a receipt
	// THEN: Each step responds with the expected payloads and the summary
	//       reflects the final state

	router := newTestRouter()
	programID, lineID := setupActiveProgram(t, router)

	rec := do(t, router, http.MethodPost, "/api/programs/"+programID+"/transactions", CreateTransactionRequest{
		Type:   string(budget.TxIncome),
		Date:   "2026-03-02",
		Amount: "3000.00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/api/programs/"+programID+"/transactions", CreateTransactionRequest{
		Type:        string(budget.TxExpense),
		Date:        "2026-03-05",
		Amount:      "1200.00",
		Description: "venue invoice",
		Allocations: []AllocationRequest{{LineID: lineID, Amount: "1200.00"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tx := decode[TransactionDTO](t, rec)
	require.Len(t, tx.Allocations, 1)

	rec = do(t, router, http.MethodPost, "/api/transactions/"+tx.ID+"/receipts", AddReceiptRequest{
		FilePath: "receipts/venue.pdf",
		MimeType: "application/pdf",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/api/programs/"+programID+"/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[SummaryDTO](t, rec)
	assert.Equal(t, "3000", summary.TotalIncome)
	assert.Equal(t, "1200", summary.TotalExpense)
	assert.Equal(t, "1800", summary.Balance)
	assert.Equal(t, "100", summary.Absorption, "the plan is fully absorbed")
	assert.Empty(t, summary.MissingReceipts)

	rec = do(t, router, http.MethodGet, "/api/programs/"+programID+"/rab", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	plan := decode[PlanSummaryDTO](t, rec)
	require.Len(t, plan.Lines, 1)
	assert.Equal(t, string(budget.LineFulfilled), plan.Lines[0].Line.Status)
	assert.Equal(t, 1, plan.Fulfilled)

	rec = do(t, router, http.MethodGet, "/api/programs/"+programID+"/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	trail := decode[[]AuditEntryDTO](t, rec)
	assert.NotEmpty(t, trail)
	for _, entry := range trail {
		assert.Equal(t, "user-1", entry.ActorID)
	}
}

func TestAPI_MissingReceiptSurfacesInSummary(t *testing.T) {
	router := newTestRouter()
	programID, lineID := setupActiveProgram(t, router)

	rec := do(t, router, http.MethodPost, "/api/programs/"+programID+"/transactions", CreateTransactionRequest{
		Type:        string(budget.TxExpense),
		Date:        "2026-03-05",
		Amount:      "200.00",
		Allocations: []AllocationRequest{{LineID: lineID, Amount: "200.00"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/api/programs/"+programID+"/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[SummaryDTO](t, rec)
	require.Len(t, summary.MissingReceipts, 1, "unreceipted expense is flagged")
}

func TestAPI_ValidateAllocationsDryRun(t *testing.T) {
	router := newTestRouter()
	programID, lineID := setupActiveProgram(t, router)

	rec := do(t, router, http.MethodPost, "/api/programs/"+programID+"/validate", ValidateAllocationsRequest{
		Allocations: []AllocationRequest{{LineID: lineID, Amount: "1500.00"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, "a dry run reports violations, it does not fail")
	result := decode[ValidationResultDTO](t, rec)
	assert.False(t, result.Valid)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, lineID, result.Violations[0].LineID)
	assert.Equal(t, "1200", result.Violations[0].Remaining)
	assert.NotEmpty(t, result.Violations[0].Message)

	rec = do(t, router, http.MethodPost, "/api/programs/"+programID+"/validate", ValidateAllocationsRequest{
		Allocations: []AllocationRequest{{LineID: lineID, Amount: "900.00"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	result = decode[ValidationResultDTO](t, rec)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Violations)
}

func TestAPI_MemberLifecycle(t *testing.T) {
	router := newTestRouter()
	programID, _ := setupActiveProgram(t, router)

	rec := do(t, router, http.MethodPost, "/api/programs/"+programID+"/members", AddMemberRequest{
		UserID: "user-2",
		Role:   string(budget.RoleTreasurer),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	member := decode[MemberDTO](t, rec)
	assert.False(t, member.Approved)

	rec = do(t, router, http.MethodPost, "/api/programs/"+programID+"/members/user-2/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	member = decode[MemberDTO](t, rec)
	assert.True(t, member.Approved)

	rec = do(t, router, http.MethodGet, "/api/programs/"+programID+"/members", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	members := decode[[]MemberDTO](t, rec)
	assert.Len(t, members, 2, "creator plus the new member")

	rec = do(t, router, http.MethodDelete, "/api/programs/"+programID+"/members/user-2", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestAPI_ErrorStatusMapping(t *testing.T) {
	router := newTestRouter()
	programID, lineID := setupActiveProgram(t, router)

	t.Run("malformed amount is 400", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/api/programs/"+programID+"/transactions", CreateTransactionRequest{
			Type:   string(budget.TxIncome),
			Date:   "2026-03-02",
			Amount: "not-money",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown transaction type is 400", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/api/programs/"+programID+"/transactions", CreateTransactionRequest{
			Type:   "transfer",
			Date:   "2026-03-02",
			Amount: "10.00",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("income with allocations is 400", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/api/programs/"+programID+"/transactions", CreateTransactionRequest{
			Type:        string(budget.TxIncome),
			Date:        "2026-03-02",
			Amount:      "10.00",
			Allocations: []AllocationRequest{{LineID: lineID, Amount: "10.00"}},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing program is 404", func(t *testing.T) {
		rec := do(t, router, http.MethodGet, "/api/programs/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("duplicate member is 409", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/api/programs/"+programID+"/members", AddMemberRequest{
			UserID: "user-1",
			Role:   string(budget.RoleMember),
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("budget overshoot is 422 with violations", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/api/programs/"+programID+"/transactions", CreateTransactionRequest{
			Type:        string(budget.TxExpense),
			Date:        "2026-03-05",
			Amount:      "9999.00",
			Allocations: []AllocationRequest{{LineID: lineID, Amount: "9999.00"}},
		})
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		payload := decode[ErrorResponse](t, rec)
		require.Len(t, payload.Violations, 1)
		assert.Equal(t, lineID, payload.Violations[0].LineID)
	})

	t.Run("amount mismatch is 422", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/api/programs/"+programID+"/transactions", CreateTransactionRequest{
			Type:        string(budget.TxExpense),
			Date:        "2026-03-05",
			Amount:      "500.00",
			Allocations: []AllocationRequest{{LineID: lineID, Amount: "300.00"}},
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("structural edit on active program is 400", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/api/programs/"+programID+"/rab", CreateLineRequest{
			Name: "Late", Quantity: "1", Unit: "piece", UnitPrice: "5.00",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAPI_DeleteProgramCascades(t *testing.T) {
	router := newTestRouter()
	programID, lineID := setupActiveProgram(t, router)

	rec := do(t, router, http.MethodPost, "/api/programs/"+programID+"/transactions", CreateTransactionRequest{
		Type:        string(budget.TxExpense),
		Date:        "2026-03-05",
		Amount:      "100.00",
		Allocations: []AllocationRequest{{LineID: lineID, Amount: "100.00"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	tx := decode[TransactionDTO](t, rec)

	rec = do(t, router, http.MethodDelete, "/api/programs/"+programID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/programs/"+programID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/transactions/"+tx.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/programs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	programs := decode[[]ProgramDTO](t, rec)
	assert.Empty(t, programs)
}

func TestAPI_SeedEndpoint(t *testing.T) {
	// The demo seed drives every engine operation; a single call smoke
	// tests the whole stack.
	router := newTestRouter()

	rec := do(t, router, http.MethodPost, "/api/seed", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/api/programs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	programs := decode[[]ProgramDTO](t, rec)
	require.Len(t, programs, 1)
	assert.Equal(t, string(budget.ProgramActive), programs[0].Status)
}

func TestHealthz(t *testing.T) {
	router := newTestRouter()
	rec := do(t, router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
