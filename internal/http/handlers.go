package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"splitledger/internal/core"
	"splitledger/internal/log"
	"splitledger/internal/middleware/trace"
	"splitledger/internal/services"
	"splitledger/internal/storage"
)

type handlers struct {
	expenses *services.ExpenseService
	balances *services.BalanceService
	store    storage.Store
}

type splitSpecRequest struct {
	UserID     int64    `json:"user_id"`
	Amount     *float64 `json:"amount,omitempty"`
	Percentage *float64 `json:"percentage,omitempty"`
}

type createExpenseRequest struct {
	PaidByUserID int64              `json:"paid_by_user_id"`
	Description  string             `json:"description"`
	Amount       float64            `json:"amount"`
	Method       string             `json:"split_method"`
	Splits       []splitSpecRequest `json:"splits,omitempty"`
}

type expenseResponse struct {
	ID           int64           `json:"id"`
	GroupID      int64           `json:"group_id"`
	PaidByUserID int64           `json:"paid_by_user_id"`
	Description  string          `json:"description"`
	Amount       float64         `json:"amount"`
	Method       string          `json:"split_method"`
	CreatedAt    string          `json:"created_at"`
	Splits       []splitResponse `json:"splits,omitempty"`
}

type splitResponse struct {
	UserID     int64    `json:"user_id"`
	Amount     float64  `json:"amount"`
	Percentage *float64 `json:"percentage,omitempty"`
}

type balanceResponse struct {
	DebtorID   int64   `json:"debtor_id"`
	CreditorID int64   `json:"creditor_id"`
	Amount     float64 `json:"amount"`
}

type settlementResponse struct {
	FromUserID  int64   `json:"from_user_id"`
	ToUserID    int64   `json:"to_user_id"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
}

type summaryResponse struct {
	UserID     int64   `json:"user_id"`
	TotalOwed  float64 `json:"total_owed"`
	TotalOwing float64 `json:"total_owing"`
	Net        float64 `json:"net"`
}

func (h *handlers) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, r, "groupID")
	if !ok {
		return
	}

	var req createExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	specs := make([]core.SplitSpec, 0, len(req.Splits))
	for _, s := range req.Splits {
		specs = append(specs, core.SplitSpec{
			UserID:     s.UserID,
			Amount:     s.Amount,
			Percentage: s.Percentage,
		})
	}

	expense, err := h.expenses.Create(r.Context(), services.CreateExpenseRequest{
		GroupID:      groupID,
		PaidByUserID: req.PaidByUserID,
		Description:  req.Description,
		Amount:       req.Amount,
		Method:       core.SplitMethod(req.Method),
		Splits:       specs,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toExpenseResponse(*expense, nil))
}

func (h *handlers) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, r, "groupID")
	if !ok {
		return
	}
	expenses, err := h.expenses.ListGroup(r.Context(), groupID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	out := make([]expenseResponse, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, toExpenseResponse(e, nil))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	expenseID, ok := pathID(w, r, "expenseID")
	if !ok {
		return
	}
	if err := h.expenses.Delete(r.Context(), expenseID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) handleGroupBalances(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, r, "groupID")
	if !ok {
		return
	}
	edges, err := h.balances.GroupBalances(r.Context(), groupID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	out := make([]balanceResponse, 0, len(edges))
	for _, e := range edges {
		out = append(out, balanceResponse{
			DebtorID:   e.DebtorID,
			CreditorID: e.CreditorID,
			Amount:     e.Amount,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) handleSettlements(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, r, "groupID")
	if !ok {
		return
	}
	plan, err := h.balances.SettlementPlan(r.Context(), groupID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	out := make([]settlementResponse, 0, len(plan))
	for _, s := range plan {
		out = append(out, settlementResponse{
			FromUserID:  s.FromUserID,
			ToUserID:    s.ToUserID,
			Amount:      s.Amount,
			Description: s.Description,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) handleUserBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	summary, err := h.balances.UserSummary(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{
		UserID:     summary.UserID,
		TotalOwed:  summary.TotalOwed,
		TotalOwing: summary.TotalOwing,
		Net:        summary.Net,
	})
}

// writeServiceError maps domain errors to HTTP status codes.
func (h *handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidSplit):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, core.ErrGroupNotFound),
		errors.Is(err, core.ErrUserNotFound),
		errors.Is(err, core.ErrExpenseNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		logger := log.FromContext(r.Context()).WithComponent(log.ComponentHTTP)
		logger.ErrorContext(r.Context(), "Request failed",
			log.FieldRequestID, trace.GetRequestID(r.Context()),
			log.FieldPath, r.URL.Path,
			log.FieldError, err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func toExpenseResponse(e core.Expense, splits []core.ExpenseSplit) expenseResponse {
	resp := expenseResponse{
		ID:           e.ID,
		GroupID:      e.GroupID,
		PaidByUserID: e.PaidByUserID,
		Description:  e.Description,
		Amount:       e.Amount,
		Method:       string(e.Method),
		CreatedAt:    e.CreatedAt.UTC().Format(time.RFC3339),
	}
	for _, s := range splits {
		resp.Splits = append(resp.Splits, splitResponse{
			UserID:     s.UserID,
			Amount:     s.Amount,
			Percentage: s.Percentage,
		})
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
