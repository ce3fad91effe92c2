package http

import (
	"fmt"
	"net/http"

	"finlens/internal/core"
	"finlens/internal/log"
)

type putSalaryRequest struct {
	Month  string      `json:"month"`
	Amount *core.Money `json:"amount"`
}

type salaryResponse struct {
	Month  string     `json:"month"`
	Amount core.Money `json:"amount"`
}

func (s *Server) handleGetSalary(w http.ResponseWriter, r *http.Request) {
	const msg = "Error reading salary"
	user, err := userFromRequest(r)
	if err != nil {
		fail(r.Context(), w, err, log.OpRead, msg, "")
		return
	}
	month, err := insightMonth(r)
	if err != nil {
		fail(r.Context(), w, err, log.OpRead, msg, user)
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()
	view, err := s.svc.Salary.Lookup(ctx, user, month)
	if err != nil {
		fail(ctx, w, err, log.OpRead, msg, user)
		return
	}
	NewJSONResponse().Body(view).Write(w)
}

// handlePutSalary replaces the salary for one month. The month comes from
// the body, falling back to ?month=.
func (s *Server) handlePutSalary(w http.ResponseWriter, r *http.Request) {
	const msg = "Error saving salary"
	user, err := userFromRequest(r)
	if err != nil {
		fail(r.Context(), w, err, log.OpUpdate, msg, "")
		return
	}
	var req putSalaryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(r.Context(), w, err, log.OpUpdate, msg, user)
		return
	}
	if req.Month == "" {
		req.Month = r.URL.Query().Get("month")
	}
	month, err := core.ParseMonth(req.Month)
	if err != nil {
		fail(r.Context(), w, err, log.OpUpdate, msg, user)
		return
	}
	if req.Amount == nil {
		fail(r.Context(), w, fmt.Errorf("%w: amount required", core.ErrInvalidAmount), log.OpUpdate, msg, user)
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()
	saved, err := s.svc.Salary.Set(ctx, user, month, *req.Amount)
	if err != nil {
		fail(ctx, w, err, log.OpUpdate, msg, user)
		return
	}
	NewJSONResponse().Body(salaryResponse{Month: saved.Month.MonthKey(), Amount: saved.Amount}).Write(w)
}
