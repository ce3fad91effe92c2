package http

import (
	"net/http"
	"strings"
	"time"

	"finlens/internal/core"
	"finlens/internal/log"
)

type categorizeRequest struct {
	Text string `json:"text"`
}

type categorizeResponse struct {
	CategoryID *string `json:"categoryId"`
	Matched    bool    `json:"matched"`
}

func (s *Server) handleCategorize(w http.ResponseWriter, r *http.Request) {
	const msg = "Error categorizing text"
	user, err := userFromRequest(r)
	if err != nil {
		fail(r.Context(), w, err, log.OpCategorize, msg, "")
		return
	}
	var req categorizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(r.Context(), w, err, log.OpCategorize, msg, user)
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()
	catID, ok, err := s.svc.Categorizer.Categorize(ctx, user, req.Text)
	if err != nil {
		fail(ctx, w, err, log.OpCategorize, msg, user)
		return
	}
	resp := categorizeResponse{Matched: ok}
	if ok {
		resp.CategoryID = &catID
	}
	NewJSONResponse().Body(resp).Write(w)
}

// ruleView is the wire form of a categorization rule.
type ruleView struct {
	ID         string    `json:"id"`
	CategoryID string    `json:"categoryId"`
	Pattern    string    `json:"pattern"`
	IsRegex    bool      `json:"isRegex"`
	Priority   int       `json:"priority"`
	CreatedAt  time.Time `json:"createdAt"`
}

func viewOfRule(r core.CategoryRule) ruleView {
	return ruleView{
		ID:         r.ID,
		CategoryID: r.CategoryID,
		Pattern:    r.Pattern,
		IsRegex:    r.IsRegex,
		Priority:   r.Priority,
		CreatedAt:  r.CreatedAt,
	}
}

type createRuleRequest struct {
	CategoryID string `json:"categoryId"`
	Pattern    string `json:"pattern"`
	IsRegex    bool   `json:"isRegex"`
	Priority   *int   `json:"priority"`
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	const msg = "Error listing rules"
	user, err := userFromRequest(r)
	if err != nil {
		fail(r.Context(), w, err, log.OpList, msg, "")
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()
	list, err := s.svc.Categorizer.ListRules(ctx, user)
	if err != nil {
		fail(ctx, w, err, log.OpList, msg, user)
		return
	}
	out := make([]ruleView, 0, len(list))
	for _, rule := range list {
		out = append(out, viewOfRule(rule))
	}
	NewJSONResponse().Body(out).Write(w)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	const msg = "Error creating rule"
	user, err := userFromRequest(r)
	if err != nil {
		fail(r.Context(), w, err, log.OpCreate, msg, "")
		return
	}
	var req createRuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(r.Context(), w, err, log.OpCreate, msg, user)
		return
	}
	priority := core.DefaultRulePriority
	if req.Priority != nil {
		priority = *req.Priority
	}
	rule := core.CategoryRule{
		UserID:     user,
		CategoryID: sanitizeInput(req.CategoryID),
		Pattern:    strings.TrimSpace(req.Pattern),
		IsRegex:    req.IsRegex,
		Priority:   priority,
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()
	saved, err := s.svc.Categorizer.CreateRule(ctx, rule)
	if err != nil {
		fail(ctx, w, err, log.OpCreate, msg, user)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(viewOfRule(saved)).Write(w)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	const msg = "Error deleting rule"
	user, err := userFromRequest(r)
	if err != nil {
		fail(r.Context(), w, err, log.OpDelete, msg, "")
		return
	}
	id := sanitizeInput(r.PathValue("id"))

	ctx, cancel := s.queryContext(r)
	defer cancel()
	if err := s.svc.Categorizer.DeleteRule(ctx, user, id); err != nil {
		fail(ctx, w, err, log.OpDelete, msg, user)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}
