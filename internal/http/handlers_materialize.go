package http

import (
	"errors"
	"net/http"

	"finlens/internal/amqp"
	"finlens/internal/log"
)

var errAsyncUnavailable = errors.New("async materialization is not configured")

type materializeResponse struct {
	WeeklyRows  int    `json:"weeklyRows"`
	MonthlyRows int    `json:"monthlyRows"`
	Total       int    `json:"total"`
	RequestID   string `json:"requestId,omitempty"`
	Queued      bool   `json:"queued"`
}

// handleMaterialize recomputes the caller's rollups. With ?async=true the
// pass is queued for the worker and 202 is returned at once.
func (s *Server) handleMaterialize(w http.ResponseWriter, r *http.Request) {
	const msg = "Error materializing rollups"
	user, err := userFromRequest(r)
	if err != nil {
		fail(r.Context(), w, err, log.OpMaterialize, msg, "")
		return
	}

	if parseBool(r.URL.Query().Get("async")) {
		if s.svc.Publisher == nil {
			NewJSONResponse().Status(http.StatusServiceUnavailable).Message(errAsyncUnavailable.Error()).Write(w)
			return
		}
		req := amqp.NewMaterializeRequest(user)
		ctx, cancel := s.queryContext(r)
		defer cancel()
		if err := s.svc.Publisher.PublishMaterializeRequest(ctx, req); err != nil {
			if errors.Is(err, amqp.ErrCircuitOpen) {
				NewJSONResponse().Status(http.StatusServiceUnavailable).Header("Retry-After", "30").Message("Queue temporarily unavailable").Write(w)
				return
			}
			fail(ctx, w, err, log.OpMaterialize, msg, user)
			return
		}
		NewJSONResponse().Status(http.StatusAccepted).Body(materializeResponse{RequestID: req.RequestID, Queued: true}).Write(w)
		return
	}

	if s.svc.Runner == nil {
		NewJSONResponse().Status(http.StatusServiceUnavailable).Message("Materialization is not configured").Write(w)
		return
	}
	ctx, cancel := s.queryContext(r)
	defer cancel()
	res, err := s.svc.Runner.RunOnce(ctx, user)
	if err != nil {
		fail(ctx, w, err, log.OpMaterialize, msg, user)
		return
	}
	s.invalidateRollups(user)
	NewJSONResponse().Body(materializeResponse{
		WeeklyRows:  res.WeeklyRows,
		MonthlyRows: res.MonthlyRows,
		Total:       res.Total(),
	}).Write(w)
}
