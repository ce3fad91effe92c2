package http

import (
	"context"
	"net/http"

	"finlens/internal/core"
	"finlens/internal/log"
)

// fail logs non-client errors and writes the mapped response.
func fail(ctx context.Context, w http.ResponseWriter, err error, op, msg string, userID string) {
	if statusFor(err) == http.StatusInternalServerError {
		log.LogError(ctx, msg, err, op, log.NewFields().WithUser(userID))
	}
	ErrorResponse(err, msg).Write(w)
}

func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	user, err := userFromRequest(r)
	if err != nil {
		fail(r.Context(), w, err, log.OpQuery, "Error building heatmap", "")
		return
	}
	year, err := parseYear(r.URL.Query())
	if err != nil {
		fail(r.Context(), w, err, log.OpQuery, "Error building heatmap", user)
		return
	}

	key := cacheKey("heatmap", user, itoa(year))
	if year != 0 {
		if hm, ok := s.heatmapCache.Get(key); ok {
			NewJSONResponse().Header("X-Cache", "HIT").Body(hm).Write(w)
			return
		}
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()
	hm, err := s.svc.Query.Heatmap(ctx, user, year)
	if err != nil {
		fail(ctx, w, err, log.OpQuery, "Error building heatmap", user)
		return
	}
	s.heatmapCache.Set(cacheKey("heatmap", user, itoa(hm.Year)), hm)
	NewJSONResponse().Body(hm).Write(w)
}

func (s *Server) handleWaterfall(w http.ResponseWriter, r *http.Request) {
	const msg = "Error building waterfall"
	user, err := userFromRequest(r)
	if err != nil {
		fail(r.Context(), w, err, log.OpQuery, msg, "")
		return
	}
	q := r.URL.Query()
	start, err := parseMonthParam(q, "start")
	if err != nil {
		fail(r.Context(), w, err, log.OpQuery, msg, user)
		return
	}
	end, err := parseMonthParam(q, "end")
	if err != nil {
		fail(r.Context(), w, err, log.OpQuery, msg, user)
		return
	}

	// open-ended windows move with the clock, so only pinned ones are cached
	cacheable := !start.IsZero() && !end.IsZero()
	key := cacheKey("waterfall", user, start.MonthKey(), end.MonthKey())
	if cacheable {
		if wf, ok := s.waterfallCache.Get(key); ok {
			NewJSONResponse().Header("X-Cache", "HIT").Body(wf).Write(w)
			return
		}
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()
	wf, err := s.svc.Query.Waterfall(ctx, user, start, end)
	if err != nil {
		fail(ctx, w, err, log.OpQuery, msg, user)
		return
	}
	if cacheable {
		s.waterfallCache.Set(key, wf)
	}
	NewJSONResponse().Body(wf).Write(w)
}

func (s *Server) handleRollups(w http.ResponseWriter, r *http.Request) {
	const msg = "Error reading rollups"
	user, err := userFromRequest(r)
	if err != nil {
		fail(r.Context(), w, err, log.OpRead, msg, "")
		return
	}
	rng, err := parseRange(r.URL.Query())
	if err != nil {
		fail(r.Context(), w, err, log.OpRead, msg, user)
		return
	}

	key := cacheKey("rollups", user, rng.Start.String(), rng.End.String())
	if series, ok := s.seriesCache.Get(key); ok {
		NewJSONResponse().Header("X-Cache", "HIT").Body(series).Write(w)
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()
	series, err := s.svc.Query.WeeklySeries(ctx, user, rng)
	if err != nil {
		fail(ctx, w, err, log.OpRead, msg, user)
		return
	}
	s.seriesCache.Set(key, series)
	NewJSONResponse().Body(series).Write(w)
}

func (s *Server) handleKPI(w http.ResponseWriter, r *http.Request) {
	const msg = "Error computing KPI"
	user, err := userFromRequest(r)
	if err != nil {
		fail(r.Context(), w, err, log.OpQuery, msg, "")
		return
	}
	filters, err := ParseFilters(r.URL.Query())
	if err != nil {
		fail(r.Context(), w, err, log.OpQuery, msg, user)
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()
	kpi, err := s.svc.Query.KPI(ctx, user, filters)
	if err != nil {
		fail(ctx, w, err, log.OpQuery, msg, user)
		return
	}
	NewJSONResponse().Body(kpi).Write(w)
}

// insightMonth reads ?month= and defaults to the current month.
func insightMonth(r *http.Request) (core.Date, error) {
	m, err := parseMonthParam(r.URL.Query(), "month")
	if err != nil {
		return core.Date{}, err
	}
	if m.IsZero() {
		m = core.DateOf(now()).MonthStart()
	}
	return m, nil
}

func (s *Server) handleMonthlyInsights(w http.ResponseWriter, r *http.Request) {
	const msg = "Error building insights"
	s.serveMonthly(w, r, msg, func(ctx context.Context, user string, month core.Date) (any, error) {
		return s.svc.Insights.MonthlyInsights(ctx, user, month)
	})
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	const msg = "Error building overview"
	s.serveMonthly(w, r, msg, func(ctx context.Context, user string, month core.Date) (any, error) {
		return s.svc.Insights.Overview(ctx, user, month)
	})
}

func (s *Server) serveMonthly(w http.ResponseWriter, r *http.Request, msg string, fn func(context.Context, string, core.Date) (any, error)) {
	user, err := userFromRequest(r)
	if err != nil {
		fail(r.Context(), w, err, log.OpQuery, msg, "")
		return
	}
	month, err := insightMonth(r)
	if err != nil {
		fail(r.Context(), w, err, log.OpQuery, msg, user)
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()
	out, err := fn(ctx, user, month)
	if err != nil {
		fail(ctx, w, err, log.OpQuery, msg, user)
		return
	}
	NewJSONResponse().Body(out).Write(w)
}
