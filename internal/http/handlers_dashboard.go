package http

import (
	"errors"
	"fmt"
	"net/http"

	"adsdash/internal/core"
	"adsdash/internal/log"
	"adsdash/internal/services"
)

// handleDashboardData serves the aggregated table view, cached per query.
func (s *Server) handleDashboardData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	query, err := parseDashboardQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := fmt.Sprintf("data|%s|%s|%s|%s",
		query.Tab, query.View, core.DayKey(query.Start), core.DayKey(query.End))
	if cached, ok := s.dataCache.Get(key); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	result, err := s.deps.Dashboard.Data(r.Context(), query)
	if errors.Is(err, core.ErrUnknownTab) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.ErrorContext(r.Context(), "dashboard data failed",
			log.FieldTab, query.Tab, log.FieldError, err)
		writeError(w, http.StatusInternalServerError, "aggregation failed")
		return
	}

	s.dataCache.Set(key, result)
	writeJSON(w, http.StatusOK, result)
}

// handleDashboardCharts serves the bucketed time series, cached per query.
func (s *Server) handleDashboardCharts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	base, err := parseDashboardQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	period := core.Period(r.URL.Query().Get("period"))
	if period == "" {
		period = core.PeriodDaily
	}
	if period != core.PeriodDaily && period != core.PeriodMonthly {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid period %q", period))
		return
	}

	query := services.ChartsQuery{
		Tab:    base.Tab,
		View:   base.View,
		Period: period,
		Start:  base.Start,
		End:    base.End,
	}

	key := fmt.Sprintf("charts|%s|%s|%s|%s|%s",
		query.Tab, query.View, query.Period, core.DayKey(query.Start), core.DayKey(query.End))
	if cached, ok := s.chartsCache.Get(key); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	result, err := s.deps.Dashboard.Charts(r.Context(), query)
	if errors.Is(err, core.ErrUnknownTab) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.ErrorContext(r.Context(), "dashboard charts failed",
			log.FieldTab, query.Tab, log.FieldError, err)
		writeError(w, http.StatusInternalServerError, "aggregation failed")
		return
	}

	s.chartsCache.Set(key, result)
	writeJSON(w, http.StatusOK, result)
}

func parseDashboardQuery(r *http.Request) (services.DashboardQuery, error) {
	q := r.URL.Query()

	tab := q.Get("tab")
	if tab == "" {
		return services.DashboardQuery{}, fmt.Errorf("missing tab parameter")
	}

	view := core.ViewMode(q.Get("view"))
	if view == "" {
		view = core.ViewTeam
	}
	if view != core.ViewTeam && view != core.ViewAdser {
		return services.DashboardQuery{}, fmt.Errorf("invalid view %q, want team or adser", view)
	}

	start, err := parseDateParam(r, "startDate")
	if err != nil {
		return services.DashboardQuery{}, err
	}
	end, err := parseDateParam(r, "endDate")
	if err != nil {
		return services.DashboardQuery{}, err
	}
	if end.Before(start) {
		return services.DashboardQuery{}, fmt.Errorf("end date before start date")
	}

	return services.DashboardQuery{Tab: tab, View: view, Start: start, End: end}, nil
}
