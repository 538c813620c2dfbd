package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"adsdash/internal/core"
	"adsdash/internal/log"
)

// FactStore is the read-side persistence surface for aggregation.
type FactStore interface {
	FactRowsInRange(ctx context.Context, teams []string, start, end time.Time) ([]core.FactRow, error)
	LatestExchangeRate(ctx context.Context) (core.ExchangeRate, error)
}

// DashboardQuery selects what the dashboard table aggregates.
type DashboardQuery struct {
	Tab   string
	View  core.ViewMode
	Start time.Time
	End   time.Time
}

// GroupSummary is one aggregated table row: the group label, the summed
// metrics, and the derived ratios.
type GroupSummary struct {
	Group string `json:"group"`
	core.MetricTotals

	// CPM is spend per message, CostPerDeposit spend per deposit, both
	// rounded to 2 decimals. DollarPerCover converts adser turnover to USD
	// and relates it to spend, rounded to 4 decimals. All three report 0
	// when their denominator is 0.
	CPM            float64 `json:"cpm"`
	CostPerDeposit float64 `json:"costPerDeposit"`
	DollarPerCover float64 `json:"dollarPerCover"`
}

// DashboardResult is the full dashboard data response.
type DashboardResult struct {
	Data         []GroupSummary `json:"data"`
	ExchangeRate float64        `json:"exchangeRate"`
	Count        int            `json:"count"`
	Timestamp    time.Time      `json:"timestamp"`
	DateRange    DateRange      `json:"dateRange"`
}

// DateRange echoes the normalized day boundaries used for the query.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// DashboardService aggregates stored fact rows into the table and chart
// views.
type DashboardService struct {
	store  FactStore
	logger *log.Logger
	now    func() time.Time
}

// DashboardOption configures a DashboardService.
type DashboardOption func(*DashboardService)

func WithDashboardClock(now func() time.Time) DashboardOption {
	return func(s *DashboardService) { s.now = now }
}

func NewDashboardService(store FactStore, logger *log.Logger, opts ...DashboardOption) *DashboardService {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	s := &DashboardService{
		store:  store,
		logger: logger.WithComponent(log.ComponentAggregate),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Data aggregates fact rows for a tab into per-group summaries.
//
// The two views deduplicate differently before summing. The team view keeps
// the first row seen per (team, adser) pair and groups by team; the adser
// view keeps the first row seen per (adser, date) pair and groups by
// "adser (team)". Rows arrive ordered by team then date, so "first seen" is
// stable across calls.
func (s *DashboardService) Data(ctx context.Context, q DashboardQuery) (DashboardResult, error) {
	teams, err := core.TeamsForTab(q.Tab)
	if err != nil {
		return DashboardResult{}, err
	}
	if q.View != core.ViewTeam && q.View != core.ViewAdser {
		return DashboardResult{}, fmt.Errorf("unknown view %q", q.View)
	}

	start, end := core.DayRange(q.Start, q.End)
	rows, err := s.store.FactRowsInRange(ctx, teams, start, end)
	if err != nil {
		return DashboardResult{}, fmt.Errorf("load fact rows: %w", err)
	}

	rate := s.exchangeRate(ctx)

	groups := map[string]*core.MetricTotals{}
	var order []string
	seen := map[string]bool{}

	for _, row := range rows {
		var dedupKey, groupKey string
		switch q.View {
		case core.ViewTeam:
			dedupKey = row.Team + "\x00" + row.Adser
			groupKey = row.Team
		case core.ViewAdser:
			dedupKey = row.Adser + "\x00" + core.DayKey(row.Date)
			groupKey = fmt.Sprintf("%s (%s)", row.Adser, row.Team)
		}
		if seen[dedupKey] {
			continue
		}
		seen[dedupKey] = true

		totals, ok := groups[groupKey]
		if !ok {
			totals = &core.MetricTotals{}
			groups[groupKey] = totals
			order = append(order, groupKey)
		}
		totals.Add(row.Metrics)
	}

	data := make([]GroupSummary, 0, len(order))
	for _, key := range order {
		totals := groups[key]
		data = append(data, GroupSummary{
			Group:          key,
			MetricTotals:   *totals,
			CPM:            round2(safeDiv(totals.Spend, totals.Message)),
			CostPerDeposit: round2(safeDiv(totals.Spend, totals.Deposit)),
			DollarPerCover: round4(safeDiv(totals.TurnoverAdser/rate, totals.Spend)),
		})
	}

	return DashboardResult{
		Data:         data,
		ExchangeRate: rate,
		Count:        len(data),
		Timestamp:    s.now(),
		DateRange:    DateRange{Start: core.DayKey(start), End: core.DayKey(end)},
	}, nil
}

// exchangeRate returns the stored rate or the default when none is stored
// or the lookup fails. Rate lookup problems degrade the conversion, never
// the whole response.
func (s *DashboardService) exchangeRate(ctx context.Context) float64 {
	stored, err := s.store.LatestExchangeRate(ctx)
	if err != nil || stored.Rate <= 0 {
		return core.DefaultExchangeRate
	}
	return stored.Rate
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
