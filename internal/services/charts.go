package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"adsdash/internal/core"
)

// ChartsQuery selects what the time-series endpoint aggregates.
type ChartsQuery struct {
	Tab    string
	View   core.ViewMode
	Period core.Period
	Start  time.Time
	End    time.Time
}

// GroupMetrics is one group's derived values inside a chart bucket. Unlike
// the table view, charts sum every row without deduplication, measure
// DepositAmount as turnover, and compute DollarPerCover per covered user.
type GroupMetrics struct {
	CPM            float64 `json:"cpm"`
	CostPerDeposit float64 `json:"costPerDeposit"`
	DepositAmount  float64 `json:"depositAmount"`
	DollarPerCover float64 `json:"dollarPerCover"`
	Spend          float64 `json:"spend"`
	Deposit        float64 `json:"deposit"`
	Covers         float64 `json:"covers"`
}

// ChartPoint is one time bucket. It marshals the group metrics flattened
// beside the bucket label, which is "date" for daily buckets and "period"
// for monthly ones.
type ChartPoint struct {
	Label  string
	Daily  bool
	Groups map[string]GroupMetrics
}

func (p ChartPoint) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Groups)+1)
	key := "period"
	if p.Daily {
		key = "date"
	}
	out[key] = p.Label
	for name, metrics := range p.Groups {
		out[name] = metrics
	}
	return json.Marshal(out)
}

// ChartsResult is the full charts response.
type ChartsResult struct {
	Data         []ChartPoint `json:"data"`
	ExchangeRate float64      `json:"exchangeRate"`
	Period       core.Period  `json:"period"`
	Timestamp    time.Time    `json:"timestamp"`
}

// Charts buckets fact rows by day or month and aggregates each group inside
// each bucket. Buckets never extend past today, regardless of the requested
// end date.
func (s *DashboardService) Charts(ctx context.Context, q ChartsQuery) (ChartsResult, error) {
	teams, err := core.TeamsForTab(q.Tab)
	if err != nil {
		return ChartsResult{}, err
	}
	if q.View != core.ViewTeam && q.View != core.ViewAdser {
		return ChartsResult{}, fmt.Errorf("unknown view %q", q.View)
	}
	if q.Period != core.PeriodDaily && q.Period != core.PeriodMonthly {
		return ChartsResult{}, fmt.Errorf("unknown period %q", q.Period)
	}

	start, end := core.DayRange(q.Start, q.End)
	_, endOfToday := core.DayRange(s.now(), s.now())
	if end.After(endOfToday) {
		end = endOfToday
	}
	if end.Before(start) {
		return ChartsResult{}, fmt.Errorf("date range starts in the future")
	}

	rows, err := s.store.FactRowsInRange(ctx, teams, start, end)
	if err != nil {
		return ChartsResult{}, fmt.Errorf("load fact rows: %w", err)
	}

	rate := s.exchangeRate(ctx)

	// Sum raw metrics per (bucket, group); no dedup here.
	type bucketGroup struct{ bucket, group string }
	totals := map[bucketGroup]*core.MetricTotals{}
	for _, row := range rows {
		key := bucketGroup{bucket: bucketKey(row.Date, q.Period)}
		if q.View == core.ViewTeam {
			key.group = row.Team
		} else {
			key.group = row.Adser
		}
		t, ok := totals[key]
		if !ok {
			t = &core.MetricTotals{}
			totals[key] = t
		}
		t.Add(row.Metrics)
	}

	daily := q.Period == core.PeriodDaily
	points := make([]ChartPoint, 0, 8)
	for _, bucket := range bucketKeys(start, end, q.Period) {
		point := ChartPoint{Label: bucket, Daily: daily, Groups: map[string]GroupMetrics{}}
		for key, t := range totals {
			if key.bucket != bucket {
				continue
			}
			point.Groups[key.group] = GroupMetrics{
				CPM:            round2(safeDiv(t.Spend, t.Message)),
				CostPerDeposit: round2(safeDiv(t.Spend, t.Deposit)),
				DepositAmount:  t.Turnover,
				DollarPerCover: round2(safeDiv(safeDiv(t.Turnover, t.HasUser), rate)),
				Spend:          t.Spend,
				Deposit:        t.Deposit,
				Covers:         t.HasUser,
			}
		}
		points = append(points, point)
	}

	return ChartsResult{
		Data:         points,
		ExchangeRate: rate,
		Period:       q.Period,
		Timestamp:    s.now(),
	}, nil
}

func bucketKey(date time.Time, period core.Period) string {
	if period == core.PeriodMonthly {
		return date.UTC().Format("2006-01")
	}
	return core.DayKey(date)
}

// bucketKeys walks the inclusive [start, end] range and emits one label per
// bucket, so the series keeps empty buckets instead of skipping quiet days.
func bucketKeys(start, end time.Time, period core.Period) []string {
	var keys []string
	switch period {
	case core.PeriodMonthly:
		cur := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
		for !cur.After(end) {
			keys = append(keys, cur.Format("2006-01"))
			cur = cur.AddDate(0, 1, 0)
		}
	default:
		for cur := start; !cur.After(end); cur = cur.AddDate(0, 0, 1) {
			keys = append(keys, core.DayKey(cur))
		}
	}
	return keys
}
