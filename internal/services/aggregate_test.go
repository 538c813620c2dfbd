package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"adsdash/internal/core"
)

// fakeFactStore serves canned rows, filtered the way the SQLite query
// would: by team and inclusive date range, ordered as stored.
type fakeFactStore struct {
	rows    []core.FactRow
	rate    core.ExchangeRate
	rateErr error
}

func (f *fakeFactStore) FactRowsInRange(_ context.Context, teams []string, start, end time.Time) ([]core.FactRow, error) {
	want := map[string]bool{}
	for _, t := range teams {
		want[t] = true
	}
	var out []core.FactRow
	for _, r := range f.rows {
		if want[r.Team] && !r.Date.Before(start) && !r.Date.After(end) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeFactStore) LatestExchangeRate(_ context.Context) (core.ExchangeRate, error) {
	if f.rateErr != nil {
		return core.ExchangeRate{}, f.rateErr
	}
	return f.rate, nil
}

func factRow(team, adser string, date time.Time, m core.MetricTotals) core.FactRow {
	return core.FactRow{Team: team, Adser: adser, Date: date, SheetName: team, Metrics: m}
}

func day(d int) time.Time {
	return time.Date(2025, 5, d, 0, 0, 0, 0, time.UTC)
}

func testDashboard(store FactStore, now time.Time) *DashboardService {
	return NewDashboardService(store, nil, WithDashboardClock(func() time.Time { return now }))
}

func TestDataTeamViewDedupsByTeamAdser(t *testing.T) {
	store := &fakeFactStore{
		rows: []core.FactRow{
			// Same (team, adser) on two days: only the first-seen row counts.
			factRow("สเปชบาร์", "alice", day(20), core.MetricTotals{Spend: 100, Message: 10}),
			factRow("สเปชบาร์", "alice", day(21), core.MetricTotals{Spend: 900, Message: 90}),
			factRow("สเปชบาร์", "bob", day(20), core.MetricTotals{Spend: 50, Message: 5}),
			factRow("บาล้าน", "alice", day(20), core.MetricTotals{Spend: 30, Message: 3}),
		},
		rate: core.ExchangeRate{Rate: 35},
	}
	svc := testDashboard(store, day(25))

	result, err := svc.Data(context.Background(), DashboardQuery{
		Tab: "baccarat", View: core.ViewTeam, Start: day(19), End: day(22),
	})
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	if result.Count != 2 {
		t.Fatalf("count = %d, want 2 teams", result.Count)
	}
	if result.Data[0].Group != "สเปชบาร์" {
		t.Errorf("first group = %q", result.Data[0].Group)
	}
	// 100 (alice day 20) + 50 (bob); alice day 21 is deduped away.
	if got := result.Data[0].Spend; got != 150 {
		t.Errorf("team spend = %v, want 150", got)
	}
	if got := result.Data[1].Spend; got != 30 {
		t.Errorf("second team spend = %v, want 30", got)
	}
}

func TestDataAdserViewDedupsByAdserDate(t *testing.T) {
	store := &fakeFactStore{
		rows: []core.FactRow{
			// Same adser, same day, two teams: the second team's row is
			// deduped away but the adser keeps a (team)-qualified label.
			factRow("สเปชบาร์", "alice", day(20), core.MetricTotals{Spend: 100}),
			factRow("บาล้าน", "alice", day(20), core.MetricTotals{Spend: 900}),
			factRow("สเปชบาร์", "alice", day(21), core.MetricTotals{Spend: 40}),
		},
		rate: core.ExchangeRate{Rate: 35},
	}
	svc := testDashboard(store, day(25))

	result, err := svc.Data(context.Background(), DashboardQuery{
		Tab: "baccarat", View: core.ViewAdser, Start: day(19), End: day(22),
	})
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	if result.Count != 1 {
		t.Fatalf("count = %d, want 1 group: %+v", result.Count, result.Data)
	}
	if result.Data[0].Group != "alice (สเปชบาร์)" {
		t.Errorf("group = %q, want adser (team) label", result.Data[0].Group)
	}
	// Day 20 first-seen (100) plus day 21 (40); the 900 row is a duplicate
	// of (alice, day 20).
	if got := result.Data[0].Spend; got != 140 {
		t.Errorf("spend = %v, want 140", got)
	}
}

func TestDataDerivedRatios(t *testing.T) {
	store := &fakeFactStore{
		rows: []core.FactRow{
			factRow("สเปชบาร์", "alice", day(20), core.MetricTotals{
				Spend: 100, Message: 3, Deposit: 7, TurnoverAdser: 7000,
			}),
		},
		rate: core.ExchangeRate{Rate: 35},
	}
	svc := testDashboard(store, day(25))

	result, err := svc.Data(context.Background(), DashboardQuery{
		Tab: "baccarat", View: core.ViewTeam, Start: day(20), End: day(20),
	})
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	g := result.Data[0]
	if g.CPM != 33.33 {
		t.Errorf("cpm = %v, want 33.33", g.CPM)
	}
	if g.CostPerDeposit != 14.29 {
		t.Errorf("costPerDeposit = %v, want 14.29", g.CostPerDeposit)
	}
	// (7000 / 35) / 100 = 2.0
	if g.DollarPerCover != 2 {
		t.Errorf("dollarPerCover = %v, want 2", g.DollarPerCover)
	}
}

func TestDataZeroDenominators(t *testing.T) {
	store := &fakeFactStore{
		rows: []core.FactRow{
			factRow("สเปชบาร์", "alice", day(20), core.MetricTotals{TurnoverAdser: 500}),
		},
		rate: core.ExchangeRate{Rate: 35},
	}
	svc := testDashboard(store, day(25))

	result, err := svc.Data(context.Background(), DashboardQuery{
		Tab: "baccarat", View: core.ViewTeam, Start: day(20), End: day(20),
	})
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	g := result.Data[0]
	if g.CPM != 0 || g.CostPerDeposit != 0 || g.DollarPerCover != 0 {
		t.Errorf("zero denominators should yield zero ratios, got %+v", g)
	}
}

func TestDataExchangeRateFallback(t *testing.T) {
	store := &fakeFactStore{rateErr: sql.ErrNoRows}
	svc := testDashboard(store, day(25))

	result, err := svc.Data(context.Background(), DashboardQuery{
		Tab: "baccarat", View: core.ViewTeam, Start: day(20), End: day(20),
	})
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	if result.ExchangeRate != core.DefaultExchangeRate {
		t.Errorf("rate = %v, want default %v", result.ExchangeRate, core.DefaultExchangeRate)
	}
}

func TestDataRejectsBadQuery(t *testing.T) {
	svc := testDashboard(&fakeFactStore{}, day(25))

	_, err := svc.Data(context.Background(), DashboardQuery{
		Tab: "poker", View: core.ViewTeam, Start: day(20), End: day(20),
	})
	if !errors.Is(err, core.ErrUnknownTab) {
		t.Errorf("unknown tab: err = %v", err)
	}

	_, err = svc.Data(context.Background(), DashboardQuery{
		Tab: "baccarat", View: "pivot", Start: day(20), End: day(20),
	})
	if err == nil {
		t.Error("unknown view should be rejected")
	}
}
