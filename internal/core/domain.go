package core

import (
	"errors"
	"time"
)

const (
	ViewTeam  ViewMode = "team"
	ViewAdser ViewMode = "adser"

	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"

	// DefaultExchangeRate is the THB/USD fallback used when no stored rate
	// is available.
	DefaultExchangeRate = 35.0
)

type (
	ViewMode string

	Period string

	// FactRow is one ingested spreadsheet row. The tuple
	// (Team, Adser, Date, SheetName) identifies it uniquely; re-syncing the
	// same tuple overwrites the numeric fields in place.
	FactRow struct {
		Team      string
		Adser     string
		Date      time.Time // normalized to UTC midnight
		SheetName string

		Metrics MetricTotals

		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// MetricTotals holds every summable numeric field of a fact row. The
	// aggregation engine sums these field by field, so the set is declared
	// once here instead of living in loosely typed maps.
	MetricTotals struct {
		Message       float64 `json:"message"`
		PlanMessage   float64 `json:"planMessage"`
		Spend         float64 `json:"spend"`
		PlanSpend     float64 `json:"planSpend"`
		NetMessages   float64 `json:"netMessages"`
		LostMessages  float64 `json:"lostMessages"`
		Deposit       float64 `json:"deposit"`
		Turnover      float64 `json:"turnover"`
		TurnoverAdser float64 `json:"turnoverAdser"`
		Silent        float64 `json:"silent"`
		Duplicate     float64 `json:"duplicate"`
		HasUser       float64 `json:"hasUser"`
		Spam          float64 `json:"spam"`
		Blocked       float64 `json:"blocked"`
		Under18       float64 `json:"under18"`
		Over50        float64 `json:"over50"`
		Foreign       float64 `json:"foreign"`
	}

	// ExchangeRate is the latest known THB/USD conversion rate.
	ExchangeRate struct {
		Rate      float64   `json:"rate"`
		Timestamp time.Time `json:"timestamp"`
	}
)

var (
	ErrUnknownTab   = errors.New("unknown tab")
	ErrUnknownSheet = errors.New("unknown sheet")
	ErrNoSheetData  = errors.New("no data found in sheet")
)

// SheetNames lists the configured source sheets. Each sheet holds one team's
// operational log, so the sheet name doubles as the team name.
var SheetNames = []string{
	"สาวอ้อย",
	"อลิน",
	"อัญญาC",
	"อัญญาD",
	"สเปชบาร์",
	"บาล้าน",
	"ฟุตบอลแอร์เรีย",
	"ฟุตบอลแอร์เรีย(ฮารุ)",
}

// TabTeams maps a dashboard tab to the teams it covers.
var TabTeams = map[string][]string{
	"lottery":       {"สาวอ้อย", "อลิน", "อัญญาC", "อัญญาD"},
	"baccarat":      {"สเปชบาร์", "บาล้าน"},
	"football-area": {"ฟุตบอลแอร์เรีย", "ฟุตบอลแอร์เรีย(ฮารุ)"},
}

// TeamsForTab returns the team set for a tab, or ErrUnknownTab.
func TeamsForTab(tab string) ([]string, error) {
	teams, ok := TabTeams[tab]
	if !ok {
		return nil, ErrUnknownTab
	}
	return teams, nil
}

// Add accumulates every numeric field of o into t.
func (t *MetricTotals) Add(o MetricTotals) {
	t.Message += o.Message
	t.PlanMessage += o.PlanMessage
	t.Spend += o.Spend
	t.PlanSpend += o.PlanSpend
	t.NetMessages += o.NetMessages
	t.LostMessages += o.LostMessages
	t.Deposit += o.Deposit
	t.Turnover += o.Turnover
	t.TurnoverAdser += o.TurnoverAdser
	t.Silent += o.Silent
	t.Duplicate += o.Duplicate
	t.HasUser += o.HasUser
	t.Spam += o.Spam
	t.Blocked += o.Blocked
	t.Under18 += o.Under18
	t.Over50 += o.Over50
	t.Foreign += o.Foreign
}

// Valid reports whether the row carries both identity dimensions. Rows
// failing this gate are silently dropped by the sync engine.
func (r FactRow) Valid() bool {
	return r.Team != "" && r.Adser != ""
}

// DayRange normalizes a calendar date pair to inclusive day boundaries in
// UTC: start at 00:00:00.000, end at 23:59:59.999.
func DayRange(start, end time.Time) (time.Time, time.Time) {
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	e := time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 999_000_000, time.UTC)
	return s, e
}

// DayKey formats a date the way grouping keys and responses expect it.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
