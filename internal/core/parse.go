package core

import (
	"strconv"
	"strings"
	"time"
)

// Fixed positional layout shared by every sheet. Column 0 is the row date,
// column 1 the adser name; everything after is numeric.
const (
	colDate = iota
	colAdser
	colMessage
	colPlanMessage
	colSpend
	colPlanSpend
	colNetMessages
	colLostMessages
	colDeposit
	colTurnover
	colTurnoverAdser
	colSilent
	colDuplicate
	colHasUser
	colSpam
	colBlocked
	colUnder18
	colOver50
	colForeign
)

// ParseSheetRow maps one raw spreadsheet row onto a FactRow candidate for the
// given sheet. The sheet name supplies both the team dimension and the
// identity component. Blank or non-numeric cells parse to zero; the function
// never fails. Callers decide usability via FactRow.Valid.
func ParseSheetRow(cells []string, sheetName string) FactRow {
	return FactRow{
		Team:      strings.TrimSpace(sheetName),
		Adser:     strings.TrimSpace(cell(cells, colAdser)),
		Date:      parseCellDate(cell(cells, colDate)),
		SheetName: strings.TrimSpace(sheetName),
		Metrics: MetricTotals{
			Message:       parseCellNumber(cell(cells, colMessage)),
			PlanMessage:   parseCellNumber(cell(cells, colPlanMessage)),
			Spend:         parseCellNumber(cell(cells, colSpend)),
			PlanSpend:     parseCellNumber(cell(cells, colPlanSpend)),
			NetMessages:   parseCellNumber(cell(cells, colNetMessages)),
			LostMessages:  parseCellNumber(cell(cells, colLostMessages)),
			Deposit:       parseCellNumber(cell(cells, colDeposit)),
			Turnover:      parseCellNumber(cell(cells, colTurnover)),
			TurnoverAdser: parseCellNumber(cell(cells, colTurnoverAdser)),
			Silent:        parseCellNumber(cell(cells, colSilent)),
			Duplicate:     parseCellNumber(cell(cells, colDuplicate)),
			HasUser:       parseCellNumber(cell(cells, colHasUser)),
			Spam:          parseCellNumber(cell(cells, colSpam)),
			Blocked:       parseCellNumber(cell(cells, colBlocked)),
			Under18:       parseCellNumber(cell(cells, colUnder18)),
			Over50:        parseCellNumber(cell(cells, colOver50)),
			Foreign:       parseCellNumber(cell(cells, colForeign)),
		},
	}
}

func cell(cells []string, idx int) string {
	if idx < 0 || idx >= len(cells) {
		return ""
	}
	return cells[idx]
}

// parseCellNumber converts a cell to a float. Thousands separators and a
// leading currency sign are tolerated; anything unparsable becomes 0.
func parseCellNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	s = strings.TrimPrefix(s, "฿")
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSuffix(s, "%")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
}

// parseCellDate parses a date cell to UTC midnight. Unparsable cells yield
// the zero time.
func parseCellDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		}
	}
	return time.Time{}
}
