package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"adsdash/internal/core"

	_ "modernc.org/sqlite"
)

// SQLiteRepository is the fact store and the auth store. All mutation of
// fact rows goes through the natural-key upsert, which is what makes a sync
// run idempotent.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite takes one writer at a time; a single pooled connection makes
	// concurrent upserts queue instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

const factColumns = `team, adser, date, sheet_name,
	message, plan_message, spend, plan_spend, net_messages, lost_messages,
	deposit, turnover, turnover_adser, silent, duplicate, has_user, spam,
	blocked, under18, over50, foreign_count, created_at, updated_at`

// UpsertFactRow writes one fact row keyed by (team, adser, date, sheet_name).
// An existing key has its numeric fields overwritten and updated_at bumped; a
// new key is inserted with created_at == updated_at. The returned flag is
// true when the write created the row, decided by comparing the two
// timestamps after the write.
func (r *SQLiteRepository) UpsertFactRow(ctx context.Context, row core.FactRow) (bool, error) {
	nowNs := r.now().UnixNano()
	m := row.Metrics

	var createdAt, updatedAt int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO fact_rows (`+factColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (team, adser, date, sheet_name) DO UPDATE SET
			message = excluded.message,
			plan_message = excluded.plan_message,
			spend = excluded.spend,
			plan_spend = excluded.plan_spend,
			net_messages = excluded.net_messages,
			lost_messages = excluded.lost_messages,
			deposit = excluded.deposit,
			turnover = excluded.turnover,
			turnover_adser = excluded.turnover_adser,
			silent = excluded.silent,
			duplicate = excluded.duplicate,
			has_user = excluded.has_user,
			spam = excluded.spam,
			blocked = excluded.blocked,
			under18 = excluded.under18,
			over50 = excluded.over50,
			foreign_count = excluded.foreign_count,
			updated_at = excluded.updated_at
		RETURNING created_at, updated_at`,
		row.Team, row.Adser, core.DayKey(row.Date), row.SheetName,
		m.Message, m.PlanMessage, m.Spend, m.PlanSpend, m.NetMessages, m.LostMessages,
		m.Deposit, m.Turnover, m.TurnoverAdser, m.Silent, m.Duplicate, m.HasUser, m.Spam,
		m.Blocked, m.Under18, m.Over50, m.Foreign, nowNs, nowNs,
	).Scan(&createdAt, &updatedAt)
	if err != nil {
		return false, fmt.Errorf("upsert fact row (%s/%s/%s/%s): %w",
			row.Team, row.Adser, core.DayKey(row.Date), row.SheetName, err)
	}

	return createdAt == updatedAt, nil
}

// FactRowsInRange returns fact rows for the teams whose date falls inside
// [start, end], ordered by team then date. The inclusive day boundaries come
// from core.DayRange; dates are stored day-granular so the comparison happens
// on day keys.
func (r *SQLiteRepository) FactRowsInRange(ctx context.Context, teams []string, start, end time.Time) ([]core.FactRow, error) {
	if len(teams) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(teams))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(teams)+2)
	for _, t := range teams {
		args = append(args, t)
	}
	args = append(args, core.DayKey(start), core.DayKey(end))

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+factColumns+`
		FROM fact_rows
		WHERE team IN (`+placeholders+`) AND date >= ? AND date <= ?
		ORDER BY team ASC, date ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query fact rows: %w", err)
	}
	defer rows.Close()

	var out []core.FactRow
	for rows.Next() {
		fr, err := scanFactRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fr)
	}
	return out, rows.Err()
}

func scanFactRow(rows *sql.Rows) (core.FactRow, error) {
	var fr core.FactRow
	var date string
	var createdAt, updatedAt int64
	m := &fr.Metrics
	if err := rows.Scan(
		&fr.Team, &fr.Adser, &date, &fr.SheetName,
		&m.Message, &m.PlanMessage, &m.Spend, &m.PlanSpend, &m.NetMessages, &m.LostMessages,
		&m.Deposit, &m.Turnover, &m.TurnoverAdser, &m.Silent, &m.Duplicate, &m.HasUser, &m.Spam,
		&m.Blocked, &m.Under18, &m.Over50, &m.Foreign, &createdAt, &updatedAt,
	); err != nil {
		return core.FactRow{}, fmt.Errorf("scan fact row: %w", err)
	}

	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return core.FactRow{}, fmt.Errorf("parse stored date %q: %w", date, err)
	}
	fr.Date = d.UTC()
	fr.CreatedAt = time.Unix(0, createdAt).UTC()
	fr.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return fr, nil
}

// SheetStatus reports the stored row count and the most recent update time
// for one sheet. A sheet with no rows yields (0, zero time).
func (r *SQLiteRepository) SheetStatus(ctx context.Context, sheetName string) (int64, time.Time, error) {
	var count int64
	var last sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MAX(updated_at) FROM fact_rows WHERE sheet_name = ?`,
		sheetName,
	).Scan(&count, &last)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("sheet status %s: %w", sheetName, err)
	}

	var lastUpdated time.Time
	if last.Valid {
		lastUpdated = time.Unix(0, last.Int64).UTC()
	}
	return count, lastUpdated, nil
}

// LatestExchangeRate returns the most recently timestamped rate.
// sql.ErrNoRows surfaces unchanged when the table is empty; callers decide
// the fallback.
func (r *SQLiteRepository) LatestExchangeRate(ctx context.Context) (core.ExchangeRate, error) {
	var rate float64
	var ts int64
	err := r.db.QueryRowContext(ctx, `
		SELECT rate, timestamp FROM exchange_rates ORDER BY timestamp DESC, id DESC LIMIT 1`,
	).Scan(&rate, &ts)
	if err != nil {
		return core.ExchangeRate{}, err
	}
	return core.ExchangeRate{Rate: rate, Timestamp: time.Unix(0, ts).UTC()}, nil
}

// InsertExchangeRate records a new rate; the latest timestamp wins on read.
func (r *SQLiteRepository) InsertExchangeRate(ctx context.Context, rate float64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO exchange_rates (rate, timestamp) VALUES (?, ?)`,
		rate, r.now().UnixNano())
	if err != nil {
		return fmt.Errorf("insert exchange rate: %w", err)
	}
	return nil
}

// SystemStats holds table-level counters for the admin stats endpoint.
type SystemStats struct {
	FactRows     int64 `json:"factRows"`
	Users        int64 `json:"users"`
	Sessions     int64 `json:"sessions"`
	ActivityLogs int64 `json:"activityLogs"`
}

func (r *SQLiteRepository) GetSystemStats(ctx context.Context) (SystemStats, error) {
	var s SystemStats
	for _, q := range []struct {
		table string
		dst   *int64
	}{
		{"fact_rows", &s.FactRows},
		{"users", &s.Users},
		{"sessions", &s.Sessions},
		{"activity_logs", &s.ActivityLogs},
	} {
		if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+q.table).Scan(q.dst); err != nil {
			return SystemStats{}, fmt.Errorf("count %s: %w", q.table, err)
		}
	}
	return s, nil
}
