// Package services holds the orchestration layer between HTTP handlers,
// the sheet source and the repository.
package services

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"adsdash/internal/core"
	"adsdash/internal/log"
	"adsdash/internal/metrics"
	"adsdash/internal/sheets"
)

// upsertBatchSize bounds how many rows are written concurrently per sheet.
const upsertBatchSize = 50

// SyncStore is the write-side persistence surface for sheet syncs.
type SyncStore interface {
	UpsertFactRow(ctx context.Context, row core.FactRow) (inserted bool, err error)
	SheetStatus(ctx context.Context, sheetName string) (count int64, lastUpdated time.Time, err error)
}

// ReportPublisher receives the report of a finished sync run, e.g. to fan
// it out over AMQP. Publishing is best-effort and never fails the sync.
type ReportPublisher interface {
	PublishSyncReport(ctx context.Context, report SyncReport) error
}

// SheetSuccess summarizes one successfully synced sheet.
type SheetSuccess struct {
	Sheet    string `json:"sheetName"`
	Records  int    `json:"recordsProcessed"`
	Inserted int    `json:"inserted"`
	Updated  int    `json:"updated"`
}

// SheetFailure names a sheet that could not be synced and why. One failed
// sheet never aborts the others.
type SheetFailure struct {
	Sheet string `json:"sheetName"`
	Error string `json:"error"`
}

// SyncReport is the outcome of a full sync run across all sheets.
type SyncReport struct {
	Success       []SheetSuccess `json:"success"`
	Failed        []SheetFailure `json:"failed"`
	TotalRecords  int            `json:"totalRecords"`
	TotalInserted int            `json:"totalInserted"`
	TotalUpdated  int            `json:"totalUpdated"`
	Timestamp     time.Time      `json:"timestamp"`
}

// SheetState is the read-only status of one sheet's stored data.
type SheetState struct {
	Sheet       string     `json:"sheetName"`
	RowCount    int64      `json:"rowCount"`
	LastUpdated *time.Time `json:"lastUpdated"`
}

// SyncService pulls rows from the sheet source and upserts them keyed by
// (team, adser, date, sheet), so re-running a sync converges instead of
// duplicating.
type SyncService struct {
	source    sheets.RowSource
	store     SyncStore
	sheets    []string
	publisher ReportPublisher
	metrics   *metrics.Metrics
	logger    *log.Logger
	now       func() time.Time
}

// SyncOption configures optional collaborators on a SyncService.
type SyncOption func(*SyncService)

func WithReportPublisher(p ReportPublisher) SyncOption {
	return func(s *SyncService) { s.publisher = p }
}

func WithSyncMetrics(m *metrics.Metrics) SyncOption {
	return func(s *SyncService) { s.metrics = m }
}

func WithSyncClock(now func() time.Time) SyncOption {
	return func(s *SyncService) { s.now = now }
}

// NewSyncService builds a sync service over the given sheet names. A nil or
// empty sheet list falls back to the full known set.
func NewSyncService(source sheets.RowSource, store SyncStore, sheetNames []string, logger *log.Logger, opts ...SyncOption) *SyncService {
	if len(sheetNames) == 0 {
		sheetNames = core.SheetNames
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	s := &SyncService{
		source: source,
		store:  store,
		sheets: sheetNames,
		logger: logger.WithComponent(log.ComponentSync),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run syncs the configured sheets and reports per-sheet outcomes. A
// non-empty only list narrows the run to those sheets; unknown names are
// reported as failures. Sheets fail independently; Run itself only errors
// when the context is done.
func (s *SyncService) Run(ctx context.Context, only ...string) (SyncReport, error) {
	started := s.now()
	report := SyncReport{
		Success:   []SheetSuccess{},
		Failed:    []SheetFailure{},
		Timestamp: started,
	}

	targets := s.sheets
	if len(only) > 0 {
		targets = only
	}
	for _, sheet := range targets {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !s.knownSheet(sheet) {
			report.Failed = append(report.Failed, SheetFailure{Sheet: sheet, Error: core.ErrUnknownSheet.Error()})
			s.countSheet(sheet, "failure")
			continue
		}

		outcome, err := s.syncSheet(ctx, sheet)
		if err != nil {
			s.logger.ErrorContext(ctx, "sheet sync failed",
				log.FieldSheet, sheet, log.FieldError, err)
			report.Failed = append(report.Failed, SheetFailure{Sheet: sheet, Error: err.Error()})
			s.countSheet(sheet, "failure")
			continue
		}

		report.Success = append(report.Success, outcome)
		report.TotalRecords += outcome.Records
		report.TotalInserted += outcome.Inserted
		report.TotalUpdated += outcome.Updated
		s.countSheet(sheet, "success")
		s.logger.InfoContext(ctx, "sheet synced",
			log.FieldSheet, sheet,
			log.FieldRows, outcome.Records,
			log.FieldInserted, outcome.Inserted,
			log.FieldUpdated, outcome.Updated)
	}

	if s.metrics != nil {
		s.metrics.SyncDuration.Observe(s.now().Sub(started).Seconds())
	}
	if s.publisher != nil {
		if err := s.publisher.PublishSyncReport(ctx, report); err != nil {
			s.logger.WarnContext(ctx, "failed to publish sync report", log.FieldError, err)
		}
	}

	return report, nil
}

func (s *SyncService) syncSheet(ctx context.Context, sheet string) (SheetSuccess, error) {
	cells, err := s.source.FetchRows(ctx, sheet)
	if err != nil {
		return SheetSuccess{}, err
	}
	if len(cells) == 0 {
		return SheetSuccess{}, core.ErrNoSheetData
	}

	rows := make([]core.FactRow, 0, len(cells))
	for _, cell := range cells {
		row := core.ParseSheetRow(cell, sheet)
		if !row.Valid() {
			continue
		}
		rows = append(rows, row)
	}

	outcome := SheetSuccess{Sheet: sheet}
	for start := 0; start < len(rows); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(rows))
		batch := rows[start:end]

		// Each goroutine records its outcome by index and returns nil, so
		// one bad row never cancels the rest of the batch.
		inserted := make([]bool, len(batch))
		failed := make([]error, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		for i, row := range batch {
			g.Go(func() error {
				ok, err := s.store.UpsertFactRow(gctx, row)
				if err != nil {
					failed[i] = err
					return nil
				}
				inserted[i] = ok
				return nil
			})
		}
		_ = g.Wait()

		for i := range batch {
			if failed[i] != nil {
				s.logger.WarnContext(ctx, "row upsert failed",
					log.FieldSheet, sheet,
					log.FieldAdser, batch[i].Adser,
					log.FieldError, failed[i])
				if s.metrics != nil {
					s.metrics.RowsFailed.Inc()
				}
				continue
			}
			outcome.Records++
			if inserted[i] {
				outcome.Inserted++
				if s.metrics != nil {
					s.metrics.RowsInserted.Inc()
				}
			} else {
				outcome.Updated++
				if s.metrics != nil {
					s.metrics.RowsUpdated.Inc()
				}
			}
		}
	}

	return outcome, nil
}

// Status reports row counts and freshness per configured sheet without
// touching the sheet source.
func (s *SyncService) Status(ctx context.Context) ([]SheetState, error) {
	out := make([]SheetState, 0, len(s.sheets))
	for _, sheet := range s.sheets {
		count, last, err := s.store.SheetStatus(ctx, sheet)
		if err != nil {
			return nil, err
		}
		state := SheetState{Sheet: sheet, RowCount: count}
		if !last.IsZero() {
			state.LastUpdated = &last
		}
		out = append(out, state)
	}
	return out, nil
}

func (s *SyncService) knownSheet(name string) bool {
	for _, sheet := range s.sheets {
		if sheet == name {
			return true
		}
	}
	return false
}

func (s *SyncService) countSheet(sheet, result string) {
	if s.metrics != nil {
		s.metrics.SheetSyncs.WithLabelValues(sheet, result).Inc()
	}
}
