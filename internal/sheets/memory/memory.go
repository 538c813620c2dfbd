package memory

import (
	"context"
	"fmt"
	"sync"
)

// Source is an in-memory RowSource used by tests and the default backend.
type Source struct {
	mu     sync.Mutex
	sheets map[string][][]string
	// errs forces FetchRows failures per sheet.
	errs map[string]error
}

func New() *Source {
	return &Source{
		sheets: make(map[string][][]string),
		errs:   make(map[string]error),
	}
}

// SetRows replaces the raw rows of a sheet.
func (s *Source) SetRows(sheetName string, rows [][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([][]string, len(rows))
	for i, r := range rows {
		copied[i] = append([]string(nil), r...)
	}
	s.sheets[sheetName] = copied
}

// FailWith makes FetchRows return err for the given sheet.
func (s *Source) FailWith(sheetName string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[sheetName] = err
}

// FetchRows returns a copy of the stored rows for the sheet. Unknown sheets
// yield an empty matrix, mirroring a sheet that exists but holds no data.
func (s *Source) FetchRows(_ context.Context, sheetName string) ([][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err, ok := s.errs[sheetName]; ok && err != nil {
		return nil, fmt.Errorf("fetch %s: %w", sheetName, err)
	}

	rows := s.sheets[sheetName]
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out, nil
}
