package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"adsdash/internal/log"
)

// handleSyncSheets runs a full sheet sync on POST and reports stored sheet
// state on GET.
func (s *Server) handleSyncSheets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.runSync(w, r)
	case http.MethodGet:
		s.syncStatus(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) runSync(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(r)
	if !ok || user.Role != "ADMIN" {
		writeError(w, http.StatusForbidden, "admin access required")
		return
	}

	// An optional body narrows the run to named sheets.
	var req struct {
		Sheets []string `json:"sheets"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	only := req.Sheets[:0]
	for _, name := range req.Sheets {
		if name = strings.TrimSpace(name); name != "" {
			only = append(only, name)
		}
	}

	report, err := s.deps.Sync.Run(r.Context(), only...)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "sync run aborted", log.FieldError, err)
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}

	// Synced data invalidates every cached aggregate.
	s.dataCache.Clear()
	s.chartsCache.Clear()

	s.deps.Auth.LogActivity(r.Context(), &user.ID, "SYNC", "manual sheet sync",
		clientIP(r), r.UserAgent(), map[string]any{
			"totalRecords": report.TotalRecords,
			"failedSheets": len(report.Failed),
		})

	status := http.StatusOK
	if len(report.Success) == 0 && len(report.Failed) > 0 {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, report)
}

func (s *Server) syncStatus(w http.ResponseWriter, r *http.Request) {
	states, err := s.deps.Sync.Status(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "sync status failed", log.FieldError, err)
		writeError(w, http.StatusInternalServerError, "status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sheets": states})
}
