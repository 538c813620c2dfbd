package http

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"adsdash/internal/core"
	"adsdash/internal/log"
	"adsdash/internal/storage"
)

// handleActivityLogs pages through the audit trail, newest first.
func (s *Server) handleActivityLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := parseIntParam(r, "limit", 50)
	if limit < 1 || limit > 500 {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
		return
	}
	page := parseIntParam(r, "page", 1)
	if page < 1 {
		writeError(w, http.StatusBadRequest, "page must be at least 1")
		return
	}

	logs, total, err := s.deps.Admin.ListActivityLogs(r.Context(), limit, (page-1)*limit)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "list activity logs failed", log.FieldError, err)
		writeError(w, http.StatusInternalServerError, "failed to load activity logs")
		return
	}
	if logs == nil {
		logs = []storage.ActivityLog{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"logs":  logs,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

// handleExchangeRate reads the current rate on GET and, for admins, stores
// a new one on POST.
func (s *Server) handleExchangeRate(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rate, err := s.deps.Admin.LatestExchangeRate(r.Context())
		if errors.Is(err, sql.ErrNoRows) {
			writeJSON(w, http.StatusOK, map[string]any{
				"rate":    core.DefaultExchangeRate,
				"default": true,
			})
			return
		}
		if err != nil {
			s.logger.ErrorContext(r.Context(), "load exchange rate failed", log.FieldError, err)
			writeError(w, http.StatusInternalServerError, "failed to load exchange rate")
			return
		}
		writeJSON(w, http.StatusOK, rate)

	case http.MethodPost:
		user, _ := requestUser(r)
		if user.Role != "ADMIN" {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}

		var req struct {
			Rate float64 `json:"rate"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Rate <= 0 {
			writeError(w, http.StatusBadRequest, "rate must be positive")
			return
		}

		if err := s.deps.Admin.InsertExchangeRate(r.Context(), req.Rate); err != nil {
			s.logger.ErrorContext(r.Context(), "store exchange rate failed", log.FieldError, err)
			writeError(w, http.StatusInternalServerError, "failed to store exchange rate")
			return
		}

		// New rate changes every derived dollar figure.
		s.dataCache.Clear()
		s.chartsCache.Clear()

		s.deps.Auth.LogActivity(r.Context(), &user.ID, "SET_EXCHANGE_RATE", "exchange rate updated",
			clientIP(r), r.UserAgent(), map[string]any{"rate": req.Rate})
		writeJSON(w, http.StatusOK, map[string]any{"rate": req.Rate})

	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleSystemStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stats, err := s.deps.Admin.GetSystemStats(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "system stats failed", log.FieldError, err)
		writeError(w, http.StatusInternalServerError, "failed to load system stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"counts": stats,
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func parseIntParam(r *http.Request, name string, defaultValue int64) int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return -1
	}
	return v
}
