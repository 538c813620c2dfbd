package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"adsdash/internal/auth"
	"adsdash/internal/log"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userResponse struct {
	ID       int64    `json:"id"`
	Username string   `json:"username"`
	Name     string   `json:"name"`
	Role     string   `json:"role"`
	Teams    []string `json:"teams"`
}

// handleLogin verifies credentials and sets the session cookie. Login gets
// its own tight rate limit on top of the global one.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ip := clientIP(r)
	if !s.loginLimiter.Allow(ip) {
		s.logger.WarnContext(r.Context(), "login rate limit exceeded", log.FieldClientIP, ip)
		w.Header().Set("Retry-After", "900")
		writeError(w, http.StatusTooManyRequests, "too many login attempts")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Username = sanitizeInput(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	result, err := s.deps.Auth.Login(r.Context(), req.Username, req.Password, ip, r.UserAgent())
	switch {
	case errors.Is(err, auth.ErrAccountLocked):
		writeError(w, http.StatusForbidden, "account is locked")
		return
	case errors.Is(err, auth.ErrAccountInactive):
		writeError(w, http.StatusForbidden, "account is disabled")
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	case err != nil:
		s.logger.ErrorContext(r.Context(), "login failed",
			log.FieldUsername, req.Username, log.FieldError, err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	s.setSessionCookie(w, result.Session.Token, result.Session.ExpiresAt)
	writeJSON(w, http.StatusOK, map[string]any{
		"user": userResponse{
			ID:       result.User.ID,
			Username: result.User.Username,
			Name:     result.User.Name,
			Role:     result.User.Role,
			Teams:    result.User.Teams,
		},
		"expiresAt": result.Session.ExpiresAt,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := s.deps.Auth.Logout(r.Context(), sessionToken(r), clientIP(r), r.UserAgent()); err != nil {
		s.logger.ErrorContext(r.Context(), "logout failed", log.FieldError, err)
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}

	s.setSessionCookie(w, "", time.Unix(0, 0))
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// handleKeepAlive extends a live session. It sits outside requireAuth so an
// expired session answers 401 with a distinct message instead of the
// generic one.
func (s *Server) handleKeepAlive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	token := sessionToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	expiresAt, err := s.deps.Auth.KeepAlive(r.Context(), token)
	switch {
	case errors.Is(err, auth.ErrSessionExpired):
		s.setSessionCookie(w, "", time.Unix(0, 0))
		writeError(w, http.StatusUnauthorized, "session expired")
		return
	case errors.Is(err, auth.ErrSessionNotFound):
		writeError(w, http.StatusUnauthorized, "invalid session")
		return
	case err != nil:
		s.logger.ErrorContext(r.Context(), "keep-alive failed", log.FieldError, err)
		writeError(w, http.StatusInternalServerError, "keep-alive failed")
		return
	}

	s.setSessionCookie(w, token, expiresAt)
	writeJSON(w, http.StatusOK, map[string]any{"expiresAt": expiresAt})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}
