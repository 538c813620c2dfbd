// Package http exposes the JSON API: sync triggers, dashboard aggregates,
// auth and the admin surface.
package http

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"adsdash/internal/auth"
	"adsdash/internal/cache"
	"adsdash/internal/core"
	"adsdash/internal/log"
	"adsdash/internal/metrics"
	"adsdash/internal/middleware/ratelimit"
	"adsdash/internal/services"
	"adsdash/internal/storage"
)

// SyncRunner triggers and inspects sheet syncs.
type SyncRunner interface {
	Run(ctx context.Context, only ...string) (services.SyncReport, error)
	Status(ctx context.Context) ([]services.SheetState, error)
}

// DashboardProvider serves the aggregated table and chart views.
type DashboardProvider interface {
	Data(ctx context.Context, q services.DashboardQuery) (services.DashboardResult, error)
	Charts(ctx context.Context, q services.ChartsQuery) (services.ChartsResult, error)
}

// Authenticator is the session surface the handlers need.
type Authenticator interface {
	Login(ctx context.Context, username, password, ip, userAgent string) (auth.LoginResult, error)
	Logout(ctx context.Context, token, ip, userAgent string) error
	KeepAlive(ctx context.Context, token string) (time.Time, error)
	Authenticate(ctx context.Context, token string) (storage.User, error)
	LogActivity(ctx context.Context, userID *int64, action, description, ip, userAgent string, details map[string]any)
}

// AdminStore backs the admin endpoints.
type AdminStore interface {
	ListActivityLogs(ctx context.Context, limit, offset int64) ([]storage.ActivityLog, int64, error)
	LatestExchangeRate(ctx context.Context) (core.ExchangeRate, error)
	InsertExchangeRate(ctx context.Context, rate float64) error
	GetSystemStats(ctx context.Context) (storage.SystemStats, error)
}

// Deps wires the server's collaborators. Metrics may be nil.
type Deps struct {
	Sync      SyncRunner
	Dashboard DashboardProvider
	Auth      Authenticator
	Admin     AdminStore
	Metrics   *metrics.Metrics
	Logger    *log.Logger

	// CacheTTL and CacheMaxSize bound the dashboard response caches; zero
	// values pick the defaults.
	CacheTTL     time.Duration
	CacheMaxSize int
}

type Server struct {
	http.Server

	deps    Deps
	logger  *log.Logger
	limiter *ratelimit.Limiter
	// Login attempts get a much tighter window than the rest of the API.
	loginLimiter *ratelimit.Limiter

	dataCache   *cache.LRUCache[services.DashboardResult]
	chartsCache *cache.LRUCache[services.ChartsResult]
	caches      *cache.Manager

	started      time.Time
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// server.
func NewServer(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = log.New(log.DefaultConfig())
	}
	if deps.CacheTTL <= 0 {
		deps.CacheTTL = 5 * time.Minute
	}
	if deps.CacheMaxSize <= 0 {
		deps.CacheMaxSize = 500
	}

	mux := http.NewServeMux()
	s := &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		deps:         deps,
		logger:       deps.Logger.WithComponent(log.ComponentHTTP),
		limiter:      ratelimit.NewLimiter(ratelimit.DefaultConfig()),
		loginLimiter: ratelimit.NewLimiter(ratelimit.LoginConfig()),
		dataCache:    cache.NewLRUCache[services.DashboardResult](deps.CacheMaxSize, deps.CacheTTL, nil),
		chartsCache:  cache.NewLRUCache[services.ChartsResult](deps.CacheMaxSize, deps.CacheTTL, nil),
		caches:       cache.NewManager(),
		started:      time.Now(),
	}

	s.caches.Register(s.dataCache)
	s.caches.Register(s.chartsCache)
	s.caches.StartCleanup(10 * time.Minute)

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	if deps.Metrics != nil {
		mux.Handle("/metrics", deps.Metrics.Handler())
	}

	mux.HandleFunc("/api/auth/login", s.wrap(s.handleLogin))
	mux.HandleFunc("/api/auth/logout", s.wrap(s.requireAuth(s.handleLogout)))
	mux.HandleFunc("/api/auth/keep-alive", s.wrap(s.handleKeepAlive))

	mux.HandleFunc("/api/sync/sheets", s.wrap(s.requireAuth(s.handleSyncSheets)))

	mux.HandleFunc("/api/dashboard/data", s.wrap(s.requireAuth(s.handleDashboardData)))
	mux.HandleFunc("/api/dashboard/charts", s.wrap(s.requireAuth(s.handleDashboardCharts)))

	mux.HandleFunc("/api/admin/activity-logs", s.wrap(s.requireAdmin(s.handleActivityLogs)))
	mux.HandleFunc("/api/admin/exchange-rate", s.wrap(s.requireAuth(s.handleExchangeRate)))
	mux.HandleFunc("/api/system/stats", s.wrap(s.requireAdmin(s.handleSystemStats)))

	return s
}

// wrap applies request ID, logging, rate limiting, security headers and the
// request counter to an API handler.
func (s *Server) wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ip := clientIP(r)
		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		if !s.limiter.Allow(ip) {
			s.logger.WarnContext(ctx, "rate limit exceeded",
				log.FieldRequestID, requestID,
				log.FieldClientIP, ip,
				log.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cache-Control", "no-store")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		if s.deps.Metrics != nil {
			s.deps.Metrics.HTTPRequests.WithLabelValues(r.URL.Path, strconv.Itoa(rw.statusCode)).Inc()
		}
		s.logger.InfoContext(ctx, "request completed",
			log.FieldRequestID, requestID,
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldStatusCode, rw.statusCode,
			log.FieldDuration, time.Since(start).Milliseconds(),
			log.FieldClientIP, ip)
	}
}

// requireAuth resolves the session token and stores the user in the request
// context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		user, err := s.deps.Auth.Authenticate(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}
		ctx := context.WithValue(r.Context(), userKey{}, user)
		next(w, r.WithContext(ctx))
	}
}

// requireAdmin additionally demands the ADMIN role.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		user, _ := requestUser(r)
		if user.Role != "ADMIN" {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	// Readiness means the store answers; one cheap query covers it.
	if _, err := s.deps.Admin.GetSystemStats(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Shutdown stops the HTTP server and the background goroutines exactly
// once.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.caches.Stop()
		s.limiter.Stop()
		s.loginLimiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

type (
	requestIDKey struct{}
	userKey      struct{}
)

// requestUser returns the authenticated user placed by requireAuth.
func requestUser(r *http.Request) (storage.User, bool) {
	user, ok := r.Context().Value(userKey{}).(storage.User)
	return user, ok
}
