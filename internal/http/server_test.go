package http

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"adsdash/internal/auth"
	"adsdash/internal/core"
	"adsdash/internal/services"
	"adsdash/internal/storage"
)

type fakeSync struct {
	report services.SyncReport
	states []services.SheetState
	err    error
	runs   int
	only   []string
}

func (f *fakeSync) Run(_ context.Context, only ...string) (services.SyncReport, error) {
	f.runs++
	f.only = only
	return f.report, f.err
}

func (f *fakeSync) Status(context.Context) ([]services.SheetState, error) {
	return f.states, f.err
}

type fakeDashboard struct {
	data      services.DashboardResult
	charts    services.ChartsResult
	dataCalls int
}

func (f *fakeDashboard) Data(_ context.Context, q services.DashboardQuery) (services.DashboardResult, error) {
	f.dataCalls++
	if _, err := core.TeamsForTab(q.Tab); err != nil {
		return services.DashboardResult{}, err
	}
	return f.data, nil
}

func (f *fakeDashboard) Charts(_ context.Context, q services.ChartsQuery) (services.ChartsResult, error) {
	if _, err := core.TeamsForTab(q.Tab); err != nil {
		return services.ChartsResult{}, err
	}
	return f.charts, nil
}

type fakeAuth struct {
	users    map[string]storage.User // "username:password" -> user
	sessions map[string]storage.User
	activity []string
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{
		users:    map[string]storage.User{},
		sessions: map[string]storage.User{},
	}
}

func (f *fakeAuth) addSession(token string, user storage.User) {
	f.sessions[token] = user
}

func (f *fakeAuth) Login(_ context.Context, username, password, _, _ string) (auth.LoginResult, error) {
	user, ok := f.users[username+":"+password]
	if !ok {
		return auth.LoginResult{}, auth.ErrInvalidCredentials
	}
	token := "tok-" + username
	f.sessions[token] = user
	return auth.LoginResult{
		User:    user,
		Session: storage.Session{Token: token, UserID: user.ID, ExpiresAt: time.Now().Add(time.Hour)},
	}, nil
}

func (f *fakeAuth) Logout(_ context.Context, token, _, _ string) error {
	delete(f.sessions, token)
	return nil
}

func (f *fakeAuth) KeepAlive(_ context.Context, token string) (time.Time, error) {
	if _, ok := f.sessions[token]; !ok {
		return time.Time{}, auth.ErrSessionNotFound
	}
	return time.Now().Add(time.Hour), nil
}

func (f *fakeAuth) Authenticate(_ context.Context, token string) (storage.User, error) {
	user, ok := f.sessions[token]
	if !ok {
		return storage.User{}, auth.ErrSessionNotFound
	}
	return user, nil
}

func (f *fakeAuth) LogActivity(_ context.Context, _ *int64, action, _, _, _ string, _ map[string]any) {
	f.activity = append(f.activity, action)
}

type fakeAdmin struct {
	logs    []storage.ActivityLog
	rate    core.ExchangeRate
	rateErr error
	rates   []float64
	stats   storage.SystemStats
}

func (f *fakeAdmin) ListActivityLogs(_ context.Context, limit, offset int64) ([]storage.ActivityLog, int64, error) {
	return f.logs, int64(len(f.logs)), nil
}

func (f *fakeAdmin) LatestExchangeRate(context.Context) (core.ExchangeRate, error) {
	if f.rateErr != nil {
		return core.ExchangeRate{}, f.rateErr
	}
	return f.rate, nil
}

func (f *fakeAdmin) InsertExchangeRate(_ context.Context, rate float64) error {
	f.rates = append(f.rates, rate)
	return nil
}

func (f *fakeAdmin) GetSystemStats(context.Context) (storage.SystemStats, error) {
	return f.stats, nil
}

type testEnv struct {
	server *Server
	sync   *fakeSync
	dash   *fakeDashboard
	auth   *fakeAuth
	admin  *fakeAdmin
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		sync:  &fakeSync{report: services.SyncReport{TotalRecords: 3}},
		dash:  &fakeDashboard{data: services.DashboardResult{Count: 1, ExchangeRate: 35}},
		auth:  newFakeAuth(),
		admin: &fakeAdmin{rate: core.ExchangeRate{Rate: 36.5}},
	}
	env.auth.users["alice:secret"] = storage.User{ID: 1, Username: "alice", Role: "EMPLOYEE"}
	env.auth.addSession("employee-token", storage.User{ID: 1, Username: "alice", Role: "EMPLOYEE"})
	env.auth.addSession("admin-token", storage.User{ID: 2, Username: "root", Role: "ADMIN"})

	env.server = NewServer(":0", Deps{
		Sync:      env.sync,
		Dashboard: env.dash,
		Auth:      env.auth,
		Admin:     env.admin,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = env.server.Shutdown(ctx)
	})
	return env
}

func (e *testEnv) do(method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.server.Handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := env.do(http.MethodGet, path, "", "")
		if rr.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rr.Code)
		}
	}
}

func TestLoginFlow(t *testing.T) {
	env := newTestServer(t)

	rr := env.do(http.MethodPost, "/api/auth/login", "", `{"username":"alice","password":"secret"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rr.Code, rr.Body.String())
	}
	cookie := rr.Header().Get("Set-Cookie")
	if !strings.Contains(cookie, sessionCookie+"=tok-alice") {
		t.Errorf("session cookie not set: %q", cookie)
	}
	if !strings.Contains(rr.Body.String(), `"username":"alice"`) {
		t.Errorf("body should carry the user: %s", rr.Body.String())
	}

	rr = env.do(http.MethodPost, "/api/auth/login", "", `{"username":"alice","password":"wrong"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("bad password status = %d", rr.Code)
	}

	rr = env.do(http.MethodPost, "/api/auth/login", "", `{"username":"alice"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing password status = %d", rr.Code)
	}

	rr = env.do(http.MethodGet, "/api/auth/login", "", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET login status = %d", rr.Code)
	}
}

func TestLoginRateLimit(t *testing.T) {
	env := newTestServer(t)

	var last int
	for i := 0; i < 11; i++ {
		rr := env.do(http.MethodPost, "/api/auth/login", "", `{"username":"alice","password":"wrong"}`)
		last = rr.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("11th login attempt status = %d, want 429", last)
	}
}

func TestLogoutAndKeepAlive(t *testing.T) {
	env := newTestServer(t)

	rr := env.do(http.MethodPost, "/api/auth/keep-alive", "employee-token", "")
	if rr.Code != http.StatusOK {
		t.Errorf("keep-alive status = %d", rr.Code)
	}

	rr = env.do(http.MethodPost, "/api/auth/logout", "employee-token", "")
	if rr.Code != http.StatusOK {
		t.Errorf("logout status = %d", rr.Code)
	}

	rr = env.do(http.MethodPost, "/api/auth/keep-alive", "employee-token", "")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("keep-alive after logout status = %d", rr.Code)
	}

	rr = env.do(http.MethodPost, "/api/auth/keep-alive", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("keep-alive without token status = %d", rr.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestServer(t)

	paths := []string{
		"/api/sync/sheets",
		"/api/dashboard/data",
		"/api/dashboard/charts",
		"/api/admin/exchange-rate",
	}
	for _, path := range paths {
		rr := env.do(http.MethodGet, path, "", "")
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s without session: status = %d, want 401", path, rr.Code)
		}
	}
}

func TestAdminOnly(t *testing.T) {
	env := newTestServer(t)

	rr := env.do(http.MethodGet, "/api/admin/activity-logs", "employee-token", "")
	if rr.Code != http.StatusForbidden {
		t.Errorf("employee on activity-logs: status = %d, want 403", rr.Code)
	}

	rr = env.do(http.MethodGet, "/api/admin/activity-logs", "admin-token", "")
	if rr.Code != http.StatusOK {
		t.Errorf("admin on activity-logs: status = %d", rr.Code)
	}

	rr = env.do(http.MethodGet, "/api/system/stats", "employee-token", "")
	if rr.Code != http.StatusForbidden {
		t.Errorf("employee on system stats: status = %d, want 403", rr.Code)
	}

	rr = env.do(http.MethodGet, "/api/system/stats", "admin-token", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("admin on system stats: status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"uptime"`) {
		t.Errorf("stats body = %s", rr.Body.String())
	}
}

func TestSyncEndpoint(t *testing.T) {
	env := newTestServer(t)
	env.sync.states = []services.SheetState{{Sheet: "สาวอ้อย", RowCount: 10}}

	rr := env.do(http.MethodPost, "/api/sync/sheets", "employee-token", "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("employee sync status = %d, want 403", rr.Code)
	}

	rr = env.do(http.MethodPost, "/api/sync/sheets", "admin-token", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("sync status = %d, body %s", rr.Code, rr.Body.String())
	}
	if env.sync.runs != 1 {
		t.Errorf("sync runs = %d, want 1", env.sync.runs)
	}
	if !strings.Contains(rr.Body.String(), `"totalRecords":3`) {
		t.Errorf("sync body = %s", rr.Body.String())
	}

	rr = env.do(http.MethodPost, "/api/sync/sheets", "admin-token", `{"sheets":["สาวอ้อย"]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("subset sync status = %d", rr.Code)
	}
	if len(env.sync.only) != 1 || env.sync.only[0] != "สาวอ้อย" {
		t.Errorf("subset sheets = %v", env.sync.only)
	}

	rr = env.do(http.MethodGet, "/api/sync/sheets", "employee-token", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "สาวอ้อย") {
		t.Errorf("status body = %s", rr.Body.String())
	}
}

func TestSyncAllSheetsFailedAnswers502(t *testing.T) {
	env := newTestServer(t)
	env.sync.report = services.SyncReport{
		Failed: []services.SheetFailure{{Sheet: "สาวอ้อย", Error: "quota exceeded"}},
	}

	rr := env.do(http.MethodPost, "/api/sync/sheets", "admin-token", "")
	if rr.Code != http.StatusBadGateway {
		t.Errorf("all-failed sync status = %d, want 502", rr.Code)
	}
}

func TestExchangeRateDefault(t *testing.T) {
	env := newTestServer(t)
	env.admin.rateErr = sql.ErrNoRows

	rr := env.do(http.MethodGet, "/api/admin/exchange-rate", "employee-token", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"default":true`) || !strings.Contains(rr.Body.String(), "35") {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestExchangeRateUpdate(t *testing.T) {
	env := newTestServer(t)

	// Employees can read but not write.
	rr := env.do(http.MethodPost, "/api/admin/exchange-rate", "employee-token", `{"rate":36.5}`)
	if rr.Code != http.StatusForbidden {
		t.Errorf("employee write: status = %d, want 403", rr.Code)
	}

	rr = env.do(http.MethodPost, "/api/admin/exchange-rate", "admin-token", `{"rate":36.5}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("admin write: status = %d", rr.Code)
	}
	if len(env.admin.rates) != 1 || env.admin.rates[0] != 36.5 {
		t.Errorf("stored rates = %v", env.admin.rates)
	}

	rr = env.do(http.MethodPost, "/api/admin/exchange-rate", "admin-token", `{"rate":-1}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("negative rate: status = %d, want 400", rr.Code)
	}
}

func TestUnknownTokenFails(t *testing.T) {
	env := newTestServer(t)

	rr := env.do(http.MethodGet, "/api/dashboard/data?tab=lottery&startDate=2025-05-01&endDate=2025-05-02", "ghost", "")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("unknown token: status = %d", rr.Code)
	}
}
