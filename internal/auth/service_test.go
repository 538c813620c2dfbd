package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"adsdash/internal/storage"
)

type fakeStore struct {
	users    map[string]storage.User
	sessions map[string]storage.Session
	failed   map[int64]int64
	logs     []storage.ActivityLog
	attempts []bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    map[string]storage.User{},
		sessions: map[string]storage.Session{},
		failed:   map[int64]int64{},
	}
}

func (f *fakeStore) addUser(t *testing.T, username, password string, active, locked bool) storage.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	u := storage.User{
		ID:           int64(len(f.users) + 1),
		Username:     username,
		PasswordHash: string(hash),
		Role:         "EMPLOYEE",
		IsActive:     active,
		IsLocked:     locked,
	}
	f.users[username] = u
	return u
}

func (f *fakeStore) GetUserByUsername(_ context.Context, username string) (storage.User, error) {
	u, ok := f.users[username]
	if !ok {
		return storage.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id int64) (storage.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return storage.User{}, sql.ErrNoRows
}

func (f *fakeStore) SetUserLocked(_ context.Context, userID int64, locked bool) error {
	for name, u := range f.users {
		if u.ID == userID {
			u.IsLocked = locked
			f.users[name] = u
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) CreateSession(_ context.Context, s storage.Session) error {
	for token, existing := range f.sessions {
		if existing.UserID == s.UserID {
			delete(f.sessions, token)
		}
	}
	f.sessions[s.Token] = s
	return nil
}

func (f *fakeStore) GetSession(_ context.Context, token string) (storage.Session, error) {
	s, ok := f.sessions[token]
	if !ok {
		return storage.Session{}, sql.ErrNoRows
	}
	return s, nil
}

func (f *fakeStore) DeleteSession(_ context.Context, token string) error {
	delete(f.sessions, token)
	return nil
}

func (f *fakeStore) ExtendSession(_ context.Context, token string, expiresAt time.Time) error {
	s, ok := f.sessions[token]
	if !ok {
		return sql.ErrNoRows
	}
	s.ExpiresAt = expiresAt
	f.sessions[token] = s
	return nil
}

func (f *fakeStore) RecordLoginAttempt(_ context.Context, _ string, userID *int64, success bool, _, _ string) error {
	f.attempts = append(f.attempts, success)
	if userID != nil && !success {
		f.failed[*userID]++
	}
	return nil
}

func (f *fakeStore) CountFailedAttempts(_ context.Context, userID int64, _ time.Time) (int64, error) {
	return f.failed[userID], nil
}

func (f *fakeStore) InsertActivityLog(_ context.Context, entry storage.ActivityLog) error {
	f.logs = append(f.logs, entry)
	return nil
}

func newTestService(store Store, clock func() time.Time) *Service {
	cfg := DefaultConfig()
	cfg.MaxFailedAttempts = 3
	cfg.Clock = clock
	return NewService(store, cfg, nil)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestLoginSuccess(t *testing.T) {
	store := newFakeStore()
	store.addUser(t, "alice", "secret", true, false)
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	svc := newTestService(store, fixedClock(now))

	result, err := svc.Login(context.Background(), "alice", "secret", "10.0.0.1", "test")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if result.Session.Token == "" {
		t.Error("expected a session token")
	}
	if want := now.Add(24 * time.Hour); !result.Session.ExpiresAt.Equal(want) {
		t.Errorf("expires = %v, want %v", result.Session.ExpiresAt, want)
	}
	if len(store.logs) == 0 || store.logs[len(store.logs)-1].Action != "LOGIN" {
		t.Error("expected a LOGIN activity entry")
	}
}

func TestLoginReplacesExistingSession(t *testing.T) {
	store := newFakeStore()
	store.addUser(t, "alice", "secret", true, false)
	svc := newTestService(store, fixedClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)))
	ctx := context.Background()

	first, err := svc.Login(ctx, "alice", "secret", "10.0.0.1", "test")
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	if _, err := svc.Login(ctx, "alice", "secret", "10.0.0.1", "test"); err != nil {
		t.Fatalf("second login: %v", err)
	}

	if _, err := svc.Authenticate(ctx, first.Session.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("first session should be replaced, got err=%v", err)
	}
}

func TestLoginFailures(t *testing.T) {
	store := newFakeStore()
	store.addUser(t, "alice", "secret", true, false)
	store.addUser(t, "locked", "secret", true, true)
	store.addUser(t, "inactive", "secret", false, false)
	svc := newTestService(store, fixedClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)))

	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{"unknown user", "ghost", "secret", ErrInvalidCredentials},
		{"wrong password", "alice", "nope", ErrInvalidCredentials},
		{"locked account", "locked", "secret", ErrAccountLocked},
		{"inactive account", "inactive", "secret", ErrAccountInactive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(context.Background(), tt.username, tt.password, "10.0.0.1", "test")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoginLocksAfterRepeatedFailures(t *testing.T) {
	store := newFakeStore()
	store.addUser(t, "alice", "secret", true, false)
	svc := newTestService(store, fixedClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.Login(ctx, "alice", "nope", "10.0.0.1", "test"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: err = %v", i, err)
		}
	}

	// Third failure crosses the threshold and locks the account.
	if _, err := svc.Login(ctx, "alice", "nope", "10.0.0.1", "test"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("third failure: err = %v, want ErrAccountLocked", err)
	}

	// Even the right password is rejected while locked.
	if _, err := svc.Login(ctx, "alice", "secret", "10.0.0.1", "test"); !errors.Is(err, ErrAccountLocked) {
		t.Errorf("locked login: err = %v, want ErrAccountLocked", err)
	}
}

func TestKeepAlive(t *testing.T) {
	store := newFakeStore()
	store.addUser(t, "alice", "secret", true, false)
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	clock := now
	svc := newTestService(store, func() time.Time { return clock })
	ctx := context.Background()

	result, err := svc.Login(ctx, "alice", "secret", "10.0.0.1", "test")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	clock = now.Add(time.Hour)
	expiresAt, err := svc.KeepAlive(ctx, result.Session.Token)
	if err != nil {
		t.Fatalf("KeepAlive: %v", err)
	}
	if want := clock.Add(24 * time.Hour); !expiresAt.Equal(want) {
		t.Errorf("expires = %v, want %v", expiresAt, want)
	}

	// Past the TTL the session cannot be revived and gets removed.
	clock = expiresAt.Add(time.Minute)
	if _, err := svc.KeepAlive(ctx, result.Session.Token); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expired keep-alive: err = %v", err)
	}
	if _, err := svc.KeepAlive(ctx, result.Session.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second keep-alive after expiry: err = %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	store := newFakeStore()
	user := store.addUser(t, "alice", "secret", true, false)
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	clock := now
	svc := newTestService(store, func() time.Time { return clock })
	ctx := context.Background()

	result, err := svc.Login(ctx, "alice", "secret", "10.0.0.1", "test")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	got, err := svc.Authenticate(ctx, result.Session.Token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("user ID = %d, want %d", got.ID, user.ID)
	}

	if _, err := svc.Authenticate(ctx, "no-such-token"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown token: err = %v", err)
	}

	if err := store.SetUserLocked(ctx, user.ID, true); err != nil {
		t.Fatalf("SetUserLocked: %v", err)
	}
	if _, err := svc.Authenticate(ctx, result.Session.Token); !errors.Is(err, ErrAccountLocked) {
		t.Errorf("locked user: err = %v", err)
	}
}

func TestLogout(t *testing.T) {
	store := newFakeStore()
	store.addUser(t, "alice", "secret", true, false)
	svc := newTestService(store, fixedClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)))
	ctx := context.Background()

	result, err := svc.Login(ctx, "alice", "secret", "10.0.0.1", "test")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := svc.Logout(ctx, result.Session.Token, "10.0.0.1", "test"); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := svc.Authenticate(ctx, result.Session.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("session should be gone after logout, got err=%v", err)
	}

	// Logging out twice is fine.
	if err := svc.Logout(ctx, result.Session.Token, "10.0.0.1", "test"); err != nil {
		t.Errorf("second logout: %v", err)
	}
}
