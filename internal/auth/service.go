// Package auth implements password login, sessions and account lockout.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"adsdash/internal/log"
	"adsdash/internal/storage"
)

var (
	// ErrInvalidCredentials covers unknown usernames and wrong passwords,
	// deliberately indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountInactive    = errors.New("account inactive")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExpired     = errors.New("session expired")
)

// Store is the persistence surface the service needs; satisfied by
// storage.SQLiteRepository.
type Store interface {
	GetUserByUsername(ctx context.Context, username string) (storage.User, error)
	GetUserByID(ctx context.Context, id int64) (storage.User, error)
	SetUserLocked(ctx context.Context, userID int64, locked bool) error
	CreateSession(ctx context.Context, s storage.Session) error
	GetSession(ctx context.Context, token string) (storage.Session, error)
	DeleteSession(ctx context.Context, token string) error
	ExtendSession(ctx context.Context, token string, expiresAt time.Time) error
	RecordLoginAttempt(ctx context.Context, username string, userID *int64, success bool, ip, userAgent string) error
	CountFailedAttempts(ctx context.Context, userID int64, since time.Time) (int64, error)
	InsertActivityLog(ctx context.Context, entry storage.ActivityLog) error
}

// Config controls session lifetime and the lockout policy.
type Config struct {
	// SessionTTL is how long a session lives without keep-alives.
	SessionTTL time.Duration

	// MaxFailedAttempts within AttemptWindow locks the account.
	MaxFailedAttempts int64
	AttemptWindow     time.Duration

	// Clock is injectable for tests; nil means time.Now.
	Clock func() time.Time
}

func DefaultConfig() Config {
	return Config{
		SessionTTL:        24 * time.Hour,
		MaxFailedAttempts: 5,
		AttemptWindow:     10 * time.Minute,
	}
}

// Service is the login/session service.
type Service struct {
	store  Store
	config Config
	now    func() time.Time
	logger *log.Logger
}

func NewService(store Store, config Config, logger *log.Logger) *Service {
	now := config.Clock
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Service{
		store:  store,
		config: config,
		now:    now,
		logger: logger.WithComponent(log.ComponentAuth),
	}
}

// LoginResult carries the issued session and its user.
type LoginResult struct {
	User    storage.User
	Session storage.Session
}

// Login verifies credentials and issues a fresh session, replacing any
// existing session for the user. Repeated failures inside the attempt
// window lock the account.
func (s *Service) Login(ctx context.Context, username, password, ip, userAgent string) (LoginResult, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if errors.Is(err, sql.ErrNoRows) {
		s.recordAttempt(ctx, username, nil, false, ip, userAgent)
		s.audit(ctx, nil, "LOGIN_FAILED", "login failed for unknown user", ip, userAgent, nil)
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("lookup user: %w", err)
	}

	if user.IsLocked {
		s.recordAttempt(ctx, username, &user.ID, false, ip, userAgent)
		return LoginResult{}, ErrAccountLocked
	}
	if !user.IsActive {
		s.recordAttempt(ctx, username, &user.ID, false, ip, userAgent)
		return LoginResult{}, ErrAccountInactive
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.recordAttempt(ctx, username, &user.ID, false, ip, userAgent)
		s.audit(ctx, &user.ID, "LOGIN_FAILED", "wrong password", ip, userAgent, nil)
		if s.shouldLock(ctx, user.ID) {
			if err := s.store.SetUserLocked(ctx, user.ID, true); err != nil {
				s.logger.ErrorContext(ctx, "failed to lock account",
					log.FieldUsername, username, log.FieldError, err)
			} else {
				s.logger.WarnContext(ctx, "account locked after repeated failures",
					log.FieldUsername, username)
				s.audit(ctx, &user.ID, "ACCOUNT_LOCKED", "account locked after repeated failed logins", ip, userAgent, nil)
			}
			return LoginResult{}, ErrAccountLocked
		}
		return LoginResult{}, ErrInvalidCredentials
	}

	session := storage.Session{
		Token:     uuid.NewString(),
		UserID:    user.ID,
		ExpiresAt: s.now().Add(s.config.SessionTTL),
		IPAddress: ip,
		UserAgent: userAgent,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return LoginResult{}, fmt.Errorf("create session: %w", err)
	}

	s.recordAttempt(ctx, username, &user.ID, true, ip, userAgent)
	s.audit(ctx, &user.ID, "LOGIN", "user logged in", ip, userAgent, nil)
	s.logger.InfoContext(ctx, "login succeeded", log.FieldUsername, username)

	return LoginResult{User: user, Session: session}, nil
}

// Logout removes the session. Unknown tokens are a no-op.
func (s *Service) Logout(ctx context.Context, token, ip, userAgent string) error {
	session, err := s.store.GetSession(ctx, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup session: %w", err)
	}

	if err := s.store.DeleteSession(ctx, token); err != nil {
		return err
	}
	s.audit(ctx, &session.UserID, "LOGOUT", "user logged out", ip, userAgent, nil)
	return nil
}

// KeepAlive pushes a live session's expiry forward by the configured TTL.
// Expired sessions are removed rather than revived.
func (s *Service) KeepAlive(ctx context.Context, token string) (time.Time, error) {
	session, err := s.store.GetSession(ctx, token)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrSessionNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("lookup session: %w", err)
	}

	now := s.now()
	if now.After(session.ExpiresAt) {
		_ = s.store.DeleteSession(ctx, token)
		return time.Time{}, ErrSessionExpired
	}

	expiresAt := now.Add(s.config.SessionTTL)
	if err := s.store.ExtendSession(ctx, token, expiresAt); err != nil {
		return time.Time{}, fmt.Errorf("extend session: %w", err)
	}
	return expiresAt, nil
}

// Authenticate resolves a session token to its user. Expired sessions and
// locked or deactivated accounts fail authentication.
func (s *Service) Authenticate(ctx context.Context, token string) (storage.User, error) {
	session, err := s.store.GetSession(ctx, token)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.User{}, ErrSessionNotFound
	}
	if err != nil {
		return storage.User{}, fmt.Errorf("lookup session: %w", err)
	}

	if s.now().After(session.ExpiresAt) {
		_ = s.store.DeleteSession(ctx, token)
		return storage.User{}, ErrSessionExpired
	}

	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return storage.User{}, fmt.Errorf("lookup session user: %w", err)
	}
	if user.IsLocked {
		return storage.User{}, ErrAccountLocked
	}
	if !user.IsActive {
		return storage.User{}, ErrAccountInactive
	}
	return user, nil
}

// LogActivity appends an audit entry attributed to a user.
func (s *Service) LogActivity(ctx context.Context, userID *int64, action, description, ip, userAgent string, details map[string]any) {
	s.audit(ctx, userID, action, description, ip, userAgent, details)
}

func (s *Service) shouldLock(ctx context.Context, userID int64) bool {
	since := s.now().Add(-s.config.AttemptWindow)
	n, err := s.store.CountFailedAttempts(ctx, userID, since)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to count login attempts", log.FieldError, err)
		return false
	}
	return n >= s.config.MaxFailedAttempts
}

func (s *Service) recordAttempt(ctx context.Context, username string, userID *int64, success bool, ip, userAgent string) {
	if err := s.store.RecordLoginAttempt(ctx, username, userID, success, ip, userAgent); err != nil {
		s.logger.ErrorContext(ctx, "failed to record login attempt",
			log.FieldUsername, username, log.FieldError, err)
	}
}

func (s *Service) audit(ctx context.Context, userID *int64, action, description, ip, userAgent string, details map[string]any) {
	err := s.store.InsertActivityLog(ctx, storage.ActivityLog{
		UserID:      userID,
		Action:      action,
		Description: description,
		Details:     details,
		IPAddress:   ip,
		UserAgent:   userAgent,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to write activity log", log.FieldError, err)
	}
}

// HashPassword produces a bcrypt digest for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
