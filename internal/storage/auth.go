package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// User is an account row. PasswordHash is a bcrypt digest and never leaves
// the storage/auth layers.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Name         string
	Email        string
	Role         string
	Teams        []string
	IsLocked     bool
	IsActive     bool
	CreatedAt    time.Time
}

// Session is a login session; one active session per user.
type Session struct {
	Token     string
	UserID    int64
	ExpiresAt time.Time
	IPAddress string
	UserAgent string
	CreatedAt time.Time
}

// ActivityLog is one audit entry.
type ActivityLog struct {
	ID          int64          `json:"id"`
	UserID      *int64         `json:"userId"`
	Action      string         `json:"action"`
	Description string         `json:"description"`
	Details     map[string]any `json:"details"`
	IPAddress   string         `json:"ipAddress"`
	UserAgent   string         `json:"userAgent"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// CreateUser inserts a new account and returns its ID.
func (r *SQLiteRepository) CreateUser(ctx context.Context, u User) (int64, error) {
	teams, err := json.Marshal(u.Teams)
	if err != nil {
		return 0, fmt.Errorf("marshal teams: %w", err)
	}
	if u.Teams == nil {
		teams = []byte("[]")
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, name, email, role, teams, is_locked, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.PasswordHash, u.Name, u.Email, u.Role, string(teams),
		u.IsLocked, u.IsActive, r.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("create user %s: %w", u.Username, err)
	}
	return res.LastInsertId()
}

// GetUserByUsername returns the account or sql.ErrNoRows.
func (r *SQLiteRepository) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return r.getUser(ctx, `WHERE username = ?`, username)
}

// GetUserByID returns the account or sql.ErrNoRows.
func (r *SQLiteRepository) GetUserByID(ctx context.Context, id int64) (User, error) {
	return r.getUser(ctx, `WHERE id = ?`, id)
}

func (r *SQLiteRepository) getUser(ctx context.Context, where string, arg any) (User, error) {
	var u User
	var teams string
	var createdAt int64
	err := r.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, name, email, role, teams, is_locked, is_active, created_at
		FROM users `+where, arg,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Name, &u.Email, &u.Role, &teams,
		&u.IsLocked, &u.IsActive, &createdAt)
	if err != nil {
		return User{}, err
	}
	if err := json.Unmarshal([]byte(teams), &u.Teams); err != nil {
		u.Teams = nil
	}
	u.CreatedAt = time.Unix(0, createdAt).UTC()
	return u, nil
}

// SetUserLocked flips the lock flag on an account.
func (r *SQLiteRepository) SetUserLocked(ctx context.Context, userID int64, locked bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET is_locked = ? WHERE id = ?`, locked, userID)
	if err != nil {
		return fmt.Errorf("set user %d locked: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CreateSession stores a session after removing any existing sessions for
// the user, enforcing single-session-per-user.
func (r *SQLiteRepository) CreateSession(ctx context.Context, s Session) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin session tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, s.UserID); err != nil {
		return fmt.Errorf("delete existing sessions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (token, user_id, expires_at, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.Token, s.UserID, s.ExpiresAt.UnixNano(), s.IPAddress, s.UserAgent, r.now().UnixNano(),
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	return tx.Commit()
}

// GetSession returns the session for a token or sql.ErrNoRows.
func (r *SQLiteRepository) GetSession(ctx context.Context, token string) (Session, error) {
	var s Session
	var expiresAt, createdAt int64
	err := r.db.QueryRowContext(ctx, `
		SELECT token, user_id, expires_at, ip_address, user_agent, created_at
		FROM sessions WHERE token = ?`, token,
	).Scan(&s.Token, &s.UserID, &expiresAt, &s.IPAddress, &s.UserAgent, &createdAt)
	if err != nil {
		return Session{}, err
	}
	s.ExpiresAt = time.Unix(0, expiresAt).UTC()
	s.CreatedAt = time.Unix(0, createdAt).UTC()
	return s, nil
}

// ExtendSession pushes a session's expiry forward (keep-alive).
func (r *SQLiteRepository) ExtendSession(ctx context.Context, token string, expiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET expires_at = ? WHERE token = ?`,
		expiresAt.UnixNano(), token)
	if err != nil {
		return fmt.Errorf("extend session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteSession removes a session; deleting an unknown token is a no-op.
func (r *SQLiteRepository) DeleteSession(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// RecordLoginAttempt stores one attempt; userID may be nil for unknown
// usernames.
func (r *SQLiteRepository) RecordLoginAttempt(ctx context.Context, username string, userID *int64, success bool, ip, userAgent string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO login_attempts (username, user_id, success, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		username, userID, success, ip, userAgent, r.now().UnixNano())
	if err != nil {
		return fmt.Errorf("record login attempt: %w", err)
	}
	return nil
}

// CountFailedAttempts counts failed logins for a user since the cutoff.
func (r *SQLiteRepository) CountFailedAttempts(ctx context.Context, userID int64, since time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM login_attempts
		WHERE user_id = ? AND success = 0 AND created_at >= ?`,
		userID, since.UnixNano(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count failed attempts: %w", err)
	}
	return n, nil
}

// InsertActivityLog appends one audit entry.
func (r *SQLiteRepository) InsertActivityLog(ctx context.Context, entry ActivityLog) error {
	details, err := json.Marshal(entry.Details)
	if err != nil || entry.Details == nil {
		details = []byte("{}")
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO activity_logs (user_id, action, description, details, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.UserID, entry.Action, entry.Description, string(details),
		entry.IPAddress, entry.UserAgent, r.now().UnixNano())
	if err != nil {
		return fmt.Errorf("insert activity log: %w", err)
	}
	return nil
}

// ListActivityLogs returns audit entries newest first plus the total count
// for pagination.
func (r *SQLiteRepository) ListActivityLogs(ctx context.Context, limit, offset int64) ([]ActivityLog, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity_logs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count activity logs: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, action, description, details, ip_address, user_agent, created_at
		FROM activity_logs ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query activity logs: %w", err)
	}
	defer rows.Close()

	var out []ActivityLog
	for rows.Next() {
		var e ActivityLog
		var userID sql.NullInt64
		var details string
		var createdAt int64
		if err := rows.Scan(&e.ID, &userID, &e.Action, &e.Description, &details,
			&e.IPAddress, &e.UserAgent, &createdAt); err != nil {
			return nil, 0, fmt.Errorf("scan activity log: %w", err)
		}
		if userID.Valid {
			e.UserID = &userID.Int64
		}
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			e.Details = map[string]any{}
		}
		e.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, e)
	}
	return out, total, rows.Err()
}
