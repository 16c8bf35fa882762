package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// User is a persisted account record. PasswordHash is the salted bcrypt
// hash; the plaintext never reaches the store.
type User struct {
	UserID       string     `json:"user_id"`
	Username     string     `json:"username"`
	PasswordHash []byte     `json:"-"`
	Role         string     `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	IsActive     bool       `json:"is_active"`
}

// CreateUser inserts a new account. Returns ErrConflict when the username
// is already taken.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, username, password_hash, role, created_at, is_active)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.UserID, u.Username, u.PasswordHash, u.Role, toUnix(u.CreatedAt), u.IsActive,
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return fmt.Errorf("username %q: %w", u.Username, ErrConflict)
		}
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// GetUserByUsername looks up an account by its unique username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, username, password_hash, role, created_at, last_login, is_active
		 FROM users WHERE username = ?`, username)
	return scanUser(row)
}

// GetUserByID looks up an account by user id.
func (s *Store) GetUserByID(ctx context.Context, userID string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, username, password_hash, role, created_at, last_login, is_active
		 FROM users WHERE user_id = ?`, userID)
	return scanUser(row)
}

// ListUsers returns accounts newest first, optionally including
// deactivated ones.
func (s *Store) ListUsers(ctx context.Context, includeInactive bool) ([]*User, error) {
	query := `SELECT user_id, username, password_hash, role, created_at, last_login, is_active
	          FROM users`
	if !includeInactive {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UpdateLastLogin stamps the account's last successful authentication.
func (s *Store) UpdateLastLogin(ctx context.Context, userID string) error {
	return s.updateUser(ctx, userID,
		`UPDATE users SET last_login = ? WHERE user_id = ?`, nowUnix(), userID)
}

// DeactivateUser flips is_active off. The account can no longer
// authenticate but its historical events remain.
func (s *Store) DeactivateUser(ctx context.Context, userID string) error {
	return s.updateUser(ctx, userID,
		`UPDATE users SET is_active = 0 WHERE user_id = ?`, userID)
}

// UpdatePassword replaces the stored password hash.
func (s *Store) UpdatePassword(ctx context.Context, userID string, hash []byte) error {
	return s.updateUser(ctx, userID,
		`UPDATE users SET password_hash = ? WHERE user_id = ?`, hash, userID)
}

// updateUser runs a single-account mutation inside the exclusive write
// transaction and reports ErrNotFound when no row matched.
func (s *Store) updateUser(ctx context.Context, userID, query string, args ...any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if n == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

func scanUser(r rowScanner) (*User, error) {
	var u User
	var createdAt float64
	var lastLogin sql.NullFloat64
	err := r.Scan(&u.UserID, &u.Username, &u.PasswordHash, &u.Role, &createdAt, &lastLogin, &u.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = fromUnix(createdAt)
	if lastLogin.Valid {
		t := fromUnix(lastLogin.Float64)
		u.LastLogin = &t
	}
	return &u, nil
}

func toUnix(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnix(f float64) time.Time {
	return time.Unix(0, int64(f*float64(time.Second))).UTC()
}
