// Package auth verifies credentials, issues and validates signed tokens,
// tracks brute-force lockout state, and enforces the role-based permission
// table.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/liminal-foundation/lre-core/internal/store"
)

// Status classifies a credential-verification outcome.
type Status int

const (
	// StatusSuccess means the credentials matched an active account.
	StatusSuccess Status = iota
	// StatusInvalid covers unknown usernames, wrong passwords and
	// deactivated accounts; callers must not distinguish between them.
	StatusInvalid
	// StatusLocked means the username is under brute-force lockout.
	StatusLocked
)

// Result carries the outcome of VerifyCredentials. User is set only on
// success.
type Result struct {
	Status Status
	User   *store.User
}

// Manager owns credential verification, token lifecycle and the lockout
// table.
type Manager struct {
	store   *store.Store
	tokens  *TokenIssuer
	lockout *LockoutTracker
	cost    int
	// dummyHash is compared against when the account lookup fails so the
	// response latency does not reveal username validity.
	dummyHash []byte
	log       zerolog.Logger
}

// Config for NewManager.
type Config struct {
	Secret           []byte
	TokenExpiry      time.Duration
	BcryptCost       int
	LockoutThreshold int
	LockoutWindow    time.Duration
}

// NewManager builds the auth manager. The bcrypt cost is also used for
// the timing-mitigation dummy hash so failed lookups cost the same as
// real comparisons.
func NewManager(s *store.Store, cfg Config, log zerolog.Logger) (*Manager, error) {
	dummy, err := bcrypt.GenerateFromPassword([]byte("timing-mitigation-dummy"), cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}
	return &Manager{
		store:     s,
		tokens:    NewTokenIssuer(cfg.Secret, cfg.TokenExpiry),
		lockout:   NewLockoutTracker(cfg.LockoutThreshold, cfg.LockoutWindow),
		cost:      cfg.BcryptCost,
		dummyHash: dummy,
		log:       log.With().Str("component", "auth").Logger(),
	}, nil
}

// VerifyCredentials authenticates a username/password pair. A locked
// username is rejected without touching the password hash; all other
// failures run a full bcrypt comparison and count toward lockout.
func (m *Manager) VerifyCredentials(ctx context.Context, username, password string) Result {
	if m.lockout.IsLocked(username) {
		m.log.Warn().Str("username", username).Msg("login attempt on locked account")
		return Result{Status: StatusLocked}
	}

	u, err := m.store.GetUserByUsername(ctx, username)
	if err != nil || !u.IsActive {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			m.log.Error().Err(err).Msg("user lookup failed")
		}
		// Equivalent hashing work for unknown or inactive accounts.
		_ = bcrypt.CompareHashAndPassword(m.dummyHash, []byte(password))
		m.recordFailure(username)
		return Result{Status: StatusInvalid}
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		m.recordFailure(username)
		return Result{Status: StatusInvalid}
	}

	m.lockout.Reset(username)
	if err := m.store.UpdateLastLogin(ctx, u.UserID); err != nil {
		// Login still succeeds; the stamp is best-effort.
		m.log.Error().Err(err).Str("user_id", u.UserID).Msg("failed to update last_login")
	}
	return Result{Status: StatusSuccess, User: u}
}

func (m *Manager) recordFailure(username string) {
	if m.lockout.RecordFailure(username) {
		m.log.Warn().Str("username", username).Msg("account locked after repeated failures")
	}
}

// IssueToken produces a signed access token for an authenticated user.
func (m *Manager) IssueToken(u *store.User) (string, error) {
	return m.tokens.Issue(u)
}

// ValidateToken verifies a presented token and returns its claims.
func (m *Manager) ValidateToken(token string) (*Claims, error) {
	return m.tokens.Validate(token)
}

// Password and username policy, enforced on account creation.
const (
	MinUsernameLen = 3
	MinPasswordLen = 8
)

// NewUser creates an account value with a freshly hashed password. It
// does not persist; callers pass the result to the store.
func (m *Manager) NewUser(username, password, role string) (*store.User, error) {
	return NewUser(username, password, role, m.cost)
}

// HashPassword runs bcrypt at the given cost.
func HashPassword(password string, cost int) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

// NewUser validates the account policy and hashes the password with the
// given bcrypt cost.
func NewUser(username, password, role string, cost int) (*store.User, error) {
	if len(username) < MinUsernameLen {
		return nil, fmt.Errorf("username must be at least %d characters", MinUsernameLen)
	}
	if len(password) < MinPasswordLen {
		return nil, fmt.Errorf("password must be at least %d characters", MinPasswordLen)
	}
	if !ValidRole(role) {
		return nil, fmt.Errorf("invalid role: %s", role)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return &store.User{
		UserID:       "user_" + uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
		IsActive:     true,
	}, nil
}
