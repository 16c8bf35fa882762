package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/liminal-foundation/lre-core/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lre.db")
	s, err := store.Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	m, err := NewManager(s, Config{
		Secret:           testSecret,
		TokenExpiry:      time.Hour,
		BcryptCost:       4, // bcrypt.MinCost keeps the suite fast
		LockoutThreshold: 5,
		LockoutWindow:    5 * time.Minute,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m, s
}

func createAccount(t *testing.T, m *Manager, s *store.Store, username, password, role string) *store.User {
	t.Helper()
	u, err := m.NewUser(username, password, role)
	if err != nil {
		t.Fatalf("new user: %v", err)
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestVerifyCredentials_Success(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t)
	createAccount(t, m, s, "alice", "correct-horse", RoleDeveloper)

	res := m.VerifyCredentials(ctx, "alice", "correct-horse")
	if res.Status != StatusSuccess {
		t.Fatalf("status = %v, want success", res.Status)
	}
	if res.User == nil || res.User.Username != "alice" {
		t.Fatalf("user = %+v", res.User)
	}

	// Success stamps last_login.
	stored, err := s.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if stored.LastLogin == nil {
		t.Fatalf("last_login not stamped")
	}
}

func TestVerifyCredentials_WrongPassword(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t)
	createAccount(t, m, s, "alice", "correct-horse", RoleDeveloper)

	res := m.VerifyCredentials(ctx, "alice", "battery-staple")
	if res.Status != StatusInvalid {
		t.Fatalf("status = %v, want invalid", res.Status)
	}
	if res.User != nil {
		t.Fatalf("user returned on failure")
	}
}

func TestVerifyCredentials_UnknownUser(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	res := m.VerifyCredentials(ctx, "nobody", "whatever-pass")
	if res.Status != StatusInvalid {
		t.Fatalf("status = %v, want invalid", res.Status)
	}
	// Failures against unknown usernames still count toward lockout.
	if got := m.lockout.FailedAttempts("nobody"); got != 1 {
		t.Fatalf("failed attempts = %d, want 1", got)
	}
}

func TestVerifyCredentials_InactiveAccount(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t)
	u := createAccount(t, m, s, "alice", "correct-horse", RoleDeveloper)
	if err := s.DeactivateUser(ctx, u.UserID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	res := m.VerifyCredentials(ctx, "alice", "correct-horse")
	if res.Status != StatusInvalid {
		t.Fatalf("status = %v, want invalid", res.Status)
	}
}

func TestVerifyCredentials_Lockout(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t)
	createAccount(t, m, s, "alice", "correct-horse", RoleDeveloper)

	for i := 0; i < 5; i++ {
		res := m.VerifyCredentials(ctx, "alice", "wrong-password")
		if res.Status != StatusInvalid {
			t.Fatalf("attempt %d: status = %v, want invalid", i+1, res.Status)
		}
	}

	// Even the correct password is rejected while locked.
	res := m.VerifyCredentials(ctx, "alice", "correct-horse")
	if res.Status != StatusLocked {
		t.Fatalf("status = %v, want locked", res.Status)
	}
}

func TestVerifyCredentials_LockoutWindowElapses(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t)
	createAccount(t, m, s, "alice", "correct-horse", RoleDeveloper)

	clk := &fakeClock{t: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
	m.lockout.now = clk.now

	for i := 0; i < 5; i++ {
		m.VerifyCredentials(ctx, "alice", "wrong-password")
	}
	if res := m.VerifyCredentials(ctx, "alice", "correct-horse"); res.Status != StatusLocked {
		t.Fatalf("status = %v, want locked", res.Status)
	}

	clk.advance(5*time.Minute + time.Second)
	res := m.VerifyCredentials(ctx, "alice", "correct-horse")
	if res.Status != StatusSuccess {
		t.Fatalf("status after window = %v, want success", res.Status)
	}
}

func TestVerifyCredentials_SuccessResetsCounter(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t)
	createAccount(t, m, s, "alice", "correct-horse", RoleDeveloper)

	for i := 0; i < 4; i++ {
		m.VerifyCredentials(ctx, "alice", "wrong-password")
	}
	if res := m.VerifyCredentials(ctx, "alice", "correct-horse"); res.Status != StatusSuccess {
		t.Fatalf("login blocked below threshold")
	}
	if got := m.lockout.FailedAttempts("alice"); got != 0 {
		t.Fatalf("counter not reset, = %d", got)
	}
}

func TestIssueAndValidateToken(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t)
	u := createAccount(t, m, s, "alice", "correct-horse", RoleViewer)

	res := m.VerifyCredentials(ctx, "alice", "correct-horse")
	if res.Status != StatusSuccess {
		t.Fatalf("login failed")
	}

	tok, err := m.IssueToken(res.User)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	claims, err := m.ValidateToken(tok)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if claims.UserID() != u.UserID || claims.Role != RoleViewer {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestNewUser_Policy(t *testing.T) {
	cases := []struct {
		name     string
		username string
		password string
		role     string
	}{
		{"short username", "ab", "long-enough-pass", RoleViewer},
		{"short password", "alice", "short", RoleViewer},
		{"bad role", "alice", "long-enough-pass", "root"},
	}
	for _, tc := range cases {
		if _, err := NewUser(tc.username, tc.password, tc.role, 4); err == nil {
			t.Fatalf("%s: accepted", tc.name)
		}
	}

	u, err := NewUser("alice", "long-enough-pass", RoleAdmin, 4)
	if err != nil {
		t.Fatalf("valid account rejected: %v", err)
	}
	if u.UserID == "" || !u.IsActive {
		t.Fatalf("user = %+v", u)
	}
}
