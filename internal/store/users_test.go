package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testUser(username, role string) *User {
	return &User{
		UserID:       "user_" + username,
		Username:     username,
		PasswordHash: []byte("$2a$10$fakehashfakehashfakehash"),
		Role:         role,
		CreatedAt:    time.Now().UTC(),
		IsActive:     true,
	}
}

func TestUserLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	u := testUser("alice", "developer")
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("get by username: %v", err)
	}
	if got.UserID != u.UserID || got.Role != "developer" || !got.IsActive {
		t.Fatalf("unexpected user: %+v", got)
	}
	if got.LastLogin != nil {
		t.Fatalf("fresh account should have nil last_login")
	}

	if err := s.UpdateLastLogin(ctx, u.UserID); err != nil {
		t.Fatalf("update last login: %v", err)
	}
	got, err = s.GetUserByID(ctx, u.UserID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if got.LastLogin == nil {
		t.Fatalf("last_login not set")
	}

	if err := s.DeactivateUser(ctx, u.UserID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	got, err = s.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("get after deactivate: %v", err)
	}
	if got.IsActive {
		t.Fatalf("expected inactive account")
	}
}

func TestCreateUser_DuplicateUsernameConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.CreateUser(ctx, testUser("bob", "viewer")); err != nil {
		t.Fatalf("create: %v", err)
	}
	dup := testUser("bob", "admin")
	dup.UserID = "user_bob2"
	err := s.CreateUser(ctx, dup)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.GetUserByUsername(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateLastLogin(ctx, "no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
}

func TestListUsers_ExcludesInactiveByDefault(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.CreateUser(ctx, testUser("u1", "viewer")); err != nil {
		t.Fatalf("create: %v", err)
	}
	u2 := testUser("u2", "viewer")
	if err := s.CreateUser(ctx, u2); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.DeactivateUser(ctx, u2.UserID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	active, err := s.ListUsers(ctx, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 || active[0].Username != "u1" {
		t.Fatalf("expected only u1, got %+v", active)
	}

	all, err := s.ListUsers(ctx, true)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(all))
	}
}

func TestUpdatePassword(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	u := testUser("carol", "admin")
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}
	newHash := []byte("$2a$10$differenthashdifferenthash")
	if err := s.UpdatePassword(ctx, u.UserID, newHash); err != nil {
		t.Fatalf("update password: %v", err)
	}
	got, err := s.GetUserByID(ctx, u.UserID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.PasswordHash) != string(newHash) {
		t.Fatalf("password hash not updated")
	}
}
