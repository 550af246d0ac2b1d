package users

import (
	"context"
	"errors"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&User{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service
}

func TestRegisterAndVerify(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	user, err := service.Register(ctx, "alice", "correct horse")
	if err != nil {
		t.Fatalf("unexpected registration error: %v", err)
	}
	if user.Username != "alice" {
		t.Fatalf("unexpected username %q", user.Username)
	}
	if user.PasswordHash == "correct horse" || user.PasswordHash == "" {
		t.Fatalf("password must be stored hashed")
	}

	if err := service.Verify(ctx, "alice", "correct horse"); err != nil {
		t.Fatalf("expected verification success: %v", err)
	}
	if err := service.Verify(ctx, "alice", "wrong"); !errors.Is(err, ErrIncorrectPassword) {
		t.Fatalf("expected ErrIncorrectPassword, got %v", err)
	}
	if err := service.Verify(ctx, "nobody", "whatever"); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser, got %v", err)
	}
}

func TestRegisterRejectsDuplicatesAndEmptyInput(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	if _, err := service.Register(ctx, "alice", "secret"); err != nil {
		t.Fatalf("unexpected registration error: %v", err)
	}
	if _, err := service.Register(ctx, "alice", "other"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
	if _, err := service.Register(ctx, "", "secret"); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser for empty username, got %v", err)
	}
	if _, err := service.Register(ctx, "bob", ""); !errors.Is(err, ErrMissingPassword) {
		t.Fatalf("expected ErrMissingPassword, got %v", err)
	}
}

func TestUpdatePassword(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	if _, err := service.Register(ctx, "alice", "old secret"); err != nil {
		t.Fatalf("unexpected registration error: %v", err)
	}

	err := service.UpdatePassword(ctx, "alice", "wrong", "new secret")
	if !errors.Is(err, ErrIncorrectPassword) {
		t.Fatalf("expected ErrIncorrectPassword, got %v", err)
	}

	if err := service.UpdatePassword(ctx, "alice", "old secret", "new secret"); err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if err := service.Verify(ctx, "alice", "new secret"); err != nil {
		t.Fatalf("new password must verify: %v", err)
	}
	if err := service.Verify(ctx, "alice", "old secret"); !errors.Is(err, ErrIncorrectPassword) {
		t.Fatalf("old password must stop working, got %v", err)
	}
}

func TestDeleteRequiresPassword(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	if _, err := service.Register(ctx, "alice", "secret"); err != nil {
		t.Fatalf("unexpected registration error: %v", err)
	}

	if err := service.Delete(ctx, "alice", "wrong"); !errors.Is(err, ErrIncorrectPassword) {
		t.Fatalf("expected ErrIncorrectPassword, got %v", err)
	}
	if err := service.Delete(ctx, "alice", "secret"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	exists, err := service.Exists(ctx, "alice")
	if err != nil || exists {
		t.Fatalf("account must be gone: exists=%v err=%v", exists, err)
	}
}
