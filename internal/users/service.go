package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Account errors surfaced to the transport layer.
var (
	ErrUserExists        = errors.New("users: user already exists")
	ErrUnknownUser       = errors.New("users: user does not exist")
	ErrIncorrectPassword = errors.New("users: incorrect password")
	ErrMissingPassword   = errors.New("users: cannot store user without a password")
)

// ServiceConfig describes the dependencies of the account service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages registered accounts and password verification.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock}, nil
}

// Register creates a new account with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, username, password string) (*User, error) {
	username = normalize(username)
	if username == "" {
		return nil, ErrUnknownUser
	}
	if password == "" {
		return nil, ErrMissingPassword
	}
	available, err := s.usernameAvailable(ctx, username)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, ErrUserExists
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("users: password hashing failed: %w", err)
	}
	user := User{Username: username, PasswordHash: string(hash)}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("users: registration failed: %w", err)
	}
	return &user, nil
}

// Verify checks the password of an existing account.
func (s *Service) Verify(ctx context.Context, username, password string) error {
	user, err := s.get(ctx, username)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return ErrIncorrectPassword
	}
	return nil
}

// UpdatePassword replaces an account's password after verifying the current
// one.
func (s *Service) UpdatePassword(ctx context.Context, username, password, newPassword string) error {
	if err := s.Verify(ctx, username, password); err != nil {
		return err
	}
	if newPassword == "" {
		return ErrMissingPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("users: password hashing failed: %w", err)
	}
	err = s.db.WithContext(ctx).Model(&User{}).
		Where("username = ?", normalize(username)).
		Updates(map[string]any{"password_hash": string(hash), "updated_at": s.now()}).
		Error
	if err != nil {
		return fmt.Errorf("users: password update failed: %w", err)
	}
	return nil
}

// Delete removes an account after verifying its password.
func (s *Service) Delete(ctx context.Context, username, password string) error {
	if err := s.Verify(ctx, username, password); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).
		Where("username = ?", normalize(username)).
		Delete(&User{}).
		Error
	if err != nil {
		return fmt.Errorf("users: deletion failed: %w", err)
	}
	return nil
}

// Exists reports whether an account is registered under the username.
func (s *Service) Exists(ctx context.Context, username string) (bool, error) {
	available, err := s.usernameAvailable(ctx, username)
	if err != nil {
		return false, err
	}
	return !available, nil
}

func (s *Service) get(ctx context.Context, username string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).
		Where("username = ?", normalize(username)).
		Take(&user).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, fmt.Errorf("users: lookup failed: %w", err)
	}
	return &user, nil
}

func (s *Service) usernameAvailable(ctx context.Context, username string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&User{}).
		Where("username = ?", normalize(username)).
		Count(&count).
		Error
	if err != nil {
		return false, fmt.Errorf("users: lookup failed: %w", err)
	}
	return count == 0, nil
}
