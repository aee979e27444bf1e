// Package login handles password credentials: signup, verification and the
// failed-attempt lockout that guards it.
package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tangpian/melody-auth/pkg/config"
	"github.com/tangpian/melody-auth/pkg/counter"
	"github.com/tangpian/melody-auth/pkg/directory"
	appErrors "github.com/tangpian/melody-auth/pkg/errors"
)

// Service verifies and provisions password credentials.
type Service struct {
	users    directory.UserRepository
	counters *counter.Service
	configs  config.Provider
}

func NewService(users directory.UserRepository, counters *counter.Service, configs config.Provider) *Service {
	return &Service{users: users, counters: counters, configs: configs}
}

// HashPassword produces a bcrypt hash for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Authenticate verifies an email and password pair. The lockout counter is
// checked before the credential comparison, so a locked identity stays
// locked even when the right password arrives. On success the counter for
// this (email, ip) pair is cleared.
func (s *Service) Authenticate(ctx context.Context, email, password, ip string) (directory.User, error) {
	cfg := s.configs.Current()

	if cfg.AccountLockoutThreshold > 0 {
		failures, err := s.counters.PasswordFailures(ctx, email, ip)
		if err != nil {
			return directory.User{}, appErrors.InternalWrap(err, "failed to check lockout counter")
		}
		if failures >= cfg.AccountLockoutThreshold {
			slog.Warn("login locked out", "email", email, "ip", ip, "failures", failures)
			return directory.User{}, appErrors.Locked("too many failed attempts, try again later")
		}
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return directory.User{}, appErrors.Unauthorized("invalid credentials")
		}
		return directory.User{}, appErrors.InternalWrap(err, "failed to look up user")
	}
	if !user.IsActive {
		return directory.User{}, appErrors.Unauthorized("invalid credentials")
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		if cfg.AccountLockoutThreshold > 0 {
			if _, err := s.counters.RecordPasswordFailure(ctx, email, ip, cfg.AccountLockoutWindow); err != nil {
				slog.Error("failed to record login failure", "err", err)
			}
		}
		return directory.User{}, appErrors.Unauthorized("invalid credentials")
	}

	if err := s.counters.ClearPasswordFailures(ctx, email, ip); err != nil {
		slog.Error("failed to clear login failures", "err", err)
	}
	return user, nil
}

// SignupRequest carries the fields of a new account.
type SignupRequest struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Locale    string
}

// Signup provisions a new active account. A live account with the same
// email yields a conflict.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (directory.User, error) {
	if req.Email == "" || req.Password == "" {
		return directory.User{}, appErrors.New(appErrors.ErrCodeInvalidInput, "email and password are required")
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return directory.User{}, appErrors.InternalWrap(err, "failed to hash password")
	}

	user, err := s.users.Create(ctx, directory.User{
		Email:        req.Email,
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Locale:       req.Locale,
		IsActive:     true,
	})
	if err != nil {
		if errors.Is(err, directory.ErrDuplicateEmail) {
			return directory.User{}, appErrors.Conflict("user", req.Email)
		}
		return directory.User{}, appErrors.InternalWrap(err, "failed to create user")
	}

	slog.Info("user signed up", "user_id", user.ID)
	return user, nil
}

// ChangePassword replaces the user's password after verifying the current
// one.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return appErrors.NotFound("user", userID.String())
		}
		return appErrors.InternalWrap(err, "failed to look up user")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)) != nil {
		return appErrors.Unauthorized("invalid credentials")
	}

	hash, err := HashPassword(next)
	if err != nil {
		return appErrors.InternalWrap(err, "failed to hash password")
	}
	user.PasswordHash = hash
	if _, err := s.users.Update(ctx, user); err != nil {
		return appErrors.InternalWrap(err, "failed to update user")
	}
	return nil
}
