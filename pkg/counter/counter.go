// Package counter tracks abuse counters for the login flow: failed password
// attempts, failed OTP submissions and MFA code deliveries. Counters live in
// the shared TTL key-value store so they survive restarts and are shared
// across replicas.
package counter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tangpian/melody-auth/pkg/kv"
)

// attemptWindow bounds OTP failure and send counters. Password lockout uses
// the operator-configured window instead.
const attemptWindow = 30 * time.Minute

type Service struct {
	store kv.Store
}

func NewService(store kv.Store) *Service {
	return &Service{store: store}
}

// PasswordFailures returns the current failed password count for the
// (email, ip) pair. A missing counter reads as zero.
func (s *Service) PasswordFailures(ctx context.Context, email, ip string) (int64, error) {
	return s.read(ctx, kv.FailedLoginKey(email, ip))
}

// RecordPasswordFailure bumps the failed password counter. The window
// applies when this failure creates the counter, so the lockout clock runs
// from the first failure.
func (s *Service) RecordPasswordFailure(ctx context.Context, email, ip string, window time.Duration) (int64, error) {
	n, err := s.store.Incr(ctx, kv.FailedLoginKey(email, ip), window)
	if err != nil {
		return 0, fmt.Errorf("record password failure: %w", err)
	}
	return n, nil
}

// ClearPasswordFailures removes the counter after a successful login.
func (s *Service) ClearPasswordFailures(ctx context.Context, email, ip string) error {
	if err := s.store.Delete(ctx, kv.FailedLoginKey(email, ip)); err != nil {
		return fmt.Errorf("clear password failures: %w", err)
	}
	return nil
}

// RecordOtpFailure bumps the failed OTP counter for (user, ip) and returns
// the new count.
func (s *Service) RecordOtpFailure(ctx context.Context, userID, ip string) (int64, error) {
	n, err := s.store.Incr(ctx, kv.FailedOtpKey(userID, ip), attemptWindow)
	if err != nil {
		return 0, fmt.Errorf("record otp failure: %w", err)
	}
	return n, nil
}

// OtpFailures returns the current failed OTP count for (user, ip).
func (s *Service) OtpFailures(ctx context.Context, userID, ip string) (int64, error) {
	return s.read(ctx, kv.FailedOtpKey(userID, ip))
}

// ClearOtpFailures removes the counter after a successful verification.
func (s *Service) ClearOtpFailures(ctx context.Context, userID, ip string) error {
	if err := s.store.Delete(ctx, kv.FailedOtpKey(userID, ip)); err != nil {
		return fmt.Errorf("clear otp failures: %w", err)
	}
	return nil
}

// RecordSmsSend bumps the SMS delivery counter and returns the new count.
// Callers compare the count against the configured ceiling before sending.
func (s *Service) RecordSmsSend(ctx context.Context, userID, ip string) (int64, error) {
	n, err := s.store.Incr(ctx, kv.SmsSendKey(userID, ip), attemptWindow)
	if err != nil {
		return 0, fmt.Errorf("record sms send: %w", err)
	}
	return n, nil
}

// RecordEmailSend bumps the Email MFA delivery counter and returns the new
// count.
func (s *Service) RecordEmailSend(ctx context.Context, userID, ip string) (int64, error) {
	n, err := s.store.Incr(ctx, kv.EmailSendKey(userID, ip), attemptWindow)
	if err != nil {
		return 0, fmt.Errorf("record email send: %w", err)
	}
	return n, nil
}

func (s *Service) read(ctx context.Context, key string) (int64, error) {
	val, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("read counter %s: %w", key, err)
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse counter %s: %w", key, err)
	}
	return n, nil
}
