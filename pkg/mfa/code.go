package mfa

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"

	"github.com/tangpian/melody-auth/pkg/config"
	appErrors "github.com/tangpian/melody-auth/pkg/errors"
	"github.com/tangpian/melody-auth/pkg/kv"
	"github.com/tangpian/melody-auth/pkg/notification"
	"github.com/tangpian/melody-auth/pkg/session"
)

// GenerateCode returns a random 6-digit code, zero padded.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("failed to generate mfa code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// IssueSmsCode generates a code bound to the session, stores it and texts
// it to the user's phone. The send counter is bumped first; when the
// configured ceiling is exceeded nothing is sent.
func (s *Service) IssueSmsCode(ctx context.Context, cfg config.AuthConfig, sess *session.AuthSession, phone, ip string) error {
	sends, err := s.counters.RecordSmsSend(ctx, sess.User.ID.String(), ip)
	if err != nil {
		return err
	}
	if cfg.SmsMfaMessageThreshold > 0 && sends > cfg.SmsMfaMessageThreshold {
		return appErrors.Locked("too many SMS requests")
	}

	code, err := GenerateCode()
	if err != nil {
		return err
	}
	if err := s.store.Put(ctx, kv.SmsMfaCodeKey(sess.Token), code, s.codeTTL); err != nil {
		return fmt.Errorf("store sms code: %w", err)
	}
	if err := s.sms.SendSms(ctx, phone, notification.MfaSmsBody(sess.AppName, code)); err != nil {
		return fmt.Errorf("send sms code: %w", err)
	}
	return nil
}

// IssueEmailCode generates a code bound to the session, stores it and
// emails it to the user.
func (s *Service) IssueEmailCode(ctx context.Context, cfg config.AuthConfig, sess *session.AuthSession, ip string) error {
	sends, err := s.counters.RecordEmailSend(ctx, sess.User.ID.String(), ip)
	if err != nil {
		return err
	}
	if cfg.EmailMfaEmailThreshold > 0 && sends > cfg.EmailMfaEmailThreshold {
		return appErrors.Locked("too many email requests")
	}

	code, err := GenerateCode()
	if err != nil {
		return err
	}
	if err := s.store.Put(ctx, kv.EmailMfaCodeKey(sess.Token), code, s.codeTTL); err != nil {
		return fmt.Errorf("store email code: %w", err)
	}
	err = s.email.SendEmail(ctx, sess.User.Email,
		notification.MfaEmailSubject(sess.AppName),
		notification.MfaEmailBody(sess.AppName, code))
	if err != nil {
		return fmt.Errorf("send email code: %w", err)
	}
	return nil
}

// VerifySmsCode checks a submitted code against the one issued for the
// session. The stored code is removed on success so it cannot be replayed.
func (s *Service) VerifySmsCode(ctx context.Context, sessionToken, code string) (bool, error) {
	return s.verifyStoredCode(ctx, kv.SmsMfaCodeKey(sessionToken), code)
}

// VerifyEmailCode checks a submitted code against the one issued for the
// session.
func (s *Service) VerifyEmailCode(ctx context.Context, sessionToken, code string) (bool, error) {
	return s.verifyStoredCode(ctx, kv.EmailMfaCodeKey(sessionToken), code)
}

func (s *Service) verifyStoredCode(ctx context.Context, key, code string) (bool, error) {
	stored, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load mfa code: %w", err)
	}
	if code == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return false, nil
	}
	if err := s.store.Delete(ctx, key); err != nil {
		return false, fmt.Errorf("clear mfa code: %w", err)
	}
	return true, nil
}
