package login

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tangpian/melody-auth/pkg/config"
	"github.com/tangpian/melody-auth/pkg/directory"
	appErrors "github.com/tangpian/melody-auth/pkg/errors"
	"github.com/tangpian/melody-auth/pkg/kv"
	"github.com/tangpian/melody-auth/pkg/mfa"
	"github.com/tangpian/melody-auth/pkg/notification"
)

// EmailVerifier issues and checks the signup verification code that flips
// a user's emailVerified flag. The code is keyed by user in the TTL store,
// so it survives the login session that triggered it.
type EmailVerifier struct {
	users   directory.UserRepository
	store   kv.Store
	email   notification.EmailSender
	configs config.Provider
}

func NewEmailVerifier(users directory.UserRepository, store kv.Store, email notification.EmailSender, configs config.Provider) *EmailVerifier {
	return &EmailVerifier{users: users, store: store, email: email, configs: configs}
}

// SendVerificationEmail mails a fresh verification code to the user. It is
// a no-op when verification is disabled or the address is already
// verified. Verification never blocks the signup that triggered it, so
// callers log failures instead of failing the flow.
func (v *EmailVerifier) SendVerificationEmail(ctx context.Context, appName string, user directory.User) error {
	cfg := v.configs.Current()
	if !cfg.EnableEmailVerification || user.EmailVerified {
		return nil
	}

	code, err := mfa.GenerateCode()
	if err != nil {
		return err
	}
	if err := v.store.Put(ctx, kv.EmailVerificationKey(user.ID.String()), code, cfg.EmailVerificationExpiresIn); err != nil {
		return fmt.Errorf("store verification code: %w", err)
	}

	verifyURL := fmt.Sprintf("%s/identity/v1/verify-email?id=%s&locale=%s", cfg.Issuer, user.ID, user.Locale)
	err = v.email.SendEmail(ctx, user.Email,
		notification.VerificationEmailSubject(appName),
		notification.VerificationEmailBody(appName, verifyURL, code))
	if err != nil {
		return fmt.Errorf("send verification email: %w", err)
	}

	slog.Info("verification email sent", "user_id", user.ID)
	return nil
}

// VerifyEmail checks a submitted code and marks the address verified. The
// stored code is single use.
func (v *EmailVerifier) VerifyEmail(ctx context.Context, userID uuid.UUID, code string) error {
	user, err := v.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return appErrors.NotFound("user", userID.String())
		}
		return appErrors.InternalWrap(err, "failed to look up user")
	}
	if user.EmailVerified {
		return appErrors.Forbidden("email already verified")
	}

	key := kv.EmailVerificationKey(userID.String())
	stored, err := v.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return appErrors.Unauthorized("invalid code")
		}
		return appErrors.InternalWrap(err, "failed to load verification code")
	}
	if code == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return appErrors.Unauthorized("invalid code")
	}
	if err := v.store.Delete(ctx, key); err != nil {
		return appErrors.InternalWrap(err, "failed to clear verification code")
	}

	user.EmailVerified = true
	if _, err := v.users.Update(ctx, user); err != nil {
		return appErrors.InternalWrap(err, "failed to update user")
	}

	slog.Info("email verified", "user_id", userID)
	return nil
}
