package authflow

import (
	"context"

	"github.com/tangpian/melody-auth/pkg/config"
	"github.com/tangpian/melody-auth/pkg/directory"
	appErrors "github.com/tangpian/melody-auth/pkg/errors"
	"github.com/tangpian/melody-auth/pkg/mfa"
	"github.com/tangpian/melody-auth/pkg/session"
)

// SendEmailMfaCode mails a code to the session's user. It serves both the
// email MFA step itself and the fallback offered on the OTP and SMS
// screens; the fallback must actually be allowed for the user to use it
// from those screens.
func (s *Service) SendEmailMfaCode(ctx context.Context, token, ip string) error {
	sess, err := s.loadSession(ctx, token)
	if err != nil {
		return err
	}

	cfg := s.deps.Configs.Current()
	if !emailStepAvailable(cfg, &sess) {
		return appErrors.Forbidden("email mfa not available for this session")
	}

	return s.deps.Mfa.IssueEmailCode(ctx, cfg, &sess, ip)
}

// PostEmailMfa verifies an emailed code. Success marks the email factor
// verified in the session, which also satisfies an OTP or SMS requirement
// when the fallback applies.
func (s *Service) PostEmailMfa(ctx context.Context, token, code, ip string) (Result, error) {
	sess, err := s.loadSession(ctx, token)
	if err != nil {
		return Result{}, err
	}
	if sess.MfaVerifiedFor(directory.MfaTypeEmail) {
		return Result{}, appErrors.Forbidden("email already verified")
	}

	cfg := s.deps.Configs.Current()
	if !emailStepAvailable(cfg, &sess) {
		return Result{}, appErrors.Forbidden("email mfa not available for this session")
	}

	ok, err := s.deps.Mfa.VerifyEmailCode(ctx, sess.Token, code)
	if err != nil {
		return Result{}, appErrors.InternalWrap(err, "failed to verify email code")
	}
	if !ok {
		return Result{}, appErrors.Unauthorized("invalid code")
	}

	if !userEnrolled(sess.User, directory.MfaTypeEmail) && (cfg.EmailMfaRequired || sess.RememberedEnrollChoice == directory.MfaTypeEmail) {
		user, err := s.userFromSession(ctx, &sess)
		if err != nil {
			return Result{}, err
		}
		user.EnrollMfa(directory.MfaTypeEmail)
		if err := s.refreshUserSnapshot(ctx, &sess, user); err != nil {
			return Result{}, err
		}
	}

	sess.MarkMfaVerified(directory.MfaTypeEmail)
	logStep("email_mfa", &sess)
	return s.result(ctx, &sess)
}

// emailStepAvailable holds when email is a factor for this session, either
// in its own right or as an allowed fallback.
func emailStepAvailable(cfg config.AuthConfig, sess *session.AuthSession) bool {
	if cfg.EmailMfaRequired || userEnrolled(sess.User, directory.MfaTypeEmail) || sess.RememberedEnrollChoice == directory.MfaTypeEmail {
		return true
	}
	return mfa.AllowOtpFallbackToEmail(cfg, sess.User) || mfa.AllowSmsFallbackToEmail(cfg, sess.User)
}
