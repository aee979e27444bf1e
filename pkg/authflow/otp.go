package authflow

import (
	"context"
	"log/slog"

	"github.com/tangpian/melody-auth/pkg/directory"
	appErrors "github.com/tangpian/melody-auth/pkg/errors"
	"github.com/tangpian/melody-auth/pkg/mfa"
	"github.com/tangpian/melody-auth/pkg/session"
)

// OtpSetupInfo carries what the authenticator-app setup screen needs.
type OtpSetupInfo struct {
	OtpSecret string `json:"otpSecret"`
	OtpUri    string `json:"otpUri"`
}

// OtpMfaInfo backs the OTP verification screen.
type OtpMfaInfo struct {
	AllowFallbackToEmailMfa bool `json:"allowFallbackToEmailMfa"`
}

// GetOtpSetupInfo returns the secret and otpauth URI for first-time
// authenticator setup. A fresh secret is minted on first visit and reused
// on reloads. Users who already finished setup are turned away.
func (s *Service) GetOtpSetupInfo(ctx context.Context, token string) (OtpSetupInfo, error) {
	sess, err := s.loadSession(ctx, token)
	if err != nil {
		return OtpSetupInfo{}, err
	}
	if sess.User.OtpVerified {
		return OtpSetupInfo{}, appErrors.Forbidden("otp already set up")
	}

	if sess.User.OtpSecret == "" {
		secret, err := s.deps.Mfa.GenerateOtpSecret(sess.User.Email)
		if err != nil {
			return OtpSetupInfo{}, appErrors.InternalWrap(err, "failed to generate otp secret")
		}

		user, err := s.userFromSession(ctx, &sess)
		if err != nil {
			return OtpSetupInfo{}, err
		}
		user.OtpSecret = secret
		if err := s.refreshUserSnapshot(ctx, &sess, user); err != nil {
			return OtpSetupInfo{}, err
		}
		if err := s.deps.Sessions.Update(ctx, sess); err != nil {
			return OtpSetupInfo{}, appErrors.InternalWrap(err, "failed to update session")
		}
	}

	return OtpSetupInfo{
		OtpSecret: sess.User.OtpSecret,
		OtpUri:    mfa.OtpAuthURI(sess.AppName, sess.User.Email, sess.User.OtpSecret),
	}, nil
}

// GetOtpMfaInfo backs the OTP code screen.
func (s *Service) GetOtpMfaInfo(ctx context.Context, token string) (OtpMfaInfo, error) {
	sess, err := s.loadSession(ctx, token)
	if err != nil {
		return OtpMfaInfo{}, err
	}

	cfg := s.deps.Configs.Current()
	return OtpMfaInfo{
		AllowFallbackToEmailMfa: mfa.AllowOtpFallbackToEmail(cfg, sess.User),
	}, nil
}

// PostOtpMfa verifies an authenticator code. Five wrong codes from one
// (user, ip) pair lock the step. The first successful verification also
// completes OTP setup.
func (s *Service) PostOtpMfa(ctx context.Context, token, code, ip string) (Result, error) {
	sess, err := s.loadSession(ctx, token)
	if err != nil {
		return Result{}, err
	}
	if sess.MfaVerifiedFor(directory.MfaTypeOtp) {
		return Result{}, appErrors.Forbidden("otp already verified")
	}

	if err := s.checkOtpFailures(ctx, &sess, ip); err != nil {
		return Result{}, err
	}

	if !s.deps.Mfa.VerifyTotp(sess.User.OtpSecret, code) {
		return Result{}, s.recordOtpFailure(ctx, &sess, ip)
	}

	if err := s.deps.Counters.ClearOtpFailures(ctx, sess.User.ID.String(), ip); err != nil {
		slog.Error("failed to clear otp failures", "err", err)
	}

	if !sess.User.OtpVerified {
		user, err := s.userFromSession(ctx, &sess)
		if err != nil {
			return Result{}, err
		}
		user.OtpVerified = true
		user.EnrollMfa(directory.MfaTypeOtp)
		if err := s.refreshUserSnapshot(ctx, &sess, user); err != nil {
			return Result{}, err
		}
	}

	sess.MarkMfaVerified(directory.MfaTypeOtp)
	logStep("otp_mfa", &sess)
	return s.result(ctx, &sess)
}

func (s *Service) checkOtpFailures(ctx context.Context, sess *session.AuthSession, ip string) error {
	failures, err := s.deps.Counters.OtpFailures(ctx, sess.User.ID.String(), ip)
	if err != nil {
		return appErrors.InternalWrap(err, "failed to check otp failures")
	}
	if failures >= maxOtpFailures {
		return appErrors.Locked("too many failed attempts, try again later")
	}
	return nil
}

func (s *Service) recordOtpFailure(ctx context.Context, sess *session.AuthSession, ip string) error {
	if _, err := s.deps.Counters.RecordOtpFailure(ctx, sess.User.ID.String(), ip); err != nil {
		slog.Error("failed to record otp failure", "err", err)
	}
	return appErrors.Unauthorized("invalid code")
}
