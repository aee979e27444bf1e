package authflow

import (
	"context"
	"log/slog"

	"github.com/tangpian/melody-auth/pkg/config"
	"github.com/tangpian/melody-auth/pkg/directory"
	"github.com/tangpian/melody-auth/pkg/mfa"
	"github.com/tangpian/melody-auth/pkg/session"
)

// Screens the client renders between password and tokens.
const (
	PageMfaEnroll = "mfa_enroll"
	PageOtpSetup  = "otp_setup"
	PageOtpMfa    = "otp_mfa"
	PageSmsMfa    = "sms_mfa"
	PageEmailMfa  = "email_mfa"
	PageConsent   = "consent"
)

// nextPage decides the next screen for a session. The precedence is fixed:
// enrollment, then OTP, SMS, email verification, then consent. An empty
// result means the flow is complete.
func (s *Service) nextPage(ctx context.Context, cfg config.AuthConfig, sess *session.AuthSession) string {
	if page := nextMfaPage(cfg, sess); page != "" {
		return page
	}

	if cfg.EnableUserAppConsent {
		granted, err := s.deps.Consents.HasConsent(ctx, sess.User.ID, sess.AppID)
		if err != nil {
			slog.Error("failed to check consent", "err", err)
			return PageConsent
		}
		if !granted {
			return PageConsent
		}
	}
	return ""
}

func nextMfaPage(cfg config.AuthConfig, sess *session.AuthSession) string {
	user := sess.User

	otpRequired := cfg.OtpMfaRequired || userEnrolled(user, directory.MfaTypeOtp) || sess.RememberedEnrollChoice == directory.MfaTypeOtp
	smsRequired := cfg.SmsMfaRequired || userEnrolled(user, directory.MfaTypeSms) || sess.RememberedEnrollChoice == directory.MfaTypeSms
	emailRequired := cfg.EmailMfaRequired || userEnrolled(user, directory.MfaTypeEmail) || sess.RememberedEnrollChoice == directory.MfaTypeEmail

	// A user with no factor at all is offered enrollment when policy
	// enforces at least one and no factor is force-required.
	if !otpRequired && !smsRequired && !emailRequired {
		if len(cfg.EnforceMfaEnrollment) > 0 {
			return PageMfaEnroll
		}
		return ""
	}

	if otpRequired && !otpSatisfied(cfg, sess) {
		if user.OtpVerified {
			return PageOtpMfa
		}
		return PageOtpSetup
	}
	if smsRequired && !smsSatisfied(cfg, sess) {
		return PageSmsMfa
	}
	if emailRequired && !sess.MfaVerifiedFor(directory.MfaTypeEmail) {
		return PageEmailMfa
	}
	return ""
}

// otpSatisfied holds when the OTP factor itself was verified, or when an
// email fallback code was accepted and the fallback applies to this user.
func otpSatisfied(cfg config.AuthConfig, sess *session.AuthSession) bool {
	if sess.MfaVerifiedFor(directory.MfaTypeOtp) {
		return true
	}
	return mfa.AllowOtpFallbackToEmail(cfg, sess.User) && sess.MfaVerifiedFor(directory.MfaTypeEmail)
}

func smsSatisfied(cfg config.AuthConfig, sess *session.AuthSession) bool {
	if sess.MfaVerifiedFor(directory.MfaTypeSms) {
		return true
	}
	return mfa.AllowSmsFallbackToEmail(cfg, sess.User) && sess.MfaVerifiedFor(directory.MfaTypeEmail)
}

func userEnrolled(user session.UserSnapshot, mfaType string) bool {
	for _, t := range user.MfaTypes {
		if t == mfaType {
			return true
		}
	}
	return false
}
