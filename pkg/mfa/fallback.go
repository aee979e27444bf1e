package mfa

import (
	"strings"

	"github.com/tangpian/melody-auth/pkg/config"
	"github.com/tangpian/melody-auth/pkg/directory"
	"github.com/tangpian/melody-auth/pkg/session"
)

// AllowOtpFallbackToEmail reports whether the OTP verification screen may
// offer an email code instead. The fallback only applies when email is not
// already a factor of its own for this user, and only to users actually in
// the OTP path.
func AllowOtpFallbackToEmail(cfg config.AuthConfig, user session.UserSnapshot) bool {
	if !cfg.AllowEmailMfaAsBackup {
		return false
	}
	if cfg.EmailMfaRequired || enrolled(user, directory.MfaTypeEmail) {
		return false
	}
	return cfg.OtpMfaRequired || enrolled(user, directory.MfaTypeOtp)
}

// AllowSmsFallbackToEmail is the SMS-path analogue. A user who never
// verified their phone must finish SMS verification, so the fallback is
// withheld until then.
func AllowSmsFallbackToEmail(cfg config.AuthConfig, user session.UserSnapshot) bool {
	if !user.SmsPhoneNumberVerified {
		return false
	}
	if !cfg.AllowEmailMfaAsBackup {
		return false
	}
	if cfg.EmailMfaRequired || enrolled(user, directory.MfaTypeEmail) {
		return false
	}
	return cfg.SmsMfaRequired || enrolled(user, directory.MfaTypeSms)
}

func enrolled(user session.UserSnapshot, mfaType string) bool {
	for _, t := range user.MfaTypes {
		if t == mfaType {
			return true
		}
	}
	return false
}

// MaskPhone hides all but the last four digits of a phone number.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
