package mfa

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tangpian/melody-auth/pkg/config"
	"github.com/tangpian/melody-auth/pkg/session"
)

func TestAllowOtpFallbackToEmail(t *testing.T) {
	base := config.DefaultAuthConfig()
	base.AllowEmailMfaAsBackup = true

	otpUser := session.UserSnapshot{MfaTypes: []string{"otp"}}

	t.Run("enrolled otp user gets fallback", func(t *testing.T) {
		assert.True(t, AllowOtpFallbackToEmail(base, otpUser))
	})

	t.Run("backup disabled", func(t *testing.T) {
		cfg := base
		cfg.AllowEmailMfaAsBackup = false
		assert.False(t, AllowOtpFallbackToEmail(cfg, otpUser))
	})

	t.Run("email required means email is its own factor", func(t *testing.T) {
		cfg := base
		cfg.EmailMfaRequired = true
		assert.False(t, AllowOtpFallbackToEmail(cfg, otpUser))
	})

	t.Run("email enrolled means email is its own factor", func(t *testing.T) {
		user := session.UserSnapshot{MfaTypes: []string{"otp", "email"}}
		assert.False(t, AllowOtpFallbackToEmail(base, user))
	})

	t.Run("user not on the otp path", func(t *testing.T) {
		assert.False(t, AllowOtpFallbackToEmail(base, session.UserSnapshot{}))
	})

	t.Run("otp required by policy counts as the otp path", func(t *testing.T) {
		cfg := base
		cfg.OtpMfaRequired = true
		assert.True(t, AllowOtpFallbackToEmail(cfg, session.UserSnapshot{}))
	})
}

func TestAllowSmsFallbackToEmail(t *testing.T) {
	base := config.DefaultAuthConfig()
	base.AllowEmailMfaAsBackup = true

	verifiedSmsUser := session.UserSnapshot{
		MfaTypes:               []string{"sms"},
		SmsPhoneNumber:         "+16505550100",
		SmsPhoneNumberVerified: true,
	}

	t.Run("verified sms user gets fallback", func(t *testing.T) {
		assert.True(t, AllowSmsFallbackToEmail(base, verifiedSmsUser))
	})

	t.Run("unverified phone withholds fallback", func(t *testing.T) {
		user := verifiedSmsUser
		user.SmsPhoneNumberVerified = false
		assert.False(t, AllowSmsFallbackToEmail(base, user))
	})

	t.Run("backup disabled", func(t *testing.T) {
		cfg := base
		cfg.AllowEmailMfaAsBackup = false
		assert.False(t, AllowSmsFallbackToEmail(cfg, verifiedSmsUser))
	})

	t.Run("email enrolled", func(t *testing.T) {
		user := verifiedSmsUser
		user.MfaTypes = []string{"sms", "email"}
		assert.False(t, AllowSmsFallbackToEmail(base, user))
	})

	t.Run("sms required by policy counts as the sms path", func(t *testing.T) {
		cfg := base
		cfg.SmsMfaRequired = true
		user := session.UserSnapshot{SmsPhoneNumberVerified: true}
		assert.True(t, AllowSmsFallbackToEmail(cfg, user))
	})
}
