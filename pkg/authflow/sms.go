package authflow

import (
	"context"
	"log/slog"

	"github.com/tangpian/melody-auth/pkg/config"
	"github.com/tangpian/melody-auth/pkg/directory"
	appErrors "github.com/tangpian/melody-auth/pkg/errors"
	"github.com/tangpian/melody-auth/pkg/mfa"
	"github.com/tangpian/melody-auth/pkg/session"
)

// SmsMfaInfo backs the SMS code screen. The phone number is masked down to
// its last four digits.
type SmsMfaInfo struct {
	PhoneNumber             string `json:"phoneNumber"`
	CountryCode             string `json:"countryCode"`
	AllowFallbackToEmailMfa bool   `json:"allowFallbackToEmailMfa"`
}

// GetSmsMfaInfo describes the SMS step and sends a code when the user has
// a verified phone on file. A user whose number is missing or still
// unverified is directed to the setup form instead (empty PhoneNumber), so
// no code goes out to a number that was never confirmed.
func (s *Service) GetSmsMfaInfo(ctx context.Context, token, ip string) (SmsMfaInfo, error) {
	sess, err := s.loadSession(ctx, token)
	if err != nil {
		return SmsMfaInfo{}, err
	}

	cfg := s.deps.Configs.Current()
	if !smsStepAvailable(cfg, &sess) {
		return SmsMfaInfo{}, appErrors.Forbidden("sms mfa not available for this session")
	}

	info := SmsMfaInfo{
		CountryCode:             cfg.SmsCountryCode,
		AllowFallbackToEmailMfa: mfa.AllowSmsFallbackToEmail(cfg, sess.User),
	}

	if sess.User.SmsPhoneNumber != "" && sess.User.SmsPhoneNumberVerified {
		info.PhoneNumber = mfa.MaskPhone(sess.User.SmsPhoneNumber)
		if err := s.deps.Mfa.IssueSmsCode(ctx, cfg, &sess, sess.User.SmsPhoneNumber, ip); err != nil {
			return SmsMfaInfo{}, err
		}
	}
	return info, nil
}

// SetupSmsMfa records the phone number a first-time SMS user entered and
// sends the verification code to it.
func (s *Service) SetupSmsMfa(ctx context.Context, token, phone, ip string) (Result, error) {
	sess, err := s.loadSession(ctx, token)
	if err != nil {
		return Result{}, err
	}
	if sess.User.SmsPhoneNumberVerified {
		return Result{}, appErrors.Forbidden("phone number already verified")
	}

	cfg := s.deps.Configs.Current()
	if !smsStepAvailable(cfg, &sess) {
		return Result{}, appErrors.Forbidden("sms mfa not available for this session")
	}

	normalized := normalizePhone(cfg, phone)
	if normalized == "" {
		return Result{}, appErrors.New(appErrors.ErrCodeInvalidInput, "phone number is required")
	}

	user, err := s.userFromSession(ctx, &sess)
	if err != nil {
		return Result{}, err
	}
	user.SmsPhoneNumber = normalized
	user.SmsPhoneNumberVerified = false
	if err := s.refreshUserSnapshot(ctx, &sess, user); err != nil {
		return Result{}, err
	}

	if err := s.deps.Mfa.IssueSmsCode(ctx, cfg, &sess, normalized, ip); err != nil {
		return Result{}, err
	}

	logStep("setup_sms_mfa", &sess)
	return s.result(ctx, &sess)
}

// ResendSmsMfa sends a fresh code to the phone on file.
func (s *Service) ResendSmsMfa(ctx context.Context, token, ip string) error {
	sess, err := s.loadSession(ctx, token)
	if err != nil {
		return err
	}
	cfg := s.deps.Configs.Current()
	if !smsStepAvailable(cfg, &sess) {
		return appErrors.Forbidden("sms mfa not available for this session")
	}
	if sess.User.SmsPhoneNumber == "" {
		return appErrors.New(appErrors.ErrCodeInvalidInput, "no phone number on file")
	}

	return s.deps.Mfa.IssueSmsCode(ctx, cfg, &sess, sess.User.SmsPhoneNumber, ip)
}

// PostSmsMfa verifies the SMS code. The shared failure counter with the
// OTP step applies. The first success marks the phone verified on the
// account.
func (s *Service) PostSmsMfa(ctx context.Context, token, code, ip string) (Result, error) {
	sess, err := s.loadSession(ctx, token)
	if err != nil {
		return Result{}, err
	}
	if sess.MfaVerifiedFor(directory.MfaTypeSms) {
		return Result{}, appErrors.Forbidden("sms already verified")
	}
	if !smsStepAvailable(s.deps.Configs.Current(), &sess) {
		return Result{}, appErrors.Forbidden("sms mfa not available for this session")
	}

	if err := s.checkOtpFailures(ctx, &sess, ip); err != nil {
		return Result{}, err
	}

	ok, err := s.deps.Mfa.VerifySmsCode(ctx, sess.Token, code)
	if err != nil {
		return Result{}, appErrors.InternalWrap(err, "failed to verify sms code")
	}
	if !ok {
		return Result{}, s.recordOtpFailure(ctx, &sess, ip)
	}

	if err := s.deps.Counters.ClearOtpFailures(ctx, sess.User.ID.String(), ip); err != nil {
		slog.Error("failed to clear otp failures", "err", err)
	}

	if !sess.User.SmsPhoneNumberVerified {
		user, err := s.userFromSession(ctx, &sess)
		if err != nil {
			return Result{}, err
		}
		user.SmsPhoneNumberVerified = true
		user.EnrollMfa(directory.MfaTypeSms)
		if err := s.refreshUserSnapshot(ctx, &sess, user); err != nil {
			return Result{}, err
		}
	}

	sess.MarkMfaVerified(directory.MfaTypeSms)
	logStep("sms_mfa", &sess)
	return s.result(ctx, &sess)
}

// smsStepAvailable holds when SMS is a factor for this session. A session
// that never reached the SMS step cannot use it to send texts or enroll a
// phone number.
func smsStepAvailable(cfg config.AuthConfig, sess *session.AuthSession) bool {
	return cfg.SmsMfaRequired ||
		userEnrolled(sess.User, directory.MfaTypeSms) ||
		sess.RememberedEnrollChoice == directory.MfaTypeSms
}
