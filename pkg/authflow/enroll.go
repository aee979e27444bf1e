package authflow

import (
	"context"

	appErrors "github.com/tangpian/melody-auth/pkg/errors"
)

// MfaEnrollInfo lists the factors the enrollment screen offers.
type MfaEnrollInfo struct {
	MfaTypes []string `json:"mfaTypes"`
}

// GetMfaEnrollInfo backs the enrollment screen. A user who already carries
// a factor has nothing to choose and is turned away.
func (s *Service) GetMfaEnrollInfo(ctx context.Context, token string) (MfaEnrollInfo, error) {
	sess, err := s.loadSession(ctx, token)
	if err != nil {
		return MfaEnrollInfo{}, err
	}
	if len(sess.User.MfaTypes) > 0 {
		return MfaEnrollInfo{}, appErrors.Forbidden("user already enrolled")
	}

	cfg := s.deps.Configs.Current()
	return MfaEnrollInfo{MfaTypes: cfg.EnforceMfaEnrollment}, nil
}

// PostMfaEnroll records the user's factor choice. The choice is persisted
// to the account immediately, so the picked factor's verification becomes
// the next step.
func (s *Service) PostMfaEnroll(ctx context.Context, token, mfaType string) (Result, error) {
	sess, err := s.loadSession(ctx, token)
	if err != nil {
		return Result{}, err
	}
	if len(sess.User.MfaTypes) > 0 {
		return Result{}, appErrors.Forbidden("user already enrolled")
	}

	cfg := s.deps.Configs.Current()
	if !contains(cfg.EnforceMfaEnrollment, mfaType) {
		return Result{}, appErrors.New(appErrors.ErrCodeInvalidInput, "mfa type not offered for enrollment")
	}

	user, err := s.userFromSession(ctx, &sess)
	if err != nil {
		return Result{}, err
	}
	user.EnrollMfa(mfaType)
	if err := s.refreshUserSnapshot(ctx, &sess, user); err != nil {
		return Result{}, err
	}
	sess.RememberedEnrollChoice = mfaType

	logStep("mfa_enroll", &sess)
	return s.result(ctx, &sess)
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
