package authflow

import (
	"context"

	appErrors "github.com/tangpian/melody-auth/pkg/errors"
)

// ConsentInfo backs the consent screen.
type ConsentInfo struct {
	AppName string   `json:"appName"`
	Scopes  []string `json:"scopes"`
}

// GetConsentInfo describes what the user is being asked to approve.
func (s *Service) GetConsentInfo(ctx context.Context, token string) (ConsentInfo, error) {
	sess, err := s.loadSession(ctx, token)
	if err != nil {
		return ConsentInfo{}, err
	}
	return ConsentInfo{
		AppName: sess.AppName,
		Scopes:  sess.Request.Scopes,
	}, nil
}

// PostConsent records the user's approval of the app. The grant is durable
// and idempotent: later logins for the same pair skip the consent step.
func (s *Service) PostConsent(ctx context.Context, token string) (Result, error) {
	sess, err := s.loadSession(ctx, token)
	if err != nil {
		return Result{}, err
	}

	if err := s.deps.Consents.Grant(ctx, sess.User.ID, sess.AppID); err != nil {
		return Result{}, appErrors.InternalWrap(err, "failed to grant consent")
	}

	logStep("consent", &sess)
	return s.result(ctx, &sess)
}
