// Package authflow orchestrates the multi-step authorization flow: password
// check, MFA enrollment and verification, consent, and the hand-off to the
// token endpoint. Policy is re-read from the config provider at every
// decision, so flows honor config changes made while they are in flight.
package authflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/tangpian/melody-auth/pkg/config"
	"github.com/tangpian/melody-auth/pkg/consent"
	"github.com/tangpian/melody-auth/pkg/counter"
	"github.com/tangpian/melody-auth/pkg/directory"
	appErrors "github.com/tangpian/melody-auth/pkg/errors"
	"github.com/tangpian/melody-auth/pkg/login"
	"github.com/tangpian/melody-auth/pkg/mfa"
	"github.com/tangpian/melody-auth/pkg/session"
)

// maxOtpFailures locks OTP and SMS verification per (user, ip) once
// reached.
const maxOtpFailures = 5

// Dependencies carries everything the flow service needs.
type Dependencies struct {
	Users    directory.UserRepository
	Apps     directory.AppRepository
	Sessions *session.Store
	Login    *login.Service
	Verifier *login.EmailVerifier
	Mfa      *mfa.Service
	Consents *consent.Service
	Counters *counter.Service
	Configs  config.Provider
}

// Service drives authorization sessions through their steps.
type Service struct {
	deps Dependencies
}

func NewService(deps Dependencies) *Service {
	return &Service{deps: deps}
}

// Result is the step response shape shared by every flow operation. Code is
// the session token, which doubles as the authorization code once the flow
// completes.
type Result struct {
	Code        string   `json:"code"`
	RedirectURI string   `json:"redirectUri"`
	State       string   `json:"state"`
	Scopes      []string `json:"scopes"`
	// NextPage names the screen the client must show next. Empty means the
	// flow is complete and the code is redeemable.
	NextPage string `json:"nextPage,omitempty"`
}

func (s *Service) result(ctx context.Context, sess *session.AuthSession) (Result, error) {
	cfg := s.deps.Configs.Current()
	next := s.nextPage(ctx, cfg, sess)

	sess.FullyAuthorized = next == ""
	if err := s.deps.Sessions.Update(ctx, *sess); err != nil {
		return Result{}, appErrors.InternalWrap(err, "failed to update session")
	}

	return Result{
		Code:        sess.Token,
		RedirectURI: sess.Request.RedirectURI,
		State:       sess.Request.State,
		Scopes:      sess.Request.Scopes,
		NextPage:    next,
	}, nil
}

// loadSession resolves a step's session token. A missing or expired token
// uniformly reports an expired session.
func (s *Service) loadSession(ctx context.Context, token string) (session.AuthSession, error) {
	sess, err := s.deps.Sessions.Get(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return session.AuthSession{}, appErrors.SessionExpired()
		}
		return session.AuthSession{}, appErrors.InternalWrap(err, "failed to load session")
	}
	return sess, nil
}

// refreshUserSnapshot writes the user back to the directory and mirrors the
// result into the session.
func (s *Service) refreshUserSnapshot(ctx context.Context, sess *session.AuthSession, user directory.User) error {
	updated, err := s.deps.Users.Update(ctx, user)
	if err != nil {
		return appErrors.InternalWrap(err, "failed to update user")
	}
	sess.User = snapshotUser(updated)
	return nil
}

func snapshotUser(user directory.User) session.UserSnapshot {
	return session.UserSnapshot{
		ID:                     user.ID,
		Email:                  user.Email,
		EmailVerified:          user.EmailVerified,
		MfaTypes:               user.MfaTypes,
		OtpSecret:              user.OtpSecret,
		OtpVerified:            user.OtpVerified,
		SmsPhoneNumber:         user.SmsPhoneNumber,
		SmsPhoneNumberVerified: user.SmsPhoneNumberVerified,
		Roles:                  user.Roles,
	}
}

// normalizePhone prefixes the configured country code when the number
// carries none.
func normalizePhone(cfg config.AuthConfig, phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" || strings.HasPrefix(phone, "+") {
		return phone
	}
	return cfg.SmsCountryCode + phone
}

func (s *Service) userFromSession(ctx context.Context, sess *session.AuthSession) (directory.User, error) {
	user, err := s.deps.Users.GetByID(ctx, sess.User.ID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return directory.User{}, appErrors.NotFound("user", sess.User.ID.String())
		}
		return directory.User{}, appErrors.InternalWrap(err, "failed to load user")
	}
	return user, nil
}

func logStep(step string, sess *session.AuthSession) {
	slog.Info("authorize step", "step", step, "user_id", sess.User.ID, "client_id", sess.Request.ClientID)
}
