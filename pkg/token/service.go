package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tangpian/melody-auth/pkg/config"
	appErrors "github.com/tangpian/melody-auth/pkg/errors"
	"github.com/tangpian/melody-auth/pkg/jwks"
	"github.com/tangpian/melody-auth/pkg/kv"
	"github.com/tangpian/melody-auth/pkg/pkce"
	"github.com/tangpian/melody-auth/pkg/session"
)

// Scopes with protocol meaning.
const (
	ScopeOpenID        = "openid"
	ScopeOfflineAccess = "offline_access"
)

// Service implements the token endpoint grants.
type Service struct {
	sessions *session.Store
	refresh  *refreshStore
	gen      *Generator
	configs  config.Provider
}

func NewService(sessions *session.Store, store kv.Store, keys *jwks.Service, configs config.Provider) *Service {
	cfg := configs.Current()
	return &Service{
		sessions: sessions,
		refresh:  &refreshStore{store: store, ttl: cfg.RefreshTokenExpiresIn},
		gen:      NewGenerator(keys, cfg.Issuer),
		configs:  configs,
	}
}

// Response is the token endpoint payload.
type Response struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresOn    int64  `json:"expires_on"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

// ExchangeCodeRequest carries the authorization_code grant parameters.
type ExchangeCodeRequest struct {
	ClientID     string
	Code         string
	CodeVerifier string
}

// ExchangeCode redeems an authorization code. The code is consumed
// atomically before any validation so that concurrent redemption attempts
// see at most one success, and every failure mode after consumption reports
// the same invalid-grant error.
func (s *Service) ExchangeCode(ctx context.Context, req ExchangeCodeRequest) (Response, error) {
	if req.Code == "" {
		return Response{}, appErrors.InvalidGrant()
	}

	sess, err := s.sessions.Consume(ctx, req.Code)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return Response{}, appErrors.InvalidGrant()
		}
		return Response{}, appErrors.InternalWrap(err, "failed to consume authorization code")
	}

	if !sess.IsFullyAuthorized() {
		slog.Warn("code exchanged before flow completion", "client_id", req.ClientID)
		return Response{}, appErrors.InvalidGrant()
	}
	if req.ClientID == "" || req.ClientID != sess.Request.ClientID {
		return Response{}, appErrors.InvalidGrant()
	}

	method, err := pkce.ParseMethod(sess.Request.CodeChallengeMethod)
	if err != nil {
		return Response{}, appErrors.InvalidGrant()
	}
	if err := pkce.Verify(req.CodeVerifier, sess.Request.CodeChallenge, method); err != nil {
		return Response{}, appErrors.InvalidGrant()
	}

	return s.issueForSession(ctx, sess)
}

func (s *Service) issueForSession(ctx context.Context, sess session.AuthSession) (Response, error) {
	cfg := s.configs.Current()
	now := time.Now().UTC()

	accessToken, err := s.gen.SignAccessToken(ctx, sess.User.ID.String(), sess.Request.ClientID,
		sess.Request.Scopes, sess.User.Roles, cfg.AccessTokenExpiresIn)
	if err != nil {
		return Response{}, appErrors.InternalWrap(err, "failed to sign access token")
	}

	resp := Response{
		AccessToken: accessToken,
		ExpiresIn:   int64(cfg.AccessTokenExpiresIn.Seconds()),
		ExpiresOn:   now.Add(cfg.AccessTokenExpiresIn).Unix(),
		TokenType:   "Bearer",
		Scope:       strings.Join(sess.Request.Scopes, " "),
	}

	if hasScope(sess.Request.Scopes, ScopeOfflineAccess) {
		refreshToken, err := s.refresh.create(ctx, RefreshRecord{
			AuthID:   sess.User.ID.String(),
			ClientID: sess.Request.ClientID,
			Scopes:   sess.Request.Scopes,
			Roles:    sess.User.Roles,
		})
		if err != nil {
			return Response{}, appErrors.InternalWrap(err, "failed to create refresh token")
		}
		resp.RefreshToken = refreshToken
	}

	if hasScope(sess.Request.Scopes, ScopeOpenID) {
		idToken, err := s.gen.SignIDToken(ctx, IDClaims{
			Email:         sess.User.Email,
			EmailVerified: sess.User.EmailVerified,
			Roles:         sess.User.Roles,
			Nonce:         sess.Request.Nonce,
			Locale:        sess.Request.Locale,
			RegisteredClaims: registeredSubject(sess.User.ID.String()),
		}, sess.Request.ClientID, cfg.IDTokenExpiresIn)
		if err != nil {
			return Response{}, appErrors.InternalWrap(err, "failed to sign id token")
		}
		resp.IDToken = idToken
	}

	slog.Info("issued tokens", "user_id", sess.User.ID, "client_id", sess.Request.ClientID)
	return resp, nil
}

// RefreshAccessToken implements the refresh_token grant. The refresh token
// is not rotated: the same token stays valid until it expires or is
// revoked.
func (s *Service) RefreshAccessToken(ctx context.Context, refreshToken string) (Response, error) {
	record, err := s.refresh.get(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, errRefreshNotFound) {
			return Response{}, appErrors.InvalidGrant()
		}
		return Response{}, appErrors.InternalWrap(err, "failed to load refresh token")
	}

	cfg := s.configs.Current()
	now := time.Now().UTC()

	accessToken, err := s.gen.SignAccessToken(ctx, record.AuthID, record.ClientID,
		record.Scopes, record.Roles, cfg.AccessTokenExpiresIn)
	if err != nil {
		return Response{}, appErrors.InternalWrap(err, "failed to sign access token")
	}

	return Response{
		AccessToken: accessToken,
		ExpiresIn:   int64(cfg.AccessTokenExpiresIn.Seconds()),
		ExpiresOn:   now.Add(cfg.AccessTokenExpiresIn).Unix(),
		TokenType:   "Bearer",
		Scope:       strings.Join(record.Scopes, " "),
	}, nil
}

// Revoke deletes the refresh token's server-side record. Revoking an
// unknown token succeeds, per RFC 7009.
func (s *Service) Revoke(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if err := s.refresh.delete(ctx, refreshToken); err != nil {
		return appErrors.InternalWrap(err, "failed to revoke refresh token")
	}
	return nil
}

// Logout deletes the refresh token record and returns the URL the client
// should be sent to. An expired or foreign token still produces the
// redirect.
func (s *Service) Logout(ctx context.Context, refreshToken, clientID, postLogoutRedirectURI string) (string, error) {
	if refreshToken != "" {
		if err := s.refresh.delete(ctx, refreshToken); err != nil {
			slog.Error("failed to delete refresh token on logout", "err", err)
		}
	}

	cfg := s.configs.Current()
	redirect := fmt.Sprintf("%s/oauth2/v1/logout?post_logout_redirect_uri=%s&client_id=%s",
		strings.TrimRight(cfg.Issuer, "/"),
		url.QueryEscape(postLogoutRedirectURI),
		url.QueryEscape(clientID))
	return redirect, nil
}

// VerifyAccessToken exposes token verification for the userinfo endpoint
// and resource servers.
func (s *Service) VerifyAccessToken(ctx context.Context, tokenStr string) (*AccessClaims, error) {
	claims, err := s.gen.VerifyAccessToken(ctx, tokenStr)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCodeTokenInvalid, "invalid access token")
	}
	return claims, nil
}

func registeredSubject(subject string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{Subject: subject}
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}
