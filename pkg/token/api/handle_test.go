package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangpian/melody-auth/pkg/config"
	"github.com/tangpian/melody-auth/pkg/directory"
	"github.com/tangpian/melody-auth/pkg/jwks"
	"github.com/tangpian/melody-auth/pkg/kv"
	"github.com/tangpian/melody-auth/pkg/pkce"
	"github.com/tangpian/melody-auth/pkg/session"
	"github.com/tangpian/melody-auth/pkg/token"
)

const testVerifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"

type tokenServer struct {
	srv      *httptest.Server
	sessions *session.Store
	users    *directory.InMemoryUserRepository
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ctx := context.Background()

	cfg := config.DefaultAuthConfig()
	configs := config.NewStaticProvider(cfg)

	store := kv.NewInMemoryStore()
	sessions := session.NewStore(store, cfg.AuthorizationCodeExpiresIn)
	users := directory.NewInMemoryUserRepository()

	keys, err := jwks.NewService(ctx, jwks.NewInMemoryRepository())
	require.NoError(t, err)

	tokens := token.NewService(sessions, store, keys, configs)
	srv := httptest.NewServer(NewHandler(tokens, users, keys).Routes())
	t.Cleanup(srv.Close)

	return &tokenServer{srv: srv, sessions: sessions, users: users}
}

// mintCode stores a fully authorized session whose code is ready for
// exchange and returns the code.
func (ts *tokenServer) mintCode(t *testing.T, scopes []string) string {
	t.Helper()
	ctx := context.Background()

	user, err := ts.users.Create(ctx, directory.User{
		Email:         "test@email.com",
		EmailVerified: true,
		FirstName:     "Test",
		IsActive:      true,
		Roles:         []string{"user"},
	})
	require.NoError(t, err)

	challenge, err := pkce.Challenge(testVerifier, pkce.MethodS256)
	require.NoError(t, err)

	sess, err := ts.sessions.Create(ctx, session.AuthSession{
		AppName: "Test SPA",
		Request: session.AuthRequest{
			ClientID:            "abc123",
			RedirectURI:         "http://localhost:3000/en/dashboard",
			ResponseType:        "code",
			CodeChallenge:       challenge,
			CodeChallengeMethod: "S256",
			Scopes:              scopes,
		},
		User: session.UserSnapshot{
			ID:            user.ID,
			Email:         user.Email,
			EmailVerified: true,
			Roles:         user.Roles,
		},
	})
	require.NoError(t, err)

	sess.FullyAuthorized = true
	require.NoError(t, ts.sessions.Update(ctx, sess))
	return sess.Token
}

func (ts *tokenServer) postForm(t *testing.T, path string, form url.Values) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.srv.URL+path, "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()))
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func TestTokenEndpointAuthorizationCode(t *testing.T) {
	ts := newTokenServer(t)
	code := ts.mintCode(t, []string{"openid", "profile", "offline_access"})

	resp := ts.postForm(t, "/token", url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {"abc123"},
		"code":          {code},
		"code_verifier": {testVerifier},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body token.Response
	decodeJSON(t, resp, &body)
	assert.NotEmpty(t, body.AccessToken)
	assert.NotEmpty(t, body.RefreshToken)
	assert.NotEmpty(t, body.IDToken)
	assert.Equal(t, "Bearer", body.TokenType)
	assert.Equal(t, int64(1800), body.ExpiresIn)
}

func TestTokenEndpointInvalidGrant(t *testing.T) {
	ts := newTokenServer(t)

	resp := ts.postForm(t, "/token", url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {"abc123"},
		"code":          {"bogus"},
		"code_verifier": {testVerifier},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body OAuthError
	decodeJSON(t, resp, &body)
	assert.Equal(t, "invalid_grant", body.Error)
}

func TestTokenEndpointUnsupportedGrantType(t *testing.T) {
	ts := newTokenServer(t)

	resp := ts.postForm(t, "/token", url.Values{"grant_type": {"password"}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body OAuthError
	decodeJSON(t, resp, &body)
	assert.Equal(t, "unsupported_grant_type", body.Error)
}

func TestTokenEndpointRefreshGrant(t *testing.T) {
	ts := newTokenServer(t)
	code := ts.mintCode(t, []string{"openid", "offline_access"})

	resp := ts.postForm(t, "/token", url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {"abc123"},
		"code":          {code},
		"code_verifier": {testVerifier},
	})
	var first token.Response
	decodeJSON(t, resp, &first)
	require.NotEmpty(t, first.RefreshToken)

	resp = ts.postForm(t, "/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {first.RefreshToken},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var refreshed token.Response
	decodeJSON(t, resp, &refreshed)
	assert.NotEmpty(t, refreshed.AccessToken)
	assert.Empty(t, refreshed.RefreshToken, "the refresh token is not rotated")
}

func TestRevokeEndpoint(t *testing.T) {
	ts := newTokenServer(t)

	resp := ts.postForm(t, "/revoke", url.Values{"token": {"never-issued"}})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestUserinfoEndpoint(t *testing.T) {
	ts := newTokenServer(t)
	code := ts.mintCode(t, []string{"openid"})

	resp := ts.postForm(t, "/token", url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {"abc123"},
		"code":          {code},
		"code_verifier": {testVerifier},
	})
	var tokens token.Response
	decodeJSON(t, resp, &tokens)

	req, err := http.NewRequest(http.MethodGet, ts.srv.URL+"/userinfo", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)

	infoResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, infoResp.StatusCode)

	var info UserinfoResponse
	decodeJSON(t, infoResp, &info)
	assert.Equal(t, "test@email.com", info.Email)
	assert.True(t, info.EmailVerified)
	assert.Equal(t, []string{"user"}, info.Roles)
}

func TestUserinfoEndpointRequiresToken(t *testing.T) {
	ts := newTokenServer(t)

	resp, err := http.Get(ts.srv.URL + "/userinfo")
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var body OAuthError
	decodeJSON(t, resp, &body)
	assert.Equal(t, "invalid_token", body.Error)
}

func TestLogoutEndpoint(t *testing.T) {
	ts := newTokenServer(t)
	code := ts.mintCode(t, []string{"openid", "offline_access"})

	resp := ts.postForm(t, "/token", url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {"abc123"},
		"code":          {code},
		"code_verifier": {testVerifier},
	})
	var tokens token.Response
	decodeJSON(t, resp, &tokens)

	form := url.Values{
		"refresh_token":            {tokens.RefreshToken},
		"post_logout_redirect_uri": {"http://localhost:3000/"},
	}
	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/logout", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)

	logoutResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, logoutResp.StatusCode)

	var body LogoutResponse
	decodeJSON(t, logoutResp, &body)
	assert.Contains(t, body.RedirectURI, "/oauth2/v1/logout?post_logout_redirect_uri=")

	// The refresh token is gone.
	refreshResp := ts.postForm(t, "/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tokens.RefreshToken},
	})
	defer refreshResp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, refreshResp.StatusCode)
}

func TestJwksEndpoint(t *testing.T) {
	ts := newTokenServer(t)

	resp, err := http.Get(ts.srv.URL + "/jwks")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc jwks.JWKS
	decodeJSON(t, resp, &doc)
	require.Len(t, doc.Keys, 1)
	assert.Equal(t, "RS256", doc.Keys[0].Alg)
	assert.Equal(t, "RSA", doc.Keys[0].Kty)
}
