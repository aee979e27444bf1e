package token

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangpian/melody-auth/pkg/config"
	appErrors "github.com/tangpian/melody-auth/pkg/errors"
	"github.com/tangpian/melody-auth/pkg/jwks"
	"github.com/tangpian/melody-auth/pkg/kv"
	"github.com/tangpian/melody-auth/pkg/session"
)

const testVerifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"

type tokenFixture struct {
	svc      *Service
	sessions *session.Store
	store    *kv.InMemoryStore
	keys     *jwks.Service
	configs  *config.MutableProvider
}

func newTokenFixture(t *testing.T) *tokenFixture {
	t.Helper()
	ctx := context.Background()

	store := kv.NewInMemoryStore()
	keys, err := jwks.NewService(ctx, jwks.NewInMemoryRepository())
	require.NoError(t, err)

	configs := config.NewMutableProvider(config.DefaultAuthConfig())
	sessions := session.NewStore(store, configs.Current().AuthorizationCodeExpiresIn)

	return &tokenFixture{
		svc:      NewService(sessions, store, keys, configs),
		sessions: sessions,
		store:    store,
		keys:     keys,
		configs:  configs,
	}
}

func (f *tokenFixture) createAuthorizedSession(t *testing.T, scopes []string) session.AuthSession {
	t.Helper()
	sum := sha256.Sum256([]byte(testVerifier))

	sess, err := f.sessions.Create(context.Background(), session.AuthSession{
		AppID:   uuid.New(),
		AppName: "Test SPA",
		Request: session.AuthRequest{
			ClientID:            "abc123",
			RedirectURI:         "http://localhost:3000/en/dashboard",
			ResponseType:        "code",
			State:               "123",
			CodeChallenge:       base64.RawURLEncoding.EncodeToString(sum[:]),
			CodeChallengeMethod: "S256",
			Scopes:              scopes,
		},
		User: session.UserSnapshot{
			ID:            uuid.New(),
			Email:         "test@email.com",
			EmailVerified: true,
			Roles:         []string{"user"},
		},
		FullyAuthorized: true,
	})
	require.NoError(t, err)
	return sess
}

func TestExchangeCodeHappyPath(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t)
	sess := f.createAuthorizedSession(t, []string{"profile", "openid", "offline_access"})

	resp, err := f.svc.ExchangeCode(ctx, ExchangeCodeRequest{
		ClientID:     "abc123",
		Code:         sess.Token,
		CodeVerifier: testVerifier,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.NotEmpty(t, resp.IDToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, "profile openid offline_access", resp.Scope)
	assert.Equal(t, int64(1800), resp.ExpiresIn)

	claims, err := f.svc.VerifyAccessToken(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID.String(), claims.Subject)
	assert.Equal(t, "abc123", claims.Azp)
	assert.Equal(t, []string{"user"}, claims.Roles)
}

func TestExchangeCodeScopeGating(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t)
	sess := f.createAuthorizedSession(t, []string{"profile"})

	resp, err := f.svc.ExchangeCode(ctx, ExchangeCodeRequest{
		ClientID:     "abc123",
		Code:         sess.Token,
		CodeVerifier: testVerifier,
	})
	require.NoError(t, err)

	assert.Empty(t, resp.RefreshToken, "no offline_access scope, no refresh token")
	assert.Empty(t, resp.IDToken, "no openid scope, no id token")
}

func TestExchangeCodeFailuresAreUniform(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t)

	cases := map[string]ExchangeCodeRequest{
		"unknown code": {ClientID: "abc123", Code: "nope", CodeVerifier: testVerifier},
		"empty code":   {ClientID: "abc123", Code: "", CodeVerifier: testVerifier},
	}
	sess := f.createAuthorizedSession(t, []string{"profile"})
	cases["wrong client"] = ExchangeCodeRequest{ClientID: "other", Code: sess.Token, CodeVerifier: testVerifier}

	var messages []string
	for name, req := range cases {
		_, err := f.svc.ExchangeCode(ctx, req)
		require.Error(t, err, name)
		assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeInvalidGrant), name)
		messages = append(messages, err.Error())
	}
	for _, msg := range messages {
		assert.Equal(t, messages[0], msg, "failure modes are indistinguishable")
	}
}

func TestExchangeCodeBadVerifier(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t)
	sess := f.createAuthorizedSession(t, []string{"profile"})

	_, err := f.svc.ExchangeCode(ctx, ExchangeCodeRequest{
		ClientID:     "abc123",
		Code:         sess.Token,
		CodeVerifier: "wrong-verifier-wrong-verifier-wrong-verifier-wrong",
	})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeInvalidGrant))
}

func TestExchangeCodeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t)
	sess := f.createAuthorizedSession(t, []string{"profile"})

	req := ExchangeCodeRequest{ClientID: "abc123", Code: sess.Token, CodeVerifier: testVerifier}
	_, err := f.svc.ExchangeCode(ctx, req)
	require.NoError(t, err)

	_, err = f.svc.ExchangeCode(ctx, req)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeInvalidGrant))
}

func TestExchangeCodeConcurrentSingleSuccess(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t)
	sess := f.createAuthorizedSession(t, []string{"profile"})

	req := ExchangeCodeRequest{ClientID: "abc123", Code: sess.Token, CodeVerifier: testVerifier}

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.ExchangeCode(ctx, req); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestExchangeCodeRequiresCompletedFlow(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t)

	sess := f.createAuthorizedSession(t, []string{"profile"})
	loaded, err := f.sessions.Get(ctx, sess.Token)
	require.NoError(t, err)
	loaded.FullyAuthorized = false
	require.NoError(t, f.sessions.Update(ctx, loaded))

	_, err = f.svc.ExchangeCode(ctx, ExchangeCodeRequest{
		ClientID: "abc123", Code: sess.Token, CodeVerifier: testVerifier,
	})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeInvalidGrant))
}

func TestRefreshGrantDoesNotRotate(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t)
	sess := f.createAuthorizedSession(t, []string{"profile", "offline_access"})

	initial, err := f.svc.ExchangeCode(ctx, ExchangeCodeRequest{
		ClientID: "abc123", Code: sess.Token, CodeVerifier: testVerifier,
	})
	require.NoError(t, err)

	first, err := f.svc.RefreshAccessToken(ctx, initial.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, first.AccessToken)
	assert.Empty(t, first.RefreshToken, "refresh response carries no new refresh token")
	assert.Equal(t, "profile offline_access", first.Scope)

	// The same refresh token keeps working.
	second, err := f.svc.RefreshAccessToken(ctx, initial.RefreshToken)
	require.NoError(t, err)

	claims, err := f.svc.VerifyAccessToken(ctx, second.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID.String(), claims.Subject)
}

func TestRefreshGrantUnknownToken(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t)

	_, err := f.svc.RefreshAccessToken(ctx, "unknown")
	assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeInvalidGrant))
}

func TestRevokeRefreshToken(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t)
	sess := f.createAuthorizedSession(t, []string{"profile", "offline_access"})

	resp, err := f.svc.ExchangeCode(ctx, ExchangeCodeRequest{
		ClientID: "abc123", Code: sess.Token, CodeVerifier: testVerifier,
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Revoke(ctx, resp.RefreshToken))

	_, err = f.svc.RefreshAccessToken(ctx, resp.RefreshToken)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeInvalidGrant))

	assert.NoError(t, f.svc.Revoke(ctx, resp.RefreshToken), "revoking twice succeeds")
	assert.NoError(t, f.svc.Revoke(ctx, "unknown"), "revoking an unknown token succeeds")
}

func TestLogoutDeletesRefreshRecord(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t)
	sess := f.createAuthorizedSession(t, []string{"profile", "offline_access"})

	resp, err := f.svc.ExchangeCode(ctx, ExchangeCodeRequest{
		ClientID: "abc123", Code: sess.Token, CodeVerifier: testVerifier,
	})
	require.NoError(t, err)

	redirect, err := f.svc.Logout(ctx, resp.RefreshToken, "abc123", "http://localhost:3000/")
	require.NoError(t, err)
	assert.Equal(t,
		"http://localhost:8787/oauth2/v1/logout?post_logout_redirect_uri=http%3A%2F%2Flocalhost%3A3000%2F&client_id=abc123",
		redirect)

	_, err = f.svc.RefreshAccessToken(ctx, resp.RefreshToken)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeInvalidGrant))
}

// Logout is intentionally permissive: a refresh token issued to one client
// is still removed when the logout names another client.
func TestLogoutPassesThroughWrongClient(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t)
	sess := f.createAuthorizedSession(t, []string{"profile", "offline_access"})

	resp, err := f.svc.ExchangeCode(ctx, ExchangeCodeRequest{
		ClientID: "abc123", Code: sess.Token, CodeVerifier: testVerifier,
	})
	require.NoError(t, err)

	redirect, err := f.svc.Logout(ctx, resp.RefreshToken, "other-client", "http://localhost:3000/")
	require.NoError(t, err)
	assert.Contains(t, redirect, "client_id=other-client")

	_, err = f.svc.RefreshAccessToken(ctx, resp.RefreshToken)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeInvalidGrant))
}

func TestTokensVerifyAcrossKeyRotation(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t)
	sess := f.createAuthorizedSession(t, []string{"profile"})

	resp, err := f.svc.ExchangeCode(ctx, ExchangeCodeRequest{
		ClientID: "abc123", Code: sess.Token, CodeVerifier: testVerifier,
	})
	require.NoError(t, err)

	_, err = f.keys.Rotate(ctx)
	require.NoError(t, err)

	// The pre-rotation token still verifies through the deprecated key.
	_, err = f.svc.VerifyAccessToken(ctx, resp.AccessToken)
	require.NoError(t, err)

	// Cleaning up deprecated keys ends that grace period.
	_, err = f.keys.CleanupDeprecated(ctx, -time.Second)
	require.NoError(t, err)

	_, err = f.svc.VerifyAccessToken(ctx, resp.AccessToken)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeTokenInvalid))
}

func TestVerifyAccessTokenRejectsGarbage(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t)

	_, err := f.svc.VerifyAccessToken(ctx, "not-a-jwt")
	assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeTokenInvalid))
}
