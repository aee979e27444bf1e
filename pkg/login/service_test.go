package login

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangpian/melody-auth/pkg/config"
	"github.com/tangpian/melody-auth/pkg/counter"
	"github.com/tangpian/melody-auth/pkg/directory"
	appErrors "github.com/tangpian/melody-auth/pkg/errors"
	"github.com/tangpian/melody-auth/pkg/kv"
)

func newTestLogin(t *testing.T, cfg config.AuthConfig) (*Service, directory.UserRepository, *kv.InMemoryStore) {
	t.Helper()
	store := kv.NewInMemoryStore()
	users := directory.NewInMemoryUserRepository()
	svc := NewService(users, counter.NewService(store), config.NewStaticProvider(cfg))
	return svc, users, store
}

func TestSignupAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestLogin(t, config.DefaultAuthConfig())

	user, err := svc.Signup(ctx, SignupRequest{Email: "test@email.com", Password: "Password1!"})
	require.NoError(t, err)
	assert.NotEmpty(t, user.PasswordHash)
	assert.NotEqual(t, "Password1!", user.PasswordHash)

	authed, err := svc.Authenticate(ctx, "test@email.com", "Password1!", "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, user.ID, authed.ID)
}

func TestSignupDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestLogin(t, config.DefaultAuthConfig())

	_, err := svc.Signup(ctx, SignupRequest{Email: "test@email.com", Password: "Password1!"})
	require.NoError(t, err)

	_, err = svc.Signup(ctx, SignupRequest{Email: "test@email.com", Password: "Other1!"})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeConflict))
}

func TestSignupRequiresCredentials(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestLogin(t, config.DefaultAuthConfig())

	_, err := svc.Signup(ctx, SignupRequest{Email: "", Password: "x"})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeInvalidInput))
	_, err = svc.Signup(ctx, SignupRequest{Email: "a@b.c", Password: ""})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeInvalidInput))
}

func TestAuthenticateWrongPassword(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestLogin(t, config.DefaultAuthConfig())

	_, err := svc.Signup(ctx, SignupRequest{Email: "test@email.com", Password: "Password1!"})
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, "test@email.com", "wrong", "1.2.3.4")
	assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeUnauthorized))

	// Unknown user and wrong password are indistinguishable.
	_, err2 := svc.Authenticate(ctx, "nobody@email.com", "wrong", "1.2.3.4")
	assert.True(t, appErrors.IsCode(err2, appErrors.ErrCodeUnauthorized))
	assert.Equal(t, err.Error(), err2.Error())
}

func TestLockoutAfterThreshold(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultAuthConfig()
	cfg.AccountLockoutThreshold = 2
	svc, _, _ := newTestLogin(t, cfg)

	_, err := svc.Signup(ctx, SignupRequest{Email: "test@email.com", Password: "Password1!"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = svc.Authenticate(ctx, "test@email.com", "wrong", "1.2.3.4")
		assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeUnauthorized))
	}

	// The correct password no longer helps from this ip.
	_, err = svc.Authenticate(ctx, "test@email.com", "Password1!", "1.2.3.4")
	assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeLocked))

	// A different ip is unaffected.
	_, err = svc.Authenticate(ctx, "test@email.com", "Password1!", "5.6.7.8")
	assert.NoError(t, err)
}

func TestLockoutDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultAuthConfig()
	cfg.AccountLockoutThreshold = 0
	svc, _, _ := newTestLogin(t, cfg)

	_, err := svc.Signup(ctx, SignupRequest{Email: "test@email.com", Password: "Password1!"})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err = svc.Authenticate(ctx, "test@email.com", "wrong", "1.2.3.4")
		assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeUnauthorized))
	}

	_, err = svc.Authenticate(ctx, "test@email.com", "Password1!", "1.2.3.4")
	assert.NoError(t, err)
}

func TestSuccessClearsFailureCounter(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultAuthConfig()
	cfg.AccountLockoutThreshold = 3
	svc, _, _ := newTestLogin(t, cfg)

	_, err := svc.Signup(ctx, SignupRequest{Email: "test@email.com", Password: "Password1!"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, _ = svc.Authenticate(ctx, "test@email.com", "wrong", "1.2.3.4")
	}
	_, err = svc.Authenticate(ctx, "test@email.com", "Password1!", "1.2.3.4")
	require.NoError(t, err)

	// The slate is clean again: two more failures do not lock.
	for i := 0; i < 2; i++ {
		_, _ = svc.Authenticate(ctx, "test@email.com", "wrong", "1.2.3.4")
	}
	_, err = svc.Authenticate(ctx, "test@email.com", "Password1!", "1.2.3.4")
	assert.NoError(t, err)
}

func TestLockoutWindowExpires(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultAuthConfig()
	cfg.AccountLockoutThreshold = 1
	cfg.AccountLockoutWindow = time.Hour
	svc, _, store := newTestLogin(t, cfg)

	_, err := svc.Signup(ctx, SignupRequest{Email: "test@email.com", Password: "Password1!"})
	require.NoError(t, err)

	now := time.Now()
	store.SetClock(func() time.Time { return now })

	_, _ = svc.Authenticate(ctx, "test@email.com", "wrong", "1.2.3.4")
	_, err = svc.Authenticate(ctx, "test@email.com", "Password1!", "1.2.3.4")
	assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeLocked))

	now = now.Add(2 * time.Hour)
	store.SetClock(func() time.Time { return now })

	_, err = svc.Authenticate(ctx, "test@email.com", "Password1!", "1.2.3.4")
	assert.NoError(t, err)
}

func TestInactiveUserCannotAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc, users, _ := newTestLogin(t, config.DefaultAuthConfig())

	user, err := svc.Signup(ctx, SignupRequest{Email: "test@email.com", Password: "Password1!"})
	require.NoError(t, err)

	user.IsActive = false
	_, err = users.Update(ctx, user)
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, "test@email.com", "Password1!", "1.2.3.4")
	assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeUnauthorized))
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestLogin(t, config.DefaultAuthConfig())

	user, err := svc.Signup(ctx, SignupRequest{Email: "test@email.com", Password: "Password1!"})
	require.NoError(t, err)

	err = svc.ChangePassword(ctx, user.ID, "wrong", "NewPassword1!")
	assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeUnauthorized))

	require.NoError(t, svc.ChangePassword(ctx, user.ID, "Password1!", "NewPassword1!"))

	_, err = svc.Authenticate(ctx, "test@email.com", "NewPassword1!", "1.2.3.4")
	assert.NoError(t, err)
}
