package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangpian/melody-auth/pkg/kv"
)

func newTestSession() AuthSession {
	return AuthSession{
		AppID:   uuid.New(),
		AppName: "Test SPA",
		Request: AuthRequest{
			ClientID:            "abc123",
			RedirectURI:         "http://localhost:3000/en/dashboard",
			ResponseType:        "code",
			State:               "123",
			CodeChallenge:       "ongf3xzoFbjzFOVbK11dv1cWua5NFNHyw2aMIPmiEfU",
			CodeChallengeMethod: "S256",
			Scopes:              []string{"profile", "openid", "offline_access"},
		},
		User: UserSnapshot{
			ID:    uuid.New(),
			Email: "test@email.com",
			Roles: []string{"user"},
		},
	}
}

func TestStoreCreateGet(t *testing.T) {
	ctx := context.Background()
	store := NewStore(kv.NewInMemoryStore(), time.Minute)

	created, err := store.Create(ctx, newTestSession())
	require.NoError(t, err)
	require.NotEmpty(t, created.Token)
	assert.Len(t, created.Token, 64, "token is 32 random bytes hex encoded")

	loaded, err := store.Get(ctx, created.Token)
	require.NoError(t, err)
	assert.Equal(t, created.Token, loaded.Token)
	assert.Equal(t, created.Request, loaded.Request)
	assert.Equal(t, created.User, loaded.User)
}

func TestStoreTokensAreUnique(t *testing.T) {
	ctx := context.Background()
	store := NewStore(kv.NewInMemoryStore(), time.Minute)

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		created, err := store.Create(ctx, newTestSession())
		require.NoError(t, err)
		require.False(t, seen[created.Token])
		seen[created.Token] = true
	}
}

func TestStoreExpiry(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewInMemoryStore()
	store := NewStore(mem, time.Minute)

	now := time.Now()
	mem.SetClock(func() time.Time { return now })

	created, err := store.Create(ctx, newTestSession())
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	mem.SetClock(func() time.Time { return now })

	_, err = store.Get(ctx, created.Token)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreUpdatePreservesToken(t *testing.T) {
	ctx := context.Background()
	store := NewStore(kv.NewInMemoryStore(), time.Minute)

	created, err := store.Create(ctx, newTestSession())
	require.NoError(t, err)

	created.MarkMfaVerified("otp")
	require.NoError(t, store.Update(ctx, created))

	loaded, err := store.Get(ctx, created.Token)
	require.NoError(t, err)
	assert.True(t, loaded.MfaVerifiedFor("otp"))
	assert.False(t, loaded.MfaVerifiedFor("sms"))
}

func TestStoreConsumeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	store := NewStore(kv.NewInMemoryStore(), time.Minute)

	created, err := store.Create(ctx, newTestSession())
	require.NoError(t, err)

	consumed, err := store.Consume(ctx, created.Token)
	require.NoError(t, err)
	assert.Equal(t, created.User.ID, consumed.User.ID)

	_, err = store.Consume(ctx, created.Token)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, created.Token)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreConcurrentConsume(t *testing.T) {
	ctx := context.Background()
	store := NewStore(kv.NewInMemoryStore(), time.Minute)

	created, err := store.Create(ctx, newTestSession())
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Consume(ctx, created.Token); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes, "a code may only be consumed once")
}

func TestMarkMfaVerifiedIdempotent(t *testing.T) {
	sess := newTestSession()
	sess.MarkMfaVerified("otp")
	sess.MarkMfaVerified("otp")
	sess.MarkMfaVerified("email")
	assert.Equal(t, []string{"otp", "email"}, sess.MfaVerified)
}
