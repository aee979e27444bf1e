package consent

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrantAndCheck(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewInMemoryRepository())

	userID := uuid.New()
	appID := uuid.New()

	ok, err := svc.HasConsent(ctx, userID, appID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, svc.Grant(ctx, userID, appID))

	ok, err = svc.HasConsent(ctx, userID, appID)
	require.NoError(t, err)
	assert.True(t, ok)

	// Another app for the same user still needs consent.
	ok, err = svc.HasConsent(ctx, userID, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGrantIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	svc := NewService(repo)

	userID := uuid.New()
	appID := uuid.New()

	require.NoError(t, svc.Grant(ctx, userID, appID))
	first, ok, err := repo.Get(ctx, userID, appID)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, svc.Grant(ctx, userID, appID))
	second, ok, err := repo.Get(ctx, userID, appID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.GrantedAt, second.GrantedAt, "regrant keeps the original timestamp")
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewInMemoryRepository())

	userID := uuid.New()
	appID := uuid.New()

	require.NoError(t, svc.Grant(ctx, userID, appID))
	require.NoError(t, svc.Revoke(ctx, userID, appID))

	ok, err := svc.HasConsent(ctx, userID, appID)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, svc.Revoke(ctx, userID, appID), "revoking a missing grant is not an error")
}

func TestListByUser(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewInMemoryRepository())

	userID := uuid.New()
	require.NoError(t, svc.Grant(ctx, userID, uuid.New()))
	require.NoError(t, svc.Grant(ctx, userID, uuid.New()))
	require.NoError(t, svc.Grant(ctx, uuid.New(), uuid.New()))

	records, err := svc.ListByUser(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
