package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tangpian/melody-auth/pkg/kv"
)

// RefreshRecord is the server-side state behind an opaque refresh token.
// The token value itself carries no information.
type RefreshRecord struct {
	AuthID   string   `json:"authId"`
	ClientID string   `json:"clientId"`
	Scopes   []string `json:"scope"`
	Roles    []string `json:"roles,omitempty"`
}

// errRefreshNotFound is internal; callers see a grant-level error.
var errRefreshNotFound = errors.New("refresh token not found")

type refreshStore struct {
	store kv.Store
	ttl   time.Duration
}

func newRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func (r *refreshStore) create(ctx context.Context, record RefreshRecord) (string, error) {
	token, err := newRefreshToken()
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("encode refresh record: %w", err)
	}
	if err := r.store.Put(ctx, kv.RefreshTokenKey(token), string(raw), r.ttl); err != nil {
		return "", fmt.Errorf("store refresh record: %w", err)
	}
	return token, nil
}

func (r *refreshStore) get(ctx context.Context, token string) (RefreshRecord, error) {
	raw, err := r.store.Get(ctx, kv.RefreshTokenKey(token))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return RefreshRecord{}, errRefreshNotFound
		}
		return RefreshRecord{}, fmt.Errorf("load refresh record: %w", err)
	}
	var record RefreshRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return RefreshRecord{}, fmt.Errorf("decode refresh record: %w", err)
	}
	return record, nil
}

func (r *refreshStore) delete(ctx context.Context, token string) error {
	if err := r.store.Delete(ctx, kv.RefreshTokenKey(token)); err != nil {
		return fmt.Errorf("delete refresh record: %w", err)
	}
	return nil
}
