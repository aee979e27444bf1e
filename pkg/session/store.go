package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tangpian/melody-auth/pkg/kv"
)

// ErrNotFound is returned when a session token resolves to nothing, either
// because it never existed, already expired, or was consumed.
var ErrNotFound = errors.New("session: not found or expired")

// Store persists AuthSessions in the shared TTL key-value store.
type Store struct {
	kv  kv.Store
	ttl time.Duration
}

func NewStore(kvStore kv.Store, ttl time.Duration) *Store {
	return &Store{kv: kvStore, ttl: ttl}
}

// Create mints a token for the session and stores it. The returned session
// carries the token.
func (s *Store) Create(ctx context.Context, sess AuthSession) (AuthSession, error) {
	token, err := NewToken()
	if err != nil {
		return AuthSession{}, err
	}
	sess.Token = token
	sess.CreatedAt = time.Now().UTC()

	if err := s.put(ctx, sess); err != nil {
		return AuthSession{}, err
	}
	return sess, nil
}

// Get loads the session behind a token.
func (s *Store) Get(ctx context.Context, token string) (AuthSession, error) {
	raw, err := s.kv.Get(ctx, kv.AuthSessionKey(token))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return AuthSession{}, ErrNotFound
		}
		return AuthSession{}, fmt.Errorf("load session: %w", err)
	}
	return decode(token, raw)
}

// Update rewrites the session record. The TTL restarts, matching the
// behavior of handing the user a fresh window after each completed step.
func (s *Store) Update(ctx context.Context, sess AuthSession) error {
	if sess.Token == "" {
		return fmt.Errorf("update session: empty token")
	}
	return s.put(ctx, sess)
}

// Delete removes the session. Deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, token string) error {
	if err := s.kv.Delete(ctx, kv.AuthSessionKey(token)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Consume atomically loads and removes the session. Under concurrent calls
// for the same token exactly one caller gets the session; the rest see
// ErrNotFound. This is what makes the authorization code single use.
func (s *Store) Consume(ctx context.Context, token string) (AuthSession, error) {
	raw, err := s.kv.GetDel(ctx, kv.AuthSessionKey(token))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return AuthSession{}, ErrNotFound
		}
		return AuthSession{}, fmt.Errorf("consume session: %w", err)
	}
	return decode(token, raw)
}

func (s *Store) put(ctx context.Context, sess AuthSession) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.kv.Put(ctx, kv.AuthSessionKey(sess.Token), string(raw), s.ttl); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func decode(token, raw string) (AuthSession, error) {
	var sess AuthSession
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return AuthSession{}, fmt.Errorf("decode session: %w", err)
	}
	sess.Token = token
	return sess, nil
}
