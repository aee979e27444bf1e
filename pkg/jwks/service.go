package jwks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Service owns the signing key set.
type Service struct {
	repository Repository
}

// NewService wraps a repository. If the repository holds no current key yet
// a first key is generated, which makes cold starts self-initializing.
func NewService(ctx context.Context, repository Repository) (*Service, error) {
	s := &Service{repository: repository}

	if _, err := repository.GetCurrent(ctx); err != nil {
		if _, rotateErr := s.Rotate(ctx); rotateErr != nil {
			return nil, fmt.Errorf("failed to generate initial signing key: %w", rotateErr)
		}
	}
	return s, nil
}

// CurrentKey returns the key that signs newly issued tokens.
func (s *Service) CurrentKey(ctx context.Context) (SigningKey, error) {
	key, err := s.repository.GetCurrent(ctx)
	if err != nil {
		return SigningKey{}, fmt.Errorf("no current signing key: %w", err)
	}
	return key, nil
}

// KeyByKid resolves a key for verification. Deprecated keys resolve so that
// tokens signed before a rotation keep verifying.
func (s *Service) KeyByKid(ctx context.Context, kid string) (SigningKey, error) {
	return s.repository.GetByKid(ctx, kid)
}

// Rotate generates a new key and promotes it to current. The previous
// current key becomes deprecated and verify-only.
func (s *Service) Rotate(ctx context.Context) (SigningKey, error) {
	privateKey, err := GenerateRSAKey()
	if err != nil {
		return SigningKey{}, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	key := SigningKey{
		Kid:        uuid.New().String(),
		Alg:        "RS256",
		PrivateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
		Status:     StatusDeprecated,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.repository.Add(ctx, key); err != nil {
		return SigningKey{}, fmt.Errorf("failed to store signing key: %w", err)
	}
	if err := s.repository.SetCurrent(ctx, key.Kid); err != nil {
		return SigningKey{}, fmt.Errorf("failed to promote signing key: %w", err)
	}

	key.Status = StatusCurrent
	slog.Info("rotated signing keys", "kid", key.Kid)
	return key, nil
}

// CleanupDeprecated removes deprecated keys older than maxAge. Tokens signed
// with a removed key stop verifying, so maxAge should exceed the longest
// token lifetime.
func (s *Service) CleanupDeprecated(ctx context.Context, maxAge time.Duration) ([]string, error) {
	removed, err := s.repository.DeleteDeprecatedBefore(ctx, time.Now().UTC().Add(-maxAge))
	if err != nil {
		return nil, fmt.Errorf("failed to clean up deprecated keys: %w", err)
	}
	if len(removed) > 0 {
		slog.Info("removed deprecated signing keys", "kids", removed)
	}
	return removed, nil
}

// Document returns the public JWKS for the verification endpoint.
func (s *Service) Document(ctx context.Context) (JWKS, error) {
	keys, err := s.repository.List(ctx)
	if err != nil {
		return JWKS{}, fmt.Errorf("failed to list signing keys: %w", err)
	}

	doc := JWKS{Keys: make([]JWK, 0, len(keys))}
	for _, key := range keys {
		doc.Keys = append(doc.Keys, key.ToJWK())
	}
	return doc, nil
}
