package jwks

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrKeyNotFound is returned when no key matches a lookup.
var ErrKeyNotFound = errors.New("jwks: key not found")

// Repository stores the signing key set.
type Repository interface {
	Add(ctx context.Context, key SigningKey) error
	GetByKid(ctx context.Context, kid string) (SigningKey, error)
	GetCurrent(ctx context.Context) (SigningKey, error)
	List(ctx context.Context) ([]SigningKey, error)
	// SetCurrent promotes kid to current and marks every other key
	// deprecated.
	SetCurrent(ctx context.Context, kid string) error
	// DeleteDeprecatedBefore removes deprecated keys whose deprecation
	// predates the cutoff and returns the removed kids.
	DeleteDeprecatedBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}

// InMemoryRepository keeps the key set in process memory.
type InMemoryRepository struct {
	mu   sync.RWMutex
	keys map[string]SigningKey
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{keys: make(map[string]SigningKey)}
}

func (r *InMemoryRepository) Add(ctx context.Context, key SigningKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[key.Kid] = key
	return nil
}

func (r *InMemoryRepository) GetByKid(ctx context.Context, kid string) (SigningKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.keys[kid]
	if !ok {
		return SigningKey{}, ErrKeyNotFound
	}
	return key, nil
}

func (r *InMemoryRepository) GetCurrent(ctx context.Context) (SigningKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, key := range r.keys {
		if key.Status == StatusCurrent {
			return key, nil
		}
	}
	return SigningKey{}, ErrKeyNotFound
}

func (r *InMemoryRepository) List(ctx context.Context) ([]SigningKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]SigningKey, 0, len(r.keys))
	for _, key := range r.keys {
		keys = append(keys, key)
	}
	return keys, nil
}

func (r *InMemoryRepository) SetCurrent(ctx context.Context, kid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.keys[kid]; !ok {
		return ErrKeyNotFound
	}

	now := time.Now().UTC()
	for id, key := range r.keys {
		if id == kid {
			key.Status = StatusCurrent
			key.DeprecatedAt = nil
		} else if key.Status == StatusCurrent {
			key.Status = StatusDeprecated
			key.DeprecatedAt = &now
		}
		r.keys[id] = key
	}
	return nil
}

func (r *InMemoryRepository) DeleteDeprecatedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for kid, key := range r.keys {
		if key.Status == StatusDeprecated && key.DeprecatedAt != nil && key.DeprecatedAt.Before(cutoff) {
			delete(r.keys, kid)
			removed = append(removed, kid)
		}
	}
	return removed, nil
}
