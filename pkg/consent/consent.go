// Package consent records which apps a user has approved. Consent is
// durable: once granted it applies to every later login for the same
// (user, app) pair until revoked.
package consent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is one granted consent.
type Record struct {
	UserID    uuid.UUID
	AppID     uuid.UUID
	GrantedAt time.Time
}

// Repository stores consent grants.
type Repository interface {
	Get(ctx context.Context, userID, appID uuid.UUID) (Record, bool, error)
	Put(ctx context.Context, record Record) error
	Delete(ctx context.Context, userID, appID uuid.UUID) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Record, error)
}

// Service answers consent questions for the login flow.
type Service struct {
	repository Repository
}

func NewService(repository Repository) *Service {
	return &Service{repository: repository}
}

// HasConsent reports whether the user already approved the app.
func (s *Service) HasConsent(ctx context.Context, userID, appID uuid.UUID) (bool, error) {
	_, ok, err := s.repository.Get(ctx, userID, appID)
	if err != nil {
		return false, fmt.Errorf("check consent: %w", err)
	}
	return ok, nil
}

// Grant records approval. Granting twice is a no-op and keeps the original
// timestamp.
func (s *Service) Grant(ctx context.Context, userID, appID uuid.UUID) error {
	if _, ok, err := s.repository.Get(ctx, userID, appID); err != nil {
		return fmt.Errorf("check consent: %w", err)
	} else if ok {
		return nil
	}

	record := Record{UserID: userID, AppID: appID, GrantedAt: time.Now().UTC()}
	if err := s.repository.Put(ctx, record); err != nil {
		return fmt.Errorf("grant consent: %w", err)
	}
	return nil
}

// Revoke removes a grant. Revoking a missing grant is not an error.
func (s *Service) Revoke(ctx context.Context, userID, appID uuid.UUID) error {
	if err := s.repository.Delete(ctx, userID, appID); err != nil {
		return fmt.Errorf("revoke consent: %w", err)
	}
	return nil
}

// ListByUser returns the user's grants, for account management surfaces.
func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID) ([]Record, error) {
	records, err := s.repository.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list consents: %w", err)
	}
	return records, nil
}

type consentKey struct {
	userID uuid.UUID
	appID  uuid.UUID
}

// InMemoryRepository is a map-backed Repository.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[consentKey]Record
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{records: make(map[consentKey]Record)}
}

func (r *InMemoryRepository) Get(ctx context.Context, userID, appID uuid.UUID) (Record, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[consentKey{userID, appID}]
	return record, ok, nil
}

func (r *InMemoryRepository) Put(ctx context.Context, record Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[consentKey{record.UserID, record.AppID}] = record
	return nil
}

func (r *InMemoryRepository) Delete(ctx context.Context, userID, appID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, consentKey{userID, appID})
	return nil
}

func (r *InMemoryRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var records []Record
	for key, record := range r.records {
		if key.userID == userID {
			records = append(records, record)
		}
	}
	return records, nil
}
