package kv

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// InMemoryStore is a mutex-guarded map implementation of Store for tests
// and single-process deployments. Expiry is checked lazily on access.
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string]memEntry),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Tests use this to step past TTLs
// without sleeping.
func (s *InMemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *InMemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return "", ErrNotFound
	}
	if entry.expired(s.now()) {
		delete(s.entries, key)
		return "", ErrNotFound
	}
	return entry.value, nil
}

func (s *InMemoryStore) Put(ctx context.Context, key string, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := memEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = entry
	return nil
}

func (s *InMemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

func (s *InMemoryStore) GetDel(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return "", ErrNotFound
	}
	delete(s.entries, key)
	if entry.expired(s.now()) {
		return "", ErrNotFound
	}
	return entry.value, nil
}

func (s *InMemoryStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.entries[key]
	if ok && entry.expired(now) {
		ok = false
	}
	if !ok {
		entry = memEntry{value: "1"}
		if ttl > 0 {
			entry.expiresAt = now.Add(ttl)
		}
		s.entries[key] = entry
		return 1, nil
	}

	n := parseCount(entry.value) + 1
	entry.value = formatCount(n)
	s.entries[key] = entry
	return n, nil
}
