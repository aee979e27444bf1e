package directory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by lookups that match no live record. Soft-deleted
// records report not found as well.
var ErrNotFound = errors.New("directory: record not found")

// ErrDuplicateEmail is returned when a create would reuse a live email.
var ErrDuplicateEmail = errors.New("directory: email already registered")

// UserRepository stores user accounts.
type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	Create(ctx context.Context, user User) (User, error)
	Update(ctx context.Context, user User) (User, error)
	// Delete soft-deletes the user.
	Delete(ctx context.Context, id uuid.UUID) error
}

// AppRepository stores OAuth client registrations.
type AppRepository interface {
	GetByClientID(ctx context.Context, clientID string) (App, error)
	Create(ctx context.Context, app App) (App, error)
	Update(ctx context.Context, app App) (App, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// InMemoryUserRepository is a map-backed UserRepository for tests and
// single-process use.
type InMemoryUserRepository struct {
	mu    sync.RWMutex
	users map[uuid.UUID]User
}

func NewInMemoryUserRepository() *InMemoryUserRepository {
	return &InMemoryUserRepository{users: make(map[uuid.UUID]User)}
}

func (r *InMemoryUserRepository) GetByID(ctx context.Context, id uuid.UUID) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok || user.DeletedAt != nil {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (r *InMemoryUserRepository) GetByEmail(ctx context.Context, email string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	needle := strings.ToLower(email)
	for _, user := range r.users {
		if user.DeletedAt == nil && strings.ToLower(user.Email) == needle {
			return user, nil
		}
	}
	return User{}, ErrNotFound
}

func (r *InMemoryUserRepository) Create(ctx context.Context, user User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	needle := strings.ToLower(user.Email)
	for _, existing := range r.users {
		if existing.DeletedAt == nil && strings.ToLower(existing.Email) == needle {
			return User{}, ErrDuplicateEmail
		}
	}

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.users[user.ID] = user
	return user, nil
}

func (r *InMemoryUserRepository) Update(ctx context.Context, user User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.users[user.ID]
	if !ok || existing.DeletedAt != nil {
		return User{}, ErrNotFound
	}
	user.CreatedAt = existing.CreatedAt
	user.UpdatedAt = time.Now().UTC()
	r.users[user.ID] = user
	return user, nil
}

func (r *InMemoryUserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok || user.DeletedAt != nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	user.DeletedAt = &now
	r.users[id] = user
	return nil
}

// InMemoryAppRepository is a map-backed AppRepository.
type InMemoryAppRepository struct {
	mu   sync.RWMutex
	apps map[uuid.UUID]App
}

func NewInMemoryAppRepository() *InMemoryAppRepository {
	return &InMemoryAppRepository{apps: make(map[uuid.UUID]App)}
}

func (r *InMemoryAppRepository) GetByClientID(ctx context.Context, clientID string) (App, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, app := range r.apps {
		if app.DeletedAt == nil && app.ClientID == clientID {
			return app, nil
		}
	}
	return App{}, ErrNotFound
}

func (r *InMemoryAppRepository) Create(ctx context.Context, app App) (App, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if app.ID == uuid.Nil {
		app.ID = uuid.New()
	}
	now := time.Now().UTC()
	app.CreatedAt = now
	app.UpdatedAt = now
	r.apps[app.ID] = app
	return app, nil
}

func (r *InMemoryAppRepository) Update(ctx context.Context, app App) (App, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.apps[app.ID]
	if !ok || existing.DeletedAt != nil {
		return App{}, ErrNotFound
	}
	app.CreatedAt = existing.CreatedAt
	app.UpdatedAt = time.Now().UTC()
	r.apps[app.ID] = app
	return app, nil
}

func (r *InMemoryAppRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	app, ok := r.apps[id]
	if !ok || app.DeletedAt != nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	app.DeletedAt = &now
	r.apps[id] = app
	return nil
}
