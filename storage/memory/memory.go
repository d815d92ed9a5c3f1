// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/jmcleod/orion/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu    sync.RWMutex
	users map[string]*storage.User
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{users: make(map[string]*storage.User)}
}

func (r *Repository) Get(_ context.Context, email string) (*storage.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[email]
	if !ok {
		return nil, fmt.Errorf("%s: %w", email, storage.ErrNotFound)
	}
	return u.Clone(), nil
}

func (r *Repository) List(_ context.Context) ([]storage.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]storage.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, *u.Clone())
	}
	slices.SortFunc(out, func(a, b storage.User) int {
		return strings.Compare(a.Email, b.Email)
	})
	return out, nil
}

func (r *Repository) Create(_ context.Context, u *storage.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.Email]; ok {
		return fmt.Errorf("%s: %w", u.Email, storage.ErrExists)
	}
	r.users[u.Email] = u.Clone()
	return nil
}

func (r *Repository) Update(_ context.Context, u *storage.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.users[u.Email]
	if !ok {
		return fmt.Errorf("%s: %w", u.Email, storage.ErrNotFound)
	}
	cp := u.Clone()
	cp.CreatedAt = existing.CreatedAt
	r.users[u.Email] = cp
	return nil
}

func (r *Repository) Delete(_ context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[email]; !ok {
		return fmt.Errorf("%s: %w", email, storage.ErrNotFound)
	}
	delete(r.users, email)
	return nil
}
