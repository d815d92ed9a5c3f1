// Package storage provides the storage abstraction layer for user accounts.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no account exists for an email.
	ErrNotFound = errors.New("user not found")
	// ErrExists is returned when creating an account whose email is taken.
	ErrExists = errors.New("user already exists")
)

// User is a stored account. Email is the normalized unique key.
type User struct {
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	cp := *u
	cp.PasswordHash = append([]byte(nil), u.PasswordHash...)
	return &cp
}

// Repository defines the interface for account storage.
// List returns users ordered by email.
type Repository interface {
	Get(ctx context.Context, email string) (*User, error)
	List(ctx context.Context) ([]User, error)
	Create(ctx context.Context, u *User) error
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, email string) error
}
