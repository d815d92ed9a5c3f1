// Package bbolt provides a BBolt-backed storage repository.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmcleod/orion/storage"
	"go.etcd.io/bbolt"
)

var usersBucket = []byte("users")

// Store implements storage.Repository backed by a BBolt database.
// Keys are emails, so cursor order is email order.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(usersBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating users bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s, err := NewRepository(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(_ context.Context, email string) (*storage.User, error) {
	var u storage.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(usersBucket).Get([]byte(email))
		if data == nil {
			return fmt.Errorf("%s: %w", email, storage.ErrNotFound)
		}
		return json.Unmarshal(data, &u)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) List(_ context.Context) ([]storage.User, error) {
	users := []storage.User{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(usersBucket).ForEach(func(_, v []byte) error {
			var u storage.User
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}
			users = append(users, u)
			return nil
		})
	})
	return users, err
}

func (s *Store) Create(_ context.Context, u *storage.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(usersBucket)
		if b.Get([]byte(u.Email)) != nil {
			return fmt.Errorf("%s: %w", u.Email, storage.ErrExists)
		}
		return b.Put([]byte(u.Email), data)
	})
}

func (s *Store) Update(_ context.Context, u *storage.User) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(usersBucket)
		existing := b.Get([]byte(u.Email))
		if existing == nil {
			return fmt.Errorf("%s: %w", u.Email, storage.ErrNotFound)
		}
		var prev storage.User
		if err := json.Unmarshal(existing, &prev); err != nil {
			return err
		}
		next := *u
		next.CreatedAt = prev.CreatedAt
		data, err := json.Marshal(&next)
		if err != nil {
			return err
		}
		return b.Put([]byte(u.Email), data)
	})
}

func (s *Store) Delete(_ context.Context, email string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(usersBucket)
		if b.Get([]byte(email)) == nil {
			return fmt.Errorf("%s: %w", email, storage.ErrNotFound)
		}
		return b.Delete([]byte(email))
	})
}
