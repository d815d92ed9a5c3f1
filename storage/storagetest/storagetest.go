// Package storagetest holds the behavioural suite every storage.Repository
// backend must pass.
package storagetest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/orion/storage"
)

func newUser(email string) *storage.User {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &storage.User{
		Email:        email,
		PasswordHash: []byte("$2a$10$hash-for-" + email),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Run exercises repo. The repository must start empty.
func Run(t *testing.T, repo storage.Repository) {
	ctx := t.Context()

	t.Run("EmptyList", func(t *testing.T) {
		users, err := repo.List(ctx)
		require.NoError(t, err)
		assert.NotNil(t, users)
		assert.Empty(t, users)
	})

	t.Run("CreateGet", func(t *testing.T) {
		u := newUser("alice@example.com")
		require.NoError(t, repo.Create(ctx, u))

		got, err := repo.Get(ctx, u.Email)
		require.NoError(t, err)
		assert.Equal(t, u.Email, got.Email)
		assert.Equal(t, u.PasswordHash, got.PasswordHash)
		assert.True(t, u.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		err := repo.Create(ctx, newUser("alice@example.com"))
		assert.ErrorIs(t, err, storage.ErrExists)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := repo.Get(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ListOrdered", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, newUser("carol@example.com")))
		require.NoError(t, repo.Create(ctx, newUser("bob@example.com")))

		users, err := repo.List(ctx)
		require.NoError(t, err)
		emails := make([]string, len(users))
		for i, u := range users {
			emails[i] = u.Email
		}
		assert.Equal(t, []string{"alice@example.com", "bob@example.com", "carol@example.com"}, emails)
	})

	t.Run("UpdateKeepsCreatedAt", func(t *testing.T) {
		before, err := repo.Get(ctx, "bob@example.com")
		require.NoError(t, err)

		upd := before.Clone()
		upd.PasswordHash = []byte("new-hash")
		upd.CreatedAt = time.Unix(0, 0).UTC()
		upd.UpdatedAt = before.UpdatedAt.Add(time.Minute)
		require.NoError(t, repo.Update(ctx, upd))

		after, err := repo.Get(ctx, "bob@example.com")
		require.NoError(t, err)
		assert.Equal(t, []byte("new-hash"), after.PasswordHash)
		assert.True(t, before.CreatedAt.Equal(after.CreatedAt))
		assert.True(t, upd.UpdatedAt.Equal(after.UpdatedAt))
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		err := repo.Update(ctx, newUser("nobody@example.com"))
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, "carol@example.com"))
		_, err := repo.Get(ctx, "carol@example.com")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.ErrorIs(t, repo.Delete(ctx, "carol@example.com"), storage.ErrNotFound)
	})

	t.Run("ReturnedValuesAreCopies", func(t *testing.T) {
		got, err := repo.Get(ctx, "alice@example.com")
		require.NoError(t, err)
		got.PasswordHash[0] = 'X'

		again, err := repo.Get(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.NotEqual(t, byte('X'), again.PasswordHash[0])
	})
}
