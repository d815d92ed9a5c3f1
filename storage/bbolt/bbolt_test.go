package bbolt

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/jmcleod/orion/storage"
	"github.com/jmcleod/orion/storage/storagetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users-test.db")
	s, err := NewRepositoryFromFile(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBBoltStorage(t *testing.T) {
	storagetest.Run(t, newTestStore(t))
}

func TestBBoltStorage_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	s, err := NewRepositoryFromFile(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Create(t.Context(), &storage.User{
		Email:        "alice@example.com",
		PasswordHash: []byte("hash"),
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}))
	require.NoError(t, s.Close())

	s, err = NewRepositoryFromFile(path, &bbolt.Options{Timeout: time.Second})
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(t.Context(), "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, []byte("hash"), got.PasswordHash)
}
