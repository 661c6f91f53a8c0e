package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStoreRoundTrip(t *testing.T, s Store) {
	t.Helper()

	_, ok, err := s.Get(KeyAuthToken)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(KeyAuthToken, "jwt-abc"))
	require.NoError(t, s.Set(KeyTokenExpires, "1700000000000"))

	v, ok, err := s.Get(KeyAuthToken)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "jwt-abc", v)

	require.NoError(t, s.Set(KeyAuthToken, "jwt-def"))
	v, ok, err = s.Get(KeyAuthToken)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "jwt-def", v)

	require.NoError(t, s.Delete(KeyAuthToken))
	_, ok, err = s.Get(KeyAuthToken)
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting an absent key is a no-op.
	require.NoError(t, s.Delete(KeyAuthToken))
}

func TestMemStore(t *testing.T) {
	testStoreRoundTrip(t, NewMemStore())
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	testStoreRoundTrip(t, s)
	require.NoError(t, s.Close())
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set(KeyStatusCache, `{"ts":1}`))
	require.NoError(t, s.Close())

	s2, err := NewFileStore(dir)
	require.NoError(t, err)
	v, ok, err := s2.Get(KeyStatusCache)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"ts":1}`, v)
}

func TestFileStore_CorruptedFileTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, stateFileName), []byte("{not json"), 0o600))

	s, err := NewFileStore(dir)
	require.NoError(t, err)
	_, ok, err := s.Get(KeyAuthToken)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStore_OwnerOnlyPerms(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set(KeyAuthToken, "secret"))

	info, err := os.Stat(filepath.Join(dir, stateFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStore_ClosedStoreErrors(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, _, err = s.Get(KeyAuthToken)
	assert.ErrorIs(t, err, errStoreClosed)
	assert.ErrorIs(t, s.Set(KeyAuthToken, "x"), errStoreClosed)
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	testStoreRoundTrip(t, s)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := NewSQLiteStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set(KeyAuthUserID, "42"))
	require.NoError(t, s.Close())

	s2, err := NewSQLiteStore(dir)
	require.NoError(t, err)
	defer s2.Close()
	v, ok, err := s2.Get(KeyAuthUserID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "42", v)
}
