package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsKnownKey(t *testing.T) {
	require.True(t, IsKnownKey("HOST"))
	require.True(t, IsKnownKey("FORUM_HOST_API_KEY"))
	require.True(t, IsKnownKey("DEFAULT_SEARCH_NEWS_LIMIT"))
	require.False(t, IsKnownKey("RANDOM_UNRELATED_KEY"))
}

func TestStoreUpdateDropsUnknownKeysAndPersistsAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	s := &Store{path: path}

	err := s.Update(map[string]string{
		"HOST":               "127.0.0.1",
		"UNKNOWN_KEY_IGNORE": "x",
	})
	require.NoError(t, err)

	got, err := s.Read()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", got["HOST"])
	_, present := got["UNKNOWN_KEY_IGNORE"]
	require.False(t, present)

	// No leftover temp files.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestStoreUpdateIsIdempotentAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	s := &Store{path: path}

	require.NoError(t, s.Update(map[string]string{"MAX_REFLECTIONS": "3"}))
	require.NoError(t, s.Update(map[string]string{"MAX_PARAGRAPHS": "5"}))

	got, err := s.Read()
	require.NoError(t, err)
	require.Equal(t, "3", got["MAX_REFLECTIONS"])
	require.Equal(t, "5", got["MAX_PARAGRAPHS"])
}
