//go:build !integration && !e2e
// +build !integration,!e2e

package statsstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/routing-gateway/internal/models"
)

func TestStore_LoadOnEmptyDirReturnsEmptyMap(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, nil)
	require.NoError(t, err)

	got := store.Load()
	assert.Empty(t, got)
}

func TestStore_SaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, nil)
	require.NoError(t, err)

	stats := map[string]models.PersistedStats{
		"upstream/gpt-4": {FailureScore: 3.5},
	}
	require.NoError(t, store.Save(stats))

	got := store.Load()
	require.Contains(t, got, "upstream/gpt-4")
	assert.Equal(t, 3.5, got["upstream/gpt-4"].FailureScore)
}

func TestStore_LoadOnVersionMismatchStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, nil)
	require.NoError(t, err)

	path := filepath.Join(dir, "model_stats.1")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":99,"models":{"x":{"failure_score":1}}}`), 0o644))

	got := store.Load()
	assert.Empty(t, got)
}

func TestStore_LoadOnCorruptJSONStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, nil)
	require.NoError(t, err)

	path := filepath.Join(dir, "model_stats.1")
	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o644))

	got := store.Load()
	assert.Empty(t, got)
}
