package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "auproxy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveAndLoadResolutions(t *testing.T) {
	db := openTestDB(t)

	now := time.Now().Truncate(time.Second)
	require.NoError(t, db.SaveResolution(42, "https://cdn.example.com/ep42.mp4", now))
	require.NoError(t, db.SaveResolution(43, "https://cdn.example.com/ep43.mp4", now))

	rows, err := db.LoadResolutions()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byID := map[int]ResolutionRow{}
	for _, row := range rows {
		byID[row.EpisodeID] = row
	}
	assert.Equal(t, "https://cdn.example.com/ep42.mp4", byID[42].VideoURL)
	assert.True(t, byID[42].ResolvedAt.Equal(now))
}

func TestSaveResolutionUpsert(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.SaveResolution(42, "https://cdn.example.com/old.mp4", time.Now()))
	require.NoError(t, db.SaveResolution(42, "https://cdn.example.com/new.mp4", time.Now()))

	rows, err := db.LoadResolutions()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "https://cdn.example.com/new.mp4", rows[0].VideoURL)
}

func TestPruneExpired(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.SaveResolution(1, "https://cdn.example.com/stale.mp4", time.Now().Add(-time.Hour)))
	require.NoError(t, db.SaveResolution(2, "https://cdn.example.com/fresh.mp4", time.Now()))

	pruned, err := db.PruneExpired(300 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	rows, err := db.LoadResolutions()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].EpisodeID)
}
