package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(Config{DatabasePath: filepath.Join(t.TempDir(), "cache.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCacheGetMissingKey(t *testing.T) {
	db := setupTestDB(t)

	data, _, ok, err := db.Cache.Get("nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, data)
}

func TestCacheSetGetRoundTrip(t *testing.T) {
	db := setupTestDB(t)

	before := time.Now()
	require.NoError(t, db.Cache.Set("movie/603?language=en-US", []byte(`{"id":603}`)))

	data, writtenAt, ok, err := db.Cache.Get("movie/603?language=en-US")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"id":603}`, string(data))
	assert.False(t, writtenAt.Before(before.Truncate(time.Millisecond)))
}

func TestCacheSetReplacesExisting(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.Cache.Set("k", []byte("old")))
	require.NoError(t, db.Cache.Set("k", []byte("new")))

	data, _, ok, err := db.Cache.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", string(data))

	stats, err := db.Cache.Stats()
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Entries)
}

func TestCachePrune(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.Cache.Set("fresh", []byte("a")))
	// Backdate one row past the cutoff.
	_, err := db.Connection().Exec(
		`INSERT INTO cache (key, data, timestamp) VALUES (?, ?, ?)`,
		"stale", []byte("b"), time.Now().Add(-48*time.Hour).UnixMilli(),
	)
	require.NoError(t, err)

	pruned, err := db.Cache.Prune(24 * time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pruned)

	_, _, ok, err := db.Cache.Get("stale")
	require.NoError(t, err)
	assert.False(t, ok)
	_, _, ok, err = db.Cache.Get("fresh")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCacheStats(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.Cache.Set("movie/1?language=en-US", []byte("abcd")))
	require.NoError(t, db.Cache.Set("collection:10:en-US", []byte("efghij")))

	stats, err := db.Cache.Stats()
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Entries)
	assert.EqualValues(t, 1, stats.Collections)
	assert.EqualValues(t, 10, stats.TotalBytes)
}
