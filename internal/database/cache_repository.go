package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CacheRepository is the key/value cache table: one live row per key, writes
// replace the whole row. It implements the metadata service's CacheStore.
type CacheRepository struct {
	conn *sql.DB
}

func NewCacheRepository(conn *sql.DB) *CacheRepository {
	return &CacheRepository{conn: conn}
}

// Get returns the payload and write time for a key. ok is false when the key
// has no entry.
func (r *CacheRepository) Get(key string) ([]byte, time.Time, bool, error) {
	var data []byte
	var ts int64
	err := r.conn.QueryRow(`SELECT data, timestamp FROM cache WHERE key = ?`, key).Scan(&data, &ts)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, time.Time{}, false, nil
	case err != nil:
		return nil, time.Time{}, false, fmt.Errorf("cache get %q: %w", key, err)
	}
	return data, time.UnixMilli(ts), true, nil
}

// Set writes the payload under key, replacing any existing entry and
// stamping it with the current time.
func (r *CacheRepository) Set(key string, data []byte) error {
	_, err := r.conn.Exec(
		`INSERT INTO cache (key, data, timestamp) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET data = excluded.data, timestamp = excluded.timestamp`,
		key, data, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	return nil
}

// Prune deletes entries written longer ago than maxAge and reports how many
// went away.
func (r *CacheRepository) Prune(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	res, err := r.conn.Exec(`DELETE FROM cache WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cache prune: %w", err)
	}
	return res.RowsAffected()
}

// CacheStats summarizes cache contents for startup logging.
type CacheStats struct {
	Entries     int64
	Collections int64
	TotalBytes  int64
}

// Stats counts entries, reconciled collection records, and total payload
// size.
func (r *CacheRepository) Stats() (CacheStats, error) {
	var stats CacheStats
	err := r.conn.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(key LIKE 'collection:%'), 0),
		        COALESCE(SUM(LENGTH(data)), 0)
		 FROM cache`,
	).Scan(&stats.Entries, &stats.Collections, &stats.TotalBytes)
	if err != nil {
		return CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return stats, nil
}
