// Package database owns the SQLite cache store backing the metadata core.
package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Config struct {
	DatabasePath string
}

// DB wraps the SQLite connection and its repositories.
type DB struct {
	conn  *sql.DB
	Cache *CacheRepository
}

// NewDB opens (creating if needed) the cache database and runs pending
// migrations.
func NewDB(cfg Config) (*DB, error) {
	if cfg.DatabasePath == "" {
		return nil, errors.New("database path required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets cache reads proceed during writes; the busy timeout covers
	// the remaining writer-vs-writer contention.
	conn, err := sql.Open("sqlite3", cfg.DatabasePath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		conn.Close()
		return nil, err
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &DB{conn: conn, Cache: NewCacheRepository(conn)}, nil
}

// Connection exposes the underlying connection pool.
func (d *DB) Connection() *sql.DB {
	return d.conn
}

func (d *DB) Close() error {
	return d.conn.Close()
}
