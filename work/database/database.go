package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"auproxy/work/logger"
)

// DB wraps the sql.DB handle for the proxy's persistence needs.
type DB struct {
	*sql.DB
}

// Open creates the database connection with WAL mode and runs the schema
// setup. The parent directory is created if missing.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	wrapper := &DB{DB: db}
	if err := wrapper.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	logger.Info("SQLite database opened at %s", path)
	return wrapper, nil
}

// migrate applies the schema. Idempotent.
func (db *DB) migrate() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS resolutions (
			episode_id  INTEGER PRIMARY KEY,
			video_url   TEXT NOT NULL,
			resolved_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create resolutions table: %w", err)
	}
	return nil
}
