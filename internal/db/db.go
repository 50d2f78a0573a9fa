// Package db provides database connection management for the durable queue store.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the sql.DB with FieldSync-specific configuration.
type DB struct {
	*sql.DB
}

// Open opens the local SQLite database with FieldSync configuration.
// The database is opened with:
// - WAL mode for concurrent reads/writes
// - Foreign key constraints enabled
// The queue partition schema is created if it does not exist.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "fieldsync.db")

	// Open database with modernc.org/sqlite (pure Go, no CGO)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := createSchema(db); err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// createSchema creates the queue partition table. One row per
// (user, organization) pair; the value is the serialized ordered item array.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_queue_partitions (
		partition_key TEXT PRIMARY KEY,
		items TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS session_tokens (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		refresh_token_encrypted TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
