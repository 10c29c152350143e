// Package state persists per-request detection logs and derives the
// dashboard statistics from them.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Database manages the SQLite database holding detection logs
type Database struct {
	db     *sql.DB
	dbPath string
}

// NewDatabase creates a new database connection
func NewDatabase(dbPath string) (*Database, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support concurrent writes well
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	database := &Database{
		db:     db,
		dbPath: dbPath,
	}

	if err := database.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return database, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// GetDB returns the underlying database connection
func (d *Database) GetDB() *sql.DB {
	return d.db
}

// initSchema initializes the database schema
func (d *Database) initSchema() error {
	schema := `
	-- Detection request log
	CREATE TABLE IF NOT EXISTS detection_logs (
		id TEXT PRIMARY KEY,
		request_time TIMESTAMP NOT NULL,
		process_time REAL,
		image_hash TEXT,
		detections TEXT, -- JSON detection list
		detection_count INTEGER DEFAULT 0,
		client_ip TEXT,
		api_key TEXT, -- masked before storage
		status TEXT DEFAULT 'success',
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_detection_logs_request_time ON detection_logs(request_time);
	CREATE INDEX IF NOT EXISTS idx_detection_logs_image_hash ON detection_logs(image_hash);
	CREATE INDEX IF NOT EXISTS idx_detection_logs_status ON detection_logs(status);
	`

	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}
