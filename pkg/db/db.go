// Package db provides SQLite-backed storage for fleetmon: device records,
// the group tree, the append-only status transition log, and settings.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	// SQL statements for database initialization.
	createTablesSQL = `
	-- Monitored devices ("PCs"). One row per serial number.
	CREATE TABLE IF NOT EXISTS pcs (
		id INTEGER PRIMARY KEY,
		serial_number TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		ts TIMESTAMP,
		ip TEXT NOT NULL DEFAULT '',
		period INTEGER NOT NULL DEFAULT 5,
		group_id INTEGER,
		FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE SET NULL
	);

	-- Group tree. parent_id NULL marks a root.
	CREATE TABLE IF NOT EXISTS groups (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		parent_id INTEGER,
		FOREIGN KEY (parent_id) REFERENCES groups(id) ON DELETE SET NULL
	);

	-- Status transitions, append-only. Deliberately no unique constraint
	-- on (pc_id, status, timestamp); dedup is an existence check at the
	-- write path.
	CREATE TABLE IF NOT EXISTS status_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pc_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		FOREIGN KEY (pc_id) REFERENCES pcs(id) ON DELETE CASCADE
	);

	-- Operator settings, e.g. the staleness threshold.
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_status_logs_pc_time
		ON status_logs(pc_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_status_logs_status
		ON status_logs(status);
	CREATE INDEX IF NOT EXISTS idx_pcs_group
		ON pcs(group_id);
	CREATE INDEX IF NOT EXISTS idx_pcs_status
		ON pcs(status);

	PRAGMA foreign_keys=ON;
	`
)

// DB represents the database connection and operations.
type DB struct {
	*sql.DB
}

// New creates a new database connection and initializes the schema.
func New(dbPath string) (Service, error) {
	sqlDB, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedOpenDB, err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToEnableWAL, err)
	}

	db := &DB{sqlDB}
	if err := db.initSchema(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToInit, err)
	}

	return db, nil
}

// initSchema creates the database tables if they don't exist.
func (db *DB) initSchema() error {
	_, err := db.DB.Exec(createTablesSQL)

	return err
}

// Begin starts a transaction wrapped in the Transaction interface.
func (db *DB) Begin() (Transaction, error) {
	tx, err := db.DB.Begin()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToBeginTx, err)
	}

	return ToTransaction(tx), nil
}

func (db *DB) Exec(query string, args ...interface{}) (Result, error) {
	result, err := db.DB.Exec(query, args...)
	if err != nil {
		return nil, err
	}

	return ToResult(result), nil
}

func (db *DB) Query(query string, args ...interface{}) (Rows, error) {
	rows, err := db.DB.Query(query, args...) //nolint:rowserrcheck // callers close via CloseRows
	if err != nil {
		return nil, err
	}

	return &SQLRows{rows}, nil
}

func (db *DB) QueryRow(query string, args ...interface{}) Row {
	return ToRow(db.DB.QueryRow(query, args...))
}
