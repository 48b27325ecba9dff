package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

const (
	timeOverKey = "time_over"

	// DefaultTimeOverSeconds is the staleness threshold used when no
	// operator value has been stored.
	DefaultTimeOverSeconds = 300
)

// GetTimeOver returns the configured staleness threshold in seconds, or the
// default when none is stored.
func (db *DB) GetTimeOver() (int, error) {
	var value string

	err := db.DB.QueryRow("SELECT value FROM settings WHERE key = ?", timeOverKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultTimeOverSeconds, nil
	}

	if err != nil {
		return 0, fmt.Errorf("%w time_over: %w", ErrFailedToQuery, err)
	}

	seconds, err := strconv.Atoi(value)
	if err != nil {
		return DefaultTimeOverSeconds, nil
	}

	return seconds, nil
}

// SetTimeOver stores the staleness threshold in seconds.
func (db *DB) SetTimeOver(seconds int) error {
	const upsertSQL = `
        INSERT INTO settings (key, value) VALUES (?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value
    `

	if _, err := db.DB.Exec(upsertSQL, timeOverKey, strconv.Itoa(seconds)); err != nil {
		return fmt.Errorf("%w time_over: %w", ErrFailedToInsert, err)
	}

	return nil
}
