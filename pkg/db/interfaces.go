// Package db pkg/db/interfaces.go
package db

import (
	"time"

	"github.com/fleetmon/fleetmon/pkg/status"
)

//go:generate mockgen -destination=mock_db.go -package=db github.com/fleetmon/fleetmon/pkg/db Row,Result,Rows,Transaction,Service

// Row represents a database row.
type Row interface {
	Scan(dest ...interface{}) error
}

// Result represents the result of a database operation.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}

// Rows represents multiple database rows.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// Transaction represents operations that can be performed within a database transaction.
type Transaction interface {
	Exec(query string, args ...interface{}) (Result, error)
	Query(query string, args ...interface{}) (Rows, error)
	QueryRow(query string, args ...interface{}) Row
	Commit() error
	Rollback() error
}

// Service represents all database operations.
type Service interface {
	// Core database operations.

	Begin() (Transaction, error)
	Close() error
	Exec(query string, args ...interface{}) (Result, error)
	Query(query string, args ...interface{}) (Rows, error)
	QueryRow(query string, args ...interface{}) Row

	// Device operations.

	ListDevices() ([]Device, error)
	ListDevicesByGroups(groupIDs []int64) ([]Device, error)
	ListDevicesPage(page, limit int) ([]Device, int, error)
	GetDeviceBySerial(serial string) (*Device, error)
	FilterKnownSerials(tx Transaction, serials []string) (map[string]bool, error)
	UpdateDeviceReport(tx Transaction, serial string, st status.Status, ts time.Time, ip string) error
	UpdateDeviceStatus(id int64, st status.Status) error
	CountDevicesByGroups(groupIDs []int64) (int, error)

	// Group operations (read-only here; group CRUD lives elsewhere).

	ListGroups() ([]Group, error)
	GetGroup(id int64) (*Group, error)

	// Transition log operations.

	TransitionExists(pcID int64, st status.Status, ts time.Time) (bool, error)
	InsertTransition(pcID int64, st status.Status, ts time.Time) error
	ListTransitions(filter TransitionFilter) ([]Transition, error)

	// Settings.

	GetTimeOver() (int, error)
	SetTimeOver(seconds int) error

	// Maintenance operations.

	CleanOldTransitions(retentionPeriod time.Duration) error
}
