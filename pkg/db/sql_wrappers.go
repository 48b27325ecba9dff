// Package db pkg/db/sql_wrappers.go provides wrappers for the sql package to
// implement the interfaces defined in pkg/db/interfaces.go. This allows the
// concrete sql package types to be used behind the db.Service interface,
// which is useful for testing and for decoupling callers from database/sql.
package db

import (
	"database/sql"

	"github.com/rs/zerolog/log"
)

// SQLRow wraps sql.Row to implement Row interface.
type SQLRow struct {
	*sql.Row
}

// SQLRows wraps sql.Rows to implement Rows interface.
type SQLRows struct {
	*sql.Rows
}

// SQLResult wraps sql.Result to implement Result interface.
type SQLResult struct {
	sql.Result
}

// SQLTx wraps sql.Tx to implement Transaction interface.
type SQLTx struct {
	*sql.Tx
}

func (tx *SQLTx) Exec(query string, args ...interface{}) (Result, error) {
	result, err := tx.Tx.Exec(query, args...)
	if err != nil {
		return nil, err
	}

	return &SQLResult{result}, nil
}

func (tx *SQLTx) Query(query string, args ...interface{}) (Rows, error) {
	rows, err := tx.Tx.Query(query, args...)
	if err != nil {
		return nil, err
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &SQLRows{rows}, nil
}

func (tx *SQLTx) QueryRow(query string, args ...interface{}) Row {
	return &SQLRow{tx.Tx.QueryRow(query, args...)}
}

func ToTransaction(tx *sql.Tx) Transaction {
	return &SQLTx{tx}
}

func ToResult(result sql.Result) Result {
	return &SQLResult{result}
}

func ToRow(row *sql.Row) Row {
	return &SQLRow{row}
}

// CloseRows safely closes a Rows type and logs any error.
func CloseRows(rows Rows) {
	if err := rows.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close rows")
	}
}
